package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for evidence and audit operations.
var (
	AttrTenantID = attribute.Key("verity.tenant.id")
	AttrActorID  = attribute.Key("verity.actor.id")
	AttrAction   = attribute.Key("verity.action")

	AttrChainIndex = attribute.Key("verity.chain.index")
	AttrChainHash  = attribute.Key("verity.chain.hash")

	AttrPackID        = attribute.Key("verity.pack.id")
	AttrArtifactCount = attribute.Key("verity.pack.artifacts")
	AttrSealKeyID     = attribute.Key("verity.seal.key_id")

	AttrClass = attribute.Key("verity.evidence.class")
)

// LedgerAppend creates attributes for an audit ledger append.
func LedgerAppend(tenantID, actorID, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrActorID.String(actorID),
		AttrAction.String(action),
	}
}

// PackSeal creates attributes for an evidence pack seal.
func PackSeal(tenantID, action string, artifacts int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrAction.String(action),
		AttrArtifactCount.Int(artifacts),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
