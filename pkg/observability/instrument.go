package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/verity-labs/verity/pkg/audit"
	"github.com/verity-labs/verity/pkg/seal"
)

// InstrumentedLedger decorates an audit ledger with spans and RED metrics.
type InstrumentedLedger struct {
	next     audit.Ledger
	provider *Provider
}

// InstrumentLedger wraps a ledger so every call is traced and counted.
func InstrumentLedger(next audit.Ledger, p *Provider) *InstrumentedLedger {
	return &InstrumentedLedger{next: next, provider: p}
}

func (l *InstrumentedLedger) Append(ctx context.Context, e audit.Entry) (*audit.Event, error) {
	ctx, done := l.provider.TrackOperation(ctx, "audit.append",
		LedgerAppend(e.TenantID, e.ActorID, e.Action)...)
	ev, err := l.next.Append(ctx, e)
	done(err)
	if ev != nil {
		AddSpanEvent(ctx, "appended", AttrChainHash.String(ev.Hash))
	}
	return ev, err
}

func (l *InstrumentedLedger) Tail(ctx context.Context, tenantID string) (string, error) {
	return l.next.Tail(ctx, tenantID)
}

func (l *InstrumentedLedger) List(ctx context.Context, tenantID string) ([]audit.Event, error) {
	return l.next.List(ctx, tenantID)
}

func (l *InstrumentedLedger) VerifyChain(ctx context.Context, tenantID string) (audit.ChainReport, error) {
	ctx, done := l.provider.TrackOperation(ctx, "audit.verify_chain",
		AttrTenantID.String(tenantID))
	report, err := l.next.VerifyChain(ctx, tenantID)
	done(err)
	if err == nil {
		AddSpanEvent(ctx, "verified", attribute.Bool("valid", report.Valid))
	}
	return report, err
}

// InstrumentedSealer decorates a seal provider with spans and RED metrics.
type InstrumentedSealer struct {
	next     seal.Provider
	provider *Provider
}

// InstrumentSealer wraps a seal provider so every seal is traced and counted.
func InstrumentSealer(next seal.Provider, p *Provider) *InstrumentedSealer {
	return &InstrumentedSealer{next: next, provider: p}
}

func (s *InstrumentedSealer) Seal(ctx context.Context, tenantID string, digests []seal.ArtifactDigest) (*seal.Envelope, error) {
	ctx, done := s.provider.TrackOperation(ctx, "seal.sign",
		AttrTenantID.String(tenantID),
		AttrArtifactCount.Int(len(digests)),
	)
	env, err := s.next.Seal(ctx, tenantID, digests)
	done(err)
	if env != nil {
		AddSpanEvent(ctx, "sealed", AttrSealKeyID.String(env.KeyID))
	}
	return env, err
}
