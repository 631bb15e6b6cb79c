// Package audit implements the append-only, per-tenant audit ledger.
// Each event's hash incorporates the previous event's hash, forming a
// hash chain: reordering, deletion, or edits are detectable by walking
// the chain and recomputing. Events are immutable once persisted.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/verity-labs/verity/pkg/digest"
)

// Event is one persisted audit record. The first event of a tenant has
// an empty PrevHash (stored as NULL); every later event links to its
// predecessor's content hash.
type Event struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	ActorID       string          `json:"actor_id"`
	ActorRole     string          `json:"actor_role,omitempty"`
	Action        string          `json:"action"` // "<resource>.<verb>"
	TargetType    string          `json:"target_type"`
	TargetID      string          `json:"target_id,omitempty"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Hash          string          `json:"hash"`
	PrevHash      string          `json:"prev_hash,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Entry is the caller-supplied content of a new event. Hash fields and
// timestamps are filled in by the ledger.
type Entry struct {
	TenantID      string
	ActorID       string
	ActorRole     string
	Action        string
	TargetType    string
	TargetID      string
	Before        any
	After         any
	CorrelationID string
}

func (e Entry) validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("audit: entry missing tenant id")
	}
	if e.ActorID == "" {
		return fmt.Errorf("audit: entry missing actor id")
	}
	if e.Action == "" {
		return fmt.Errorf("audit: entry missing action")
	}
	return nil
}

// hashRecord is the canonical hashing shape of an event: everything but
// the hash fields themselves. The timestamp is included as RFC 3339
// text so a stored row can be re-verified byte for byte.
type hashRecord struct {
	TenantID      string          `json:"tenant_id"`
	ActorID       string          `json:"actor_id"`
	ActorRole     string          `json:"actor_role,omitempty"`
	Action        string          `json:"action"`
	TargetType    string          `json:"target_type"`
	TargetID      string          `json:"target_id,omitempty"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// computeHash derives the content hash of ev linked to prev. prev is
// empty for a tenant's first event.
func computeHash(ev *Event, prev string) (string, error) {
	rec := hashRecord{
		TenantID:      ev.TenantID,
		ActorID:       ev.ActorID,
		ActorRole:     ev.ActorRole,
		Action:        ev.Action,
		TargetType:    ev.TargetType,
		TargetID:      ev.TargetID,
		Before:        ev.Before,
		After:         ev.After,
		CorrelationID: ev.CorrelationID,
		CreatedAt:     ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return digest.HashLinked(rec, prev)
}

// marshalSnapshot serializes a before/after snapshot for storage.
// A nil snapshot stays nil rather than becoming JSON "null".
func marshalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: snapshot marshal failed: %w", err)
	}
	return b, nil
}
