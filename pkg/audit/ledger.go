package audit

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrChainBroken reports a continuity failure found by VerifyChain.
	ErrChainBroken = errors.New("audit: hash chain is broken")
	// ErrAppendConflict reports that another append for the same tenant
	// won the race and the retry budget is exhausted.
	ErrAppendConflict = errors.New("audit: append conflict for tenant")
)

// Ledger is the append-only audit log. Implementations must serialize
// the read-tail-then-append sequence per tenant: two concurrent appends
// must never both claim the same previous hash.
type Ledger interface {
	// Append persists a new event whose hash links to the tenant's
	// current tail. Returns the stored, immutable event.
	Append(ctx context.Context, e Entry) (*Event, error)

	// Tail returns the content hash of the tenant's most recent event,
	// or "" when the tenant has no events yet.
	Tail(ctx context.Context, tenantID string) (string, error)

	// List returns the tenant's events in creation order.
	List(ctx context.Context, tenantID string) ([]Event, error)

	// VerifyChain walks the tenant's events, recomputing each hash and
	// checking linkage, and reports the first break if any.
	VerifyChain(ctx context.Context, tenantID string) (ChainReport, error)
}

// ChainReport is the result of a chain walk. BrokenAt is -1 for a
// fully valid chain, otherwise the zero-based index of the first event
// at which continuity fails.
type ChainReport struct {
	Valid    bool   `json:"valid"`
	BrokenAt int    `json:"broken_at"`
	Reason   string `json:"reason,omitempty"`
}

// verifyEvents performs the chain walk shared by all ledger backends.
func verifyEvents(events []Event) (ChainReport, error) {
	prev := ""
	for i, ev := range events {
		if ev.PrevHash != prev {
			return ChainReport{
				Valid:    false,
				BrokenAt: i,
				Reason:   fmt.Sprintf("previous hash mismatch: expected %q, got %q", prev, ev.PrevHash),
			}, nil
		}
		recomputed, err := computeHash(&ev, ev.PrevHash)
		if err != nil {
			return ChainReport{}, err
		}
		if recomputed != ev.Hash {
			return ChainReport{
				Valid:    false,
				BrokenAt: i,
				Reason:   fmt.Sprintf("content hash mismatch: expected %s, got %s", recomputed, ev.Hash),
			}, nil
		}
		prev = ev.Hash
	}
	return ChainReport{Valid: true, BrokenAt: -1}, nil
}
