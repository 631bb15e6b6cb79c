package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/verity-labs/verity/pkg/audit"
	"github.com/verity-labs/verity/pkg/chain"
	"github.com/verity-labs/verity/pkg/digest"
	"github.com/verity-labs/verity/pkg/seal"
)

// Request describes one evidence build. PrevChainHash and ChainIndex
// may be supplied by a caller that already holds the chain tail;
// otherwise the builder resolves them from the store (genesis for a
// tenant's first pack).
type Request struct {
	TenantID   string
	ActorID    string
	Action     string // must be a member of TerminalActions
	TargetType string
	TargetID   string
	Artifacts  map[string][]byte // name -> payload

	PrevChainHash string
	ChainIndex    *uint64
}

// Builder turns terminal-action artifacts into sealed, persisted packs.
type Builder struct {
	store  Store
	sealer seal.Provider
	ledger audit.Ledger // optional; sealing is itself audited when set
	clock  func() time.Time

	tenants keyedMutex
}

// NewBuilder creates a Builder persisting to store and sealing with sealer.
func NewBuilder(store Store, sealer seal.Provider) *Builder {
	return &Builder{store: store, sealer: sealer, clock: time.Now}
}

// WithLedger makes each successful seal emit an evidence.sealed audit
// event carrying the pack and chain hashes.
func (b *Builder) WithLedger(l audit.Ledger) *Builder {
	b.ledger = l
	return b
}

// WithClock overrides clock for testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// BuildAndSeal runs the full pipeline: terminal guard, artifact
// digesting, seal envelope, chain entry, atomic persist, audit event.
// Any failure aborts the build with nothing persisted. This path is
// invoked for mandatory-classified actions, so errors must propagate
// to and fail the parent business operation.
func (b *Builder) BuildAndSeal(ctx context.Context, req Request) (*Pack, error) {
	if !IsTerminal(req.Action) {
		return nil, &ErrNonTerminal{Action: req.Action}
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("evidence: request missing tenant id")
	}
	if len(req.Artifacts) == 0 {
		return nil, ErrNoArtifacts
	}

	// Artifact names are NFC-normalized so producers emitting different
	// Unicode forms of the same name cannot split a digest entry.
	digests := make(map[string]string, len(req.Artifacts))
	for name, payload := range req.Artifacts {
		normalized := norm.NFC.String(name)
		if normalized == "" {
			return nil, fmt.Errorf("evidence: artifact with empty name")
		}
		if _, dup := digests[normalized]; dup {
			return nil, fmt.Errorf("evidence: duplicate artifact name %q after normalization", normalized)
		}
		digests[normalized] = digest.HashBytes(payload)
	}

	pack := &Pack{
		ID:              uuid.New().String(),
		TenantID:        req.TenantID,
		Action:          req.Action,
		TargetType:      req.TargetType,
		TargetID:        req.TargetID,
		ArtifactDigests: digests,
		// Microsecond precision survives a round trip through Postgres
		// TIMESTAMP columns, so a stored entry re-verifies bit for bit.
		CreatedAt: b.clock().UTC().Truncate(time.Microsecond),
	}

	envelope, err := b.sealer.Seal(ctx, req.TenantID, pack.DigestList())
	if err != nil {
		return nil, fmt.Errorf("evidence: seal provider failed: %w", err)
	}
	pack.Envelope = envelope

	contentHash, err := digest.Hash(struct {
		PackDigest string `json:"pack_digest"`
		TenantID   string `json:"tenant_id"`
		Action     string `json:"action"`
		TargetType string `json:"target_type"`
		TargetID   string `json:"target_id,omitempty"`
	}{envelope.PackDigest, pack.TenantID, pack.Action, pack.TargetType, pack.TargetID})
	if err != nil {
		return nil, fmt.Errorf("evidence: content hash: %w", err)
	}

	// Serialize tail resolution and persist per tenant so two builds
	// cannot claim the same chain position.
	unlock := b.tenants.lock(req.TenantID)
	defer unlock()

	prevHash, index, err := b.resolveChainPosition(ctx, req)
	if err != nil {
		return nil, err
	}

	entry, err := chain.New(index, contentHash, prevHash, pack.CreatedAt)
	if err != nil {
		return nil, err
	}
	pack.Entry = entry

	if err := ctx.Err(); err != nil {
		// Cancelled before the persistence step: nothing is visible.
		return nil, err
	}
	if err := b.store.Save(ctx, pack); err != nil {
		return nil, fmt.Errorf("evidence: persist pack: %w", err)
	}

	if b.ledger != nil {
		if err := b.emitAudit(ctx, req, pack); err != nil {
			// The pack, its chain entry, and its audit event are one unit.
			// Roll the save back so a failed emission leaves nothing
			// persisted, even when the caller's context is already dead.
			if delErr := b.store.Delete(context.WithoutCancel(ctx), pack.TenantID, pack.ID); delErr != nil {
				return nil, errors.Join(err,
					fmt.Errorf("evidence: rollback of pack %s failed: %w", pack.ID, delErr))
			}
			return nil, err
		}
	}
	return pack, nil
}

func (b *Builder) resolveChainPosition(ctx context.Context, req Request) (string, uint64, error) {
	if req.PrevChainHash != "" && req.ChainIndex != nil {
		return req.PrevChainHash, *req.ChainIndex, nil
	}

	latest, err := b.store.Latest(ctx, req.TenantID)
	switch {
	case errors.Is(err, ErrNotFound):
		return chain.Genesis, 0, nil
	case err != nil:
		return "", 0, fmt.Errorf("evidence: read chain tail: %w", err)
	}
	return latest.Entry.ChainHash, latest.Entry.Index + 1, nil
}

func (b *Builder) emitAudit(ctx context.Context, req Request, pack *Pack) error {
	actor := req.ActorID
	if actor == "" {
		actor = "system"
	}
	_, err := b.ledger.Append(ctx, audit.Entry{
		TenantID:   req.TenantID,
		ActorID:    actor,
		Action:     "evidence.sealed",
		TargetType: "evidence_pack",
		TargetID:   pack.ID,
		After: map[string]any{
			"terminal_action": pack.Action,
			"pack_digest":     pack.Envelope.PackDigest,
			"chain_index":     pack.Entry.Index,
			"chain_hash":      pack.Entry.ChainHash,
		},
	})
	if err != nil {
		return fmt.Errorf("evidence: audit emission for sealed pack %s failed: %w", pack.ID, err)
	}
	return nil
}

// keyedMutex hands out one mutex per tenant key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
