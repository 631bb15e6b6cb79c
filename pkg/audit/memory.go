package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-memory Ledger for tests and single-process use.
// Appends for the same tenant are serialized by a per-tenant mutex.
type MemoryLedger struct {
	mu      sync.RWMutex
	events  map[string][]Event // tenantID -> ordered events
	tails   map[string]string  // tenantID -> tail hash
	tenants tenantMutex
	clock   func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		events: make(map[string][]Event),
		tails:  make(map[string]string),
		clock:  time.Now,
	}
}

// WithClock overrides clock for testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

func (l *MemoryLedger) Append(ctx context.Context, e Entry) (*Event, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return nil, err
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return nil, err
	}

	// Serialize the read-tail-then-append sequence for this tenant.
	// Other tenants proceed independently.
	unlock := l.tenants.lock(e.TenantID)
	defer unlock()

	l.mu.RLock()
	prev := l.tails[e.TenantID]
	l.mu.RUnlock()

	ev := &Event{
		ID:            uuid.New().String(),
		TenantID:      e.TenantID,
		ActorID:       e.ActorID,
		ActorRole:     e.ActorRole,
		Action:        e.Action,
		TargetType:    e.TargetType,
		TargetID:      e.TargetID,
		Before:        before,
		After:         after,
		CorrelationID: e.CorrelationID,
		PrevHash:      prev,
		CreatedAt:     l.clock().UTC().Truncate(time.Microsecond),
	}
	hash, err := computeHash(ev, prev)
	if err != nil {
		return nil, err
	}
	ev.Hash = hash

	l.mu.Lock()
	l.events[e.TenantID] = append(l.events[e.TenantID], *ev)
	l.tails[e.TenantID] = hash
	l.mu.Unlock()

	return ev, nil
}

func (l *MemoryLedger) Tail(ctx context.Context, tenantID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tails[tenantID], nil
}

func (l *MemoryLedger) List(ctx context.Context, tenantID string) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := make([]Event, len(l.events[tenantID]))
	copy(events, l.events[tenantID])
	return events, nil
}

func (l *MemoryLedger) VerifyChain(ctx context.Context, tenantID string) (ChainReport, error) {
	events, err := l.List(ctx, tenantID)
	if err != nil {
		return ChainReport{}, err
	}
	return verifyEvents(events)
}

// tenantMutex hands out one mutex per tenant key.
type tenantMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *tenantMutex) lock(key string) (unlock func()) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	m, ok := t.locks[key]
	if !ok {
		m = &sync.Mutex{}
		t.locks[key] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
