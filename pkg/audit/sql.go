package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers.
//
// Concurrency: within one process the read-tail-then-append sequence is
// serialized by a per-tenant mutex. Across processes the
// UNIQUE(tenant_id, seq) constraint rejects the loser of a race, which
// is retried against the fresh tail; an optional TenantLocker (e.g.
// Redis) avoids the retries entirely.
type SQLLedger struct {
	db      *sql.DB
	tenants tenantMutex
	locker  TenantLocker
	clock   func() time.Time
}

// TenantLocker serializes appends for one tenant across processes.
type TenantLocker interface {
	// Acquire blocks until the tenant lease is held or ctx is done.
	// The returned release func must always be called.
	Acquire(ctx context.Context, tenantID string) (release func(), err error)
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db, clock: time.Now}
}

// WithLocker sets a cross-process append lock.
func (l *SQLLedger) WithLocker(locker TenantLocker) *SQLLedger {
	l.locker = locker
	return l
}

// WithClock overrides clock for testing.
func (l *SQLLedger) WithClock(clock func() time.Time) *SQLLedger {
	l.clock = clock
	return l
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	actor_id TEXT NOT NULL,
	actor_role TEXT,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT,
	before_state TEXT,
	after_state TEXT,
	correlation_id TEXT,
	hash TEXT NOT NULL,
	prev_hash TEXT,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (tenant_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_audit_events_tenant ON audit_events (tenant_id, seq);
`

func (l *SQLLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, auditSchema)
	return err
}

const appendRetries = 3

func (l *SQLLedger) Append(ctx context.Context, e Entry) (*Event, error) {
	if err := e.validate(); err != nil {
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

	unlock := l.tenants.lock(e.TenantID)
	defer unlock()

	if l.locker != nil {
		release, err := l.locker.Acquire(ctx, e.TenantID)
		if err != nil {
			return nil, fmt.Errorf("audit: acquire tenant lease: %w", err)
		}
		defer release()
	}

	var lastErr error
	for attempt := 0; attempt <= appendRetries; attempt++ {
		ev, err := l.tryAppend(ctx, e, before, after)
		if err == nil {
			return ev, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		// Lost the race to another writer: re-read the tail and retry.
		lastErr = err
	}
	return nil, fmt.Errorf("%w %s: %v", ErrAppendConflict, e.TenantID, lastErr)
}

func (l *SQLLedger) tryAppend(ctx context.Context, e Entry, before, after []byte) (*Event, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	var prev sql.NullString
	row := tx.QueryRowContext(ctx,
		`SELECT seq, hash FROM audit_events WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1`,
		e.TenantID)
	switch err := row.Scan(&seq, &prev); {
	case errors.Is(err, sql.ErrNoRows):
		seq = 0
	case err != nil:
		return nil, fmt.Errorf("audit: read tail: %w", err)
	}

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
		PrevHash:      prev.String,
		CreatedAt:     l.clock().UTC().Truncate(time.Microsecond),
	}
	hash, err := computeHash(ev, ev.PrevHash)
	if err != nil {
		return nil, err
	}
	ev.Hash = hash

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, tenant_id, seq, actor_id, actor_role, action, target_type, target_id,
			 before_state, after_state, correlation_id, hash, prev_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, ev.TenantID, seq+1, ev.ActorID, nullable(ev.ActorRole), ev.Action,
		ev.TargetType, nullable(ev.TargetID), nullableBytes(before), nullableBytes(after),
		nullable(ev.CorrelationID), ev.Hash, nullable(ev.PrevHash), ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("audit: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("audit: commit append: %w", err)
	}
	return ev, nil
}

func (l *SQLLedger) Tail(ctx context.Context, tenantID string) (string, error) {
	var hash string
	row := l.db.QueryRowContext(ctx,
		`SELECT hash FROM audit_events WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1`,
		tenantID)
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("audit: read tail: %w", err)
	}
	return hash, nil
}

func (l *SQLLedger) List(ctx context.Context, tenantID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_id, actor_role, action, target_type, target_id,
		       before_state, after_state, correlation_id, hash, prev_hash, created_at
		FROM audit_events WHERE tenant_id = $1 ORDER BY seq ASC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Event, 0)
	for rows.Next() {
		var ev Event
		var role, targetID, correlationID, prevHash sql.NullString
		var before, after []byte
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ActorID, &role, &ev.Action,
			&ev.TargetType, &targetID, &before, &after, &correlationID,
			&ev.Hash, &prevHash, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.ActorRole = role.String
		ev.TargetID = targetID.String
		ev.CorrelationID = correlationID.String
		ev.PrevHash = prevHash.String
		ev.Before = before
		ev.After = after
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (l *SQLLedger) VerifyChain(ctx context.Context, tenantID string) (ChainReport, error) {
	events, err := l.List(ctx, tenantID)
	if err != nil {
		return ChainReport{}, err
	}
	return verifyEvents(events)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// isUniqueViolation recognizes constraint errors from both lib/pq
// (code 23505, "duplicate key") and SQLite ("UNIQUE constraint failed").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "23505")
}
