package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/verity-labs/verity/pkg/audit"
)

// OutboxEmitter writes audit entries into an audit_outbox table through
// the same Execer that performs the business mutation, so when the
// caller is inside a transaction the event commits or rolls back with
// the data change. A Dispatcher later moves committed rows into the
// ledger. This keeps mutation and audit record coupled without letting
// a slow ledger block the caller.
type OutboxEmitter struct{}

const outboxSchema = `
CREATE TABLE IF NOT EXISTS audit_outbox (
	id TEXT PRIMARY KEY,
	entry_json TEXT NOT NULL,
	scheduled_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	attempts INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_outbox_pending ON audit_outbox (status, scheduled_at);
`

// InitOutbox creates the outbox table.
func InitOutbox(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, outboxSchema)
	return err
}

func (OutboxEmitter) Emit(ctx context.Context, execer Execer, e audit.Entry) error {
	payload, err := json.Marshal(outboxEntry{
		TenantID:      e.TenantID,
		ActorID:       e.ActorID,
		ActorRole:     e.ActorRole,
		Action:        e.Action,
		TargetType:    e.TargetType,
		TargetID:      e.TargetID,
		Before:        e.Before,
		After:         e.After,
		CorrelationID: e.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("store: marshal outbox entry: %w", err)
	}

	// UUIDv7 ids are time-ordered, so they break scheduled_at ties in
	// insertion order when the dispatcher sorts by (scheduled_at, id).
	_, err = execer.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, entry_json, scheduled_at, status, attempts)
		VALUES ($1, $2, $3, 'PENDING', 0)`,
		uuid.Must(uuid.NewV7()).String(), string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: schedule outbox entry: %w", err)
	}
	return nil
}

// outboxEntry is the serialized form of an audit.Entry. Snapshots are
// carried as-is; they are re-marshaled by the ledger on append.
type outboxEntry struct {
	TenantID      string `json:"tenant_id"`
	ActorID       string `json:"actor_id"`
	ActorRole     string `json:"actor_role,omitempty"`
	Action        string `json:"action"`
	TargetType    string `json:"target_type"`
	TargetID      string `json:"target_id,omitempty"`
	Before        any    `json:"before,omitempty"`
	After         any    `json:"after,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Dispatcher drains committed outbox rows into the audit ledger.
type Dispatcher struct {
	db      *sql.DB
	ledger  audit.Ledger
	limiter *rate.Limiter
	logger  *slog.Logger
	poll    time.Duration
}

// NewDispatcher creates a dispatcher appending at most perSecond events
// per second, so a backlog drain cannot starve the ledger's writers.
func NewDispatcher(db *sql.DB, ledger audit.Ledger, perSecond float64) *Dispatcher {
	if perSecond <= 0 {
		perSecond = 100
	}
	return &Dispatcher{
		db:      db,
		ledger:  ledger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  slog.Default().With("component", "audit_outbox"),
		poll:    250 * time.Millisecond,
	}
}

// Run polls until ctx is done. Errors on individual rows are logged and
// retried on the next pass; the dispatcher itself keeps going.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DispatchPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("outbox pass failed", "error", err)
			}
		}
	}
}

// DispatchPending appends every PENDING row to the ledger in scheduled
// order and marks it DONE. Returns the number dispatched. A row that
// fails stays PENDING with its attempt count bumped, and the pass stops
// so ordering is preserved.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, entry_json FROM audit_outbox
		WHERE status = 'PENDING' ORDER BY scheduled_at ASC, id ASC`)
	if err != nil {
		return 0, fmt.Errorf("store: read outbox: %w", err)
	}

	type pending struct {
		id   string
		data string
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.data); err != nil {
			_ = rows.Close()
			return 0, err
		}
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	dispatched := 0
	for _, p := range batch {
		if err := d.limiter.Wait(ctx); err != nil {
			return dispatched, err
		}
		if err := d.dispatchOne(ctx, p.id, p.data); err != nil {
			d.logger.Error("outbox row dispatch failed; will retry",
				"id", p.id, "error", err)
			_, _ = d.db.ExecContext(ctx,
				`UPDATE audit_outbox SET attempts = attempts + 1 WHERE id = $1`, p.id)
			return dispatched, nil
		}
		dispatched++
	}
	return dispatched, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, id, data string) error {
	var oe outboxEntry
	if err := json.Unmarshal([]byte(data), &oe); err != nil {
		return fmt.Errorf("store: corrupt outbox row %s: %w", id, err)
	}

	_, err := d.ledger.Append(ctx, audit.Entry{
		TenantID:      oe.TenantID,
		ActorID:       oe.ActorID,
		ActorRole:     oe.ActorRole,
		Action:        oe.Action,
		TargetType:    oe.TargetType,
		TargetID:      oe.TargetID,
		Before:        oe.Before,
		After:         oe.After,
		CorrelationID: oe.CorrelationID,
	})
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx,
		`UPDATE audit_outbox SET status = 'DONE' WHERE id = $1`, id)
	return err
}
