// Package store wraps tenant-scoped SQL access so that every insert,
// update, and delete automatically emits an audit ledger entry. Audit
// logging cannot be omitted by a caller: the emission happens inside
// the wrapper, and when the ledger itself fails the full event is
// written to a durable side channel instead of being dropped.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/verity-labs/verity/pkg/audit"
	"github.com/verity-labs/verity/pkg/auth"
)

// Resource names a wrapped table. The name is supplied explicitly at
// the call site and checked at compile time through this type; it is
// never inferred from runtime metadata.
type Resource struct {
	Name string
}

// Mutation describes the audit-relevant shape of one write.
type Mutation struct {
	Resource Resource
	TargetID string
	Before   any
	After    any
}

// Execer is the subset of *sql.DB / *sql.Tx mutations run against.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Emitter delivers one audit entry. It receives the Execer performing
// the mutation so outbox emitters can share the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, execer Execer, e audit.Entry) error
}

// DB wraps a *sql.DB with an actor/tenant context bound at wrap time.
type DB struct {
	db            *sql.DB
	emitter       Emitter
	side          SideChannel
	principal     auth.Principal
	correlationID string
	logger        *slog.Logger
}

// Option configures a wrapped DB.
type Option func(*DB)

// WithSideChannel sets the durable fallback for failed audit emissions.
func WithSideChannel(s SideChannel) Option {
	return func(d *DB) { d.side = s }
}

// WithCorrelationID overrides the generated correlation id, letting a
// caller stitch the wrapper's events into a wider operation.
func WithCorrelationID(id string) Option {
	return func(d *DB) { d.correlationID = id }
}

// WithLogger overrides the degradation logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *DB) { d.logger = l }
}

// Wrap binds db to a principal and an emitter. Every mutation through
// the returned handle is attributed to that principal's actor and
// tenant and shares one correlation id.
func Wrap(db *sql.DB, emitter Emitter, principal auth.Principal, opts ...Option) *DB {
	d := &DB{
		db:            db,
		emitter:       emitter,
		principal:     principal,
		correlationID: uuid.New().String(),
		logger:        slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DirectEmitter appends entries straight to a ledger.
type DirectEmitter struct {
	Ledger audit.Ledger
}

func (e DirectEmitter) Emit(ctx context.Context, _ Execer, entry audit.Entry) error {
	_, err := e.Ledger.Append(ctx, entry)
	return err
}

// Insert runs query and audits it as "<resource>.created".
func (d *DB) Insert(ctx context.Context, m Mutation, query string, args ...any) (sql.Result, error) {
	return d.mutate(ctx, d.db, m, "created", query, args...)
}

// Update runs query and audits it as "<resource>.updated".
func (d *DB) Update(ctx context.Context, m Mutation, query string, args ...any) (sql.Result, error) {
	return d.mutate(ctx, d.db, m, "updated", query, args...)
}

// Delete runs query and audits it as "<resource>.deleted".
func (d *DB) Delete(ctx context.Context, m Mutation, query string, args ...any) (sql.Result, error) {
	return d.mutate(ctx, d.db, m, "deleted", query, args...)
}

// Query passes through unaudited: reads are not compliance-relevant
// mutations in this model.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRow passes through unaudited.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// BeginTx opens a transaction and re-wraps it with the same principal
// and correlation id, so everything inside is audited as part of the
// same operation.
func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	return &Tx{tx: tx, parent: d}, nil
}

// CorrelationID returns the id stamped on this handle's audit events.
func (d *DB) CorrelationID() string { return d.correlationID }

func (d *DB) mutate(ctx context.Context, execer Execer, m Mutation, verb, query string, args ...any) (sql.Result, error) {
	if m.Resource.Name == "" {
		return nil, fmt.Errorf("store: mutation missing resource name")
	}

	res, err := execer.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	entry := audit.Entry{
		TenantID:      d.principal.GetTenantID(),
		ActorID:       d.principal.GetID(),
		ActorRole:     auth.PrimaryRole(d.principal),
		Action:        m.Resource.Name + "." + verb,
		TargetType:    m.Resource.Name,
		TargetID:      m.TargetID,
		Before:        m.Before,
		After:         m.After,
		CorrelationID: d.correlationID,
	}

	if err := d.emitter.Emit(ctx, execer, entry); err != nil {
		// Visible degradation, never a swallowed failure: the full
		// event goes to the durable side channel and the error is
		// logged loudly enough for operational review.
		if d.side != nil {
			d.logger.Error("audit emission failed; falling back to side channel",
				"action", entry.Action, "tenant_id", entry.TenantID, "error", err)
			if sideErr := d.side.Write(entry); sideErr != nil {
				return res, fmt.Errorf("store: audit emission failed (%w) and side channel failed (%v)", err, sideErr)
			}
		} else {
			// No side channel: the log line is the only surviving copy
			// of the event, so it carries the whole serialized entry.
			payload, mErr := json.Marshal(entry)
			if mErr != nil {
				payload = []byte(fmt.Sprintf("unserializable entry: %v", mErr))
			}
			d.logger.Error("audit emission failed; event recorded in log only",
				"action", entry.Action, "tenant_id", entry.TenantID,
				"entry", string(payload), "error", err)
		}
	}
	return res, nil
}

// Tx is a wrapped transaction. Mutations inside it are audited with
// the parent handle's principal and correlation id.
type Tx struct {
	tx     *sql.Tx
	parent *DB
}

func (t *Tx) Insert(ctx context.Context, m Mutation, query string, args ...any) (sql.Result, error) {
	return t.parent.mutate(ctx, t.tx, m, "created", query, args...)
}

func (t *Tx) Update(ctx context.Context, m Mutation, query string, args ...any) (sql.Result, error) {
	return t.parent.mutate(ctx, t.tx, m, "updated", query, args...)
}

func (t *Tx) Delete(ctx context.Context, m Mutation, query string, args ...any) (sql.Result, error) {
	return t.parent.mutate(ctx, t.tx, m, "deleted", query, args...)
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
