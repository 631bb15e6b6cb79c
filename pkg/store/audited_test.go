package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/verity-labs/verity/pkg/audit"
	"github.com/verity-labs/verity/pkg/auth"
)

func testPrincipal() auth.Principal {
	return &auth.BasePrincipal{ID: "user-1", TenantID: "tenant-a", Roles: []string{"admin"}}
}

func TestInsertEmitsAuditEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ledger := audit.NewMemoryLedger()
	wrapped := Wrap(db, DirectEmitter{Ledger: ledger}, testPrincipal())

	mock.ExpectExec("INSERT INTO orders").
		WithArgs("o-1", "open").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err = wrapped.Insert(context.Background(), Mutation{
		Resource: Resource{Name: "order"},
		TargetID: "o-1",
		After:    map[string]string{"status": "open"},
	}, `INSERT INTO orders (id, status) VALUES ($1, $2)`, "o-1", "open")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	events, err := ledger.List(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "order.created", events[0].Action)
	require.Equal(t, "user-1", events[0].ActorID)
	require.Equal(t, "admin", events[0].ActorRole)
	require.Equal(t, wrapped.CorrelationID(), events[0].CorrelationID)
	require.JSONEq(t, `{"status":"open"}`, string(events[0].After))
}

func TestUpdateAndDeleteVerbs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ledger := audit.NewMemoryLedger()
	wrapped := Wrap(db, DirectEmitter{Ledger: ledger}, testPrincipal())

	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM orders").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = wrapped.Update(context.Background(), Mutation{Resource: Resource{Name: "order"}, TargetID: "o-1"},
		`UPDATE orders SET status = $1 WHERE id = $2`, "paid", "o-1")
	require.NoError(t, err)
	_, err = wrapped.Delete(context.Background(), Mutation{Resource: Resource{Name: "order"}, TargetID: "o-1"},
		`DELETE FROM orders WHERE id = $1`, "o-1")
	require.NoError(t, err)

	events, err := ledger.List(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "order.updated", events[0].Action)
	require.Equal(t, "order.deleted", events[1].Action)
}

func TestFailedMutationEmitsNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ledger := audit.NewMemoryLedger()
	wrapped := Wrap(db, DirectEmitter{Ledger: ledger}, testPrincipal())

	mock.ExpectExec("INSERT INTO orders").WillReturnError(errors.New("constraint violation"))

	_, err = wrapped.Insert(context.Background(), Mutation{Resource: Resource{Name: "order"}},
		`INSERT INTO orders (id) VALUES ($1)`, "o-1")
	require.Error(t, err)

	events, err := ledger.List(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Empty(t, events, "a failed mutation must not be audited as if it happened")
}

type failingLedger struct{}

func (failingLedger) Append(context.Context, audit.Entry) (*audit.Event, error) {
	return nil, errors.New("ledger unavailable")
}
func (failingLedger) Tail(context.Context, string) (string, error) { return "", nil }
func (failingLedger) List(context.Context, string) ([]audit.Event, error) {
	return nil, nil
}
func (failingLedger) VerifyChain(context.Context, string) (audit.ChainReport, error) {
	return audit.ChainReport{}, nil
}

func TestLedgerFailureFallsBackToSideChannel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	path := filepath.Join(t.TempDir(), "audit_fallback.jsonl")
	side, err := NewFileSideChannel(path)
	require.NoError(t, err)

	wrapped := Wrap(db, DirectEmitter{Ledger: failingLedger{}}, testPrincipal(),
		WithSideChannel(side))

	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))

	// The mutation itself succeeded, so the caller must not see an
	// error; the degradation is on the audit path and is recoverable
	// from the side channel.
	_, err = wrapped.Insert(context.Background(), Mutation{
		Resource: Resource{Name: "order"},
		TargetID: "o-7",
		After:    map[string]string{"status": "open"},
	}, `INSERT INTO orders (id) VALUES ($1)`, "o-7")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, "order.created", rec["action"])
	require.Equal(t, "tenant-a", rec["tenant_id"])
	require.Equal(t, "o-7", rec["target_id"])
	require.NotEmpty(t, rec["lost_at"])
}

func TestLedgerFailureWithoutSideChannelLogsFullEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	wrapped := Wrap(db, DirectEmitter{Ledger: failingLedger{}}, testPrincipal(),
		WithLogger(logger))

	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err = wrapped.Insert(context.Background(), Mutation{
		Resource: Resource{Name: "order"},
		TargetID: "o-9",
		After:    map[string]string{"status": "open", "amount": "42"},
	}, `INSERT INTO orders (id) VALUES ($1)`, "o-9")
	require.NoError(t, err)

	// With nowhere durable to write, the log line is the only record of
	// the event: it must carry everything needed to reconstruct it, not
	// just the action and tenant.
	out := buf.String()
	require.Contains(t, out, "order.created")
	require.Contains(t, out, "tenant-a")
	require.Contains(t, out, "o-9")
	require.Contains(t, out, "user-1")
	require.Contains(t, out, "amount")
	require.Contains(t, out, wrapped.CorrelationID())
}

func TestTransactionSharesCorrelationID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ledger := audit.NewMemoryLedger()
	wrapped := Wrap(db, DirectEmitter{Ledger: ledger}, testPrincipal())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_lines").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := wrapped.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = tx.Insert(ctx, Mutation{Resource: Resource{Name: "order"}, TargetID: "o-1"},
		`INSERT INTO orders (id) VALUES ($1)`, "o-1")
	require.NoError(t, err)
	_, err = tx.Insert(ctx, Mutation{Resource: Resource{Name: "order_line"}, TargetID: "l-1"},
		`INSERT INTO order_lines (id) VALUES ($1)`, "l-1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	events, err := ledger.List(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, events[0].CorrelationID, events[1].CorrelationID)
	require.Equal(t, wrapped.CorrelationID(), events[0].CorrelationID)
}

func TestQueryPassesThroughUnaudited(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ledger := audit.NewMemoryLedger()
	wrapped := Wrap(db, DirectEmitter{Ledger: ledger}, testPrincipal())

	mock.ExpectQuery("SELECT id FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("o-1"))

	rows, err := wrapped.Query(context.Background(), `SELECT id FROM orders`)
	require.NoError(t, err)
	require.True(t, rows.Next())
	require.NoError(t, rows.Close())

	events, err := ledger.List(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestMutationRequiresResourceName(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	wrapped := Wrap(db, DirectEmitter{Ledger: audit.NewMemoryLedger()}, testPrincipal())
	_, err = wrapped.Insert(context.Background(), Mutation{}, `INSERT INTO x (id) VALUES (1)`)
	require.ErrorContains(t, err, "resource name")
}
