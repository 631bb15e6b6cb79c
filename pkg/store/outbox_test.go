package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/verity-labs/verity/pkg/audit"
)

func outboxTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, InitOutbox(ctx, db))
	_, err = db.ExecContext(ctx, `CREATE TABLE orders (id TEXT PRIMARY KEY, status TEXT)`)
	require.NoError(t, err)
	return db
}

func TestOutboxScheduleAndDispatch(t *testing.T) {
	db := outboxTestDB(t)
	ctx := context.Background()

	wrapped := Wrap(db, OutboxEmitter{}, testPrincipal())
	tx, err := wrapped.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.Insert(ctx, Mutation{
		Resource: Resource{Name: "order"},
		TargetID: "o-1",
		After:    map[string]string{"status": "open"},
	}, `INSERT INTO orders (id, status) VALUES ($1, $2)`, "o-1", "open")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	ledger := audit.NewMemoryLedger()
	require.Empty(t, mustList(t, ledger, "tenant-a"), "nothing dispatched yet")

	n, err := NewDispatcher(db, ledger, 100).DispatchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	events := mustList(t, ledger, "tenant-a")
	require.Len(t, events, 1)
	require.Equal(t, "order.created", events[0].Action)
	require.Equal(t, "o-1", events[0].TargetID)
	require.Equal(t, wrapped.CorrelationID(), events[0].CorrelationID)

	var pending int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_outbox WHERE status = 'PENDING'`).Scan(&pending))
	require.Zero(t, pending)

	// A second pass finds nothing to do.
	n, err = NewDispatcher(db, ledger, 100).DispatchPending(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOutboxRollbackDiscardsEntry(t *testing.T) {
	db := outboxTestDB(t)
	ctx := context.Background()

	wrapped := Wrap(db, OutboxEmitter{}, testPrincipal())
	tx, err := wrapped.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.Insert(ctx, Mutation{Resource: Resource{Name: "order"}, TargetID: "o-2"},
		`INSERT INTO orders (id, status) VALUES ($1, $2)`, "o-2", "open")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	// Rolling back the business transaction rolls back the outbox row
	// with it. The audit record never claims a write that did not land.
	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_outbox`).Scan(&count))
	require.Zero(t, count)
}

func TestOutboxDispatchPreservesOrder(t *testing.T) {
	db := outboxTestDB(t)
	ctx := context.Background()

	// Back-to-back inserts routinely share a scheduled_at tick, so the
	// time-ordered row ids are what keep dispatch in insertion order.
	wrapped := Wrap(db, OutboxEmitter{}, testPrincipal())
	var want []string
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("o-%02d", i)
		want = append(want, id)
		_, err := wrapped.Insert(ctx, Mutation{Resource: Resource{Name: "order"}, TargetID: id},
			`INSERT INTO orders (id, status) VALUES ($1, $2)`, id, "open")
		require.NoError(t, err)
	}

	ledger := audit.NewMemoryLedger()
	n, err := NewDispatcher(db, ledger, 10000).DispatchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, len(want), n)

	events := mustList(t, ledger, "tenant-a")
	require.Len(t, events, len(want))
	for i, id := range want {
		require.Equal(t, id, events[i].TargetID)
	}

	report, err := ledger.VerifyChain(ctx, "tenant-a")
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func mustList(t *testing.T, l audit.Ledger, tenant string) []audit.Event {
	t.Helper()
	events, err := l.List(context.Background(), tenant)
	require.NoError(t, err)
	return events
}
