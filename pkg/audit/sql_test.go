package audit

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestSQLLedger(t *testing.T) *SQLLedger {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// The in-memory database disappears once its last connection
	// closes; keep exactly one.
	db.SetMaxOpenConns(1)

	l := NewSQLLedger(db)
	require.NoError(t, l.Init(context.Background()))
	return l
}

func TestSQLLedgerAppendAndChain(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLLedger(t)

	first, err := l.Append(ctx, Entry{
		TenantID:   "t1",
		ActorID:    "u1",
		ActorRole:  "admin",
		Action:     "invoice.created",
		TargetType: "invoice",
		TargetID:   "inv-1",
		After:      map[string]any{"total": 100},
	})
	require.NoError(t, err)
	require.Empty(t, first.PrevHash)

	second, err := l.Append(ctx, Entry{
		TenantID:   "t1",
		ActorID:    "u2",
		Action:     "invoice.updated",
		TargetType: "invoice",
		TargetID:   "inv-1",
		Before:     map[string]any{"total": 100},
		After:      map[string]any{"total": 90},
	})
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.PrevHash)

	events, err := l.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "admin", events[0].ActorRole)
	require.JSONEq(t, `{"total":90}`, string(events[1].After))

	report, err := l.VerifyChain(ctx, "t1")
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func TestSQLLedgerTail(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLLedger(t)

	tail, err := l.Tail(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, tail)

	ev, err := l.Append(ctx, Entry{TenantID: "t1", ActorID: "u", Action: "a.b", TargetType: "a"})
	require.NoError(t, err)

	tail, err = l.Tail(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, ev.Hash, tail)
}

func TestSQLLedgerConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLLedger(t)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, Entry{
				TenantID:   "t1",
				ActorID:    "u",
				Action:     "row.created",
				TargetType: "row",
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	report, err := l.VerifyChain(ctx, "t1")
	require.NoError(t, err)
	require.True(t, report.Valid)

	events, err := l.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, writers)
}

func TestIsUniqueViolation(t *testing.T) {
	require.False(t, isUniqueViolation(nil))
	require.True(t, isUniqueViolation(errUnique("UNIQUE constraint failed: audit_events.tenant_id")))
	require.True(t, isUniqueViolation(errUnique(`duplicate key value violates unique constraint "audit_events_tenant_id_seq_key"`)))
	require.False(t, isUniqueViolation(errUnique("connection refused")))
}

type errUnique string

func (e errUnique) Error() string { return string(e) }
