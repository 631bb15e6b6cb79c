package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verity-labs/verity/pkg/audit"
	"github.com/verity-labs/verity/pkg/seal"
)

func disabledProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	return p
}

func TestDisabledProviderIsInert(t *testing.T) {
	p := disabledProvider(t)
	ctx := context.Background()

	// None of these should panic or require a collector.
	p.RecordRequest(ctx)
	p.RecordError(ctx, context.Canceled)
	_, done := p.TrackOperation(ctx, "noop")
	done(nil)
	require.NoError(t, p.Shutdown(ctx))
}

func TestInstrumentedLedgerPreservesBehavior(t *testing.T) {
	p := disabledProvider(t)
	ledger := InstrumentLedger(audit.NewMemoryLedger(), p)
	ctx := context.Background()

	ev, err := ledger.Append(ctx, audit.Entry{
		TenantID:   "t1",
		ActorID:    "u1",
		Action:     "session.created",
		TargetType: "session",
	})
	require.NoError(t, err)
	require.NotEmpty(t, ev.Hash)

	tail, err := ledger.Tail(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, ev.Hash, tail)

	report, err := ledger.VerifyChain(ctx, "t1")
	require.NoError(t, err)
	require.True(t, report.Valid)

	// Invalid entries still fail through the decorator.
	_, err = ledger.Append(ctx, audit.Entry{TenantID: "t1"})
	require.Error(t, err)
}

func TestInstrumentedSealerPreservesBehavior(t *testing.T) {
	p := disabledProvider(t)
	master := bytes.Repeat([]byte{7}, 32)
	inner, err := seal.NewLocalSealer(master, "key-1")
	require.NoError(t, err)

	sealer := InstrumentSealer(inner, p)
	ctx := context.Background()

	env, err := sealer.Seal(ctx, "t1", []seal.ArtifactDigest{
		{Name: "report.pdf", Digest: "ab"},
	})
	require.NoError(t, err)
	require.Equal(t, "key-1", env.KeyID)

	ok, err := seal.VerifyEnvelope(env)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = sealer.Seal(ctx, "t1", nil)
	require.ErrorIs(t, err, seal.ErrNoDigests)
}
