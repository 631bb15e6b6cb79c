package evidence

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verity-labs/verity/pkg/chain"
	"github.com/verity-labs/verity/pkg/seal"

	_ "modernc.org/sqlite"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	s := NewSQLStore(db)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestSQLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)
	sealer, err := seal.NewLocalSealer(bytes.Repeat([]byte{9}, 32), "k")
	require.NoError(t, err)

	b := NewBuilder(store, sealer)
	pack, err := b.BuildAndSeal(ctx, testRequest("session.sealed"))
	require.NoError(t, err)

	got, err := store.Get(ctx, "tenant-a", pack.ID)
	require.NoError(t, err)
	require.Equal(t, pack.ArtifactDigests, got.ArtifactDigests)
	require.Equal(t, pack.Envelope.PackDigest, got.Envelope.PackDigest)
	require.Equal(t, pack.Entry.ChainHash, got.Entry.ChainHash)

	// The persisted entry must still verify against genesis.
	require.True(t, chain.VerifyEntry(got.Entry, chain.Genesis).Valid)
}

func TestSQLStoreLatestAndChaining(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)
	sealer, err := seal.NewLocalSealer(bytes.Repeat([]byte{9}, 32), "k")
	require.NoError(t, err)
	b := NewBuilder(store, sealer)

	_, err = store.Latest(ctx, "tenant-a")
	require.ErrorIs(t, err, ErrNotFound)

	first, err := b.BuildAndSeal(ctx, testRequest("session.sealed"))
	require.NoError(t, err)
	second, err := b.BuildAndSeal(ctx, testRequest("result.finalized"))
	require.NoError(t, err)

	latest, err := store.Latest(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
	require.Equal(t, first.Entry.ChainHash, latest.Entry.PrevHash)

	packs, err := store.List(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, packs, 2)

	entries := []chain.Entry{packs[0].Entry, packs[1].Entry}
	require.True(t, chain.VerifySequence(entries).Valid)
}

func TestSQLStoreRejectsChainPositionReuse(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)
	sealer, err := seal.NewLocalSealer(bytes.Repeat([]byte{9}, 32), "k")
	require.NoError(t, err)
	b := NewBuilder(store, sealer)

	pack, err := b.BuildAndSeal(ctx, testRequest("session.sealed"))
	require.NoError(t, err)

	// A second pack claiming the same chain index must be rejected by
	// the unique constraint.
	dup := *pack
	dup.ID = "forged-duplicate"
	require.Error(t, store.Save(ctx, &dup))
}

func TestSQLStoreGetMissing(t *testing.T) {
	store := newTestSQLStore(t)
	_, err := store.Get(context.Background(), "tenant-a", "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
