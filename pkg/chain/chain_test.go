package chain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verity-labs/verity/pkg/digest"
)

func testContentHash(t *testing.T, v any) string {
	t.Helper()
	h, err := digest.Hash(v)
	require.NoError(t, err)
	return h
}

func TestGenesisEntry(t *testing.T) {
	e, err := New(0, testContentHash(t, "pack-0"), Genesis, time.Now())
	require.NoError(t, err)

	require.Equal(t, uint64(0), e.Index)
	require.Equal(t, strings.Repeat("0", 64), e.PrevHash)
	require.True(t, VerifyEntry(e, Genesis).Valid)
}

func TestNewRejectsMalformedHashes(t *testing.T) {
	_, err := New(0, "nothex", Genesis, time.Now())
	require.Error(t, err)

	_, err = New(0, testContentHash(t, "x"), "short", time.Now())
	require.Error(t, err)
}

func TestLinkedEntries(t *testing.T) {
	now := time.Now()
	e1, err := New(0, testContentHash(t, "pack-0"), Genesis, now)
	require.NoError(t, err)
	e2, err := New(1, testContentHash(t, "pack-1"), e1.ChainHash, now.Add(time.Second))
	require.NoError(t, err)

	require.True(t, VerifyEntry(e2, e1.ChainHash).Valid)

	r := VerifyEntry(e2, Genesis)
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	require.Contains(t, r.Errors[0], "previous hash mismatch")
}

func TestVerifyEntryIdempotent(t *testing.T) {
	e, err := New(0, testContentHash(t, "pack"), Genesis, time.Now())
	require.NoError(t, err)

	first := VerifyEntry(e, Genesis)
	second := VerifyEntry(e, Genesis)
	require.Equal(t, first, second)
}

func TestVerifyEntryReportsAllDefects(t *testing.T) {
	e, err := New(3, testContentHash(t, "pack"), testContentHash(t, "prior"), time.Now())
	require.NoError(t, err)

	// Tamper with the index: the stored chain hash no longer matches,
	// and the entry is also checked against the wrong predecessor.
	e.Index = 4
	r := VerifyEntry(e, Genesis)
	require.False(t, r.Valid)
	require.Len(t, r.Errors, 2)
}

func TestTamperingAnyFieldIsDetected(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	base, err := New(2, testContentHash(t, "pack-2"), testContentHash(t, "pack-1"), ts)
	require.NoError(t, err)
	expectedPrev := base.PrevHash

	mutations := map[string]func(Entry) Entry{
		"index":        func(e Entry) Entry { e.Index++; return e },
		"content_hash": func(e Entry) Entry { e.ContentHash = testContentHash(t, "other"); return e },
		"prev_hash":    func(e Entry) Entry { e.PrevHash = testContentHash(t, "forged"); return e },
		"timestamp":    func(e Entry) Entry { e.Timestamp = e.Timestamp.Add(time.Nanosecond); return e },
	}

	for field, mutate := range mutations {
		mutated := mutate(base)
		r := VerifyEntry(mutated, expectedPrev)
		require.False(t, r.Valid, "mutating %s must break verification", field)
	}
}

func TestVerifySequence(t *testing.T) {
	now := time.Now()
	e1, err := New(0, testContentHash(t, "a"), Genesis, now)
	require.NoError(t, err)
	e2, err := New(1, testContentHash(t, "b"), e1.ChainHash, now.Add(time.Second))
	require.NoError(t, err)
	e3, err := New(2, testContentHash(t, "c"), e2.ChainHash, now.Add(2*time.Second))
	require.NoError(t, err)

	require.True(t, VerifySequence([]Entry{e1, e2, e3}).Valid)

	// Drop the middle entry: the break is attributed to the successor.
	r := VerifySequence([]Entry{e1, e3})
	require.False(t, r.Valid)
	require.Contains(t, r.Errors[0], "entry 1")
}

func TestVerifySequenceEmpty(t *testing.T) {
	require.True(t, VerifySequence(nil).Valid)
}
