// Package chain defines the hash-chained entries that link sealed
// evidence packs into a tamper-evident, per-tenant sequence, and the
// verifier that recomputes them against stored state.
package chain

import (
	"fmt"
	"time"

	"github.com/verity-labs/verity/pkg/digest"
)

// Genesis is the previous-hash value of the first entry in a chain.
const Genesis = digest.Genesis

// Entry is one link in an evidence chain. Created once when a pack is
// sealed; never mutated. Any single-field change alters the recomputed
// chain hash and is detectable.
type Entry struct {
	Index       uint64    `json:"index"`
	ContentHash string    `json:"content_hash"`
	PrevHash    string    `json:"prev_hash"`
	ChainHash   string    `json:"chain_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// ComputeChainHash derives the chain hash from the entry's other four
// fields. The timestamp is serialized as RFC 3339 with nanoseconds so
// the digest does not depend on time.Time internals.
func ComputeChainHash(index uint64, contentHash, prevHash string, ts time.Time) (string, error) {
	payload := struct {
		Index       uint64 `json:"index"`
		ContentHash string `json:"content_hash"`
		PrevHash    string `json:"prev_hash"`
		Timestamp   string `json:"timestamp"`
	}{index, contentHash, prevHash, ts.UTC().Format(time.RFC3339Nano)}
	return digest.Hash(payload)
}

// New builds a fully-hashed Entry linking contentHash to prevHash.
func New(index uint64, contentHash, prevHash string, ts time.Time) (Entry, error) {
	if !digest.IsHex(contentHash) {
		return Entry{}, fmt.Errorf("chain: content hash %q is not a valid digest", contentHash)
	}
	if !digest.IsHex(prevHash) {
		return Entry{}, fmt.Errorf("chain: previous hash %q is not a valid digest", prevHash)
	}
	ch, err := ComputeChainHash(index, contentHash, prevHash, ts)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Index:       index,
		ContentHash: contentHash,
		PrevHash:    prevHash,
		ChainHash:   ch,
		Timestamp:   ts.UTC(),
	}, nil
}
