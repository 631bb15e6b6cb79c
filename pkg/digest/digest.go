// Package digest provides deterministic content hashing over RFC 8785
// (JCS) canonical JSON. Every chained record in the system derives its
// hash here, so the rules are strict: stable serialization, no wall-clock
// reads, no hidden entropy. Timestamps are data supplied by the caller.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// Genesis is the previous-hash sentinel for the first entry of a chain:
// an all-zero digest of the same length as a real SHA-256 hex string.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

// HashBytes computes the SHA-256 hash of raw bytes and returns lowercase hex.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Hash returns the SHA-256 hex digest of the canonical JSON form of v.
// Deterministic: the same value always produces the same digest,
// regardless of map iteration order or struct field declaration order.
func Hash(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashLinked digests v together with the hash of its chain predecessor,
// so the result is sensitive to both content and position. prev may be
// empty for an unlinked value or Genesis for the head of a chain.
func HashLinked(v any, prev string) (string, error) {
	wrapper := struct {
		Payload any    `json:"payload"`
		Prev    string `json:"prev"`
	}{v, prev}
	return Hash(wrapper)
}

// Canonical returns the RFC 8785 canonical JSON encoding of v.
// Struct json tags are respected; map keys are sorted by UTF-16 code
// units per the RFC; HTML escaping is disabled.
func Canonical(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("digest: marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("digest: canonicalization failed: %w", err)
	}
	return canonical, nil
}

// IsHex reports whether s is a well-formed digest value: 64 lowercase
// hex characters.
func IsHex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}
