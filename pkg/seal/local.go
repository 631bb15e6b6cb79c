package seal

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/verity-labs/verity/pkg/digest"
)

// ErrNoDigests is returned when a seal is requested over nothing.
var ErrNoDigests = errors.New("seal: no artifact digests to seal")

const hkdfSalt = "verity/seal/v1"

// LocalSealer is an in-process Provider. Each tenant signs with an
// Ed25519 key derived from a 32-byte master key via HKDF, so tenants
// never share signing material and the keystore holds a single secret.
type LocalSealer struct {
	master []byte
	keyID  string
	clock  func() time.Time
}

// NewLocalSealer creates a sealer from a 32-byte master key.
func NewLocalSealer(master []byte, keyID string) (*LocalSealer, error) {
	if len(master) != 32 {
		return nil, fmt.Errorf("seal: master key must be 32 bytes, got %d", len(master))
	}
	return &LocalSealer{master: master, keyID: keyID, clock: time.Now}, nil
}

// WithClock overrides clock for testing.
func (s *LocalSealer) WithClock(clock func() time.Time) *LocalSealer {
	s.clock = clock
	return s
}

// Seal computes the combined pack digest of the (name, digest) pairs
// and signs it with the tenant's derived key. The digest list is sorted
// by name first, so the envelope does not depend on caller ordering.
func (s *LocalSealer) Seal(ctx context.Context, tenantID string, digests []ArtifactDigest) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(digests) == 0 {
		return nil, ErrNoDigests
	}

	sorted := make([]ArtifactDigest, len(digests))
	copy(sorted, digests)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	packDigest, err := digest.Hash(sorted)
	if err != nil {
		return nil, fmt.Errorf("seal: pack digest: %w", err)
	}

	priv, err := s.tenantKey(tenantID)
	if err != nil {
		return nil, err
	}

	sig := ed25519.Sign(priv, []byte(packDigest))
	return &Envelope{
		PackDigest: packDigest,
		Signature:  hex.EncodeToString(sig),
		KeyID:      s.keyID,
		PublicKey:  hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
		SealedAt:   s.clock().UTC(),
	}, nil
}

func (s *LocalSealer) tenantKey(tenantID string) (ed25519.PrivateKey, error) {
	r := hkdf.New(sha256.New, s.master, []byte(hkdfSalt), []byte(tenantID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("seal: derive tenant key: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// VerifyEnvelope checks an envelope's signature against its embedded
// public key. Auditor-side helper; the evidence builder never calls it.
func VerifyEnvelope(env *Envelope) (bool, error) {
	pub, err := hex.DecodeString(env.PublicKey)
	if err != nil {
		return false, fmt.Errorf("seal: invalid public key hex: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("seal: invalid public key size %d", len(pub))
	}
	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return false, fmt.Errorf("seal: invalid signature hex: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(env.PackDigest), sig), nil
}
