// Package seal defines the external seal provider capability: given the
// digests of an evidence pack's artifacts, produce a signed envelope
// binding them together. The evidence builder consumes only the
// envelope's pack digest; signature verification belongs to the
// provider or an independent auditor.
package seal

import (
	"context"
	"time"
)

// ArtifactDigest is one named artifact's content digest.
type ArtifactDigest struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Envelope is the opaque sealed output of a provider.
type Envelope struct {
	PackDigest string    `json:"pack_digest"`
	Signature  string    `json:"signature"`
	KeyID      string    `json:"key_id"`
	PublicKey  string    `json:"public_key"`
	SealedAt   time.Time `json:"sealed_at"`
}

// Provider produces sealed envelopes over artifact digest lists.
type Provider interface {
	Seal(ctx context.Context, tenantID string, digests []ArtifactDigest) (*Envelope, error)
}
