package evidence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/verity-labs/verity/pkg/digest"
)

// BlobStore is the object-storage surface evidence bundles are archived
// to. Keys are content-addressed by the bundle's chain hash.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Exporter archives sealed packs to durable object storage for
// independent, out-of-band verification. Export never mutates the pack
// or the chain; it is safe to re-run.
type Exporter struct {
	store Store
	blobs BlobStore
}

func NewExporter(store Store, blobs BlobStore) *Exporter {
	return &Exporter{store: store, blobs: blobs}
}

// exportBundle is the archived representation: the full pack plus a
// digest of its own serialization, so a downloaded bundle can be
// checked for transport corruption without any other state.
type exportBundle struct {
	Pack       *Pack  `json:"pack"`
	BundleHash string `json:"bundle_hash"`
}

// Export serializes the pack and uploads it under
// evidence/<tenant>/<chain_index>-<chain_hash>.json.
// Returns the object key.
func (e *Exporter) Export(ctx context.Context, tenantID, packID string) (string, error) {
	pack, err := e.store.Get(ctx, tenantID, packID)
	if err != nil {
		return "", fmt.Errorf("evidence: export load pack: %w", err)
	}

	bundleHash, err := digest.Hash(pack)
	if err != nil {
		return "", fmt.Errorf("evidence: export bundle hash: %w", err)
	}

	data, err := json.Marshal(exportBundle{Pack: pack, BundleHash: bundleHash})
	if err != nil {
		return "", fmt.Errorf("evidence: export marshal: %w", err)
	}

	key := fmt.Sprintf("evidence/%s/%d-%s.json", tenantID, pack.Entry.Index, pack.Entry.ChainHash)
	if err := e.blobs.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("evidence: export upload: %w", err)
	}
	return key, nil
}
