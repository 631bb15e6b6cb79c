//go:build !gcp

package evidence

import (
	"context"
	"errors"
)

var errNoGCS = errors.New("evidence: gcs support requires building with the gcp tag")

// GCSBlobStore is only functional in binaries built with the gcp tag,
// which pulls in the Cloud Storage client.
type GCSBlobStore struct{}

// NewGCSBlobStore reports that GCS support was not compiled in.
func NewGCSBlobStore(context.Context, string) (*GCSBlobStore, error) {
	return nil, errNoGCS
}

func (*GCSBlobStore) Put(context.Context, string, []byte) error {
	return errNoGCS
}
