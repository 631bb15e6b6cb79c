package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/verity-labs/verity/pkg/config"
	"github.com/verity-labs/verity/pkg/evidence"
)

// runExportCmd implements `verity export`.
//
// Archives one sealed pack as a self-verifying JSON bundle to a local
// directory, S3-compatible storage, or Google Cloud Storage. When a
// tenant profile is deployed its export block supplies bucket,
// endpoint, and key-prefix defaults.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 2
	}

	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dsn       string
		tenantID  string
		packID    string
		outDir    string
		bucket    string
		gcsBucket string
		region    string
		endpoint  string
	)
	cmd.StringVar(&dsn, "db", cfg.DatabaseURL, "Database DSN")
	cmd.StringVar(&tenantID, "tenant", "", "Tenant owning the pack (REQUIRED)")
	cmd.StringVar(&packID, "pack", "", "Pack id to export (REQUIRED)")
	cmd.StringVar(&outDir, "out", "", "Local directory to write the bundle to")
	cmd.StringVar(&bucket, "bucket", "", "S3 bucket to upload the bundle to")
	cmd.StringVar(&gcsBucket, "gcs-bucket", "", "GCS bucket to upload the bundle to")
	cmd.StringVar(&region, "region", "us-east-1", "S3 region")
	cmd.StringVar(&endpoint, "endpoint", "", "Custom S3 endpoint (MinIO, LocalStack)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" || packID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --tenant and --pack are required")
		return 2
	}

	var profile *config.TenantProfile
	if cfg.ProfilesDir != "" {
		p, err := config.LoadTenantProfile(cfg.ProfilesDir, tenantID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: tenant profile: %v\n", err)
			return 2
		}
		profile = p
		if outDir == "" && bucket == "" && gcsBucket == "" {
			bucket = profile.Export.Bucket
		}
		if endpoint == "" {
			endpoint = profile.Export.Endpoint
		}
	}

	destinations := 0
	for _, d := range []string{outDir, bucket, gcsBucket} {
		if d != "" {
			destinations++
		}
	}
	if destinations != 1 {
		_, _ = fmt.Fprintln(stderr, "Error: pass exactly one of --out, --bucket, or --gcs-bucket")
		return 2
	}

	db, err := openDB(dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	var blobs evidence.BlobStore
	switch {
	case bucket != "":
		blobs, err = evidence.NewS3BlobStore(ctx, evidence.S3BlobStoreConfig{
			Bucket:   bucket,
			Region:   region,
			Endpoint: endpoint,
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: s3: %v\n", err)
			return 2
		}
	case gcsBucket != "":
		blobs, err = evidence.NewGCSBlobStore(ctx, gcsBucket)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: gcs: %v\n", err)
			return 2
		}
	default:
		blobs = dirBlobStore{root: outDir}
	}

	if profile != nil && profile.Export.Prefix != "" {
		blobs = prefixedBlobStore{next: blobs, profile: profile}
	}

	exporter := evidence.NewExporter(evidence.NewSQLStore(db), blobs)
	key, err := exporter.Export(ctx, tenantID, packID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: export failed: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "Bundle written to %s\n", key)
	return 0
}

// prefixedBlobStore stores objects under a tenant profile's export
// prefix.
type prefixedBlobStore struct {
	next    evidence.BlobStore
	profile *config.TenantProfile
}

func (p prefixedBlobStore) Put(ctx context.Context, key string, data []byte) error {
	return p.next.Put(ctx, p.profile.ExportKey(key), data)
}

// dirBlobStore writes bundles under a local directory, mirroring the
// object key layout used for S3.
type dirBlobStore struct {
	root string
}

func (d dirBlobStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
