package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "VERITY_ENV", "DATABASE_URL", "SEAL_MASTER_KEY"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, "development", cfg.Environment)
	require.False(t, cfg.IsProduction())
	require.Nil(t, cfg.SealMasterKey)
}

func TestLoadSealMasterKey(t *testing.T) {
	t.Setenv("SEAL_MASTER_KEY", "000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f")
	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.SealMasterKey, 32)

	t.Setenv("SEAL_MASTER_KEY", "deadbeef")
	_, err = Load()
	require.ErrorContains(t, err, "32 bytes")

	t.Setenv("SEAL_MASTER_KEY", "not-hex")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadTenantProfile(t *testing.T) {
	dir := t.TempDir()
	doc := `
name: Acme Corp
fail_closed: true
retention:
  audit_log_days: 365
  evidence_days: 2555
export:
  bucket: acme-evidence
  prefix: prod/
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_acme.yaml"), []byte(doc), 0o644))

	p, err := LoadTenantProfile(dir, "ACME")
	require.NoError(t, err)
	require.Equal(t, "acme", p.TenantID)
	require.True(t, p.FailClosed)
	require.Equal(t, 2555, p.Retention.EvidenceDays)
	require.Equal(t, "prod/bundle.json", p.ExportKey("bundle.json"))

	_, err = LoadTenantProfile(dir, "missing")
	require.Error(t, err)
}

func TestLoadAllTenantProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_a.yaml"),
		[]byte("name: A\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_b.yaml"),
		[]byte("name: B\ntenant_id: bravo\n"), 0o644))

	profiles, err := LoadAllTenantProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	require.Contains(t, profiles, "a")
	require.Contains(t, profiles, "bravo")
}
