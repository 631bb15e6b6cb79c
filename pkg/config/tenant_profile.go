package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TenantProfile carries per-tenant overrides for evidence handling.
type TenantProfile struct {
	Name       string          `yaml:"name" json:"name"`
	TenantID   string          `yaml:"tenant_id" json:"tenant_id"`
	FailClosed bool            `yaml:"fail_closed,omitempty" json:"fail_closed,omitempty"`
	Retention  RetentionConfig `yaml:"retention" json:"retention"`
	Export     ExportConfig    `yaml:"export" json:"export"`
}

// RetentionConfig defines how long audit and evidence records are kept.
type RetentionConfig struct {
	AuditLogDays int `yaml:"audit_log_days" json:"audit_log_days"`
	EvidenceDays int `yaml:"evidence_days" json:"evidence_days"`
}

// ExportConfig points evidence exports at a tenant's bucket.
type ExportConfig struct {
	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// LoadTenantProfile loads a tenant profile YAML by tenant id.
// It searches the profiles directory for profile_<tenant>.yaml.
func LoadTenantProfile(profilesDir, tenantID string) (*TenantProfile, error) {
	tenantID = strings.ToLower(tenantID)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", tenantID))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", tenantID, err)
	}

	var profile TenantProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", tenantID, err)
	}

	if profile.TenantID == "" {
		profile.TenantID = tenantID
	}

	return &profile, nil
}

// LoadAllTenantProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllTenantProfiles(profilesDir string) (map[string]*TenantProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*TenantProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile TenantProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.TenantID == "" {
			// Extract id from filename: profile_acme.yaml -> acme
			base := filepath.Base(path)
			profile.TenantID = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.TenantID] = &profile
	}

	return profiles, nil
}

// ExportKey builds the object key for an exported evidence bundle.
func (p *TenantProfile) ExportKey(name string) string {
	if p.Export.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(p.Export.Prefix, "/") + "/" + name
}
