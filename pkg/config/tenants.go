package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/scimd/pkg/tenant"
)

// TenantProfile is one entry of the YAML tenant directory. Secret is the
// client's shared secret in plain text; the resolver hashes it on load.
type TenantProfile struct {
	TenantID  string             `yaml:"tenant_id" json:"tenant_id"`
	ClientID  string             `yaml:"client_id" json:"client_id"`
	Secret    string             `yaml:"secret" json:"secret"`
	Isolation string             `yaml:"isolation,omitempty" json:"isolation,omitempty"`
	Perms     *PermissionsConfig `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

// PermissionsConfig narrows a tenant below full access. Omitted operations
// default to allowed so a profile only lists what it restricts.
type PermissionsConfig struct {
	Create    *bool `yaml:"create,omitempty" json:"create,omitempty"`
	Read      *bool `yaml:"read,omitempty" json:"read,omitempty"`
	Update    *bool `yaml:"update,omitempty" json:"update,omitempty"`
	Delete    *bool `yaml:"delete,omitempty" json:"delete,omitempty"`
	List      *bool `yaml:"list,omitempty" json:"list,omitempty"`
	MaxUsers  *int  `yaml:"max_users,omitempty" json:"max_users,omitempty"`
	MaxGroups *int  `yaml:"max_groups,omitempty" json:"max_groups,omitempty"`
}

// tenantsFile is the document root of the tenant directory.
type tenantsFile struct {
	Tenants []TenantProfile `yaml:"tenants"`
}

// LoadTenants parses the YAML tenant directory at path.
func LoadTenants(path string) ([]TenantProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tenants %q: %w", path, err)
	}
	var doc tenantsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tenants %q: %w", path, err)
	}
	for i, p := range doc.Tenants {
		if p.TenantID == "" || p.ClientID == "" || p.Secret == "" {
			return nil, fmt.Errorf("tenants %q: entry %d needs tenant_id, client_id and secret", path, i)
		}
	}
	return doc.Tenants, nil
}

// Context converts the profile into a tenant context.
func (p *TenantProfile) Context() *tenant.Context {
	tc := tenant.NewContext(p.TenantID, p.ClientID)
	if iso := tenant.IsolationLevel(p.Isolation); iso.Valid() {
		tc.Isolation = iso
	}
	if p.Perms != nil {
		tc.Permissions = tenant.Permissions{
			CanCreate: boolOr(p.Perms.Create, true),
			CanRead:   boolOr(p.Perms.Read, true),
			CanUpdate: boolOr(p.Perms.Update, true),
			CanDelete: boolOr(p.Perms.Delete, true),
			CanList:   boolOr(p.Perms.List, true),
			MaxUsers:  p.Perms.MaxUsers,
			MaxGroups: p.Perms.MaxGroups,
		}
	}
	return tc
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
