package gate

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

//go:embed policy.yaml
var defaultPolicy []byte

// Route grants a path prefix to a set of roles
type Route struct {
	Prefix string        `yaml:"prefix"`
	Roles  []models.Role `yaml:"roles"`
}

// Policy is the static route table consulted by the gate
type Policy struct {
	LoginPath           string                 `yaml:"login_path"`
	PasswordChangePath  string                 `yaml:"password_change_path"`
	PasswordChangeAllow []string               `yaml:"password_change_allow"`
	Public              []string               `yaml:"public"`
	Home                map[models.Role]string `yaml:"home"`
	Routes              []Route                `yaml:"routes"`
}

// DefaultPolicy returns the policy shipped with the binary
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// LoadPolicy reads a policy file, or the default policy when path is empty
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse route policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that every role is known and has a home page
func (p *Policy) Validate() error {
	if !strings.HasPrefix(p.LoginPath, "/") {
		return fmt.Errorf("route policy: login_path must be an absolute path")
	}
	if p.PasswordChangePath != "" && !strings.HasPrefix(p.PasswordChangePath, "/") {
		return fmt.Errorf("route policy: password_change_path must be an absolute path")
	}
	for _, role := range models.Roles {
		if !strings.HasPrefix(p.Home[role], "/") {
			return fmt.Errorf("route policy: no home page for role %s", role)
		}
	}
	for role := range p.Home {
		if !role.Valid() {
			return fmt.Errorf("route policy: unknown role %q in home", role)
		}
	}
	for _, route := range p.Routes {
		if !strings.HasPrefix(route.Prefix, "/") {
			return fmt.Errorf("route policy: prefix %q must start with /", route.Prefix)
		}
		if len(route.Roles) == 0 {
			return fmt.Errorf("route policy: prefix %q grants no roles", route.Prefix)
		}
		for _, role := range route.Roles {
			if !role.Valid() {
				return fmt.Errorf("route policy: unknown role %q for %s", role, route.Prefix)
			}
		}
	}
	return nil
}
