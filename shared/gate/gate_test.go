package gate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

// stubTokens maps raw tokens to claims
type stubTokens map[string]*models.SessionClaims

func (s stubTokens) Parse(token string) (*models.SessionClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, models.ErrInvalidSession
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	policy, err := DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy: %v", err)
	}
	tokens := stubTokens{
		"teacher": {Role: models.RoleTeacher},
		"root":    {Role: models.RoleSuperAdmin},
		"admin":   {Role: models.RoleTenantAdmin},
		"fresh":   {Role: models.RoleTenantAdmin, MustChangePassword: true},
		"parent":  {Role: models.RoleParent},
	}
	return New(policy, tokens)
}

func TestDecide(t *testing.T) {
	g := newTestGate(t)

	tests := []struct {
		name     string
		path     string
		token    string
		kind     Kind
		location string
	}{
		{"public root", "/", "", Allow, ""},
		{"public page", "/pricing", "", Allow, ""},
		{"public nested", "/blog/welcome", "", Allow, ""},
		{"public with bad token", "/login", "garbage", Allow, ""},
		{"root does not cover everything", "/dashboard", "", RedirectToLogin, "/login"},
		{"missing token", "/teacher/dashboard", "", RedirectToLogin, "/login"},
		{"invalid token", "/teacher/dashboard", "garbage", RedirectToLogin, "/login"},
		{"teacher home", "/teacher/dashboard", "teacher", Allow, ""},
		{"teacher on super admin page", "/super-admin/dashboard", "teacher", Redirect, "/teacher/dashboard"},
		{"super admin on teacher page", "/teacher/grades", "root", Redirect, "/super-admin/dashboard"},
		{"segment boundary", "/teachers", "parent", Allow, ""},
		{"admin area", "/admin/users", "admin", Allow, ""},
		{"parent on admin area", "/admin", "parent", Redirect, "/parent/dashboard"},
		{"tenant api", "/api/tenants/123/accounts", "admin", Allow, ""},
		{"teacher on tenant api", "/api/tenants", "teacher", Redirect, "/teacher/dashboard"},
		{"unlisted path", "/settings", "teacher", Allow, ""},
		{"forced password change", "/admin/dashboard", "fresh", Redirect, "/account/change-password"},
		{"change page itself", "/account/change-password", "fresh", Allow, ""},
		{"change api allowed", "/api/auth/password", "fresh", Allow, ""},
		{"public while forced", "/about", "fresh", Allow, ""},
		{"doubled slash", "//super-admin/dashboard", "teacher", Redirect, "/teacher/dashboard"},
		{"dot segments", "/teacher/../super-admin/dashboard", "teacher", Redirect, "/teacher/dashboard"},
		{"upper case", "/Super-Admin/dashboard", "teacher", Redirect, "/teacher/dashboard"},
		{"trailing slash", "/super-admin/", "teacher", Redirect, "/teacher/dashboard"},
		{"escape from public", "/blog/../admin/users", "", RedirectToLogin, "/login"},
		{"relative path", "super-admin", "teacher", Redirect, "/teacher/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Decide(tt.path, tt.token)
			if d.Kind != tt.kind || d.Location != tt.location {
				t.Fatalf("Decide(%q, %q) = %s %q, want %s %q", tt.path, tt.token, d.Kind, d.Location, tt.kind, tt.location)
			}
		})
	}
}

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"":                         "/",
		"/":                        "/",
		"//super-admin//dashboard": "/super-admin/dashboard",
		"/teacher/../super-admin":  "/super-admin",
		"/a/./b/":                  "/a/b/",
		"/../../etc":               "/etc",
		"admin":                    "/admin",
		"/Teacher/Dashboard":       "/Teacher/Dashboard",
	}
	for in, want := range tests {
		if got := CleanPath(in); got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecideLongestPrefixWins(t *testing.T) {
	policy, err := ParsePolicy([]byte(`
login_path: /login
home:
  super_admin: /super-admin
  tenant_admin: /admin
  teacher: /teacher
  student: /student
  parent: /parent
routes:
  - prefix: /admin
    roles: [tenant_admin]
  - prefix: /admin/reports
    roles: [tenant_admin, teacher]
`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	g := New(policy, stubTokens{"teacher": {Role: models.RoleTeacher}})

	if d := g.Decide("/admin/reports/term-1", "teacher"); d.Kind != Allow {
		t.Fatalf("longer prefix should allow teacher, got %s", d.Kind)
	}
	if d := g.Decide("/admin/users", "teacher"); d.Kind != Redirect || d.Location != "/teacher" {
		t.Fatalf("shorter prefix should redirect teacher, got %s %q", d.Kind, d.Location)
	}
}

func TestDecideCarriesClaims(t *testing.T) {
	g := newTestGate(t)
	d := g.Decide("/teacher/dashboard", "teacher")
	if d.Claims == nil || d.Claims.Role != models.RoleTeacher {
		t.Fatalf("claims not attached: %+v", d)
	}
}

func TestPolicyValidation(t *testing.T) {
	tests := map[string]string{
		"unknown role": `
login_path: /login
home: {super_admin: /a, tenant_admin: /b, teacher: /c, student: /d, parent: /e}
routes:
  - prefix: /x
    roles: [janitor]
`,
		"missing home": `
login_path: /login
home: {super_admin: /a}
`,
		"relative prefix": `
login_path: /login
home: {super_admin: /a, tenant_admin: /b, teacher: /c, student: /d, parent: /e}
routes:
  - prefix: x
    roles: [teacher]
`,
		"no login": `
home: {super_admin: /a, tenant_admin: /b, teacher: /c, student: /d, parent: /e}
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePolicy([]byte(doc)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := []byte(`
login_path: /signin
public: [/signin]
home: {super_admin: /a, tenant_admin: /b, teacher: /c, student: /d, parent: /e}
routes:
  - prefix: /c
    roles: [teacher]
`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	g := New(policy, stubTokens{})
	if d := g.Decide("/c/grades", ""); d.Kind != RedirectToLogin || d.Location != "/signin" {
		t.Fatalf("got %s %q", d.Kind, d.Location)
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: got %v", err)
	}
}
