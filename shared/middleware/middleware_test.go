package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/pavitra93/go-school-tenancy/shared/auth"
	"github.com/pavitra93/go-school-tenancy/shared/gate"
	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/utils"
)

var tokens = auth.NewTokenIssuer("middleware-secret-middleware-secret", "school-tenancy", time.Hour)

func mint(t *testing.T, role models.Role, tenantID string, mustChange bool) string {
	t.Helper()
	session, err := tokens.Mint(models.SessionClaims{
		AccountID:          uuid.NewString(),
		Email:              "user@greenfield.test",
		Name:               "Test User",
		Role:               role,
		TenantID:           tenantID,
		MustChangePassword: mustChange,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return session.Token
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	policy, err := gate.DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy: %v", err)
	}
	logger, _ := test.NewNullLogger()

	r := gin.New()
	r.Use(Gate(gate.New(policy, tokens), logger))
	ok := func(c *gin.Context) {
		actor, _ := ActorFromContext(c)
		c.JSON(http.StatusOK, gin.H{"role": actor.Role})
	}
	r.GET("/", ok)
	r.GET("/admin/dashboard", ok)
	r.GET("/teacher/dashboard", ok)
	r.GET("/api/tenants", ok)
	return r
}

func TestGateMiddleware(t *testing.T) {
	r := newRouter(t)
	tenantID := uuid.NewString()

	tests := []struct {
		name     string
		path     string
		token    string
		cookie   bool
		accept   string
		status   int
		location string
	}{
		{"public", "/", "", false, "", http.StatusOK, ""},
		{"anonymous browser", "/admin/dashboard", "", false, "", http.StatusSeeOther, "/login"},
		{"anonymous api", "/api/tenants", "", false, "", http.StatusUnauthorized, "/login"},
		{"garbage cookie", "/admin/dashboard", "garbage", true, "", http.StatusSeeOther, "/login"},
		{"admin", "/admin/dashboard", mint(t, models.RoleTenantAdmin, tenantID, false), true, "", http.StatusOK, ""},
		{"teacher in admin area", "/admin/dashboard", mint(t, models.RoleTeacher, tenantID, false), false, "", http.StatusSeeOther, "/teacher/dashboard"},
		{"teacher in admin area as json", "/admin/dashboard", mint(t, models.RoleTeacher, tenantID, false), false, "application/json", http.StatusForbidden, "/teacher/dashboard"},
		{"must change password", "/teacher/dashboard", mint(t, models.RoleTeacher, tenantID, true), true, "", http.StatusSeeOther, "/account/change-password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				if tt.cookie {
					req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.token})
				} else {
					req.Header.Set("Authorization", "Bearer "+tt.token)
				}
			}
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.location != "" && w.Header().Get("Location") != tt.location {
				t.Fatalf("location = %q, want %q", w.Header().Get("Location"), tt.location)
			}
		})
	}
}

func TestGateClearsStaleCookie(t *testing.T) {
	r := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "expired"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body utils.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Redirect != "/login" {
		t.Fatalf("redirect = %q", body.Redirect)
	}
	cleared := false
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == SessionCookie && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("stale session cookie not cleared")
	}
}

func TestRequireAuthAndRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tenantID := uuid.NewString()

	r := gin.New()
	am := NewAuthMiddleware(tokens)
	api := r.Group("/tenants", am.RequireAuth())
	api.GET("", RequireRole(models.RoleSuperAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	api.GET("/:id", RequireTenantAccess(), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"no token", "/tenants", "", http.StatusUnauthorized},
		{"bad token", "/tenants", "nope", http.StatusUnauthorized},
		{"super admin lists", "/tenants", mint(t, models.RoleSuperAdmin, "", false), http.StatusOK},
		{"tenant admin cannot list", "/tenants", mint(t, models.RoleTenantAdmin, tenantID, false), http.StatusForbidden},
		{"own tenant", "/tenants/" + tenantID, mint(t, models.RoleTenantAdmin, tenantID, false), http.StatusOK},
		{"other tenant", "/tenants/" + uuid.NewString(), mint(t, models.RoleTenantAdmin, tenantID, false), http.StatusForbidden},
		{"super admin any tenant", "/tenants/" + tenantID, mint(t, models.RoleSuperAdmin, "", false), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}
