package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

func TestServiceErrorResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	verr := models.NewValidationError()
	verr.Add("name", "is required")

	tests := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body APIResponse)
	}{
		{"validation", verr, http.StatusBadRequest, func(t *testing.T, body APIResponse) {
			if len(body.Fields["name"]) != 1 {
				t.Errorf("fields = %v", body.Fields)
			}
		}},
		{"conflict", models.Conflict("contact_email", models.ErrDuplicateContactEmail), http.StatusConflict, func(t *testing.T, body APIResponse) {
			if body.Field != "contact_email" {
				t.Errorf("field = %q", body.Field)
			}
		}},
		{"credentials", models.ErrInvalidCredentials, http.StatusUnauthorized, func(t *testing.T, body APIResponse) {
			if body.Error != "Invalid credentials" {
				t.Errorf("error = %q", body.Error)
			}
		}},
		{"tenant code looks like credentials", models.ErrInvalidTenantCode, http.StatusUnauthorized, func(t *testing.T, body APIResponse) {
			if body.Error != "Invalid credentials" {
				t.Errorf("error = %q", body.Error)
			}
		}},
		{"forbidden", models.ErrForbidden, http.StatusForbidden, nil},
		{"not found", fmt.Errorf("tenant: %w", models.ErrNotFound), http.StatusNotFound, nil},
		{"dependency", models.Dependency("load", errors.New("connection refused")), http.StatusServiceUnavailable, nil},
		{"breaker", ErrCircuitOpen, http.StatusServiceUnavailable, nil},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			ServiceErrorResponse(c, tt.err)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var body APIResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Success {
				t.Fatal("error response marked successful")
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}
