package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims are the claims carried by a signed session token
type SessionClaims struct {
	AccountID          string `json:"account_id"`
	Email              string `json:"email"`
	Name               string `json:"name"`
	Role               Role   `json:"role"`
	TenantID           string `json:"tenant_id,omitempty"`
	TenantName         string `json:"tenant_name,omitempty"`
	TenantCode         string `json:"tenant_code,omitempty"`
	MustChangePassword bool   `json:"must_change_password,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the identity used for authorization checks
func (c *SessionClaims) Actor() Actor {
	actor := Actor{
		Email: c.Email,
		Name:  c.Name,
		Role:  c.Role,
	}
	if id, err := uuid.Parse(c.AccountID); err == nil {
		actor.AccountID = id
	}
	if id, err := uuid.Parse(c.TenantID); err == nil {
		actor.TenantID = &id
	}
	return actor
}

// Session is a freshly minted token together with its claims
type Session struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Claims    SessionClaims `json:"claims"`
}

// IsExpired reports whether the session has passed its absolute expiry
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Actor is the identity performing an operation
type Actor struct {
	AccountID uuid.UUID  `json:"account_id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      Role       `json:"role"`
	TenantID  *uuid.UUID `json:"tenant_id,omitempty"`
}

// IsSuperAdmin reports whether the actor administers the whole platform
func (a Actor) IsSuperAdmin() bool {
	return a.Role == RoleSuperAdmin
}

// CanManageTenant reports whether the actor administers tenantID
func (a Actor) CanManageTenant(tenantID uuid.UUID) bool {
	if a.IsSuperAdmin() {
		return true
	}
	return a.Role == RoleTenantAdmin && a.BelongsTo(tenantID)
}

// BelongsTo reports whether the actor is scoped to tenantID
func (a Actor) BelongsTo(tenantID uuid.UUID) bool {
	return a.TenantID != nil && *a.TenantID == tenantID
}
