package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the lifecycle state of a school
type TenantStatus string

const (
	// TenantSetup is the state right after provisioning, before the admin finishes onboarding
	TenantSetup TenantStatus = "setup"
	// TenantActive is a fully onboarded school
	TenantActive TenantStatus = "active"
	// TenantSuspended blocks every login into the school
	TenantSuspended TenantStatus = "suspended"
)

// tenantTransitions lists the allowed status moves
var tenantTransitions = map[TenantStatus][]TenantStatus{
	TenantSetup:     {TenantActive},
	TenantActive:    {TenantSuspended},
	TenantSuspended: {TenantActive},
}

// Valid reports whether s is a known status
func (s TenantStatus) Valid() bool {
	_, ok := tenantTransitions[s]
	return ok
}

// CanTransitionTo reports whether a tenant may move from s to next
func (s TenantStatus) CanTransitionTo(next TenantStatus) bool {
	for _, allowed := range tenantTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Tenant represents a school subscribed to the platform
type Tenant struct {
	ID           uuid.UUID    `gorm:"type:uuid;primary_key" json:"id"`
	Code         string       `gorm:"not null;size:16;uniqueIndex:idx_tenants_code" json:"code"`
	Name         string       `gorm:"not null" json:"name"`
	ContactEmail string       `gorm:"not null;uniqueIndex:idx_tenants_contact_email" json:"contact_email"`
	ContactPhone string       `gorm:"not null" json:"contact_phone"`
	Address      string       `gorm:"not null" json:"address"`
	BrandColor   string       `json:"brand_color,omitempty"`
	PortalURL    string       `json:"portal_url,omitempty"`
	Description  string       `json:"description,omitempty"`
	Status       TenantStatus `gorm:"not null;default:'setup'" json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	Accounts []Account `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Tenant
func (Tenant) TableName() string {
	return "tenants"
}

// Normalize puts the case-insensitive keys into their canonical form
func (t *Tenant) Normalize() {
	t.Code = NormalizeCode(t.Code)
	t.ContactEmail = NormalizeEmail(t.ContactEmail)
}

// TenantPatch carries the mutable tenant attributes. The code is never patchable.
type TenantPatch struct {
	Name         *string       `json:"name"`
	ContactEmail *string       `json:"contact_email"`
	ContactPhone *string       `json:"contact_phone"`
	Address      *string       `json:"address"`
	BrandColor   *string       `json:"brand_color"`
	PortalURL    *string       `json:"portal_url"`
	Description  *string       `json:"description"`
	Status       *TenantStatus `json:"status"`
}

// Apply copies the set fields onto t
func (p TenantPatch) Apply(t *Tenant) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.ContactEmail != nil {
		t.ContactEmail = NormalizeEmail(*p.ContactEmail)
	}
	if p.ContactPhone != nil {
		t.ContactPhone = *p.ContactPhone
	}
	if p.Address != nil {
		t.Address = *p.Address
	}
	if p.BrandColor != nil {
		t.BrandColor = *p.BrandColor
	}
	if p.PortalURL != nil {
		t.PortalURL = *p.PortalURL
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
}

// NormalizeCode returns the canonical (upper-case) form of a tenant code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeEmail returns the canonical (lower-case) form of an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
