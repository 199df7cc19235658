// Package store persists tenants and accounts.
//
// Implementations enforce uniqueness of tenant codes, tenant contact emails
// and account emails at write time and report violations with the
// models.ErrDuplicate* errors. Lookups that match nothing return
// models.ErrNotFound.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

// TenantStore persists schools
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error)
	GetTenantByContactEmail(ctx context.Context, email string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	UpdateTenant(ctx context.Context, id uuid.UUID, patch models.TenantPatch) (*models.Tenant, error)
	// DeleteTenant removes the tenant together with all of its accounts
	DeleteTenant(ctx context.Context, id uuid.UUID) error
}

// AccountStore persists accounts
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccountsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Account, error)
	CountAccountsByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, patch models.AccountPatch) (*models.Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
}

// Store combines both stores with a transaction boundary. Writes made through
// the Store handed to fn are committed together or not at all.
type Store interface {
	TenantStore
	AccountStore
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// AccountCounter caches the number of accounts per tenant
type AccountCounter interface {
	Increment(ctx context.Context, tenantID uuid.UUID) error
	Decrement(ctx context.Context, tenantID uuid.UUID) error
	Set(ctx context.Context, tenantID uuid.UUID, count int64) error
	// Get returns the cached count and whether it was present
	Get(ctx context.Context, tenantID uuid.UUID) (int64, bool, error)
	Reset(ctx context.Context, tenantID uuid.UUID) error
}

// NopCounter is an AccountCounter that caches nothing
type NopCounter struct{}

func (NopCounter) Increment(context.Context, uuid.UUID) error { return nil }
func (NopCounter) Decrement(context.Context, uuid.UUID) error { return nil }
func (NopCounter) Set(context.Context, uuid.UUID, int64) error { return nil }
func (NopCounter) Reset(context.Context, uuid.UUID) error { return nil }
func (NopCounter) Get(context.Context, uuid.UUID) (int64, bool, error) {
	return 0, false, nil
}

// prepareTenant fills generated fields before insert
func prepareTenant(tenant *models.Tenant) {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.Status == "" {
		tenant.Status = models.TenantSetup
	}
	tenant.Normalize()
}

// prepareAccount fills generated fields before insert
func prepareAccount(account *models.Account) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = models.AccountActive
	}
	account.Email = models.NormalizeEmail(account.Email)
}
