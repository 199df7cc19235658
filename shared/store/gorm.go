package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

// Postgres error codes and the unique indexes declared on the models
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	tenantCodeIndex         = "idx_tenants_code"
	tenantContactEmailIndex = "idx_tenants_contact_email"
	accountEmailIndex       = "idx_accounts_email"
)

// GormStore is the Postgres-backed Store
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the tenants and accounts tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Tenant{}, &models.Account{})
}

// Transaction runs fn inside a database transaction
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// CreateTenant inserts a new tenant
func (s *GormStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	prepareTenant(tenant)
	return translateError(s.db.WithContext(ctx).Create(tenant).Error)
}

// GetTenant finds a tenant by id
func (s *GormStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return s.firstTenant(ctx, "id = ?", id)
}

// GetTenantByCode finds a tenant by code, ignoring case
func (s *GormStore) GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error) {
	return s.firstTenant(ctx, "code = ?", models.NormalizeCode(code))
}

// GetTenantByContactEmail finds a tenant by contact email, ignoring case
func (s *GormStore) GetTenantByContactEmail(ctx context.Context, email string) (*models.Tenant, error) {
	return s.firstTenant(ctx, "contact_email = ?", models.NormalizeEmail(email))
}

func (s *GormStore) firstTenant(ctx context.Context, query string, arg interface{}) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where(query, arg).First(&tenant).Error; err != nil {
		return nil, translateError(err)
	}
	return &tenant, nil
}

// ListTenants returns every tenant, oldest first
func (s *GormStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := s.db.WithContext(ctx).Order("created_at asc, code asc").Find(&tenants).Error; err != nil {
		return nil, translateError(err)
	}
	return tenants, nil
}

// UpdateTenant applies patch to the tenant with id
func (s *GormStore) UpdateTenant(ctx context.Context, id uuid.UUID, patch models.TenantPatch) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where("id = ?", id).First(&tenant).Error; err != nil {
			return err
		}
		patch.Apply(&tenant)
		return tx.Save(&tenant).Error
	})
	if err != nil {
		return nil, translateError(err)
	}
	return &tenant, nil
}

// DeleteTenant removes the tenant and every account that belongs to it
func (s *GormStore) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", id).Delete(&models.Account{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Tenant{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrNotFound
		}
		return nil
	})
	return translateError(err)
}

// CreateAccount inserts a new account
func (s *GormStore) CreateAccount(ctx context.Context, account *models.Account) error {
	prepareAccount(account)
	return translateError(s.db.WithContext(ctx).Create(account).Error)
}

// GetAccount finds an account by id
func (s *GormStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.firstAccount(ctx, "id = ?", id)
}

// GetAccountByEmail finds an account by email, ignoring case
func (s *GormStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.firstAccount(ctx, "email = ?", models.NormalizeEmail(email))
}

func (s *GormStore) firstAccount(ctx context.Context, query string, arg interface{}) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where(query, arg).First(&account).Error; err != nil {
		return nil, translateError(err)
	}
	return &account, nil
}

// ListAccountsByTenant returns the tenant's accounts, oldest first
func (s *GormStore) ListAccountsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at asc, email asc").
		Find(&accounts).Error
	if err != nil {
		return nil, translateError(err)
	}
	return accounts, nil
}

// CountAccountsByTenant counts the tenant's accounts
func (s *GormStore) CountAccountsByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Account{}).Where("tenant_id = ?", tenantID).Count(&count).Error
	return count, translateError(err)
}

// UpdateAccount applies patch to the account with id
func (s *GormStore) UpdateAccount(ctx context.Context, id uuid.UUID, patch models.AccountPatch) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where("id = ?", id).First(&account).Error; err != nil {
			return err
		}
		patch.Apply(&account)
		return tx.Save(&account).Error
	})
	if err != nil {
		return nil, translateError(err)
	}
	return &account, nil
}

// DeleteAccount removes the account with id
func (s *GormStore) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Account{})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// forUpdate locks the selected rows until the transaction ends
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// translateError maps driver errors onto the store's error values
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case tenantCodeIndex:
			return models.ErrDuplicateCode
		case tenantContactEmailIndex:
			return models.ErrDuplicateContactEmail
		case accountEmailIndex:
			return models.ErrDuplicateEmail
		}
	case pgForeignKeyViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrNotFound)
	}
	return err
}
