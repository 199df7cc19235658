package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

const (
	tenantTable  = "tenants"
	accountTable = "accounts"
)

// tenantRecord is the memdb row for a tenant; memdb indexes string fields only
type tenantRecord struct {
	ID           string
	Code         string
	ContactEmail string
	Tenant       models.Tenant
}

type accountRecord struct {
	ID       string
	TenantID string
	Email    string
	Account  *models.Account
}

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tenantTable: {
			Name: tenantTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"code": {
					Name:    "code",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Code", Lowercase: true},
				},
				"contact_email": {
					Name:    "contact_email",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ContactEmail", Lowercase: true},
				},
			},
		},
		accountTable: {
			Name: accountTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"email": {
					Name:    "email",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Email", Lowercase: true},
				},
				"tenant": {
					Name:         "tenant",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "TenantID"},
				},
			},
		},
	},
}

// MemoryStore is an in-process Store backed by go-memdb. memdb serializes
// write transactions, so uniqueness is checked inside the write transaction
// before every insert.
type MemoryStore struct {
	db  *memdb.MemDB
	txn *memdb.Txn
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &MemoryStore{db: db, now: time.Now}, nil
}

// Transaction runs fn inside a single write transaction
func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.txn != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	txn := s.db.Txn(true)
	if err := fn(&MemoryStore{db: s.db, txn: txn, now: s.now}); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) read(ctx context.Context, fn func(txn *memdb.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.txn != nil {
		return fn(s.txn)
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

func (s *MemoryStore) write(ctx context.Context, fn func(txn *memdb.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.txn != nil {
		return fn(s.txn)
	}
	txn := s.db.Txn(true)
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

// CreateTenant inserts a new tenant
func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	prepareTenant(tenant)
	now := s.now()
	tenant.CreatedAt, tenant.UpdatedAt = now, now

	return s.write(ctx, func(txn *memdb.Txn) error {
		if err := checkTenantUnique(txn, tenant); err != nil {
			return err
		}
		return txn.Insert(tenantTable, newTenantRecord(tenant))
	})
}

// GetTenant finds a tenant by id
func (s *MemoryStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return s.firstTenant(ctx, "id", id.String())
}

// GetTenantByCode finds a tenant by code, ignoring case
func (s *MemoryStore) GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error) {
	return s.firstTenant(ctx, "code", models.NormalizeCode(code))
}

// GetTenantByContactEmail finds a tenant by contact email, ignoring case
func (s *MemoryStore) GetTenantByContactEmail(ctx context.Context, email string) (*models.Tenant, error) {
	return s.firstTenant(ctx, "contact_email", models.NormalizeEmail(email))
}

func (s *MemoryStore) firstTenant(ctx context.Context, index, value string) (*models.Tenant, error) {
	var tenant *models.Tenant
	err := s.read(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(tenantTable, index, value)
		if err != nil {
			return err
		}
		if raw == nil {
			return models.ErrNotFound
		}
		t := raw.(*tenantRecord).Tenant
		tenant = &t
		return nil
	})
	return tenant, err
}

// ListTenants returns every tenant, oldest first
func (s *MemoryStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := s.read(ctx, func(txn *memdb.Txn) error {
		iter, err := txn.Get(tenantTable, "id")
		if err != nil {
			return err
		}
		for raw := iter.Next(); raw != nil; raw = iter.Next() {
			tenants = append(tenants, raw.(*tenantRecord).Tenant)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tenants, func(i, j int) bool {
		if !tenants[i].CreatedAt.Equal(tenants[j].CreatedAt) {
			return tenants[i].CreatedAt.Before(tenants[j].CreatedAt)
		}
		return tenants[i].Code < tenants[j].Code
	})
	return tenants, nil
}

// UpdateTenant applies patch to the tenant with id
func (s *MemoryStore) UpdateTenant(ctx context.Context, id uuid.UUID, patch models.TenantPatch) (*models.Tenant, error) {
	var updated models.Tenant
	err := s.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(tenantTable, "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return models.ErrNotFound
		}

		updated = raw.(*tenantRecord).Tenant
		patch.Apply(&updated)
		updated.UpdatedAt = s.now()
		if err := checkTenantUnique(txn, &updated); err != nil {
			return err
		}
		return txn.Insert(tenantTable, newTenantRecord(&updated))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteTenant removes the tenant and every account that belongs to it
func (s *MemoryStore) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(tenantTable, "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return models.ErrNotFound
		}
		if _, err := txn.DeleteAll(accountTable, "tenant", id.String()); err != nil {
			return err
		}
		return txn.Delete(tenantTable, raw)
	})
}

// CreateAccount inserts a new account
func (s *MemoryStore) CreateAccount(ctx context.Context, account *models.Account) error {
	prepareAccount(account)
	if err := account.CheckProfile(); err != nil {
		return err
	}
	now := s.now()
	account.CreatedAt, account.UpdatedAt = now, now

	return s.write(ctx, func(txn *memdb.Txn) error {
		existing, err := txn.First(accountTable, "email", account.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return models.ErrDuplicateEmail
		}
		if account.TenantID != nil {
			tenant, err := txn.First(tenantTable, "id", account.TenantID.String())
			if err != nil {
				return err
			}
			if tenant == nil {
				return fmt.Errorf("tenant %s: %w", account.TenantID, models.ErrNotFound)
			}
		}
		return txn.Insert(accountTable, newAccountRecord(account))
	})
}

// GetAccount finds an account by id
func (s *MemoryStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.firstAccount(ctx, "id", id.String())
}

// GetAccountByEmail finds an account by email, ignoring case
func (s *MemoryStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.firstAccount(ctx, "email", models.NormalizeEmail(email))
}

func (s *MemoryStore) firstAccount(ctx context.Context, index, value string) (*models.Account, error) {
	var account *models.Account
	err := s.read(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(accountTable, index, value)
		if err != nil {
			return err
		}
		if raw == nil {
			return models.ErrNotFound
		}
		account = raw.(*accountRecord).Account.Clone()
		return nil
	})
	return account, err
}

// ListAccountsByTenant returns the tenant's accounts, oldest first
func (s *MemoryStore) ListAccountsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Account, error) {
	var accounts []models.Account
	err := s.read(ctx, func(txn *memdb.Txn) error {
		iter, err := txn.Get(accountTable, "tenant", tenantID.String())
		if err != nil {
			return err
		}
		for raw := iter.Next(); raw != nil; raw = iter.Next() {
			accounts = append(accounts, *raw.(*accountRecord).Account.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].Email < accounts[j].Email
	})
	return accounts, nil
}

// CountAccountsByTenant counts the tenant's accounts
func (s *MemoryStore) CountAccountsByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := s.read(ctx, func(txn *memdb.Txn) error {
		iter, err := txn.Get(accountTable, "tenant", tenantID.String())
		if err != nil {
			return err
		}
		for raw := iter.Next(); raw != nil; raw = iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// UpdateAccount applies patch to the account with id
func (s *MemoryStore) UpdateAccount(ctx context.Context, id uuid.UUID, patch models.AccountPatch) (*models.Account, error) {
	var updated *models.Account
	err := s.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(accountTable, "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return models.ErrNotFound
		}

		updated = raw.(*accountRecord).Account.Clone()
		patch.Apply(updated)
		if err := updated.CheckProfile(); err != nil {
			return err
		}
		updated.UpdatedAt = s.now()
		return txn.Insert(accountTable, newAccountRecord(updated))
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// DeleteAccount removes the account with id
func (s *MemoryStore) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(accountTable, "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return models.ErrNotFound
		}
		return txn.Delete(accountTable, raw)
	})
}

// checkTenantUnique rejects a tenant whose code or contact email belongs to another tenant
func checkTenantUnique(txn *memdb.Txn, tenant *models.Tenant) error {
	id := tenant.ID.String()

	raw, err := txn.First(tenantTable, "code", tenant.Code)
	if err != nil {
		return err
	}
	if raw != nil && raw.(*tenantRecord).ID != id {
		return models.ErrDuplicateCode
	}

	raw, err = txn.First(tenantTable, "contact_email", tenant.ContactEmail)
	if err != nil {
		return err
	}
	if raw != nil && raw.(*tenantRecord).ID != id {
		return models.ErrDuplicateContactEmail
	}
	return nil
}

func newTenantRecord(tenant *models.Tenant) *tenantRecord {
	t := *tenant
	t.Accounts = nil
	return &tenantRecord{
		ID:           t.ID.String(),
		Code:         t.Code,
		ContactEmail: t.ContactEmail,
		Tenant:       t,
	}
}

func newAccountRecord(account *models.Account) *accountRecord {
	rec := &accountRecord{
		ID:      account.ID.String(),
		Email:   account.Email,
		Account: account.Clone(),
	}
	if account.TenantID != nil {
		rec.TenantID = account.TenantID.String()
	}
	return rec
}
