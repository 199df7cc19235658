package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

// openTestDB connects to TEST_DATABASE_URL and starts from empty tables
func openTestDB(t *testing.T) *GormStore {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec("TRUNCATE accounts, tenants CASCADE").Error; err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewGormStore(db)
}

func TestGormStoreUniqueIndexes(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	tenant := newTenant("GRE482", "office@greenfield.test")
	if err := s.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if err := s.CreateTenant(ctx, newTenant("gre482", "x@school.test")); !errors.Is(err, models.ErrDuplicateCode) {
		t.Fatalf("duplicate code: got %v", err)
	}
	if err := s.CreateTenant(ctx, newTenant("OAK001", "Office@Greenfield.test")); !errors.Is(err, models.ErrDuplicateContactEmail) {
		t.Fatalf("duplicate contact email: got %v", err)
	}

	admin := &models.Account{TenantID: &tenant.ID, Email: "admin@greenfield.test", FirstName: "A", LastName: "B", Role: models.RoleTenantAdmin, PasswordHash: "x", Profile: models.AdminProfile{}}
	if err := s.CreateAccount(ctx, admin); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	dup := &models.Account{TenantID: &tenant.ID, Email: "ADMIN@greenfield.test", FirstName: "A", LastName: "B", Role: models.RoleTeacher, PasswordHash: "x"}
	if err := s.CreateAccount(ctx, dup); !errors.Is(err, models.ErrDuplicateEmail) {
		t.Fatalf("duplicate account email: got %v", err)
	}

	got, err := s.GetAccountByEmail(ctx, "Admin@Greenfield.test")
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if _, ok := got.Profile.(models.AdminProfile); !ok {
		t.Fatalf("profile not decoded: %#v", got.Profile)
	}

	if err := s.DeleteTenant(ctx, tenant.ID); err != nil {
		t.Fatalf("DeleteTenant: %v", err)
	}
	if _, err := s.GetAccount(ctx, admin.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("account survived tenant delete: %v", err)
	}
}

func TestGormStoreConcurrentPatchesKeepBothWrites(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	tenant := newTenant("GRE482", "office@greenfield.test")
	if err := s.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	admin := &models.Account{TenantID: &tenant.ID, Email: "admin@greenfield.test", FirstName: "A", LastName: "B", Role: models.RoleTenantAdmin, PasswordHash: "old", MustChangePassword: true, Profile: models.AdminProfile{}}
	if err := s.CreateAccount(ctx, admin); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("Greenfield Primary %d", i)
		status := models.TenantSuspended
		if i%2 == 1 {
			status = models.TenantActive
		}
		hash := fmt.Sprintf("hash-%d", i)
		cleared := false
		now := time.Now()

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		run := func(fn func() error) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- fn()
			}()
		}
		run(func() error {
			_, err := s.UpdateTenant(ctx, tenant.ID, models.TenantPatch{Name: &name})
			return err
		})
		run(func() error {
			_, err := s.UpdateTenant(ctx, tenant.ID, models.TenantPatch{Status: &status})
			return err
		})
		run(func() error {
			_, err := s.UpdateAccount(ctx, admin.ID, models.AccountPatch{LastLoginAt: &now})
			return err
		})
		run(func() error {
			_, err := s.UpdateAccount(ctx, admin.ID, models.AccountPatch{PasswordHash: &hash, MustChangePassword: &cleared})
			return err
		})
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("round %d: %v", i, err)
			}
		}

		gotTenant, err := s.GetTenant(ctx, tenant.ID)
		if err != nil {
			t.Fatalf("GetTenant: %v", err)
		}
		if gotTenant.Name != name || gotTenant.Status != status {
			t.Fatalf("round %d: tenant = %q %s, want %q %s", i, gotTenant.Name, gotTenant.Status, name, status)
		}
		gotAccount, err := s.GetAccount(ctx, admin.ID)
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		if gotAccount.PasswordHash != hash || gotAccount.MustChangePassword || gotAccount.LastLoginAt == nil {
			t.Fatalf("round %d: account lost a write: hash=%s must_change=%v last_login=%v",
				i, gotAccount.PasswordHash, gotAccount.MustChangePassword, gotAccount.LastLoginAt)
		}
	}
}
