package provisioning_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavitra93/go-school-tenancy/shared/auth"
	"github.com/pavitra93/go-school-tenancy/shared/gate"
	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/notify"
	"github.com/pavitra93/go-school-tenancy/shared/provisioning"
	"github.com/pavitra93/go-school-tenancy/shared/store"
)

// TestSchoolOnboarding walks a school from provisioning to a teacher's first sign in
func TestSchoolOnboarding(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()

	st, err := store.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	var delivered []notify.WelcomeNotice
	dispatcher := notify.NewDispatcher(notify.NotifierFunc(func(_ context.Context, n notify.WelcomeNotice) error {
		delivered = append(delivered, n)
		return nil
	}), notify.DispatcherConfig{Workers: 1, QueueSize: 8, Timeout: time.Second, Log: logger})

	tokens := auth.NewTokenIssuer("onboarding-secret-onboarding-secret", "school-tenancy", time.Hour)
	authSvc := auth.NewService(st, tokens, auth.WithBcryptCost(bcrypt.MinCost), auth.WithLogger(logger))
	provSvc := provisioning.NewService(st, dispatcher,
		provisioning.WithBcryptCost(bcrypt.MinCost),
		provisioning.WithLogger(logger),
	)

	policy, err := gate.DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy: %v", err)
	}
	g := gate.New(policy, tokens)

	school, err := provSvc.ProvisionTenant(ctx, provisioning.TenantInput{
		Name:           "Greenfield Primary",
		ContactEmail:   "office@greenfield.test",
		ContactPhone:   "+44 20 7946 0000",
		Address:        "1 School Lane",
		AdminFirstName: "Ada",
		AdminLastName:  "Admin",
		AdminEmail:     "ada@greenfield.test",
		AdminPhone:     "+44 20 7946 0001",
	})
	if err != nil {
		t.Fatalf("ProvisionTenant: %v", err)
	}
	code := school.Tenant.Code

	// the code is checked before anything is issued
	if _, err := authSvc.Login(ctx, auth.LoginInput{Email: "ada@greenfield.test", Password: school.TemporaryPassword, TenantCode: "XXX000"}); !errors.Is(err, models.ErrInvalidTenantCode) {
		t.Fatalf("login with wrong code: %v", err)
	}

	session, err := authSvc.Login(ctx, auth.LoginInput{Email: "ada@greenfield.test", Password: school.TemporaryPassword, TenantCode: code})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !session.Claims.MustChangePassword || session.Claims.TenantCode != code {
		t.Fatalf("claims = %+v", session.Claims)
	}

	d := g.Decide("/admin/dashboard", session.Token)
	if d.Kind != gate.Redirect || d.Location != policy.PasswordChangePath {
		t.Fatalf("first visit = %s %s, want password change", d.Kind, d.Location)
	}

	changed, err := authSvc.ChangePassword(ctx, school.Admin.ID, school.TemporaryPassword, "Greenfield2024")
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	tenant, err := st.GetTenant(ctx, school.Tenant.ID)
	if err != nil || tenant.Status != models.TenantActive {
		t.Fatalf("tenant status = %v, %v, want active", tenant, err)
	}

	if d := g.Decide("/admin/dashboard", changed.Token); d.Kind != gate.Allow {
		t.Fatalf("dashboard after change = %s", d.Kind)
	}
	if d := g.Decide("/super-admin/dashboard", changed.Token); d.Kind != gate.Redirect || d.Location != "/admin/dashboard" {
		t.Fatalf("super admin area = %s %s", d.Kind, d.Location)
	}

	admin := changed.Claims.Actor()
	teacher, err := provSvc.ProvisionAccount(ctx, admin, school.Tenant.ID, provisioning.AccountInput{
		Email:          "grace@greenfield.test",
		FirstName:      "Grace",
		LastName:       "Hopper",
		Role:           models.RoleTeacher,
		EmployeeNumber: "T-100",
	})
	if err != nil {
		t.Fatalf("ProvisionAccount: %v", err)
	}

	teacherSession, err := authSvc.Login(ctx, auth.LoginInput{Email: "grace@greenfield.test", Password: teacher.TemporaryPassword, TenantCode: code})
	if err != nil {
		t.Fatalf("teacher Login: %v", err)
	}
	if teacherSession.Claims.Role != models.RoleTeacher || teacherSession.Claims.TenantID != school.Tenant.ID.String() {
		t.Fatalf("teacher claims = %+v", teacherSession.Claims)
	}

	dispatcher.Close()
	if len(delivered) != 2 {
		t.Fatalf("delivered %d notices, want 2", len(delivered))
	}
	if delivered[1].InviterName != "Ada Admin" {
		t.Errorf("inviter = %q", delivered[1].InviterName)
	}

	for _, entry := range hook.AllEntries() {
		for _, secret := range []string{school.TemporaryPassword, teacher.TemporaryPassword} {
			if entry.Message == secret {
				t.Fatal("temporary password logged")
			}
			for _, v := range entry.Data {
				if s, ok := v.(string); ok && s == secret {
					t.Fatal("temporary password logged")
				}
			}
		}
	}
}

// TestConcurrentProvisioningAllocatesDistinctCodes provisions schools with
// the same name in parallel
func TestConcurrentProvisioningAllocatesDistinctCodes(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	st, err := store.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	svc := provisioning.NewService(st, nil,
		provisioning.WithBcryptCost(bcrypt.MinCost),
		provisioning.WithLogger(logger),
		provisioning.WithMaxCodeAttempts(50),
	)

	const schools = 20
	errs := make(chan error, schools)
	for i := 0; i < schools; i++ {
		go func() {
			id := uuid.NewString()[:8]
			_, err := svc.ProvisionTenant(ctx, provisioning.TenantInput{
				Name:           "Greenfield Primary",
				ContactEmail:   "office-" + id + "@greenfield.test",
				ContactPhone:   "1",
				Address:        "1",
				AdminFirstName: "Ada",
				AdminLastName:  "Admin",
				AdminEmail:     "admin-" + id + "@greenfield.test",
				AdminPhone:     "1",
			})
			errs <- err
		}()
	}
	for i := 0; i < schools; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("ProvisionTenant: %v", err)
		}
	}

	tenants, _ := st.ListTenants(ctx)
	seen := make(map[string]bool)
	for _, tenant := range tenants {
		if seen[tenant.Code] {
			t.Fatalf("duplicate code %s", tenant.Code)
		}
		seen[tenant.Code] = true
	}
	if len(seen) != schools {
		t.Fatalf("%d tenants, want %d", len(seen), schools)
	}
}
