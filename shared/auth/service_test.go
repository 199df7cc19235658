package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/store"
)

type fixture struct {
	store  *store.MemoryStore
	svc    *Service
	tenant *models.Tenant
	other  *models.Tenant
	admin  *models.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	logger, _ := test.NewNullLogger()
	tokens := NewTokenIssuer("unit-test-secret-unit-test-secret", "school-tenancy", 24*time.Hour)
	svc := NewService(st, tokens, WithBcryptCost(bcrypt.MinCost), WithLogger(logger))

	f := &fixture{store: st, svc: svc}
	f.tenant = &models.Tenant{Code: "GRE482", Name: "Greenfield Primary", ContactEmail: "office@greenfield.test", ContactPhone: "1", Address: "1"}
	f.other = &models.Tenant{Code: "OAK100", Name: "Oak Academy", ContactEmail: "office@oak.test", ContactPhone: "1", Address: "1"}
	for _, tenant := range []*models.Tenant{f.tenant, f.other} {
		if err := st.CreateTenant(ctx, tenant); err != nil {
			t.Fatalf("CreateTenant: %v", err)
		}
	}

	f.admin = f.addAccount(t, f.tenant, "admin@greenfield.test", "Temp#Pass1", models.RoleTenantAdmin)
	return f
}

func (f *fixture) addAccount(t *testing.T, tenant *models.Tenant, email, password string, role models.Role) *models.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	account := &models.Account{
		Email:              email,
		FirstName:          "Ada",
		LastName:           "Admin",
		Role:               role,
		PasswordHash:       string(hash),
		MustChangePassword: role == models.RoleTenantAdmin,
		Status:             models.AccountActive,
	}
	if tenant != nil {
		account.TenantID = &tenant.ID
	}
	if err := f.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return account
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)

	session, err := f.svc.Login(context.Background(), LoginInput{
		Email:      "ADMIN@greenfield.test",
		Password:   "Temp#Pass1",
		TenantCode: "gre482",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := f.svc.Tokens().Parse(session.Token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Role != models.RoleTenantAdmin || claims.TenantID != f.tenant.ID.String() || claims.TenantName != "Greenfield Primary" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.MustChangePassword {
		t.Fatal("expected must-change-password claim")
	}

	account, err := f.store.GetAccount(context.Background(), f.admin.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account.LastLoginAt == nil {
		t.Fatal("last login not recorded")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, wrongPassword := f.svc.Login(ctx, LoginInput{Email: "admin@greenfield.test", Password: "nope", TenantCode: "GRE482"})
	_, unknownEmail := f.svc.Login(ctx, LoginInput{Email: "ghost@greenfield.test", Password: "Temp#Pass1", TenantCode: "GRE482"})

	if wrongPassword != models.ErrInvalidCredentials || unknownEmail != models.ErrInvalidCredentials {
		t.Fatalf("got %v and %v", wrongPassword, unknownEmail)
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("messages differ: %q vs %q", wrongPassword, unknownEmail)
	}
}

func TestLoginTenantCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		code string
		want error
	}{
		{"other tenant", "OAK100", models.ErrInvalidTenantCode},
		{"missing", "", models.ErrInvalidTenantCode},
		{"unknown", "ZZZ999", models.ErrInvalidTenantCode},
		{"mixed case", "Gre482", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(ctx, LoginInput{Email: "admin@greenfield.test", Password: "Temp#Pass1", TenantCode: tt.code})
			if !errors.Is(err, tt.want) && !(tt.want == nil && err == nil) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoginSuperAdminNeedsNoCode(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.SeedSuperAdmin(context.Background(), "root@platform.test", "Root#Pass1"); err != nil {
		t.Fatalf("SeedSuperAdmin: %v", err)
	}

	session, err := f.svc.Login(context.Background(), LoginInput{Email: "root@platform.test", Password: "Root#Pass1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.Claims.Role != models.RoleSuperAdmin || session.Claims.TenantID != "" {
		t.Fatalf("unexpected claims: %+v", session.Claims)
	}

	// seeding twice is a no-op
	if err := f.svc.SeedSuperAdmin(context.Background(), "root@platform.test", "Other#Pass1"); err != nil {
		t.Fatalf("SeedSuperAdmin again: %v", err)
	}
	if _, err := f.svc.Login(context.Background(), LoginInput{Email: "root@platform.test", Password: "Root#Pass1"}); err != nil {
		t.Fatalf("original password no longer works: %v", err)
	}
}

func TestLoginRejectsSuspendedTenantAndInactiveAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	teacher := f.addAccount(t, f.tenant, "teacher@greenfield.test", "Teach#Pass1", models.RoleTeacher)
	inactive := models.AccountInactive
	if _, err := f.store.UpdateAccount(ctx, teacher.ID, models.AccountPatch{Status: &inactive}); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	if _, err := f.svc.Login(ctx, LoginInput{Email: "teacher@greenfield.test", Password: "Teach#Pass1", TenantCode: "GRE482"}); err != models.ErrInvalidCredentials {
		t.Fatalf("inactive account: got %v", err)
	}

	suspended := models.TenantSuspended
	if _, err := f.store.UpdateTenant(ctx, f.tenant.ID, models.TenantPatch{Status: &suspended}); err != nil {
		t.Fatalf("UpdateTenant: %v", err)
	}
	if _, err := f.svc.Login(ctx, LoginInput{Email: "admin@greenfield.test", Password: "Temp#Pass1", TenantCode: "GRE482"}); !errors.Is(err, models.ErrTenantSuspended) {
		t.Fatalf("suspended tenant: got %v", err)
	}
}

func TestSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Signup(ctx, SignupInput{
		TenantCode:      "gre482",
		Email:           " Student@Greenfield.test ",
		Password:        "Learn#123",
		FirstName:       "Sam",
		LastName:        "Student",
		Role:            models.RoleStudent,
		AdmissionNumber: "ADM-1",
		ParentEmail:     "Parent@Greenfield.test",
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if session.Claims.Role != models.RoleStudent || session.Claims.TenantCode != "GRE482" {
		t.Fatalf("unexpected claims: %+v", session.Claims)
	}

	account, err := f.store.GetAccountByEmail(ctx, "student@greenfield.test")
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	profile, ok := account.Profile.(models.StudentProfile)
	if !ok || profile.AdmissionNumber != "ADM-1" || profile.ParentEmail != "parent@greenfield.test" {
		t.Fatalf("unexpected profile: %#v", account.Profile)
	}
	if account.MustChangePassword {
		t.Fatal("self-service accounts choose their own password")
	}
}

func TestSignupRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	valid := SignupInput{TenantCode: "GRE482", Email: "t@greenfield.test", Password: "Teach#123", FirstName: "T", LastName: "T", Role: models.RoleTeacher, EmployeeNumber: "E-1"}

	adminRole := valid
	adminRole.Role = models.RoleTenantAdmin
	var verr *models.ValidationError
	if _, err := f.svc.Signup(ctx, adminRole); !errors.As(err, &verr) || len(verr.Fields["role"]) == 0 {
		t.Fatalf("tenant_admin signup: got %v", err)
	}

	noEmployee := valid
	noEmployee.EmployeeNumber = ""
	if _, err := f.svc.Signup(ctx, noEmployee); !errors.As(err, &verr) || len(verr.Fields["employee_number"]) == 0 {
		t.Fatalf("teacher without employee number: got %v", err)
	}

	unknownCode := valid
	unknownCode.TenantCode = "NOP000"
	if _, err := f.svc.Signup(ctx, unknownCode); !errors.Is(err, models.ErrInvalidTenantCode) {
		t.Fatalf("unknown code: got %v", err)
	}

	taken := valid
	taken.Email = "admin@greenfield.test"
	var conflict *models.ConflictError
	if _, err := f.svc.Signup(ctx, taken); !errors.As(err, &conflict) || conflict.Field != "email" {
		t.Fatalf("duplicate email: got %v", err)
	}
}

func TestChangePasswordActivatesTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var verr *models.ValidationError
	if _, err := f.svc.ChangePassword(ctx, f.admin.ID, "wrong", "Better#Pass2"); !errors.As(err, &verr) {
		t.Fatalf("wrong current password: got %v", err)
	}
	if _, err := f.svc.ChangePassword(ctx, f.admin.ID, "Temp#Pass1", "short"); !errors.As(err, &verr) {
		t.Fatalf("weak password: got %v", err)
	}

	session, err := f.svc.ChangePassword(ctx, f.admin.ID, "Temp#Pass1", "Better#Pass2")
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if session.Claims.MustChangePassword {
		t.Fatal("fresh session still demands a password change")
	}

	tenant, err := f.store.GetTenant(ctx, f.tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if tenant.Status != models.TenantActive {
		t.Fatalf("tenant status = %q, want active", tenant.Status)
	}

	if _, err := f.svc.Login(ctx, LoginInput{Email: "admin@greenfield.test", Password: "Better#Pass2", TenantCode: "GRE482"}); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
}

func TestLogoutLogsOnly(t *testing.T) {
	logger, hook := test.NewNullLogger()
	st, _ := store.NewMemoryStore()
	svc := NewService(st, NewTokenIssuer("s-s-s-s-s-s-s-s-s-s-s-s-s-s-s-s", "x", time.Hour), WithLogger(logger), WithBcryptCost(bcrypt.MinCost))

	svc.Logout(&models.SessionClaims{AccountID: "abc"})
	svc.Logout(nil)

	if len(hook.Entries) != 1 || hook.LastEntry().Level != logrus.InfoLevel {
		t.Fatalf("expected one info entry, got %d", len(hook.Entries))
	}
}
