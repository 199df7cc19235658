// Package auth authenticates accounts against their tenant and mints
// signed sessions.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/store"
	"github.com/pavitra93/go-school-tenancy/shared/validation"
)

// SelfServiceRoles are the roles an account may pick when signing up on its own
var SelfServiceRoles = []models.Role{models.RoleTeacher, models.RoleStudent, models.RoleParent}

// Service implements login, signup, logout and password changes
type Service struct {
	store    store.Store
	counter  store.AccountCounter
	tokens   *TokenIssuer
	cost     int
	log      logrus.FieldLogger
	now      func() time.Time
	dummyPwd []byte
}

// Option configures a Service
type Option func(*Service)

// WithBcryptCost overrides the bcrypt cost used for new hashes
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithCounter caches per-tenant account counts on signup
func WithCounter(counter store.AccountCounter) Option {
	return func(s *Service) { s.counter = counter }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock sets the time source used for login timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an authentication service
func NewService(st store.Store, tokens *TokenIssuer, opts ...Option) *Service {
	s := &Service{
		store:   st,
		counter: store.NopCounter{},
		tokens:  tokens,
		cost:    bcrypt.DefaultCost,
		log:     logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Unknown emails are compared against this hash so both failure paths cost the same
	s.dummyPwd, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cost)
	return s
}

// Tokens returns the issuer used to mint and verify sessions
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// LoginInput holds the credentials submitted at sign in
type LoginInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TenantCode string `json:"tenant_code"`
}

// Login verifies the credentials and the tenant code and returns a session
func (s *Service) Login(ctx context.Context, in LoginInput) (*models.Session, error) {
	account, err := s.store.GetAccountByEmail(ctx, in.Email)
	if errors.Is(err, models.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyPwd, []byte(in.Password))
		return nil, models.ErrInvalidCredentials
	}
	if err != nil {
		return nil, models.Dependency("load account", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(in.Password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}
	if account.Status != models.AccountActive {
		return nil, models.ErrInvalidCredentials
	}

	var tenant *models.Tenant
	if account.Role.TenantScoped() {
		tenant, err = s.checkTenantCode(ctx, account, in.TenantCode)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"account_id": account.ID,
				"reason":     err.Error(),
			}).Warn("Login rejected")
			return nil, err
		}
	}

	now := s.now()
	if _, err := s.store.UpdateAccount(ctx, account.ID, models.AccountPatch{LastLoginAt: &now}); err != nil {
		s.log.WithError(err).WithField("account_id", account.ID).Warn("Failed to record last login")
	}

	return s.mint(account, tenant)
}

// checkTenantCode matches the supplied code against the account's tenant
func (s *Service) checkTenantCode(ctx context.Context, account *models.Account, code string) (*models.Tenant, error) {
	code = models.NormalizeCode(code)
	if code == "" || account.TenantID == nil {
		return nil, models.ErrInvalidTenantCode
	}

	tenant, err := s.store.GetTenant(ctx, *account.TenantID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrInvalidTenantCode
	}
	if err != nil {
		return nil, models.Dependency("load tenant", err)
	}
	if !strings.EqualFold(tenant.Code, code) {
		return nil, models.ErrInvalidTenantCode
	}
	if tenant.Status == models.TenantSuspended {
		return nil, models.ErrTenantSuspended
	}
	return tenant, nil
}

// Logout ends a session. Sessions are stateless, so this only records the
// event; the token stays valid until it expires.
func (s *Service) Logout(claims *models.SessionClaims) {
	if claims == nil {
		return
	}
	s.log.WithFields(logrus.Fields{
		"account_id": claims.AccountID,
		"tenant_id":  claims.TenantID,
	}).Info("Session logged out")
}

// SignupInput holds a self-service registration
type SignupInput struct {
	TenantCode      string      `json:"tenant_code" validate:"required"`
	Email           string      `json:"email" validate:"required,email"`
	Password        string      `json:"password" validate:"required,min=8"`
	FirstName       string      `json:"first_name" validate:"required"`
	LastName        string      `json:"last_name" validate:"required"`
	Phone           string      `json:"phone" validate:"required_if=Role parent"`
	Role            models.Role `json:"role" validate:"required,oneof=teacher student parent"`
	EmployeeNumber  string      `json:"employee_number" validate:"required_if=Role teacher"`
	AdmissionNumber string      `json:"admission_number" validate:"required_if=Role student"`
	ClassName       string      `json:"class_name"`
	ParentEmail     string      `json:"parent_email" validate:"omitempty,email"`
}

// Signup registers a non-admin account in an existing tenant and signs it in
func (s *Service) Signup(ctx context.Context, in SignupInput) (*models.Session, error) {
	validation.TrimStrings(&in)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	tenant, err := s.store.GetTenantByCode(ctx, in.TenantCode)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrInvalidTenantCode
	}
	if err != nil {
		return nil, models.Dependency("load tenant", err)
	}
	if tenant.Status == models.TenantSuspended {
		return nil, models.ErrTenantSuspended
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		TenantID:     &tenant.ID,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Role:         in.Role,
		PasswordHash: string(hash),
		Status:       models.AccountActive,
		Profile:      signupProfile(in),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, models.ErrDuplicateEmail) {
			return nil, models.Conflict("email", err)
		}
		return nil, models.Dependency("create account", err)
	}

	if err := s.counter.Increment(ctx, tenant.ID); err != nil {
		s.log.WithError(err).WithField("tenant_id", tenant.ID).Warn("Failed to update account count")
	}

	s.log.WithFields(logrus.Fields{
		"account_id": account.ID,
		"tenant_id":  tenant.ID,
		"role":       account.Role,
	}).Info("Account signed up")

	return s.mint(account, tenant)
}

func signupProfile(in SignupInput) models.Profile {
	switch in.Role {
	case models.RoleTeacher:
		return models.TeacherProfile{EmployeeNumber: in.EmployeeNumber}
	case models.RoleStudent:
		return models.StudentProfile{
			AdmissionNumber: in.AdmissionNumber,
			ClassName:       in.ClassName,
			ParentEmail:     models.NormalizeEmail(in.ParentEmail),
		}
	case models.RoleParent:
		return models.ParentProfile{}
	}
	return nil
}

// ChangePassword replaces the account's password, clears the forced change
// flag and returns a fresh session. A tenant admin completing the change
// moves the tenant out of setup.
func (s *Service) ChangePassword(ctx context.Context, accountID uuid.UUID, current, next string) (*models.Session, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrInvalidSession
	}
	if err != nil {
		return nil, models.Dependency("load account", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(current)); err != nil {
		verr := models.NewValidationError()
		verr.Add("current_password", "is incorrect")
		return nil, verr
	}
	if verr := checkNewPassword(current, next); verr != nil {
		return nil, verr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return nil, err
	}
	hashed := string(hash)
	cleared := false

	var tenant *models.Tenant
	err = s.store.Transaction(ctx, func(tx store.Store) error {
		account, err = tx.UpdateAccount(ctx, accountID, models.AccountPatch{
			PasswordHash:       &hashed,
			MustChangePassword: &cleared,
		})
		if err != nil {
			return err
		}
		if account.TenantID == nil {
			return nil
		}

		tenant, err = tx.GetTenant(ctx, *account.TenantID)
		if err != nil {
			return err
		}
		if account.Role == models.RoleTenantAdmin && tenant.Status == models.TenantSetup {
			active := models.TenantActive
			tenant, err = tx.UpdateTenant(ctx, tenant.ID, models.TenantPatch{Status: &active})
			if err != nil {
				return err
			}
			s.log.WithField("tenant_id", tenant.ID).Info("Tenant activated")
		}
		return nil
	})
	if err != nil {
		return nil, models.Dependency("change password", err)
	}

	return s.mint(account, tenant)
}

func checkNewPassword(current, next string) error {
	verr := models.NewValidationError()
	if len(next) < 8 {
		verr.Add("new_password", "must be at least 8 characters")
	}
	if !strings.ContainsAny(next, "abcdefghijklmnopqrstuvwxyz") ||
		!strings.ContainsAny(next, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") ||
		!strings.ContainsAny(next, "0123456789") {
		verr.Add("new_password", "must contain upper and lower case letters and a digit")
	}
	if next == current {
		verr.Add("new_password", "must differ from the current password")
	}
	return verr.OrNil()
}

// SeedSuperAdmin creates the platform super admin unless the email is
// already registered. The password must be changed at first sign in.
func (s *Service) SeedSuperAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	_, err := s.store.GetAccountByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.Dependency("load account", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}
	account := &models.Account{
		Email:              email,
		FirstName:          "Platform",
		LastName:           "Admin",
		Role:               models.RoleSuperAdmin,
		PasswordHash:       string(hash),
		MustChangePassword: true,
		Status:             models.AccountActive,
		Profile:            models.AdminProfile{Title: "Super Admin"},
	}
	if err := s.store.CreateAccount(ctx, account); err != nil && !errors.Is(err, models.ErrDuplicateEmail) {
		return models.Dependency("create super admin", err)
	}

	s.log.WithField("email", account.Email).Info("Super admin seeded")
	return nil
}

func (s *Service) mint(account *models.Account, tenant *models.Tenant) (*models.Session, error) {
	claims := models.SessionClaims{
		AccountID:          account.ID.String(),
		Email:              account.Email,
		Name:               account.DisplayName(),
		Role:               account.Role,
		MustChangePassword: account.MustChangePassword,
	}
	if tenant != nil {
		claims.TenantID = tenant.ID.String()
		claims.TenantName = tenant.Name
		claims.TenantCode = tenant.Code
	}
	return s.tokens.Mint(claims)
}
