// Package provisioning creates schools together with their first
// administrator, adds accounts to existing schools and manages the tenant
// lifecycle.
package provisioning

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavitra93/go-school-tenancy/shared/generator"
	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/notify"
	"github.com/pavitra93/go-school-tenancy/shared/store"
	"github.com/pavitra93/go-school-tenancy/shared/validation"
)

// DefaultMaxCodeAttempts bounds tenant code generation
const DefaultMaxCodeAttempts = 5

// NoticeDispatcher queues welcome notices for background delivery
type NoticeDispatcher interface {
	Dispatch(notice notify.WelcomeNotice) error
}

// Service provisions tenants and accounts
type Service struct {
	store      store.Store
	counter    store.AccountCounter
	notices    NoticeDispatcher
	log        logrus.FieldLogger
	codeGen    generator.CodeFunc
	passGen    generator.PasswordFunc
	cost       int
	maxAttempt int
	now        func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithCounter caches per-tenant account counts
func WithCounter(counter store.AccountCounter) Option {
	return func(s *Service) { s.counter = counter }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithCodeGenerator replaces the tenant code generator
func WithCodeGenerator(fn generator.CodeFunc) Option {
	return func(s *Service) { s.codeGen = fn }
}

// WithPasswordGenerator replaces the temporary password generator
func WithPasswordGenerator(fn generator.PasswordFunc) Option {
	return func(s *Service) { s.passGen = fn }
}

// WithBcryptCost sets the bcrypt cost for temporary passwords
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithMaxCodeAttempts bounds how many codes are tried before giving up
func WithMaxCodeAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempt = n
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a provisioning service
func NewService(st store.Store, notices NoticeDispatcher, opts ...Option) *Service {
	s := &Service{
		store:      st,
		counter:    store.NopCounter{},
		notices:    notices,
		log:        logrus.StandardLogger(),
		codeGen:    generator.TenantCode,
		passGen:    generator.TemporaryPassword,
		cost:       bcrypt.DefaultCost,
		maxAttempt: DefaultMaxCodeAttempts,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TenantInput is a request to onboard a school
type TenantInput struct {
	Name         string `json:"name" validate:"required,min=3"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
	ContactPhone string `json:"contact_phone" validate:"required"`
	Address      string `json:"address" validate:"required"`
	BrandColor   string `json:"brand_color" validate:"omitempty,hexcolor"`
	PortalURL    string `json:"portal_url" validate:"omitempty,url"`
	Description  string `json:"description"`

	AdminFirstName string `json:"admin_first_name" validate:"required"`
	AdminLastName  string `json:"admin_last_name" validate:"required"`
	AdminEmail     string `json:"admin_email" validate:"required,email"`
	AdminPhone     string `json:"admin_phone" validate:"required"`
}

// TenantResult is returned once per provisioning. TemporaryPassword is the
// only time the admin's initial password is available in plaintext.
type TenantResult struct {
	Tenant            *models.Tenant  `json:"tenant"`
	Admin             *models.Account `json:"admin"`
	TemporaryPassword string          `json:"temporary_password"`
}

// ProvisionTenant creates a school in setup state together with its tenant
// admin. Both are written in one transaction, so a tenant without an admin
// is never visible. Code collisions are retried with a fresh code; a taken
// admin email is not.
func (s *Service) ProvisionTenant(ctx context.Context, in TenantInput) (*TenantResult, error) {
	validation.TrimStrings(&in)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	in.ContactEmail = models.NormalizeEmail(in.ContactEmail)
	in.AdminEmail = models.NormalizeEmail(in.AdminEmail)

	if _, err := s.store.GetTenantByContactEmail(ctx, in.ContactEmail); err == nil {
		return nil, models.Conflict("contact_email", models.ErrDuplicateContactEmail)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, models.Dependency("check contact email", err)
	}
	if _, err := s.store.GetAccountByEmail(ctx, in.AdminEmail); err == nil {
		return nil, models.Conflict("admin_email", models.ErrDuplicateEmail)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, models.Dependency("check admin email", err)
	}

	password, hash, err := s.temporaryCredential()
	if err != nil {
		return nil, err
	}

	// Once validated, the write runs to completion even if the caller goes away
	writeCtx := context.WithoutCancel(ctx)

	for attempt := 1; attempt <= s.maxAttempt; attempt++ {
		code := models.NormalizeCode(s.codeGen(in.Name))

		_, err := s.store.GetTenantByCode(writeCtx, code)
		if err == nil {
			s.log.WithFields(logrus.Fields{"code": code, "attempt": attempt}).Debug("Tenant code taken")
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, models.Dependency("check tenant code", err)
		}

		result, err := s.createTenant(writeCtx, in, code, hash)
		switch {
		case err == nil:
			result.TemporaryPassword = password
			s.afterTenantCreated(writeCtx, result)
			return result, nil
		case errors.Is(err, models.ErrDuplicateCode):
			s.log.WithFields(logrus.Fields{"code": code, "attempt": attempt}).Debug("Tenant code collided on write")
			continue
		case errors.Is(err, models.ErrDuplicateContactEmail):
			return nil, models.Conflict("contact_email", err)
		case errors.Is(err, models.ErrDuplicateEmail):
			return nil, models.Conflict("admin_email", err)
		default:
			return nil, models.Dependency("create tenant", err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"name":     in.Name,
		"attempts": s.maxAttempt,
	}).Error("Could not allocate a tenant code")
	return nil, models.Conflict("tenant_code", models.ErrCodeCollisionExhausted)
}

func (s *Service) createTenant(ctx context.Context, in TenantInput, code, hash string) (*TenantResult, error) {
	tenant := &models.Tenant{
		Code:         code,
		Name:         in.Name,
		ContactEmail: in.ContactEmail,
		ContactPhone: in.ContactPhone,
		Address:      in.Address,
		BrandColor:   in.BrandColor,
		PortalURL:    in.PortalURL,
		Description:  in.Description,
		Status:       models.TenantSetup,
	}

	admin := &models.Account{
		Email:              in.AdminEmail,
		FirstName:          in.AdminFirstName,
		LastName:           in.AdminLastName,
		Phone:              in.AdminPhone,
		Role:               models.RoleTenantAdmin,
		PasswordHash:       hash,
		MustChangePassword: true,
		Status:             models.AccountActive,
		Profile:            models.AdminProfile{Title: "Administrator"},
	}

	err := s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.CreateTenant(ctx, tenant); err != nil {
			return err
		}
		admin.TenantID = &tenant.ID
		return tx.CreateAccount(ctx, admin)
	})
	if err != nil {
		return nil, err
	}
	return &TenantResult{Tenant: tenant, Admin: admin}, nil
}

func (s *Service) afterTenantCreated(ctx context.Context, result *TenantResult) {
	tenant, admin := result.Tenant, result.Admin

	if err := s.counter.Set(ctx, tenant.ID, 1); err != nil {
		s.log.WithError(err).WithField("tenant_id", tenant.ID).Warn("Failed to cache account count")
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":   tenant.ID,
		"tenant_code": tenant.Code,
		"admin_id":    admin.ID,
	}).Info("Tenant provisioned")

	s.dispatch(notify.WelcomeNotice{
		RecipientEmail:    admin.Email,
		RecipientName:     admin.DisplayName(),
		Role:              string(admin.Role),
		TenantName:        tenant.Name,
		TenantCode:        tenant.Code,
		TemporaryPassword: result.TemporaryPassword,
		PortalURL:         tenant.PortalURL,
	})
}

// temporaryCredential returns a fresh temporary password and its hash
func (s *Service) temporaryCredential() (string, string, error) {
	password, err := s.passGen()
	if err != nil {
		return "", "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", "", err
	}
	return password, string(hash), nil
}

// dispatch hands a notice to the background workers; failures never fail the caller
func (s *Service) dispatch(notice notify.WelcomeNotice) {
	if s.notices == nil {
		return
	}
	if err := s.notices.Dispatch(notice); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"recipient":   notice.RecipientEmail,
			"tenant_code": notice.TenantCode,
		}).Warn("Welcome notice not queued")
	}
}
