package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/notify"
	"github.com/pavitra93/go-school-tenancy/shared/validation"
)

// AccountInput is a request by a tenant admin to add someone to the school
type AccountInput struct {
	Email     string      `json:"email" validate:"required,email"`
	FirstName string      `json:"first_name" validate:"required"`
	LastName  string      `json:"last_name" validate:"required"`
	Phone     string      `json:"phone" validate:"required_if=Role parent"`
	Role      models.Role `json:"role" validate:"required,oneof=teacher student parent"`

	EmployeeNumber  string   `json:"employee_number" validate:"required_if=Role teacher"`
	Subjects        []string `json:"subjects"`
	AdmissionNumber string   `json:"admission_number" validate:"required_if=Role student"`
	ClassName       string   `json:"class_name"`
	ParentEmail     string   `json:"parent_email" validate:"omitempty,email"`
	ChildEmails     []string `json:"child_emails" validate:"omitempty,dive,email"`
}

func (in AccountInput) profile() models.Profile {
	switch in.Role {
	case models.RoleTeacher:
		return models.TeacherProfile{EmployeeNumber: in.EmployeeNumber, Subjects: in.Subjects}
	case models.RoleStudent:
		return models.StudentProfile{
			AdmissionNumber: in.AdmissionNumber,
			ClassName:       in.ClassName,
			ParentEmail:     models.NormalizeEmail(in.ParentEmail),
		}
	case models.RoleParent:
		children := make([]string, 0, len(in.ChildEmails))
		for _, email := range in.ChildEmails {
			children = append(children, models.NormalizeEmail(email))
		}
		return models.ParentProfile{ChildEmails: children}
	}
	return nil
}

// AccountResult carries the created account and its one-time temporary password
type AccountResult struct {
	Account           *models.Account `json:"account"`
	TemporaryPassword string          `json:"temporary_password"`
}

// ProvisionAccount adds a teacher, student or parent to a school. Only the
// tenant admin of that school may do this. The account starts with a
// temporary password that must be changed on first sign-in.
func (s *Service) ProvisionAccount(ctx context.Context, actor models.Actor, tenantID uuid.UUID, in AccountInput) (*AccountResult, error) {
	if actor.Role != models.RoleTenantAdmin || !actor.BelongsTo(tenantID) {
		return nil, models.ErrForbidden
	}

	validation.TrimStrings(&in)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	in.Email = models.NormalizeEmail(in.Email)

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, models.Dependency("load tenant", err)
	}
	if tenant.Status == models.TenantSuspended {
		return nil, models.ErrTenantSuspended
	}

	if _, err := s.store.GetAccountByEmail(ctx, in.Email); err == nil {
		return nil, models.Conflict("email", models.ErrDuplicateEmail)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, models.Dependency("check email", err)
	}

	password, hash, err := s.temporaryCredential()
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		TenantID:           &tenant.ID,
		Email:              in.Email,
		FirstName:          in.FirstName,
		LastName:           in.LastName,
		Phone:              in.Phone,
		Role:               in.Role,
		PasswordHash:       hash,
		MustChangePassword: true,
		Status:             models.AccountActive,
		Profile:            in.profile(),
	}
	if err := s.store.CreateAccount(context.WithoutCancel(ctx), account); err != nil {
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
		"by":         actor.AccountID,
	}).Info("Account provisioned")

	s.dispatch(notify.WelcomeNotice{
		RecipientEmail:    account.Email,
		RecipientName:     account.DisplayName(),
		Role:              string(account.Role),
		TenantName:        tenant.Name,
		TenantCode:        tenant.Code,
		TemporaryPassword: password,
		InviterName:       actor.Name,
		PortalURL:         tenant.PortalURL,
	})

	return &AccountResult{Account: account, TemporaryPassword: password}, nil
}

// ListAccounts returns every account of a school
func (s *Service) ListAccounts(ctx context.Context, actor models.Actor, tenantID uuid.UUID) ([]models.Account, error) {
	if !actor.CanManageTenant(tenantID) {
		return nil, models.ErrForbidden
	}
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return nil, models.Dependency("load tenant", err)
	}
	accounts, err := s.store.ListAccountsByTenant(ctx, tenantID)
	if err != nil {
		return nil, models.Dependency("list accounts", err)
	}
	return accounts, nil
}

// GetAccount returns one account of a school
func (s *Service) GetAccount(ctx context.Context, actor models.Actor, tenantID, accountID uuid.UUID) (*models.Account, error) {
	if !actor.CanManageTenant(tenantID) && actor.AccountID != accountID {
		return nil, models.ErrForbidden
	}
	return s.accountInTenant(ctx, tenantID, accountID)
}

// AccountUpdate carries the account fields an admin may change. Profile
// fields apply only to accounts of the matching role; nil leaves a field as is.
type AccountUpdate struct {
	FirstName *string               `json:"first_name" validate:"omitempty,min=1"`
	LastName  *string               `json:"last_name" validate:"omitempty,min=1"`
	Phone     *string               `json:"phone"`
	Status    *models.AccountStatus `json:"status" validate:"omitempty,oneof=active inactive pending"`

	Title           *string  `json:"title"`
	EmployeeNumber  *string  `json:"employee_number" validate:"omitempty,min=1"`
	Subjects        []string `json:"subjects"`
	AdmissionNumber *string  `json:"admission_number" validate:"omitempty,min=1"`
	ClassName       *string  `json:"class_name"`
	ParentEmail     *string  `json:"parent_email" validate:"omitempty,email"`
	ChildEmails     []string `json:"child_emails" validate:"omitempty,dive,email"`
}

// profileFields maps each profile field to the role it belongs to
func (in AccountUpdate) profileFields() map[string]models.Role {
	fields := make(map[string]models.Role)
	set := func(name string, ok bool, role models.Role) {
		if ok {
			fields[name] = role
		}
	}
	set("title", in.Title != nil, models.RoleTenantAdmin)
	set("employee_number", in.EmployeeNumber != nil, models.RoleTeacher)
	set("subjects", in.Subjects != nil, models.RoleTeacher)
	set("admission_number", in.AdmissionNumber != nil, models.RoleStudent)
	set("class_name", in.ClassName != nil, models.RoleStudent)
	set("parent_email", in.ParentEmail != nil, models.RoleStudent)
	set("child_emails", in.ChildEmails != nil, models.RoleParent)
	return fields
}

// profile returns the account's profile with the update applied, or nil when
// the update carries no profile fields
func (in AccountUpdate) profile(account *models.Account) (models.Profile, error) {
	fields := in.profileFields()
	if len(fields) == 0 {
		return nil, nil
	}

	verr := models.NewValidationError()
	for name, role := range fields {
		if role != account.Role {
			verr.Add(name, fmt.Sprintf("does not apply to %s accounts", account.Role))
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	profile := account.Profile
	if profile == nil {
		var err error
		if profile, err = models.DecodeProfile(account.Role, []byte("{}")); err != nil {
			return nil, err
		}
	}

	switch current := profile.(type) {
	case models.AdminProfile:
		if in.Title != nil {
			current.Title = *in.Title
		}
		return current, nil
	case models.TeacherProfile:
		if in.EmployeeNumber != nil {
			current.EmployeeNumber = *in.EmployeeNumber
		}
		if in.Subjects != nil {
			current.Subjects = in.Subjects
		}
		return current, nil
	case models.StudentProfile:
		if in.AdmissionNumber != nil {
			current.AdmissionNumber = *in.AdmissionNumber
		}
		if in.ClassName != nil {
			current.ClassName = *in.ClassName
		}
		if in.ParentEmail != nil {
			current.ParentEmail = models.NormalizeEmail(*in.ParentEmail)
		}
		return current, nil
	case models.ParentProfile:
		children := make([]string, 0, len(in.ChildEmails))
		for _, email := range in.ChildEmails {
			children = append(children, models.NormalizeEmail(email))
		}
		current.ChildEmails = children
		return current, nil
	}
	return nil, fmt.Errorf("unsupported profile %T", profile)
}

// UpdateAccount changes an account's contact details, status or profile
func (s *Service) UpdateAccount(ctx context.Context, actor models.Actor, tenantID, accountID uuid.UUID, in AccountUpdate) (*models.Account, error) {
	if !actor.CanManageTenant(tenantID) {
		return nil, models.ErrForbidden
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	current, err := s.accountInTenant(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	if in.Status != nil && *in.Status != models.AccountActive && accountID == actor.AccountID {
		verr := models.NewValidationError()
		verr.Add("status", "you cannot deactivate your own account")
		return nil, verr
	}
	profile, err := in.profile(current)
	if err != nil {
		return nil, err
	}

	account, err := s.store.UpdateAccount(ctx, accountID, models.AccountPatch{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
		Status:    in.Status,
		Profile:   profile,
	})
	if err != nil {
		return nil, models.Dependency("update account", err)
	}

	s.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"tenant_id":  tenantID,
		"by":         actor.AccountID,
	}).Info("Account updated")
	return account, nil
}

// DeleteAccount removes an account from a school. A tenant admin cannot
// remove another tenant admin.
func (s *Service) DeleteAccount(ctx context.Context, actor models.Actor, tenantID, accountID uuid.UUID) error {
	if !actor.CanManageTenant(tenantID) {
		return models.ErrForbidden
	}
	account, err := s.accountInTenant(ctx, tenantID, accountID)
	if err != nil {
		return err
	}
	if account.Role == models.RoleTenantAdmin && !actor.IsSuperAdmin() {
		return models.ErrForbidden
	}

	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return models.Dependency("delete account", err)
	}
	if err := s.counter.Decrement(ctx, tenantID); err != nil {
		s.log.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to update account count")
	}

	s.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"tenant_id":  tenantID,
		"by":         actor.AccountID,
	}).Info("Account deleted")
	return nil
}

// ResolveParent follows a student's parent email to the parent account.
// The link is by email, so it resolves once the parent is created. A missing
// or mismatched parent is ErrNotFound.
func (s *Service) ResolveParent(ctx context.Context, actor models.Actor, tenantID, studentID uuid.UUID) (*models.Account, error) {
	if !actor.IsSuperAdmin() && !actor.BelongsTo(tenantID) {
		return nil, models.ErrForbidden
	}
	student, err := s.accountInTenant(ctx, tenantID, studentID)
	if err != nil {
		return nil, err
	}
	profile, ok := student.Profile.(models.StudentProfile)
	if !ok || student.Role != models.RoleStudent || profile.ParentEmail == "" {
		return nil, fmt.Errorf("parent of %s: %w", studentID, models.ErrNotFound)
	}

	parent, err := s.store.GetAccountByEmail(ctx, profile.ParentEmail)
	if err != nil {
		return nil, models.Dependency("load parent", err)
	}
	if parent.Role != models.RoleParent || parent.TenantID == nil || *parent.TenantID != tenantID {
		return nil, fmt.Errorf("parent of %s: %w", studentID, models.ErrNotFound)
	}
	return parent, nil
}

// AccountCount returns the number of accounts in a school, served from the
// counter cache when warm.
func (s *Service) AccountCount(ctx context.Context, actor models.Actor, tenantID uuid.UUID) (int64, error) {
	if !actor.CanManageTenant(tenantID) {
		return 0, models.ErrForbidden
	}

	if n, ok, err := s.counter.Get(ctx, tenantID); err == nil && ok {
		return n, nil
	} else if err != nil {
		s.log.WithError(err).WithField("tenant_id", tenantID).Warn("Account count cache unavailable")
	}

	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return 0, models.Dependency("load tenant", err)
	}
	n, err := s.store.CountAccountsByTenant(ctx, tenantID)
	if err != nil {
		return 0, models.Dependency("count accounts", err)
	}
	if err := s.counter.Set(ctx, tenantID, n); err != nil {
		s.log.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to cache account count")
	}
	return n, nil
}

// accountInTenant loads an account and hides accounts of other schools
func (s *Service) accountInTenant(ctx context.Context, tenantID, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, models.Dependency("load account", err)
	}
	if account.TenantID == nil || *account.TenantID != tenantID {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
	}
	return account, nil
}
