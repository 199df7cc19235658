package provisioning

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/validation"
)

// GetTenant returns a school visible to the actor
func (s *Service) GetTenant(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Tenant, error) {
	if !actor.IsSuperAdmin() && !actor.BelongsTo(id) {
		return nil, models.ErrForbidden
	}
	tenant, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return nil, models.Dependency("load tenant", err)
	}
	return tenant, nil
}

// ListTenants returns every school on the platform
func (s *Service) ListTenants(ctx context.Context, actor models.Actor) ([]models.Tenant, error) {
	if !actor.IsSuperAdmin() {
		return nil, models.ErrForbidden
	}
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return nil, models.Dependency("list tenants", err)
	}
	return tenants, nil
}

// TenantUpdate carries the school attributes an admin may change. The code
// and status are not part of it.
type TenantUpdate struct {
	Name         *string `json:"name" validate:"omitempty,min=3"`
	ContactEmail *string `json:"contact_email" validate:"omitempty,email"`
	ContactPhone *string `json:"contact_phone" validate:"omitempty,min=1"`
	Address      *string `json:"address" validate:"omitempty,min=1"`
	BrandColor   *string `json:"brand_color" validate:"omitempty,hexcolor"`
	PortalURL    *string `json:"portal_url" validate:"omitempty,url"`
	Description  *string `json:"description"`
}

// UpdateTenant changes a school's profile
func (s *Service) UpdateTenant(ctx context.Context, actor models.Actor, id uuid.UUID, in TenantUpdate) (*models.Tenant, error) {
	if !actor.CanManageTenant(id) {
		return nil, models.ErrForbidden
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	if in.ContactEmail != nil {
		email := models.NormalizeEmail(*in.ContactEmail)
		in.ContactEmail = &email
		existing, err := s.store.GetTenantByContactEmail(ctx, email)
		if err == nil && existing.ID != id {
			return nil, models.Conflict("contact_email", models.ErrDuplicateContactEmail)
		}
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, models.Dependency("check contact email", err)
		}
	}

	tenant, err := s.store.UpdateTenant(ctx, id, models.TenantPatch{
		Name:         in.Name,
		ContactEmail: in.ContactEmail,
		ContactPhone: in.ContactPhone,
		Address:      in.Address,
		BrandColor:   in.BrandColor,
		PortalURL:    in.PortalURL,
		Description:  in.Description,
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateContactEmail) {
			return nil, models.Conflict("contact_email", err)
		}
		return nil, models.Dependency("update tenant", err)
	}

	s.log.WithFields(logrus.Fields{"tenant_id": id, "by": actor.AccountID}).Info("Tenant updated")
	return tenant, nil
}

// SetTenantStatus moves a school through its lifecycle. Only super admins
// may suspend or reactivate a school.
func (s *Service) SetTenantStatus(ctx context.Context, actor models.Actor, id uuid.UUID, status models.TenantStatus) (*models.Tenant, error) {
	if !actor.IsSuperAdmin() {
		return nil, models.ErrForbidden
	}
	if !status.Valid() {
		verr := models.NewValidationError()
		verr.Add("status", "must be one of: setup active suspended")
		return nil, verr
	}

	current, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return nil, models.Dependency("load tenant", err)
	}
	if !current.Status.CanTransitionTo(status) {
		return nil, models.ErrInvalidTransition
	}

	tenant, err := s.store.UpdateTenant(ctx, id, models.TenantPatch{Status: &status})
	if err != nil {
		return nil, models.Dependency("update tenant", err)
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id": id,
		"from":      current.Status,
		"to":        status,
		"by":        actor.AccountID,
	}).Info("Tenant status changed")
	return tenant, nil
}

// DeleteTenant removes a school and every account in it
func (s *Service) DeleteTenant(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	if !actor.IsSuperAdmin() {
		return models.ErrForbidden
	}
	if err := s.store.DeleteTenant(ctx, id); err != nil {
		return models.Dependency("delete tenant", err)
	}
	if err := s.counter.Reset(ctx, id); err != nil {
		s.log.WithError(err).WithField("tenant_id", id).Warn("Failed to reset account count")
	}
	s.log.WithFields(logrus.Fields{"tenant_id": id, "by": actor.AccountID}).Info("Tenant deleted")
	return nil
}

// PurgeOrphanedTenants deletes schools that are still in setup after
// olderThan and have no accounts left. It returns how many were removed.
func (s *Service) PurgeOrphanedTenants(ctx context.Context, olderThan time.Duration) (int, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return 0, models.Dependency("list tenants", err)
	}

	cutoff := s.now().Add(-olderThan)
	purged := 0
	for _, tenant := range tenants {
		if tenant.Status != models.TenantSetup || tenant.CreatedAt.After(cutoff) {
			continue
		}
		n, err := s.store.CountAccountsByTenant(ctx, tenant.ID)
		if err != nil {
			return purged, models.Dependency("count accounts", err)
		}
		if n > 0 {
			continue
		}
		if err := s.store.DeleteTenant(ctx, tenant.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return purged, models.Dependency("delete tenant", err)
		}
		_ = s.counter.Reset(ctx, tenant.ID)
		purged++
		s.log.WithFields(logrus.Fields{
			"tenant_id":   tenant.ID,
			"tenant_code": tenant.Code,
		}).Warn("Purged orphaned tenant")
	}
	return purged, nil
}

// StartOrphanReconciler runs PurgeOrphanedTenants every interval until ctx ends
func (s *Service) StartOrphanReconciler(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		s.log.WithField("interval", interval).Warn("Orphaned tenant sweep disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.PurgeOrphanedTenants(ctx, olderThan); err != nil {
					s.log.WithError(err).Error("Orphaned tenant sweep failed")
				}
			}
		}
	}()
}
