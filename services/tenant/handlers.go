package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pavitra93/go-school-tenancy/shared/middleware"
	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/provisioning"
	"github.com/pavitra93/go-school-tenancy/shared/utils"
)

// StatusRequest represents a tenant status change
type StatusRequest struct {
	Status models.TenantStatus `json:"status" binding:"required"`
}

// StatsResponse summarises a school
type StatsResponse struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	AccountCount int64     `json:"account_count"`
}

// requestScope pulls the actor and the path ids out of the request. It
// writes the error response itself and reports false when the request
// cannot proceed.
func requestScope(c *gin.Context, params ...string) (models.Actor, []uuid.UUID, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, models.ErrInvalidSession.Error())
		return actor, nil, false
	}

	ids := make([]uuid.UUID, 0, len(params))
	for _, param := range params {
		id, err := uuid.Parse(c.Param(param))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid "+param)
			return actor, nil, false
		}
		ids = append(ids, id)
	}
	return actor, ids, true
}

// handleCreateTenant provisions a school and its tenant admin (super admin only)
func handleCreateTenant(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req provisioning.TenantInput
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		result, err := svc.ProvisionTenant(c.Request.Context(), req)
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.CreatedResponse(c, "Tenant created successfully", result)
	}
}

// handleGetTenants lists every school (super admin only)
func handleGetTenants(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _, ok := requestScope(c)
		if !ok {
			return
		}

		tenants, err := svc.ListTenants(c.Request.Context(), actor)
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Tenants retrieved successfully", tenants)
	}
}

// handleGetTenant returns one school
func handleGetTenant(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id")
		if !ok {
			return
		}

		tenant, err := svc.GetTenant(c.Request.Context(), actor, ids[0])
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Tenant retrieved successfully", tenant)
	}
}

// handleUpdateTenant changes a school's profile
func handleUpdateTenant(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id")
		if !ok {
			return
		}

		var req provisioning.TenantUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		tenant, err := svc.UpdateTenant(c.Request.Context(), actor, ids[0], req)
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Tenant updated successfully", tenant)
	}
}

// handleSetTenantStatus activates or suspends a school
func handleSetTenantStatus(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id")
		if !ok {
			return
		}

		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		tenant, err := svc.SetTenantStatus(c.Request.Context(), actor, ids[0], req.Status)
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Tenant status updated", tenant)
	}
}

// handleDeleteTenant removes a school and its accounts
func handleDeleteTenant(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id")
		if !ok {
			return
		}

		if err := svc.DeleteTenant(c.Request.Context(), actor, ids[0]); err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Tenant deleted successfully", nil)
	}
}

// handleGetTenantStats returns the school's account count
func handleGetTenantStats(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id")
		if !ok {
			return
		}

		n, err := svc.AccountCount(c.Request.Context(), actor, ids[0])
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Tenant stats retrieved", StatsResponse{TenantID: ids[0], AccountCount: n})
	}
}

// handleCreateAccount adds a teacher, student or parent (tenant admin only)
func handleCreateAccount(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id")
		if !ok {
			return
		}

		var req provisioning.AccountInput
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		result, err := svc.ProvisionAccount(c.Request.Context(), actor, ids[0], req)
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.CreatedResponse(c, "Account created successfully", result)
	}
}

// handleGetAccounts lists a school's accounts
func handleGetAccounts(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id")
		if !ok {
			return
		}

		accounts, err := svc.ListAccounts(c.Request.Context(), actor, ids[0])
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Accounts retrieved successfully", accounts)
	}
}

// handleGetAccount returns one account
func handleGetAccount(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id", "account_id")
		if !ok {
			return
		}

		account, err := svc.GetAccount(c.Request.Context(), actor, ids[0], ids[1])
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Account retrieved successfully", account)
	}
}

// handleUpdateAccount changes an account's details or status
func handleUpdateAccount(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id", "account_id")
		if !ok {
			return
		}

		var req provisioning.AccountUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		account, err := svc.UpdateAccount(c.Request.Context(), actor, ids[0], ids[1], req)
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Account updated successfully", account)
	}
}

// handleDeleteAccount removes an account
func handleDeleteAccount(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id", "account_id")
		if !ok {
			return
		}

		if err := svc.DeleteAccount(c.Request.Context(), actor, ids[0], ids[1]); err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Account deleted successfully", nil)
	}
}

// handleGetParent resolves a student's parent account
func handleGetParent(svc *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ids, ok := requestScope(c, "id", "account_id")
		if !ok {
			return
		}

		parent, err := svc.ResolveParent(c.Request.Context(), actor, ids[0], ids[1])
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Parent retrieved successfully", parent)
	}
}
