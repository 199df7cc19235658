package main

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-school-tenancy/shared/auth"
	"github.com/pavitra93/go-school-tenancy/shared/gate"
	"github.com/pavitra93/go-school-tenancy/shared/middleware"
	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/utils"
)

// LoginRequest represents the login request
type LoginRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	TenantCode string `json:"tenant_code"`
}

// ChangePasswordRequest represents the password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// SessionResponse is returned whenever a session is issued
type SessionResponse struct {
	Token     string               `json:"token"`
	ExpiresAt int64                `json:"expires_at"`
	User      models.SessionClaims `json:"user"`
	Redirect  string               `json:"redirect"`
}

// sessionWriter sets the cookie and builds the response body for a new session
type sessionWriter struct {
	policy *gate.Policy
	secure bool
}

func (sw sessionWriter) write(c *gin.Context, session *models.Session) SessionResponse {
	middleware.SetSessionCookie(c, session, sw.secure)

	redirect := sw.policy.Home[session.Claims.Role]
	if session.Claims.MustChangePassword && sw.policy.PasswordChangePath != "" {
		redirect = sw.policy.PasswordChangePath
	}
	return SessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.Unix(),
		User:      session.Claims,
		Redirect:  redirect,
	}
}

// handleLogin signs a user in with email, password and school code
func handleLogin(svc *auth.Service, sw sessionWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		session, err := svc.Login(c.Request.Context(), auth.LoginInput{
			Email:      req.Email,
			Password:   req.Password,
			TenantCode: req.TenantCode,
		})
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Login successful", sw.write(c, session))
	}
}

// handleSignup registers a teacher, student or parent in an existing school
func handleSignup(svc *auth.Service, sw sessionWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req auth.SignupInput
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		session, err := svc.Signup(c.Request.Context(), req)
		if err != nil {
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.CreatedResponse(c, "Account created successfully", sw.write(c, session))
	}
}

// handleLogout drops the session cookie. Tokens are not revoked server side.
func handleLogout(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := middleware.ExtractToken(c); token != "" {
			if claims, err := svc.Tokens().Parse(token); err == nil {
				svc.Logout(claims)
			}
		}
		middleware.ClearSessionCookie(c)
		utils.OKResponse(c, "Logged out successfully", nil)
	}
}

// handleChangePassword replaces the caller's password and reissues the session
func handleChangePassword(svc *auth.Service, sw sessionWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := middleware.ActorFromContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, models.ErrInvalidSession.Error())
			return
		}

		var req ChangePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		session, err := svc.ChangePassword(c.Request.Context(), actor.AccountID, req.CurrentPassword, req.NewPassword)
		if err != nil {
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				logrus.WithError(err).WithField("account_id", actor.AccountID).Warn("Password change failed")
			}
			utils.ServiceErrorResponse(c, err)
			return
		}

		utils.OKResponse(c, "Password changed successfully", sw.write(c, session))
	}
}

// handleMe returns the identity carried by the session
func handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := middleware.ClaimsFromContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, models.ErrInvalidSession.Error())
			return
		}
		utils.OKResponse(c, "Session is valid", claims)
	}
}
