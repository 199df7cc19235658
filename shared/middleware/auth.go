package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pavitra93/go-school-tenancy/shared/gate"
	"github.com/pavitra93/go-school-tenancy/shared/models"
	"github.com/pavitra93/go-school-tenancy/shared/utils"
)

// SessionCookie is the cookie that carries the session token
const SessionCookie = "session"

// context keys
const (
	claimsKey   = "claims"
	accountKey  = "account_id"
	emailKey    = "email"
	tenantKey   = "tenant_id"
	roleKey     = "role"
	tenantParam = "id"
)

// AuthMiddleware validates session tokens
type AuthMiddleware struct {
	tokens gate.TokenParser
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens gate.TokenParser) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth rejects requests without a valid session token
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c)
		if tokenString == "" {
			utils.UnauthorizedResponse(c, "Authorization token required")
			c.Abort()
			return
		}

		claims, err := am.tokens.Parse(tokenString)
		if err != nil {
			ClearSessionCookie(c)
			utils.UnauthorizedResponse(c, models.ErrInvalidSession.Error())
			c.Abort()
			return
		}

		SetClaims(c, claims)
		c.Next()
	}
}

// RequireRole allows only the listed roles through
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, "User role not found in context")
			c.Abort()
			return
		}

		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"success":   false,
			"error":     "Insufficient permissions",
			"user_role": claims.Role,
		})
		c.Abort()
	}
}

// RequireTenantAccess allows super admins into every tenant and everyone
// else only into their own
func RequireTenantAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, "Tenant information not found")
			c.Abort()
			return
		}
		if claims.Role == models.RoleSuperAdmin {
			c.Next()
			return
		}

		requested := c.Param(tenantParam)
		if requested != "" && requested != claims.TenantID {
			utils.ForbiddenResponse(c, "Access denied to this tenant")
			c.Abort()
			return
		}

		c.Next()
	}
}

// ExtractToken returns the session token from the cookie or the
// Authorization header
func ExtractToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return authHeader
}

// SetClaims stores verified claims on the request
func SetClaims(c *gin.Context, claims *models.SessionClaims) {
	c.Set(claimsKey, claims)
	c.Set(accountKey, claims.AccountID)
	c.Set(emailKey, claims.Email)
	c.Set(tenantKey, claims.TenantID)
	c.Set(roleKey, string(claims.Role))
}

// ClaimsFromContext returns the claims set by RequireAuth or Gate
func ClaimsFromContext(c *gin.Context) (*models.SessionClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*models.SessionClaims)
	return claims, ok
}

// ActorFromContext returns the identity performing the request
func ActorFromContext(c *gin.Context) (models.Actor, bool) {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		return models.Actor{}, false
	}
	actor := claims.Actor()
	return actor, actor.AccountID != uuid.Nil
}

// SetSessionCookie hands the session token to the browser
func SetSessionCookie(c *gin.Context, session *models.Session, secure bool) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, session.Token, maxAge, "/", "", secure, true)
}

// ClearSessionCookie drops the session cookie
func ClearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
}
