package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-school-tenancy/shared/gate"
	"github.com/pavitra93/go-school-tenancy/shared/utils"
)

// Gate applies the route policy to every request. Browsers are redirected;
// API clients get a JSON body naming the location.
func Gate(g *gate.Gate, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		token := ExtractToken(c)

		d := g.Decide(path, token)
		if d.Claims != nil {
			SetClaims(c, d.Claims)
		}

		switch d.Kind {
		case gate.Allow:
			c.Next()
			return
		case gate.RedirectToLogin:
			if token != "" {
				ClearSessionCookie(c)
			}
			log.WithFields(logrus.Fields{"path": path, "had_token": token != ""}).Debug("Sent to login")
			respondRedirect(c, http.StatusUnauthorized, d.Location, "Please sign in to continue")
		case gate.Redirect:
			log.WithFields(logrus.Fields{
				"path":     path,
				"location": d.Location,
				"role":     d.Claims.Role,
			}).Debug("Redirected by route policy")
			respondRedirect(c, http.StatusForbidden, d.Location, "Redirected")
		}
		c.Abort()
	}
}

func respondRedirect(c *gin.Context, apiStatus int, location, message string) {
	if wantsJSON(c) {
		utils.RedirectResponse(c, apiStatus, location, message)
		return
	}
	c.Redirect(http.StatusSeeOther, location)
}

func wantsJSON(c *gin.Context) bool {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
