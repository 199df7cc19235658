// Package gate decides, from a session token and a static route policy,
// whether a request may reach a path or must be redirected.
package gate

import (
	"path"
	"strings"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

// Kind is the outcome of a gate decision
type Kind int

const (
	// Allow lets the request through
	Allow Kind = iota
	// Redirect sends the caller to Decision.Location
	Redirect
	// RedirectToLogin sends the caller to the login page and drops any stale session
	RedirectToLogin
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case RedirectToLogin:
		return "redirect_to_login"
	}
	return "unknown"
}

// Decision is the result of Gate.Decide
type Decision struct {
	Kind     Kind
	Location string
	// Claims is set whenever the token was valid
	Claims *models.SessionClaims
}

// TokenParser verifies a session token
type TokenParser interface {
	Parse(token string) (*models.SessionClaims, error)
}

// Gate applies a Policy to incoming paths
type Gate struct {
	policy *Policy
	tokens TokenParser
}

// New creates a gate
func New(policy *Policy, tokens TokenParser) *Gate {
	return &Gate{policy: policy, tokens: tokens}
}

// Policy returns the policy the gate enforces
func (g *Gate) Policy() *Policy {
	return g.policy
}

// CleanPath returns the canonical form of a request path: dot segments and
// repeated slashes removed, rooted, trailing slash kept
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// Decide returns what to do with a request for rawPath carrying token. Paths
// are compared in their canonical, lower case form. It has no side effects.
func (g *Gate) Decide(rawPath, token string) Decision {
	path := strings.ToLower(CleanPath(rawPath))

	if g.isPublic(path) {
		d := Decision{Kind: Allow}
		if token != "" {
			if claims, err := g.tokens.Parse(token); err == nil {
				d.Claims = claims
			}
		}
		return d
	}

	if token == "" {
		return Decision{Kind: RedirectToLogin, Location: g.policy.LoginPath}
	}
	claims, err := g.tokens.Parse(token)
	if err != nil {
		return Decision{Kind: RedirectToLogin, Location: g.policy.LoginPath}
	}

	if claims.MustChangePassword && g.mustChangeFirst(path) {
		return Decision{Kind: Redirect, Location: g.policy.PasswordChangePath, Claims: claims}
	}

	route, ok := g.match(path)
	if !ok || route.permits(claims.Role) {
		return Decision{Kind: Allow, Claims: claims}
	}

	home := g.policy.Home[claims.Role]
	if home == "" || matchPrefix(home, route.Prefix) {
		return Decision{Kind: RedirectToLogin, Location: g.policy.LoginPath}
	}
	return Decision{Kind: Redirect, Location: home, Claims: claims}
}

func (g *Gate) isPublic(path string) bool {
	for _, prefix := range g.policy.Public {
		if matchPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// mustChangeFirst reports whether a session flagged for a password change
// has to visit the change page before path
func (g *Gate) mustChangeFirst(path string) bool {
	change := g.policy.PasswordChangePath
	if change == "" || matchPrefix(path, change) {
		return false
	}
	for _, prefix := range g.policy.PasswordChangeAllow {
		if matchPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// match returns the route with the longest prefix covering path
func (g *Gate) match(path string) (Route, bool) {
	var (
		best  Route
		found bool
	)
	for _, route := range g.policy.Routes {
		if !matchPrefix(path, route.Prefix) {
			continue
		}
		if !found || len(route.Prefix) > len(best.Prefix) {
			best, found = route, true
		}
	}
	return best, found
}

func (r Route) permits(role models.Role) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// matchPrefix reports whether prefix covers path on segment boundaries.
// The root prefix only matches the root itself.
func matchPrefix(path, prefix string) bool {
	if prefix == "/" {
		return path == "/" || path == ""
	}
	prefix = strings.ToLower(strings.TrimSuffix(prefix, "/"))
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
