package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	a "github.com/DanielEsLoH/MediConnect-sub004/pkg/auth"
	"github.com/DanielEsLoH/MediConnect-sub004/pkg/httpx"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/routes"
)

// Context keys set by the auth middleware.
const (
	KeySub   = "sub"
	KeyRole  = "role"
	KeyEmail = "email"
)

func bearer(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

func setClaims(c *gin.Context, claims *a.Claims) {
	c.Set(KeySub, claims.Sub)
	c.Set(KeyRole, strings.ToUpper(claims.Role))
	c.Set(KeyEmail, claims.Email)
}

// JWTAuth requires a valid bearer token.
func JWTAuth(v *a.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearer(c)
		if !ok {
			httpx.Abort(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing bearer token")
			return
		}
		claims, err := v.ParseValidate(tok)
		if err != nil {
			httpx.Abort(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid or expired token")
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// Authenticate applies the auth mode of the route resolved by ResolveRoute.
// Optional routes accept anonymous requests but still reject bad tokens.
func Authenticate(v *a.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		route, _ := RouteFrom(c)
		if route.Auth == routes.AuthNone {
			c.Next()
			return
		}
		tok, ok := bearer(c)
		if !ok {
			if route.Auth == routes.AuthOptional {
				c.Next()
				return
			}
			httpx.Abort(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing bearer token")
			return
		}
		claims, err := v.ParseValidate(tok)
		if err != nil {
			httpx.Abort(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid or expired token")
			return
		}
		setClaims(c, claims)
		if len(route.Roles) > 0 && !hasRole(c, route.Roles) {
			httpx.Abort(c, http.StatusForbidden, httpx.CodeForbidden, "insufficient role")
			return
		}
		c.Next()
	}
}

func hasRole(c *gin.Context, roles []string) bool {
	role := c.GetString(KeyRole)
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !hasRole(c, roles) {
			httpx.Abort(c, http.StatusForbidden, httpx.CodeForbidden, "insufficient role")
			return
		}
		c.Next()
	}
}
