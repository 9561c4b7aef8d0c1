// README: Auth middleware; verifies bearer ID tokens and exposes the caller to handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lastmile/internal/infra"
	"lastmile/internal/types"
)

const (
	ctxUID       = "caller_uid"
	ctxRole      = "caller_role"
	ctxPrincipal = "caller_principal"
)

// Auth rejects requests without a valid "Authorization: Bearer <token>"
// header. Browsers cannot set headers on a websocket upgrade, so a "token"
// query parameter is accepted there as well.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		p := token.Principal()
		c.Set(ctxUID, string(p.ID))
		c.Set(ctxRole, string(p.Role))
		c.Set(ctxPrincipal, p)
		c.Next()
	}
}

// RequireRole must run after Auth.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := types.Role(CallerRole(c))
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not authorized"})
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(h, prefix) {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(h, prefix))
	}
	if websocketUpgrade(c.Request) {
		return c.Query("token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

func CallerPrincipal(c *gin.Context) types.Principal {
	if v, ok := c.Get(ctxPrincipal); ok {
		if p, ok := v.(types.Principal); ok {
			return p
		}
	}
	return types.Principal{}
}
