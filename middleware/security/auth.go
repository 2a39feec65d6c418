package security

import (
	"net/http"
	"strings"

	toolsec "QRGate/tools/security"

	"github.com/gin-gonic/gin"
)

// CtxClaimsKey is the context key downstream handlers read the verified
// claims from.
const CtxClaimsKey = "authClaims"

// Middleware requires a valid bearer assertion and stores its claims in the
// request context. Verification fails closed; there is no anonymous
// passthrough.
func Middleware(jwt toolsec.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing bearer token"})
			return
		}

		claims, err := toolsec.Verify(jwt, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "token invalid or expired"})
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the verified claims set by Middleware, or nil.
func ClaimsFrom(c *gin.Context) *toolsec.AuthClaims {
	if v, ok := c.Get(CtxClaimsKey); ok {
		if claims, ok := v.(*toolsec.AuthClaims); ok {
			return claims
		}
	}
	return nil
}

func bearerToken(c *gin.Context) string {
	authz := strings.TrimSpace(c.GetHeader("Authorization"))
	if authz == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return authz
}
