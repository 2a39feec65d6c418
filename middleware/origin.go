package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Origin makes the handshake endpoints cross-origin accessible: the QR page
// and the poller run on arbitrary origins, the claim comes from a mobile app.
func Origin() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// MethodNotAllowed is the catch-all for verb mismatches; pair it with
// HandleMethodNotAllowed on the engine.
func MethodNotAllowed() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"success": false, "message": "method not allowed"})
	}
}
