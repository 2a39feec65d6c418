package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	toolsec "QRGate/tools/security"

	"github.com/gin-gonic/gin"
)

var testJWT = toolsec.DefaultOptions([]byte("auth-test-secret"))

func newAuthedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(testJWT), func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "claims missing from context"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"teacherId": claims.TeacherID})
	})
	return r
}

func get(r http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareRejectsMissingAndBadTokens(t *testing.T) {
	r := newAuthedRouter()

	if w := get(r, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no header: status = %d, want 401", w.Code)
	}
	if w := get(r, "Bearer not.a.token"); w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d, want 401", w.Code)
	}
}

func TestMiddlewarePassesClaimsToHandler(t *testing.T) {
	r := newAuthedRouter()

	token, _, err := toolsec.Generate(testJWT, toolsec.AuthClaims{
		UserID:    "u1",
		TeacherID: "TCH001",
		UserType:  "teacher",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, authz := range []string{"Bearer " + token, "bearer " + token, token} {
		w := get(r, authz)
		if w.Code != http.StatusOK {
			t.Fatalf("authz %q: status = %d, body = %s", authz, w.Code, w.Body)
		}
	}
}
