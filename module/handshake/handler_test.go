package handshake

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mid "QRGate/middleware"
	midsec "QRGate/middleware/security"
	"QRGate/module/handshake/model"
	"QRGate/module/handshake/service"
	"QRGate/module/handshake/store"
	toolsec "QRGate/tools/security"

	"github.com/gin-gonic/gin"
)

var testJWT = toolsec.DefaultOptions([]byte("handler-test-secret"))

// newTestRouter wires the routes the same way main does, backed by in-memory
// stores.
func newTestRouter(t *testing.T) (*gin.Engine, *store.MemoryTeacherStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := store.NewMemorySessionStore()
	teachers := store.NewMemoryTeacherStore()
	h := NewHandler(service.NewEngine(sessions, teachers, testJWT))

	r := gin.New()
	r.Use(gin.Recovery(), mid.Origin())
	r.HandleMethodNotAllowed = true
	r.NoMethod(mid.MethodNotAllowed())

	authRequired := midsec.Middleware(testJWT)

	mid.POST(r, "/api/web-session/generate-qr", h.GenerateQR, mid.RouteOpt{})
	mid.POST(r, "/api/web-session/authenticate", h.Authenticate, mid.RouteOpt{})
	mid.GET(r, "/api/web-session/check-auth", h.CheckAuth, mid.RouteOpt{})
	mid.POST(r, "/api/web-session/verify", h.Verify, mid.RouteOpt{})
	mid.POST(r, "/api/web-session/disconnect", h.Disconnect, mid.RouteOpt{Auth: authRequired})
	mid.GET(r, "/api/web-session/active", h.ActiveSessions, mid.RouteOpt{Auth: authRequired})

	return r, teachers
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var parsed map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, parsed
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func seedTeacher(teachers *store.MemoryTeacherStore) model.Teacher {
	return teachers.Add(model.Teacher{
		TeacherID: "TCH001",
		Name:      "Alice Moreau",
		Email:     "alice@example.com",
		Status:    "active",
	})
}

func TestGenerateQRReturnsScannableSession(t *testing.T) {
	r, _ := newTestRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/api/web-session/generate-qr", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if s, _ := body["sessionId"].(string); s == "" {
		t.Fatal("missing sessionId")
	}
	if qr, _ := body["qrCode"].(string); !strings.HasPrefix(qr, "data:image/png;base64,") {
		t.Fatalf("qrCode is not a PNG data url: %.40v", body["qrCode"])
	}
	if _, ok := body["expiresAt"]; !ok {
		t.Fatal("missing expiresAt")
	}
}

func TestGenerateQRRejectsUnknownUserType(t *testing.T) {
	r, _ := newTestRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/api/web-session/generate-qr",
		gin.H{"userType": "alien"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if ok, _ := body["success"].(bool); ok {
		t.Fatal("success must be false")
	}
}

func TestVerbMismatchIs405(t *testing.T) {
	r, _ := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodGet, "/api/web-session/generate-qr", nil, nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestPreflightIsAccepted(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/web-session/authenticate", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestAuthenticateRequiresFields(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, body := range []gin.H{
		{},
		{"sessionId": "s"},
		{"teacherId": "TCH001"},
	} {
		w, resp := doJSON(t, r, http.MethodPost, "/api/web-session/authenticate", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %v: status = %d, want 400", body, w.Code)
		}
		if ok, _ := resp["success"].(bool); ok {
			t.Fatalf("body %v: success must be false", body)
		}
	}
}

func TestAuthenticateUnknownTeacherIs404(t *testing.T) {
	r, _ := newTestRouter(t)

	_, created := doJSON(t, r, http.MethodPost, "/api/web-session/generate-qr", nil, nil)
	sid := created["sessionId"].(string)

	w, _ := doJSON(t, r, http.MethodPost, "/api/web-session/authenticate",
		gin.H{"sessionId": sid, "teacherId": "NOBODY"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestAuthenticateUnknownSessionIs404(t *testing.T) {
	r, teachers := newTestRouter(t)
	seedTeacher(teachers)

	w, _ := doJSON(t, r, http.MethodPost, "/api/web-session/authenticate",
		gin.H{"sessionId": "no-such-session", "teacherId": "TCH001"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCheckAuthRequiresSessionID(t *testing.T) {
	r, _ := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodGet, "/api/web-session/check-auth", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCheckAuthUnknownSessionIs404(t *testing.T) {
	r, _ := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodGet, "/api/web-session/check-auth?sessionId=ghost", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	r, _ := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/api/web-session/verify",
		gin.H{"token": "not.a.token"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	r, _ := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodGet, "/api/web-session/active", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("active: status = %d, want 401", w.Code)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/api/web-session/disconnect",
		gin.H{"sessionId": "x"}, bearer("garbage"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("disconnect: status = %d, want 401", w.Code)
	}
}

func TestFullHandshakeFlow(t *testing.T) {
	r, teachers := newTestRouter(t)
	seedTeacher(teachers)

	// web client creates the session
	w, created := doJSON(t, r, http.MethodPost, "/api/web-session/generate-qr",
		gin.H{"userType": "teacher"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("generate-qr: %d %s", w.Code, w.Body)
	}
	sid := created["sessionId"].(string)

	// still pending
	w, polled := doJSON(t, r, http.MethodGet, "/api/web-session/check-auth?sessionId="+sid, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check-auth pending: %d %s", w.Code, w.Body)
	}
	if auth, _ := polled["authenticated"].(bool); auth {
		t.Fatal("session must start unauthenticated")
	}

	// mobile claims it
	w, claimed := doJSON(t, r, http.MethodPost, "/api/web-session/authenticate",
		gin.H{"sessionId": sid, "teacherId": "tch001", "deviceId": "pixel-9"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticate: %d %s", w.Code, w.Body)
	}
	if ok, _ := claimed["success"].(bool); !ok {
		t.Fatalf("authenticate body = %v", claimed)
	}
	token, _ := claimed["token"].(string)
	if token == "" {
		t.Fatal("authenticate returned no token")
	}
	teacher, _ := claimed["teacher"].(map[string]any)
	if teacher["email"] != "alice@example.com" {
		t.Fatalf("teacher = %v", teacher)
	}

	// web poll now sees the assertion
	w, polled = doJSON(t, r, http.MethodGet, "/api/web-session/check-auth?sessionId="+sid, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check-auth active: %d %s", w.Code, w.Body)
	}
	if auth, _ := polled["authenticated"].(bool); !auth {
		t.Fatalf("poll after claim = %v", polled)
	}
	sessView, _ := polled["session"].(map[string]any)
	if active, _ := sessView["isActive"].(bool); !active {
		t.Fatalf("session view = %v", sessView)
	}
	webToken, _ := polled["token"].(string)
	if webToken == "" {
		t.Fatal("poll returned no token")
	}

	// the assertion verifies and names the subject and session
	w, verified := doJSON(t, r, http.MethodPost, "/api/web-session/verify",
		gin.H{"token": webToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", w.Code, w.Body)
	}
	claims, _ := verified["claims"].(map[string]any)
	if claims["teacherId"] != "TCH001" || claims["sessionId"] != sid {
		t.Fatalf("claims = %v", claims)
	}

	// the bearer can list and tear down its sessions
	w, listed := doJSON(t, r, http.MethodGet, "/api/web-session/active", nil, bearer(webToken))
	if w.Code != http.StatusOK {
		t.Fatalf("active: %d %s", w.Code, w.Body)
	}
	if sessions, _ := listed["sessions"].([]any); len(sessions) != 1 {
		t.Fatalf("sessions = %v", listed["sessions"])
	}

	w, _ = doJSON(t, r, http.MethodPost, "/api/web-session/disconnect",
		gin.H{"sessionId": sid}, bearer(webToken))
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect: %d %s", w.Code, w.Body)
	}

	// disconnected sessions poll as unauthenticated
	w, polled = doJSON(t, r, http.MethodGet, "/api/web-session/check-auth?sessionId="+sid, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check-auth after disconnect: %d %s", w.Code, w.Body)
	}
	if auth, _ := polled["authenticated"].(bool); auth {
		t.Fatal("disconnected session must not authenticate")
	}
}

func TestRepeatedClaimReportsMerge(t *testing.T) {
	r, teachers := newTestRouter(t)
	seedTeacher(teachers)

	_, first := doJSON(t, r, http.MethodPost, "/api/web-session/generate-qr", nil, nil)
	sidA := first["sessionId"].(string)
	doJSON(t, r, http.MethodPost, "/api/web-session/authenticate",
		gin.H{"sessionId": sidA, "teacherId": "TCH001", "deviceId": "pixel-9"}, nil)

	_, second := doJSON(t, r, http.MethodPost, "/api/web-session/generate-qr", nil, nil)
	sidB := second["sessionId"].(string)

	w, merged := doJSON(t, r, http.MethodPost, "/api/web-session/authenticate",
		gin.H{"sessionId": sidB, "teacherId": "TCH001", "deviceId": "pixel-9"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("merge claim: %d %s", w.Code, w.Body)
	}
	if merged["sessionId"] != sidA {
		t.Fatalf("merge kept %v, want the original session %s", merged["sessionId"], sidA)
	}
	if msg, _ := merged["message"].(string); !strings.Contains(msg, "existing session") {
		t.Fatalf("message = %q", msg)
	}
}
