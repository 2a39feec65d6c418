package handshake

import (
	"net/http"

	"QRGate/logger"
	midsec "QRGate/middleware/security"
	"QRGate/module/handshake/service"
	"QRGate/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the handshake engine over HTTP: create for the web client,
// authenticate for the mobile claimer, check-auth for the poller.
type Handler struct {
	engine *service.Engine
}

func NewHandler(e *service.Engine) *Handler {
	return &Handler{engine: e}
}

type generateQRReq struct {
	UserType string `json:"userType"`
}

// GenerateQR handles POST /api/web-session/generate-qr.
func (h *Handler) GenerateQR(c *gin.Context) {
	var req generateQRReq
	_ = c.ShouldBindJSON(&req) // an empty body means the default user type

	res, err := h.engine.CreateSession(c.Request.Context(), req.UserType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": res.SessionID,
		"qrCode":    res.QRCode,
		"expiresAt": res.ExpiresAt,
	})
}

type authenticateReq struct {
	SessionID string `json:"sessionId"`
	TeacherID string `json:"teacherId"`
	DeviceID  string `json:"deviceId"`
}

// Authenticate handles POST /api/web-session/authenticate, the mobile claim.
func (h *Handler) Authenticate(c *gin.Context) {
	var req authenticateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed input"})
		return
	}
	if req.SessionID == "" || req.TeacherID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing required fields"})
		return
	}

	res, err := h.engine.ClaimSession(c.Request.Context(), service.ClaimInput{
		SessionID: req.SessionID,
		TeacherID: req.TeacherID,
		DeviceID:  req.DeviceID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	message := "authentication successful"
	if res.Merged {
		message = "authentication successful (existing session updated)"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   message,
		"sessionId": res.SessionID,
		"token":     res.Token,
		"teacher": gin.H{
			"id":         res.Teacher.ID,
			"name":       res.Teacher.Name,
			"email":      res.Teacher.Email,
			"companyIds": res.Teacher.CompanyIDs,
		},
	})
}

// CheckAuth handles GET /api/web-session/check-auth?sessionId=..., the web
// poller. Each authenticated poll carries a freshly minted token.
func (h *Handler) CheckAuth(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "sessionId is required"})
		return
	}

	res, err := h.engine.PollSession(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if !res.Authenticated {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"success":       true,
		"user":          res.Teacher,
		"session": gin.H{
			"sessionId": res.Session.SessionID,
			"isActive":  res.Session.IsActive,
			"userType":  res.Session.UserType,
		},
		"token": res.Token,
	})
}

type verifyReq struct {
	Token string `json:"token"`
}

// Verify handles POST /api/web-session/verify: validates an assertion and
// echoes its claims.
func (h *Handler) Verify(c *gin.Context) {
	var req verifyReq
	_ = c.ShouldBindJSON(&req)
	if req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "token is required"})
		return
	}

	claims, err := h.engine.VerifyToken(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "token invalid or expired"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"claims": gin.H{
			"userId":     claims.UserID,
			"teacherId":  claims.TeacherID,
			"email":      claims.Email,
			"companyIds": claims.CompanyIDs,
			"userType":   claims.UserType,
			"sessionId":  claims.SessionID,
		},
	})
}

type disconnectReq struct {
	SessionID string `json:"sessionId"`
}

// Disconnect handles POST /api/web-session/disconnect (bearer required).
func (h *Handler) Disconnect(c *gin.Context) {
	var req disconnectReq
	_ = c.ShouldBindJSON(&req)
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "sessionId is required"})
		return
	}

	if err := h.engine.Disconnect(c.Request.Context(), req.SessionID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "session disconnected"})
}

// ActiveSessions handles GET /api/web-session/active (bearer required): the
// caller's live active sessions.
func (h *Handler) ActiveSessions(c *gin.Context) {
	claims := midsec.ClaimsFrom(c)
	if claims == nil || claims.TeacherID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing bearer token"})
		return
	}

	sessions, err := h.engine.ActiveSessions(c.Request.Context(), claims.TeacherID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}

// respondError maps the error taxonomy onto the HTTP boundary; internal
// detail is logged, never returned to the client.
func (h *Handler) respondError(c *gin.Context, err error) {
	code := errs.Code(err)
	if code == errs.ServerInternalError {
		logger.Error("handshake request failed", zap.Error(err))
	} else {
		logger.Debug("handshake request rejected", zap.Error(err))
	}
	c.JSON(code, gin.H{"success": false, "message": errs.Msg(err)})
}
