package service

import (
	"context"
	"time"

	"QRGate/logger"
	"QRGate/module/handshake/model"
	"QRGate/module/handshake/store"
	"QRGate/tools/errs"
	"QRGate/tools/qr"
	"QRGate/tools/security"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionTTL is the create-to-expiry window of a handshake session.
const SessionTTL = 5 * time.Minute

// fallbackDeviceID stands in when the mobile client sends no device id.
const fallbackDeviceID = "mobile-app"

// Notifier pushes an event to web clients subscribed to a session, e.g. over
// a websocket. Claim results do not depend on it.
type Notifier interface {
	Publish(sessionID string, v any)
}

// Engine owns the session lifecycle: PENDING --claim--> ACTIVE, rebind on a
// claim from another device, implicit EXPIRED once expires_at passes. All
// session and teacher mutations go through independent atomic store
// operations; the engine never does read-modify-write on shared state.
type Engine struct {
	sessions store.SessionStore
	teachers store.TeacherStore
	jwt      security.Options
	notifier Notifier
	now      func() time.Time
}

type Option func(*Engine)

// WithNotifier attaches an event push channel for claimed sessions.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(sessions store.SessionStore, teachers store.TeacherStore, jwt security.Options, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		teachers: teachers,
		jwt:      jwt,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type CreateResult struct {
	SessionID string
	QRCode    string // PNG data URL
	ExpiresAt time.Time
}

// CreateSession inserts a fresh pending session and renders its QR payload.
func (e *Engine) CreateSession(ctx context.Context, userType string) (*CreateResult, error) {
	if userType == "" {
		userType = model.UserTypeTeacher
	}
	if !model.ValidUserType(userType) {
		return nil, errs.ErrArgs.WrapMsg("unknown user type", "user_type", userType)
	}

	now := e.now()
	sess := &model.WebSession{
		SessionID:    uuid.NewString(),
		UserType:     userType,
		IsActive:     false,
		ExpiresAt:    now.Add(SessionTTL),
		LastActivity: now,
		CreateTime:   now,
		UpdateTime:   now,
	}
	if err := e.sessions.Insert(ctx, sess); err != nil {
		return nil, err
	}

	dataURL, err := qr.DataURL(qr.NewPayload(sess.SessionID, userType, now))
	if err != nil {
		return nil, err
	}

	logger.Debug("session created",
		zap.String("session_id", sess.SessionID),
		zap.String("user_type", userType),
		zap.Time("expires_at", sess.ExpiresAt))

	return &CreateResult{
		SessionID: sess.SessionID,
		QRCode:    dataURL,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

type ClaimInput struct {
	SessionID string
	TeacherID string // external identifier, matched case-insensitively
	DeviceID  string
	IP        string
	UserAgent string
}

type ClaimResult struct {
	SessionID    string
	Token        string
	TokenExpires time.Time
	Teacher      *model.Teacher
	// Merged is set when the scanned session was folded into an already
	// active session on the same device.
	Merged bool
}

// ClaimSession is the mobile-side claim. Decision order: resolve the teacher,
// short-circuit into an existing live session on the same device, otherwise
// locate the scanned session, associate the tenant, activate, and issue the
// assertion.
func (e *Engine) ClaimSession(ctx context.Context, in ClaimInput) (*ClaimResult, error) {
	if in.SessionID == "" || in.TeacherID == "" {
		return nil, errs.ErrArgs.WrapMsg("sessionId and teacherId are required")
	}
	deviceID := in.DeviceID
	if deviceID == "" {
		deviceID = fallbackDeviceID
	}
	now := e.now()

	// a missing teacher is a client error independent of session state, so it
	// is checked before the session record is touched
	teacher, err := e.teachers.FindByTeacherID(ctx, in.TeacherID)
	if err != nil {
		return nil, err
	}
	if teacher == nil {
		return nil, errs.ErrTeacherNotFound.WrapMsg("claim", "teacher_id", in.TeacherID)
	}

	// device-rebind short-circuit: this device already holds a live active
	// session for this teacher, so the scanned session merges into it instead
	// of piling up another active one
	existing, err := e.sessions.FindActiveByTeacherDevice(ctx, teacher.TeacherID, deviceID, in.SessionID, now)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.mergeIntoExisting(ctx, existing, teacher, deviceID, in, now)
	}

	sess, err := e.sessions.FindLive(ctx, in.SessionID, now)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errs.ErrSessionNotFound.WrapMsg("claim", "session_id", in.SessionID)
	}

	if sess.IsActive && sess.UserID != "" && sess.DeviceID != "" {
		if sess.DeviceID != deviceID {
			logger.Warn("session re-authenticated from a different device",
				zap.String("session_id", sess.SessionID),
				zap.String("bound_device", sess.DeviceID),
				zap.String("claiming_device", deviceID))
		} else {
			logger.Debug("idempotent re-claim from the bound device",
				zap.String("session_id", sess.SessionID),
				zap.String("device_id", deviceID))
		}
	}

	// tenant association: atomic set-insert, idempotent under repeated and
	// concurrent claims
	if sess.CompanyID != "" {
		added, err := e.teachers.AddCompany(ctx, teacher.ID, sess.CompanyID)
		if err != nil {
			return nil, err
		}
		if added {
			logger.Info("teacher associated with company",
				zap.String("teacher_id", teacher.TeacherID),
				zap.String("company_id", sess.CompanyID))
		} else {
			logger.Debug("teacher already belongs to company",
				zap.String("teacher_id", teacher.TeacherID),
				zap.String("company_id", sess.CompanyID))
		}
		if !teacher.HasCompany(sess.CompanyID) {
			teacher.CompanyIDs = append(teacher.CompanyIDs, sess.CompanyID)
		}
	}

	matched, err := e.sessions.Activate(ctx, sess.SessionID, store.Activation{
		UserID:    teacher.ID.Hex(),
		TeacherID: teacher.TeacherID,
		DeviceID:  deviceID,
		IP:        in.IP,
		UserAgent: in.UserAgent,
	}, now)
	if err != nil {
		return nil, err
	}
	if !matched {
		// the session expired between the read and the write
		return nil, errs.ErrSessionNotFound.WrapMsg("claim", "session_id", in.SessionID)
	}

	token, exp, err := e.issueFor(teacher, sess.SessionID)
	if err != nil {
		return nil, err
	}

	e.publish(sess.SessionID, teacher, token)
	logger.Info("session claimed",
		zap.String("session_id", sess.SessionID),
		zap.String("teacher_id", teacher.TeacherID),
		zap.String("device_id", deviceID))

	return &ClaimResult{
		SessionID:    sess.SessionID,
		Token:        token,
		TokenExpires: exp,
		Teacher:      teacher,
	}, nil
}

// mergeIntoExisting refreshes the pre-existing session, activates the freshly
// scanned one under the same identity, and returns the assertion keyed to the
// pre-existing session.
func (e *Engine) mergeIntoExisting(ctx context.Context, existing *model.WebSession, teacher *model.Teacher, deviceID string, in ClaimInput, now time.Time) (*ClaimResult, error) {
	if _, err := e.sessions.Touch(ctx, existing.SessionID, in.IP, in.UserAgent, now); err != nil {
		return nil, err
	}

	scanned, err := e.sessions.FindLive(ctx, in.SessionID, now)
	if err != nil {
		return nil, err
	}
	if scanned != nil {
		activated, err := e.sessions.Activate(ctx, scanned.SessionID, store.Activation{
			UserID:    teacher.ID.Hex(),
			TeacherID: teacher.TeacherID,
			DeviceID:  deviceID,
			IP:        in.IP,
			UserAgent: in.UserAgent,
		}, now)
		if err != nil {
			return nil, err
		}
		if activated {
			logger.Debug("scanned session activated alongside existing one",
				zap.String("scanned_session_id", scanned.SessionID),
				zap.String("existing_session_id", existing.SessionID))
		}
	}

	token, exp, err := e.issueFor(teacher, existing.SessionID)
	if err != nil {
		return nil, err
	}

	if scanned != nil {
		e.publish(scanned.SessionID, teacher, token)
	}
	logger.Info("claim merged into existing device session",
		zap.String("session_id", existing.SessionID),
		zap.String("teacher_id", teacher.TeacherID),
		zap.String("device_id", deviceID))

	return &ClaimResult{
		SessionID:    existing.SessionID,
		Token:        token,
		TokenExpires: exp,
		Teacher:      teacher,
		Merged:       true,
	}, nil
}

type PollResult struct {
	Authenticated bool
	Token         string
	Teacher       *model.Teacher
	Session       *model.WebSession
}

// PollSession is the web-side status check. It never mutates state and always
// mints a fresh assertion once the session is active.
func (e *Engine) PollSession(ctx context.Context, sessionID string) (*PollResult, error) {
	if sessionID == "" {
		return nil, errs.ErrArgs.WrapMsg("sessionId is required")
	}
	now := e.now()

	sess, err := e.sessions.FindLive(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errs.ErrSessionNotFound.WrapMsg("poll", "session_id", sessionID)
	}

	if !sess.IsActive || sess.UserID == "" {
		return &PollResult{Authenticated: false}, nil
	}

	teacher, err := e.teachers.FindByTeacherID(ctx, sess.TeacherID)
	if err != nil {
		return nil, err
	}
	if teacher == nil {
		return nil, errs.ErrTeacherNotFound.WrapMsg("poll", "teacher_id", sess.TeacherID)
	}

	token, _, err := e.issueFor(teacher, sess.SessionID)
	if err != nil {
		return nil, err
	}

	return &PollResult{
		Authenticated: true,
		Token:         token,
		Teacher:       teacher,
		Session:       sess,
	}, nil
}

// Disconnect deactivates a session, the logout path of the web client.
func (e *Engine) Disconnect(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errs.ErrArgs.WrapMsg("sessionId is required")
	}
	matched, err := e.sessions.Deactivate(ctx, sessionID, e.now())
	if err != nil {
		return err
	}
	if !matched {
		return errs.ErrSessionNotFound.WrapMsg("disconnect", "session_id", sessionID)
	}
	logger.Info("session disconnected", zap.String("session_id", sessionID))
	return nil
}

// ActiveSessions lists the live active sessions bound to a teacher.
func (e *Engine) ActiveSessions(ctx context.Context, teacherID string) ([]model.WebSession, error) {
	if teacherID == "" {
		return nil, errs.ErrArgs.WrapMsg("teacherId is required")
	}
	return e.sessions.ListActiveByTeacher(ctx, teacherID, e.now())
}

// VerifyToken validates a previously issued assertion; it fails closed.
func (e *Engine) VerifyToken(token string) (*security.AuthClaims, error) {
	return security.Verify(e.jwt, token)
}

func (e *Engine) issueFor(teacher *model.Teacher, sessionID string) (string, time.Time, error) {
	return security.Generate(e.jwt, security.AuthClaims{
		UserID:     teacher.ID.Hex(),
		TeacherID:  teacher.TeacherID,
		Email:      teacher.Email,
		CompanyIDs: teacher.CompanyIDs,
		UserType:   model.UserTypeTeacher,
		SessionID:  sessionID,
	})
}

// AuthenticatedEvent is pushed to websocket subscribers of a session once a
// claim succeeds.
type AuthenticatedEvent struct {
	Authenticated bool           `json:"authenticated"`
	SessionID     string         `json:"sessionId"`
	Token         string         `json:"token"`
	Teacher       *model.Teacher `json:"teacher"`
}

func (e *Engine) publish(sessionID string, teacher *model.Teacher, token string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(sessionID, AuthenticatedEvent{
		Authenticated: true,
		SessionID:     sessionID,
		Token:         token,
		Teacher:       teacher,
	})
}
