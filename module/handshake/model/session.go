package model

import "time"

// UserType enum for a session's subject.
const (
	UserTypeTeacher = "teacher"
	UserTypeAdmin   = "admin"
)

func ValidUserType(t string) bool {
	return t == UserTypeTeacher || t == UserTypeAdmin
}

// WebSession tracks one QR-initiated login attempt. A session is inserted
// inactive by the web client and flipped active exactly once per claim by the
// handshake engine. Every read path filters on expires_at, so an expired row
// is as good as deleted whether or not the reaper has purged it.
type WebSession struct {
	SessionID string `bson:"session_id" json:"sessionId"` // globally unique, immutable
	UserID    string `bson:"user_id,omitempty" json:"userId,omitempty"`
	UserType  string `bson:"user_type" json:"userType"`
	TeacherID string `bson:"teacher_id,omitempty" json:"teacherId,omitempty"` // external id of the claiming teacher
	CompanyID string `bson:"company_id,omitempty" json:"companyId,omitempty"` // tenant the session was created under
	DeviceID  string `bson:"device_id,omitempty" json:"deviceId,omitempty"`   // bound on first claim
	IsActive  bool   `bson:"is_active" json:"isActive"`

	IP        string `bson:"ip,omitempty" json:"-"`
	UserAgent string `bson:"user_agent,omitempty" json:"-"`

	LastActivity time.Time `bson:"last_activity" json:"lastActivity"`
	ExpiresAt    time.Time `bson:"expires_at" json:"expiresAt"`
	CreateTime   time.Time `bson:"create_time" json:"createdAt"`
	UpdateTime   time.Time `bson:"update_time" json:"-"`
}

func (WebSession) GetTableName() string {
	return "web_sessions"
}
