package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"QRGate/module/handshake/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemorySessionStore is a mutex-guarded SessionStore for tests and for
// running the service without a database. It mirrors the Mongo repo's
// semantics, including the expiry predicate on every read.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.WebSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*model.WebSession)}
}

func copySession(s *model.WebSession) *model.WebSession {
	cp := *s
	return &cp
}

func (m *MemorySessionStore) Insert(_ context.Context, s *model.WebSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = copySession(s)
	return nil
}

func (m *MemorySessionStore) FindLive(_ context.Context, sessionID string, now time.Time) (*model.WebSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.ExpiresAt.After(now) {
		return nil, nil
	}
	return copySession(s), nil
}

func (m *MemorySessionStore) FindActiveByTeacherDevice(_ context.Context, teacherID, deviceID, excludeSessionID string, now time.Time) (*model.WebSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.SessionID == excludeSessionID {
			continue
		}
		if s.IsActive && s.TeacherID == teacherID && s.DeviceID == deviceID && s.ExpiresAt.After(now) {
			return copySession(s), nil
		}
	}
	return nil, nil
}

func (m *MemorySessionStore) Activate(_ context.Context, sessionID string, act Activation, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.ExpiresAt.After(now) {
		return false, nil
	}
	s.UserID = act.UserID
	s.TeacherID = act.TeacherID
	s.DeviceID = act.DeviceID
	s.IsActive = true
	s.IP = act.IP
	s.UserAgent = act.UserAgent
	s.LastActivity = now
	s.UpdateTime = now
	return true, nil
}

func (m *MemorySessionStore) Touch(_ context.Context, sessionID, ip, userAgent string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.ExpiresAt.After(now) {
		return false, nil
	}
	s.IP = ip
	s.UserAgent = userAgent
	s.LastActivity = now
	s.UpdateTime = now
	return true, nil
}

func (m *MemorySessionStore) Deactivate(_ context.Context, sessionID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, nil
	}
	s.IsActive = false
	s.UpdateTime = now
	return true, nil
}

func (m *MemorySessionStore) ListActiveByTeacher(_ context.Context, teacherID string, now time.Time) ([]model.WebSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WebSession
	for _, s := range m.sessions {
		if s.IsActive && s.TeacherID == teacherID && s.ExpiresAt.After(now) {
			out = append(out, *copySession(s))
		}
	}
	return out, nil
}

func (m *MemorySessionStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Get returns the raw session regardless of expiry, for assertions in tests.
func (m *MemorySessionStore) Get(sessionID string) (*model.WebSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return copySession(s), true
}

// MemoryTeacherStore is the TeacherStore counterpart.
type MemoryTeacherStore struct {
	mu       sync.Mutex
	teachers map[primitive.ObjectID]*model.Teacher
}

func NewMemoryTeacherStore() *MemoryTeacherStore {
	return &MemoryTeacherStore{teachers: make(map[primitive.ObjectID]*model.Teacher)}
}

func copyTeacher(t *model.Teacher) *model.Teacher {
	cp := *t
	cp.CompanyIDs = append([]string(nil), t.CompanyIDs...)
	return &cp
}

// Add seeds a teacher, assigning an id when absent, and returns the stored
// copy.
func (m *MemoryTeacherStore) Add(t model.Teacher) model.Teacher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	m.teachers[t.ID] = copyTeacher(&t)
	return t
}

func (m *MemoryTeacherStore) FindByTeacherID(_ context.Context, externalID string) (*model.Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teachers {
		if strings.EqualFold(t.TeacherID, externalID) {
			return copyTeacher(t), nil
		}
	}
	return nil, nil
}

func (m *MemoryTeacherStore) AddCompany(_ context.Context, id primitive.ObjectID, companyID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teachers[id]
	if !ok {
		return false, nil
	}
	for _, c := range t.CompanyIDs {
		if c == companyID {
			return false, nil
		}
	}
	t.CompanyIDs = append(t.CompanyIDs, companyID)
	return true, nil
}

// Get returns the stored teacher by id, for assertions in tests.
func (m *MemoryTeacherStore) Get(id primitive.ObjectID) (*model.Teacher, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teachers[id]
	if !ok {
		return nil, false
	}
	return copyTeacher(t), true
}
