package store

import (
	"context"
	"errors"
	"regexp"
	"time"

	"QRGate/module/handshake/model"
	"QRGate/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Activation is the field set written when a claim flips a session active.
type Activation struct {
	UserID    string
	TeacherID string
	DeviceID  string
	IP        string
	UserAgent string
}

// SessionStore is the session persistence contract. Absent records come back
// as (nil, nil); only storage faults come back as errors. Every read filters
// on expires_at > now, so expired rows are invisible whether or not the
// reaper has purged them.
type SessionStore interface {
	Insert(ctx context.Context, s *model.WebSession) error
	FindLive(ctx context.Context, sessionID string, now time.Time) (*model.WebSession, error)
	// FindActiveByTeacherDevice looks for an already-active live session bound
	// to the same teacher and device, excluding the session being claimed.
	FindActiveByTeacherDevice(ctx context.Context, teacherID, deviceID, excludeSessionID string, now time.Time) (*model.WebSession, error)
	// Activate conditionally flips a live session active; returns false when
	// the session is gone or expired.
	Activate(ctx context.Context, sessionID string, act Activation, now time.Time) (bool, error)
	// Touch refreshes activity time and client metadata on a live session.
	Touch(ctx context.Context, sessionID, ip, userAgent string, now time.Time) (bool, error)
	Deactivate(ctx context.Context, sessionID string, now time.Time) (bool, error)
	ListActiveByTeacher(ctx context.Context, teacherID string, now time.Time) ([]model.WebSession, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// TeacherStore resolves and mutates the claiming identity.
type TeacherStore interface {
	// FindByTeacherID matches the external identifier case-insensitively.
	FindByTeacherID(ctx context.Context, externalID string) (*model.Teacher, error)
	// AddCompany is an atomic, idempotent set-insert; reports whether the
	// membership was actually added.
	AddCompany(ctx context.Context, id primitive.ObjectID, companyID string) (bool, error)
}

const (
	maxAttempts = 3
	baseDelay   = 100 * time.Millisecond
)

// withRetry retries transient storage faults with exponential backoff, then
// surfaces them as ErrStorage. Not-found is handled by the callers and never
// reaches here as an error.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		// no point backing off once the attempt budget is spent
		if !retryable(ctx, err) || i == maxAttempts-1 {
			break
		}
		delay := baseDelay << i
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errs.ErrStorage.WrapMsg(op, "err", ctx.Err().Error())
		case <-timer.C:
		}
	}
	return errs.ErrStorage.WrapMsg(op, "err", err.Error())
}

func retryable(ctx context.Context, err error) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	if mongo.IsDuplicateKeyError(err) {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != 13 && cmdErr.Code != 18
	}
	return true
}

// DBProvider resolves the current database handle, reporting false while the
// connection manager is between clients. The repos go through it on every
// operation so a reconnect swaps the handle under them instead of leaving them
// on a disconnected client.
type DBProvider func() (*mongo.Database, bool)

// SessionRepo is the Mongo implementation of SessionStore.
type SessionRepo struct {
	db DBProvider
}

func NewSessionRepo(db DBProvider) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) coll() (*mongo.Collection, error) {
	db, ok := r.db()
	if !ok {
		return nil, errs.New("mongo not ready")
	}
	return db.Collection(model.WebSession{}.GetTableName()), nil
}

func (r *SessionRepo) Insert(ctx context.Context, s *model.WebSession) error {
	return withRetry(ctx, "session insert", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		_, err = coll.InsertOne(ctx, s)
		return err
	})
}

func (r *SessionRepo) FindLive(ctx context.Context, sessionID string, now time.Time) (*model.WebSession, error) {
	var out *model.WebSession
	err := withRetry(ctx, "session find", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		var s model.WebSession
		err = coll.FindOne(ctx, bson.M{
			"session_id": sessionID,
			"expires_at": bson.M{"$gt": now},
		}).Decode(&s)
		if errors.Is(err, mongo.ErrNoDocuments) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *SessionRepo) FindActiveByTeacherDevice(ctx context.Context, teacherID, deviceID, excludeSessionID string, now time.Time) (*model.WebSession, error) {
	var out *model.WebSession
	err := withRetry(ctx, "session find by device", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		var s model.WebSession
		err = coll.FindOne(ctx, bson.M{
			"teacher_id": teacherID,
			"device_id":  deviceID,
			"is_active":  true,
			"session_id": bson.M{"$ne": excludeSessionID},
			"expires_at": bson.M{"$gt": now},
		}).Decode(&s)
		if errors.Is(err, mongo.ErrNoDocuments) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *SessionRepo) Activate(ctx context.Context, sessionID string, act Activation, now time.Time) (bool, error) {
	var matched bool
	err := withRetry(ctx, "session activate", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		res, err := coll.UpdateOne(ctx,
			bson.M{"session_id": sessionID, "expires_at": bson.M{"$gt": now}},
			bson.M{"$set": bson.M{
				"user_id":       act.UserID,
				"teacher_id":    act.TeacherID,
				"device_id":     act.DeviceID,
				"is_active":     true,
				"ip":            act.IP,
				"user_agent":    act.UserAgent,
				"last_activity": now,
				"update_time":   now,
			}},
		)
		if err != nil {
			return err
		}
		matched = res.MatchedCount > 0
		return nil
	})
	return matched, err
}

func (r *SessionRepo) Touch(ctx context.Context, sessionID, ip, userAgent string, now time.Time) (bool, error) {
	var matched bool
	err := withRetry(ctx, "session touch", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		res, err := coll.UpdateOne(ctx,
			bson.M{"session_id": sessionID, "expires_at": bson.M{"$gt": now}},
			bson.M{"$set": bson.M{
				"ip":            ip,
				"user_agent":    userAgent,
				"last_activity": now,
				"update_time":   now,
			}},
		)
		if err != nil {
			return err
		}
		matched = res.MatchedCount > 0
		return nil
	})
	return matched, err
}

func (r *SessionRepo) Deactivate(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	var matched bool
	err := withRetry(ctx, "session deactivate", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		res, err := coll.UpdateOne(ctx,
			bson.M{"session_id": sessionID},
			bson.M{"$set": bson.M{"is_active": false, "update_time": now}},
		)
		if err != nil {
			return err
		}
		matched = res.MatchedCount > 0
		return nil
	})
	return matched, err
}

func (r *SessionRepo) ListActiveByTeacher(ctx context.Context, teacherID string, now time.Time) ([]model.WebSession, error) {
	var out []model.WebSession
	err := withRetry(ctx, "session list active", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		cur, err := coll.Find(ctx, bson.M{
			"teacher_id": teacherID,
			"is_active":  true,
			"expires_at": bson.M{"$gt": now},
		})
		if err != nil {
			return err
		}
		out = out[:0]
		return cur.All(ctx, &out)
	})
	return out, err
}

func (r *SessionRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := withRetry(ctx, "session purge", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		res, err := coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
		if err != nil {
			return err
		}
		n = res.DeletedCount
		return nil
	})
	return n, err
}

// TeacherRepo is the Mongo implementation of TeacherStore.
type TeacherRepo struct {
	db DBProvider
}

func NewTeacherRepo(db DBProvider) *TeacherRepo {
	return &TeacherRepo{db: db}
}

func (r *TeacherRepo) coll() (*mongo.Collection, error) {
	db, ok := r.db()
	if !ok {
		return nil, errs.New("mongo not ready")
	}
	return db.Collection(model.Teacher{}.GetTableName()), nil
}

func (r *TeacherRepo) FindByTeacherID(ctx context.Context, externalID string) (*model.Teacher, error) {
	var out *model.Teacher
	err := withRetry(ctx, "teacher find", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		var t model.Teacher
		err = coll.FindOne(ctx, bson.M{
			"teacher_id": primitive.Regex{
				Pattern: "^" + regexp.QuoteMeta(externalID) + "$",
				Options: "i",
			},
		}).Decode(&t)
		if errors.Is(err, mongo.ErrNoDocuments) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *TeacherRepo) AddCompany(ctx context.Context, id primitive.ObjectID, companyID string) (bool, error) {
	var added bool
	err := withRetry(ctx, "teacher add company", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		res, err := coll.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$addToSet": bson.M{"company_ids": companyID}},
		)
		if err != nil {
			return err
		}
		added = res.ModifiedCount > 0
		return nil
	})
	if err != nil || !added {
		return added, err
	}
	// refresh audit time only when the set actually grew
	_ = withRetry(ctx, "teacher touch", func() error {
		coll, err := r.coll()
		if err != nil {
			return err
		}
		_, err = coll.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{"update_time": time.Now()}},
		)
		return err
	})
	return added, nil
}
