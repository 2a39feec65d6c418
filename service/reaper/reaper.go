package reaper

import (
	"context"
	"time"

	"QRGate/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Purger physically removes expired session rows. Correctness never depends
// on it running: every read path already filters on expiry.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

const (
	defaultInterval = time.Minute
	lockKey         = "webauth:reaper:lock"
)

// Reaper periodically purges expired sessions. With Redis available it takes
// a short SET NX lock so only one instance sweeps per interval; without it,
// every instance sweeps, which is merely redundant work.
type Reaper struct {
	purger   Purger
	rdb      *redis.Client // optional
	interval time.Duration
	now      func() time.Time
}

func New(p Purger, rdb *redis.Client) *Reaper {
	return &Reaper{
		purger:   p,
		rdb:      rdb,
		interval: defaultInterval,
		now:      time.Now,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	if r.rdb != nil {
		ok, err := r.rdb.SetNX(ctx, lockKey, "1", r.interval).Result()
		if err != nil {
			logger.Warn("reaper lock unavailable, sweeping anyway", zap.Error(err))
		} else if !ok {
			return // another instance holds the sweep
		}
	}

	n, err := r.purger.PurgeExpired(ctx, r.now())
	if err != nil {
		logger.Warn("expired session purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("purged expired sessions", zap.Int64("count", n))
	}
}
