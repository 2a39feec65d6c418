package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config for the optional Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// New connects and pings. The caller owns the returned client; Redis is an
// optional coordination aid here, never a correctness dependency.
func New(c Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
