package mgo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mongoutil "QRGate/data/database/mgo/mongoutil"
	"QRGate/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Manager owns the database handle and its reconnect policy. It is
// constructed in main and passed by reference to the repositories; there is
// no package-level connection singleton.
type Manager struct {
	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // closed exactly once, on first successful connect
	readyOnce sync.Once

	lastErr atomic.Value // error
}

func NewManager() *Manager {
	return &Manager{readyCh: make(chan struct{})}
}

// StartAsync runs until ctx is done: connect with exponential backoff, then
// health-check; on repeated ping failures drop the handle and reconnect.
func (m *Manager) StartAsync(ctx context.Context, cfg *mongoutil.Config) {
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second
			failThresh  = 3
		)

		for {
			// connect phase
			attempt := 0
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				cli, err := mongoutil.NewMongoDB(ctx, cfg)
				if err == nil {
					m.mu.Lock()
					m.client = cli
					m.mu.Unlock()

					m.readyOnce.Do(func() { close(m.readyCh) })
					break
				}

				m.lastErr.Store(err)
				logger.Warn("mongo connect failed, backing off", zap.Error(err))

				backoff := baseBackoff << attempt
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				jitter := time.Duration(rand.Int63n(int64(backoff / 5)))
				sleep := backoff - jitter/2

				timer := time.NewTimer(sleep)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				if attempt < 6 {
					attempt++
				}
			}

			// health phase
			fail := 0
			healthTicker := time.NewTicker(healthEvery)
			func() {
				defer healthTicker.Stop()
				for {
					select {
					case <-ctx.Done():
						m.mu.Lock()
						if m.client != nil {
							_ = m.client.GetDB().Client().Disconnect(context.Background())
							m.client = nil
						}
						m.mu.Unlock()
						return
					case <-healthTicker.C:
						m.mu.RLock()
						c := m.client
						m.mu.RUnlock()

						if c == nil {
							return
						}
						if err := c.GetDB().Client().Ping(ctx, nil); err != nil {
							fail++
							m.lastErr.Store(err)
							if fail >= failThresh {
								logger.Error("mongo unhealthy, reconnecting", zap.Error(err))
								m.mu.Lock()
								if m.client != nil {
									_ = m.client.GetDB().Client().Disconnect(context.Background())
									m.client = nil
								}
								m.mu.Unlock()
								return
							}
						} else {
							fail = 0
						}
					}
				}
			}() // back to the outer loop for reconnect
		}
	}()
}

// WaitReady blocks until the first successful connect or ctx is done.
func (m *Manager) WaitReady(ctx context.Context) error {
	m.mu.RLock()
	clientNil := m.client == nil
	m.mu.RUnlock()

	if !clientNil {
		return nil
	}
	if m.readyCh == nil {
		return fmt.Errorf("mongo manager not started")
	}

	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) DB() *mongo.Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		panic("Mongo not ready: wait WaitReady() or use TryDB()")
	}
	return m.client.GetDB()
}

func (m *Manager) TryDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

// Err returns the most recent connection error.
func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}
