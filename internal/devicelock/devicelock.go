// Package devicelock serialises runs against the same device.
package devicelock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/andrej220/devbackup/internal/lg"
)

type Mode string

const (
	ModeNone  Mode = "none"
	ModeLocal Mode = "local"
	ModeRedis Mode = "redis"

	defaultTTL   = 10 * time.Minute
	defaultRetry = 250 * time.Millisecond
	keyPrefix    = "DEVBACKUP_LOCK|"
)

type Config struct {
	Mode      Mode          `yaml:"mode" json:"mode" bson:"mode" validate:"omitempty,oneof=none local redis"`
	RedisAddr string        `yaml:"redisAddr" json:"redisAddr" bson:"redisAddr" validate:"required_if=Mode redis"`
	RedisDB   int           `yaml:"redisDB" json:"redisDB" bson:"redisDB"`
	TTL       time.Duration `yaml:"ttl" json:"ttl" bson:"ttl"`
	Retry     time.Duration `yaml:"retry" json:"retry" bson:"retry"`
}

// Release gives the lock back. Calling it more than once is harmless.
type Release func()

// Locker hands out per-device locks. Lock blocks until the lock is held or
// ctx is done.
type Locker interface {
	Lock(ctx context.Context, nodeID string) (Release, error)
}

func New(cfg Config, log lg.Logger) (Locker, error) {
	switch cfg.Mode {
	case "", ModeNone:
		return None{}, nil
	case ModeLocal:
		return NewLocal(), nil
	case ModeRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return NewRedis(client, cfg.TTL, cfg.Retry, log), nil
	default:
		return nil, fmt.Errorf("unknown device lock mode %q", cfg.Mode)
	}
}

type None struct{}

func (None) Lock(context.Context, string) (Release, error) { return func() {}, nil }

// Local locks within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

func (l *Local) Lock(ctx context.Context, nodeID string) (Release, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[nodeID]
		if !busy {
			done := make(chan struct{})
			l.held[nodeID] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, nodeID)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis locks across processes with a SETNX lease. An expired lease is lost
// silently; TTL must exceed the longest device run.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	log    lg.Logger
}

func NewRedis(client *redis.Client, ttl, retry time.Duration, log lg.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if retry <= 0 {
		retry = defaultRetry
	}
	if log == nil {
		log = lg.Discard
	}
	return &Redis{client: client, ttl: ttl, retry: retry, log: log}
}

func (r *Redis) Lock(ctx context.Context, nodeID string) (Release, error) {
	key := keyPrefix + nodeID
	token := uuid.NewString()
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock for node %s: %w", nodeID, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
				r.log.Warn("can't release device lock", lg.String("node_id", nodeID), lg.Err(err))
			}
		})
	}, nil
}

func (r *Redis) Close() error { return r.client.Close() }
