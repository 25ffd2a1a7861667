package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisTier is the optional L2 backing store for byte-valued cache entries.
// Every error is downgraded to a miss with a warning; an unreachable backing
// store must never block analysis.
type RedisTier struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewRedisTier connects to Redis at addr. The connection is verified once at
// startup; a failed ping returns an error so the caller can decide to run
// without an L2.
func NewRedisTier(addr, password string, db int, log *logrus.Logger) (*RedisTier, error) {
	if log == nil {
		log = logrus.New()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("governor: redis tier unavailable: %w", err)
	}

	return &RedisTier{
		client: client,
		log:    log.WithField("component", "governor.redis"),
	}, nil
}

// Close releases the underlying connection pool.
func (t *RedisTier) Close() error {
	return t.client.Close()
}

func tierKey(ns Namespace, key string) string {
	return "committee:" + string(ns) + ":" + key
}

func (t *RedisTier) get(ctx context.Context, ns Namespace, key string) ([]byte, time.Duration, bool) {
	full := tierKey(ns, key)
	data, err := t.client.Get(ctx, full).Bytes()
	if err != nil {
		if err != redis.Nil {
			t.log.WithError(err).Warn("L2 read failed, treating as miss")
		}
		return nil, 0, false
	}
	ttl, err := t.client.TTL(ctx, full).Result()
	if err != nil || ttl <= 0 {
		ttl = time.Minute
	}
	return data, ttl, true
}

func (t *RedisTier) set(ctx context.Context, ns Namespace, key string, data []byte, ttl time.Duration) {
	if err := t.client.Set(ctx, tierKey(ns, key), data, ttl).Err(); err != nil {
		t.log.WithError(err).Warn("L2 write failed, continuing uncached")
	}
}

func (t *RedisTier) invalidate(ctx context.Context, ns Namespace, key string) {
	if key == "*" {
		pattern := tierKey(ns, "*")
		iter := t.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := t.client.Del(ctx, iter.Val()).Err(); err != nil {
				t.log.WithError(err).Warn("L2 purge failed")
				return
			}
		}
		if err := iter.Err(); err != nil {
			t.log.WithError(err).Warn("L2 purge scan failed")
		}
		return
	}
	if err := t.client.Del(ctx, tierKey(ns, key)).Err(); err != nil {
		t.log.WithError(err).Warn("L2 delete failed")
	}
}
