package revocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"
)

const defaultPrefix = "revoked"

// Redis is a Set shared by every process pointed at the same server. Keys
// carry a TTL equal to the remaining token lifetime, so Redis does the pruning.
type Redis struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

func NewRedis(client *red.Client, keyPrefix string) *Redis {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	key := r.key(jti)
	if key == "" {
		return ErrEmptyJTI
	}
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(r.now())
		if ttl <= 0 {
			return nil
		}
	}
	if err := r.client.Set(ctx, key, expiresAt.UTC().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked jti: %w", err)
	}
	return nil
}

func (r *Redis) Contains(ctx context.Context, jti string) (bool, error) {
	key := r.key(jti)
	if key == "" {
		return false, ErrEmptyJTI
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists revoked jti: %w", err)
	}
	return n > 0, nil
}

// Prune is a no-op: expired keys are evicted by Redis.
func (r *Redis) Prune(context.Context) (int, error) { return 0, nil }

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) key(jti string) string {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return ""
	}
	return r.prefix + ":" + jti
}
