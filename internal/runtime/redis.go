package runtime

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/wellsession/config"
)

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

const (
	revokedPrefix = "auth:revoked:"
	failPrefix    = "auth:fail:"
)

// TokenRevoker keeps revoked token ids in redis until the token expires.
type TokenRevoker struct {
	Rdb *redis.Client
}

func (r *TokenRevoker) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if jti == "" || ttl <= 0 {
		return nil
	}
	return r.Rdb.Set(ctx, revokedPrefix+jti, "1", ttl).Err()
}

func (r *TokenRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.Rdb.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LoginLimiter counts failed logins per email and locks the email out once
// Max failures happen within Window. Max <= 0 disables it.
type LoginLimiter struct {
	Rdb    *redis.Client
	Max    int
	Window time.Duration
}

// Locked reports whether email is locked out and for how long.
func (l *LoginLimiter) Locked(ctx context.Context, email string) (bool, time.Duration, error) {
	if l == nil || l.Max <= 0 {
		return false, 0, nil
	}
	key := failPrefix + email
	n, err := l.Rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if n < l.Max {
		return false, 0, nil
	}
	ttl, err := l.Rdb.TTL(ctx, key).Result()
	if err != nil {
		return true, l.Window, nil
	}
	return true, ttl, nil
}

// Fail records a failed attempt. The window starts at the first failure.
func (l *LoginLimiter) Fail(ctx context.Context, email string) error {
	if l == nil || l.Max <= 0 {
		return nil
	}
	key := failPrefix + email
	pipe := l.Rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.Window)
	_, err := pipe.Exec(ctx)
	return err
}

// Reset clears the failure count after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, email string) error {
	if l == nil || l.Max <= 0 {
		return nil
	}
	return l.Rdb.Del(ctx, failPrefix+email).Err()
}
