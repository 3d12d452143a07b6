package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "devicestream:grant:"

// RedisOptions configures a Redis store
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// TTL bounds how long tokens are redeemable (default: DefaultTTL)
	TTL time.Duration

	// KeyPrefix namespaces the keys (default: devicestream:grant:)
	KeyPrefix string
}

// Redis is a GrantStore shared by every gateway instance using the same server
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to Redis and checks the connection
func NewRedis(ctx context.Context, opts *RedisOptions) (*Redis, error) {
	if opts == nil || opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &Redis{client: client, ttl: ttl, prefix: prefix}, nil
}

// Put implements GrantStore
func (r *Redis) Put(ctx context.Context, token string, g *Grant) error {
	g.ExpiresAt = time.Now().Add(r.ttl)

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+token, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Take implements GrantStore. GETDEL makes redemption atomic across instances.
func (r *Redis) Take(ctx context.Context, token string) (*Grant, error) {
	val, err := r.client.GetDel(ctx, r.prefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("redis getdel failed: %w", err)
	}

	var g Grant
	if err := json.Unmarshal(val, &g); err != nil {
		return nil, fmt.Errorf("unmarshal grant: %w", err)
	}
	if !time.Now().Before(g.ExpiresAt) {
		return nil, ErrGrantNotFound
	}
	return &g, nil
}

// Close implements GrantStore
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ GrantStore = (*Redis)(nil)
