// Package store keeps the single-use tokens the gateway issues for each side
// of a stream.
package store

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long an issued token stays redeemable
const DefaultTTL = 2 * time.Minute

// ErrGrantNotFound is returned for unknown, expired or already redeemed tokens
var ErrGrantNotFound = errors.New("grant not found")

// Side identifies which end of a stream a token admits
type Side string

const (
	SideDevice  Side = "device"
	SideService Side = "service"
)

// Grant is what a token admits its bearer to
type Grant struct {
	StreamID  string    `json:"streamId"`
	DeviceID  string    `json:"deviceId"`
	Side      Side      `json:"side"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// GrantStore holds issued tokens until they are redeemed or expire
type GrantStore interface {
	// Put stores g under token; the store sets g.ExpiresAt
	Put(ctx context.Context, token string, g *Grant) error

	// Take redeems token. A token can be taken once.
	Take(ctx context.Context, token string) (*Grant, error)

	// Close releases the store's resources
	Close() error
}

// New returns a Redis store when redisAddr is set, an in-memory one otherwise
func New(ctx context.Context, redisAddr string, ttl time.Duration) (GrantStore, error) {
	if redisAddr == "" {
		return NewMemory(ttl), nil
	}
	return NewRedis(ctx, &RedisOptions{Addr: redisAddr, TTL: ttl})
}
