// Package management issues the gateway endpoint and tokens of new streams
// and redeems those tokens when each side connects.
package management

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/julienstroheker/devicestream/gateway/store"
	"github.com/julienstroheker/devicestream/internal/controlplane"
)

// ErrUnauthorized is returned when a stream token is unknown, expired, already
// used or issued for another stream
var ErrUnauthorized = errors.New("unauthorized")

// Service mints stream credentials
type Service struct {
	store     store.GrantStore
	streamURL *url.URL
}

// Options contains configuration for the Management Service
type Options struct {
	// Store keeps issued tokens (required)
	Store store.GrantStore

	// PublicURL is the externally reachable base URL of the gateway,
	// e.g. https://gateway.example.net. Stream URLs use its ws(s) form.
	PublicURL string
}

// NewService creates a new Management Service
func NewService(opts *Options) (*Service, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("grant store is required")
	}
	if opts.PublicURL == "" {
		return nil, fmt.Errorf("public URL is required")
	}

	u, err := url.Parse(strings.TrimSuffix(opts.PublicURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid public URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported public URL scheme %q", u.Scheme)
	}

	return &Service{
		store:     opts.Store,
		streamURL: u,
	}, nil
}

// Issue creates a stream id and one single-use token per side
func (s *Service) Issue(ctx context.Context, deviceID, streamName string) (*controlplane.Issued, error) {
	streamID := uuid.New().String()

	deviceToken, err := s.put(ctx, &store.Grant{StreamID: streamID, DeviceID: deviceID, Side: store.SideDevice})
	if err != nil {
		return nil, err
	}
	serviceToken, err := s.put(ctx, &store.Grant{StreamID: streamID, DeviceID: deviceID, Side: store.SideService})
	if err != nil {
		return nil, err
	}

	return &controlplane.Issued{
		StreamName:   streamName,
		URL:          s.StreamURL(streamID),
		DeviceToken:  deviceToken,
		ServiceToken: serviceToken,
	}, nil
}

// Authorize redeems token for streamID and reports which side it admits
func (s *Service) Authorize(ctx context.Context, streamID, token string) (*store.Grant, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	g, err := s.store.Take(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrGrantNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, err
	}
	if g.StreamID != streamID {
		return nil, fmt.Errorf("%w: token was issued for another stream", ErrUnauthorized)
	}

	return g, nil
}

// StreamURL is the rendezvous URL of streamID
func (s *Service) StreamURL(streamID string) string {
	return s.streamURL.JoinPath("streams", streamID).String()
}

func (s *Service) put(ctx context.Context, g *store.Grant) (string, error) {
	token := generateToken()
	if err := s.store.Put(ctx, token, g); err != nil {
		return "", fmt.Errorf("failed to store %s token: %w", g.Side, err)
	}
	return token, nil
}

// generateToken returns a random 64 character hex token
func generateToken() string {
	a, b := uuid.New(), uuid.New()
	return strings.ReplaceAll(a.String()+b.String(), "-", "")
}

var _ controlplane.Issuer = (*Service)(nil)
