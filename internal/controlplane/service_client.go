package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/julienstroheker/devicestream/internal/api"
	"github.com/julienstroheker/devicestream/internal/httpclient"
	"github.com/julienstroheker/devicestream/internal/logging"
)

// ServiceClientOptions configures a ServiceClient
type ServiceClientOptions struct {
	// BaseURL is the control-plane endpoint, e.g. https://hub.example.net
	BaseURL string

	// Tokens authorizes each call (optional)
	Tokens TokenSource

	// HTTPClient overrides the default client built from Tokens and Logger (optional)
	HTTPClient *httpclient.Client

	// Logger is used for debug logging (optional)
	Logger *logging.Logger
}

// ServiceClient requests streams from a remote control plane over HTTP
type ServiceClient struct {
	baseURL string
	client  *httpclient.Client
	logger  *logging.Logger
}

// NewServiceClient creates a ServiceClient
func NewServiceClient(opts *ServiceClientOptions) (*ServiceClient, error) {
	if opts == nil || opts.BaseURL == "" {
		return nil, fmt.Errorf("control plane base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid control plane URL: %w", err)
	}

	client := opts.HTTPClient
	if client == nil {
		httpOpts := httpclient.DefaultOptions()
		httpOpts.Logger = opts.Logger
		httpOpts.UserAgent = httpclient.UserAgent("service")
		if opts.Tokens != nil {
			httpOpts.Tokens = opts.Tokens
		}
		client = httpclient.NewClient(httpOpts)
	}

	return &ServiceClient{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		client:  client,
		logger:  opts.Logger,
	}, nil
}

// RequestStream calls POST {base}/twins/{deviceID}/streams/{streamName}
func (c *ServiceClient) RequestStream(ctx context.Context, deviceID, streamName string) (*api.SessionGrant, error) {
	endpoint := fmt.Sprintf("%s/twins/%s/streams/%s",
		c.baseURL, url.PathEscape(deviceID), url.PathEscape(streamName))

	resp, err := c.client.Post(ctx, endpoint, "", nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyRequestError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var grant api.SessionGrant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("failed to decode session grant: %w", err)
	}

	if grant.IsAccepted && (grant.URL == "" || grant.AuthorizationToken == "") {
		return nil, fmt.Errorf("accepted session grant for %s is missing its gateway URL or token", deviceID)
	}

	if c.logger != nil {
		c.logger.Debug("Session grant received",
			logging.String("device_id", deviceID),
			logging.String("stream", grant.StreamName),
			logging.Bool("accepted", grant.IsAccepted))
	}

	return &grant, nil
}

// classifyRequestError maps control-plane statuses onto the grant sentinels
func classifyRequestError(err error) error {
	var respErr *httpclient.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}

	switch respErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrDeviceNotConnected, err)
	case http.StatusGatewayTimeout, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %w", ErrGrantUnavailable, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrGrantRejected, err)
	default:
		return err
	}
}

var _ GrantRequester = (*ServiceClient)(nil)
