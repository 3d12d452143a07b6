package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const (
	// DefaultSASTokenTTL is the lifetime of tokens minted by SASTokenProvider
	DefaultSASTokenTTL = time.Hour

	// DefaultAzureADScope is the Azure AD scope requested for IoT Hub
	DefaultAzureADScope = "https://iothubs.azure.net/.default"

	// refreshMargin is how long before expiry a cached token is replaced
	refreshMargin = 5 * time.Minute
)

// TokenProvider returns the value of an Authorization header
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// NewTokenProvider picks a provider for the connection string: a SAS provider
// when it carries a key, Azure AD credentials otherwise
func NewTokenProvider(cs *ConnectionString) (TokenProvider, error) {
	if cs.HasKey() {
		return NewSASTokenProvider(cs.ResourceURI(), cs.SharedAccessKeyName, cs.SharedAccessKey, DefaultSASTokenTTL), nil
	}
	return NewDefaultAzureADTokenProvider()
}

// SASTokenProvider mints shared access signatures and caches them until
// they are close to expiry
type SASTokenProvider struct {
	uri     string
	keyName string
	key     string
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSASTokenProvider creates a SAS token provider for the resource uri
func NewSASTokenProvider(uri, keyName, key string, ttl time.Duration) *SASTokenProvider {
	if ttl <= refreshMargin {
		ttl = DefaultSASTokenTTL
	}
	return &SASTokenProvider{
		uri:     uri,
		keyName: keyName,
		key:     key,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Token returns a cached token or mints a new one
func (p *SASTokenProvider) Token(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.token != "" && p.expiresAt.Sub(now) > refreshMargin {
		return p.token, nil
	}

	expiresAt := now.Add(p.ttl)
	token, err := generateSASToken(p.uri, p.keyName, p.key, expiresAt)
	if err != nil {
		return "", err
	}

	p.token = token
	p.expiresAt = expiresAt
	return token, nil
}

// AzureADTokenProvider provides Azure AD bearer tokens.
// It caches tokens and refreshes them proactively before expiry.
type AzureADTokenProvider struct {
	credential azcore.TokenCredential
	scope      string
	mu         sync.RWMutex
	token      *azcore.AccessToken
}

// NewAzureADTokenProvider creates a provider using the given credential and scope
func NewAzureADTokenProvider(credential azcore.TokenCredential, scope string) *AzureADTokenProvider {
	if scope == "" {
		scope = DefaultAzureADScope
	}
	return &AzureADTokenProvider{
		credential: credential,
		scope:      scope,
	}
}

// NewDefaultAzureADTokenProvider uses DefaultAzureCredential, which tries
// environment variables, workload and managed identity, and the Azure CLI
func NewDefaultAzureADTokenProvider() (*AzureADTokenProvider, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}
	return NewAzureADTokenProvider(credential, DefaultAzureADScope), nil
}

// Token returns "Bearer <access token>", using the cache when possible
func (p *AzureADTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.token != nil && time.Until(p.token.ExpiresOn) > refreshMargin {
		token := p.token.Token
		p.mu.RUnlock()
		return "Bearer " + token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if p.token != nil && time.Until(p.token.ExpiresOn) > refreshMargin {
		return "Bearer " + p.token.Token, nil
	}

	tokenResponse, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{p.scope},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	p.token = &tokenResponse
	return "Bearer " + tokenResponse.Token, nil
}
