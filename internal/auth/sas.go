package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const sasPrefix = "SharedAccessSignature "

var (
	// ErrInvalidToken is returned for malformed tokens and bad signatures
	ErrInvalidToken = errors.New("invalid shared access signature")
	// ErrTokenExpired is returned for tokens whose expiry has passed
	ErrTokenExpired = errors.New("shared access signature expired")
)

// SASToken is a parsed shared access signature
type SASToken struct {
	Resource  string
	Signature string
	Expiry    time.Time
	KeyName   string
}

// GenerateSASToken generates a Shared Access Signature token for the resource uri,
// valid for the given duration from now
func GenerateSASToken(uri, keyName, key string, expiry time.Duration) (string, error) {
	return generateSASToken(uri, keyName, key, time.Now().Add(expiry))
}

func generateSASToken(uri, keyName, key string, expiresAt time.Time) (string, error) {
	uri = normalizeResource(uri)
	expiryTimestamp := expiresAt.Unix()

	signature, err := sign(uri, key, expiryTimestamp)
	if err != nil {
		return "", err
	}

	// Format: SharedAccessSignature sr=<url>&sig=<signature>&se=<expiry>[&skn=<keyname>]
	token := fmt.Sprintf("%ssr=%s&sig=%s&se=%d",
		sasPrefix,
		url.QueryEscape(uri),
		url.QueryEscape(signature),
		expiryTimestamp,
	)
	if keyName != "" {
		token += "&skn=" + url.QueryEscape(keyName)
	}

	return token, nil
}

// ParseSASToken parses a token produced by GenerateSASToken. The signature is not checked.
func ParseSASToken(token string) (*SASToken, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(token), sasPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidToken, strings.TrimSpace(sasPrefix))
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	parsed := &SASToken{
		Resource:  values.Get("sr"),
		Signature: values.Get("sig"),
		KeyName:   values.Get("skn"),
	}
	if parsed.Resource == "" || parsed.Signature == "" {
		return nil, fmt.Errorf("%w: sr and sig are required", ErrInvalidToken)
	}

	se, err := strconv.ParseInt(values.Get("se"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiry: %v", ErrInvalidToken, err)
	}
	parsed.Expiry = time.Unix(se, 0)

	return parsed, nil
}

// VerifySASToken checks that token was signed with key, is scoped to uri or a
// resource below it, and has not expired at now
func VerifySASToken(token, uri, key string, now time.Time) (*SASToken, error) {
	parsed, err := ParseSASToken(token)
	if err != nil {
		return nil, err
	}

	uri = normalizeResource(uri)
	resource := normalizeResource(parsed.Resource)
	if resource != uri && !strings.HasPrefix(resource, uri+"/") {
		return nil, fmt.Errorf("%w: token is scoped to %q", ErrInvalidToken, parsed.Resource)
	}

	expected, err := sign(resource, key, parsed.Expiry.Unix())
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(expected), []byte(parsed.Signature)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	if !now.Before(parsed.Expiry) {
		return nil, ErrTokenExpired
	}

	return parsed, nil
}

// sign computes the HMAC-SHA256 of "<escaped uri>\n<expiry>" with the base64 key
func sign(uri, key string, expiry int64) (string, error) {
	decodedKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(key))
	if err != nil {
		return "", fmt.Errorf("failed to decode key: %w", err)
	}

	stringToSign := fmt.Sprintf("%s\n%d", url.QueryEscape(uri), expiry)

	h := hmac.New(sha256.New, decodedKey)
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// normalizeResource drops the scheme and trailing slash, and lowercases the host part
func normalizeResource(uri string) string {
	if _, rest, ok := strings.Cut(uri, "://"); ok {
		uri = rest
	}
	uri = strings.TrimSuffix(uri, "/")

	host, path, hasPath := strings.Cut(uri, "/")
	host = strings.ToLower(host)
	if hasPath {
		return host + "/" + path
	}
	return host
}
