package httpclient

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
)

// develVersion is reported when the binary carries no module version,
// as with go run or a build from a dirty checkout.
const develVersion = "devel"

var defaultUserAgent = UserAgent("client")

// Version returns the devicestream module version embedded in the running
// binary.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return develVersion
	}
	return moduleVersion(info)
}

func moduleVersion(info *debug.BuildInfo) string {
	if info == nil || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return develVersion
	}
	return info.Main.Version
}

// UserAgent builds the User-Agent value a devicestream component sends to the
// control plane, e.g. "devicestream-service/v1.2.0 (go1.25.0; linux/amd64)".
func UserAgent(component string) string {
	return formatUserAgent(component, Version())
}

func formatUserAgent(component, version string) string {
	return fmt.Sprintf("devicestream-%s/%s (%s; %s/%s)",
		component, version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgentPolicy stamps a User-Agent on requests that do not already carry
// one.
type UserAgentPolicy struct {
	userAgent string
}

// NewUserAgentPolicy creates a UserAgentPolicy. An empty userAgent falls back
// to the generic client agent.
func NewUserAgentPolicy(userAgent string) *UserAgentPolicy {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &UserAgentPolicy{userAgent: userAgent}
}

// Do implements Policy interface
func (p *UserAgentPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	return next(req)
}
