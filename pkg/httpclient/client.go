// Package httpclient builds http.Clients that identify the service in
// their User-Agent header.
package httpclient

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/contexhq/contex/pkg/version"
)

type userAgentTransport struct {
	agent string
	rt    http.RoundTripper
}

func (u *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	r2.Header.Set("User-Agent", u.agent)
	return u.rt.RoundTrip(r2)
}

type Option func(*http.Client)

// WithTimeout bounds each request end to end. The zero default leaves
// deadlines to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *http.Client) { c.Timeout = d }
}

// New returns a client sending "Contex/<version> (os; arch)" as its
// User-Agent.
func New(opts ...Option) *http.Client {
	c := &http.Client{
		Transport: &userAgentTransport{
			agent: UserAgent(),
			rt:    http.DefaultTransport,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserAgent returns the identification string sent by clients built
// with New. Webhook deliveries identify themselves separately.
func UserAgent() string {
	return fmt.Sprintf("Contex/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH)
}
