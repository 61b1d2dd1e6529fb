package httpx

import (
	"context"
	"encoding/base64"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"dqx0.com/go/httpc/internal/obs"
)

// Client sends requests and follows redirects. The zero value uses
// DefaultTransport.
type Client struct {
	Transport Transport
	// Timeout bounds the whole exchange: every redirect hop and reading
	// the final body. Zero means no limit.
	Timeout  time.Duration
	Redirect RedirectPolicy
	// Header holds defaults added to requests that do not set them.
	Header Header
	// Auth, if set, adds Authorization to requests to the original host.
	Auth Credentials

	Logger obs.Logger
	Meter  obs.Meter
}

// DefaultClient is used by the package-level helpers.
var DefaultClient = &Client{}

// Credentials produce an Authorization header value.
type Credentials interface {
	Authorization() string
}

// BasicAuth is RFC 7617 Basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) Authorization() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(b.Username+":"+b.Password))
}

// BearerToken is an RFC 6750 bearer token.
type BearerToken string

func (b BearerToken) Authorization() string { return "Bearer " + string(b) }

// Do sends r and follows redirects per c.Redirect. On success the caller
// must close the response body. On error there is no response.
func (c *Client) Do(r *Request) (*Response, error) {
	if r == nil || r.URL == nil {
		return nil, errors.New("httpx: nil request or URL")
	}
	ctx := r.Context()
	cancel := context.CancelFunc(func() {})
	if c.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	rs := newRedirectState(c.Redirect, WithContext(r, ctx))
	for {
		out := c.prepare(rs.current, rs.original.URL)
		rs.state = StateAwaitingResponse
		resp, err := c.transport().RoundTrip(out)
		if err != nil {
			rs.state = StateFailed
			cancel()
			return nil, err
		}
		resp.Redirects = rs.followed
		from := rs.current.URL
		next, err := rs.next(resp)
		if err != nil {
			resp.Body.Close()
			cancel()
			c.logf(obs.Warn, "redirect from %s %s: %v", from.Redacted(), rs.state, err)
			return nil, err
		}
		if next == nil {
			resp.Body.afterRelease(cancel)
			return resp, nil
		}
		resp.Body.Close()
		c.logf(obs.Debug, "redirect %d: %s -> %s (%s)", resp.StatusCode, from.Redacted(), next.URL.Redacted(), next.Method)
		c.meter().Counter("httpx_client_redirects_total", 1, obs.Label{Key: "status", Value: strconv.Itoa(resp.StatusCode)})
	}
}

// prepare applies default headers and credentials. Authorization only
// goes to the host of the original request.
func (c *Client) prepare(r *Request, origin *url.URL) *Request {
	out := r.clone()
	for _, f := range c.Header {
		if !out.Header.Has(f.Name) {
			out.Header.Add(f.Name, f.Value)
		}
	}
	if !sameHost(origin, r.URL) {
		out.Header.Del("Authorization")
		return out
	}
	if c.Auth != nil && !out.Header.Has("Authorization") {
		out.Header.Add("Authorization", c.Auth.Authorization())
	}
	return out
}

// Get issues a GET to rawURL.
func (c *Client) Get(rawURL string) (*Response, error) {
	req, err := NewRequest("GET", rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Head issues a HEAD to rawURL.
func (c *Client) Head(rawURL string) (*Response, error) {
	req, err := NewRequest("HEAD", rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post issues a POST of body with the given Content-Type.
func (c *Client) Post(rawURL, contentType string, body io.Reader) (*Response, error) {
	req, err := NewRequest("POST", rawURL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}

// Get issues a GET with DefaultClient.
func Get(rawURL string) (*Response, error) { return DefaultClient.Get(rawURL) }

func (c *Client) transport() Transport {
	if c.Transport != nil {
		return c.Transport
	}
	return DefaultTransport
}

func (c *Client) logf(level obs.Level, format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Logf(level, format, args...)
	}
}

func (c *Client) meter() obs.Meter {
	if c.Meter != nil {
		return c.Meter
	}
	return obs.NopMeter{}
}

func isHTTPScheme(s string) bool {
	s = strings.ToLower(s)
	return s == "http" || s == "https"
}
