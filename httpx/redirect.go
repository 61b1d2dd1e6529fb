package httpx

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"dqx0.com/go/httpc/httpx/internal/fault"
)

// DefaultMaxRedirects is the redirect limit when RedirectPolicy leaves
// MaxRedirects at zero.
const DefaultMaxRedirects = 5

// RedirectPolicy controls redirect following. The zero value follows up
// to DefaultMaxRedirects redirects and rewrites POST to GET on 301/302.
type RedirectPolicy struct {
	// NoFollow returns 3xx responses to the caller as they are.
	NoFollow bool
	// MaxRedirects is how many redirects may be followed. Negative means
	// none: the first redirect fails with ErrTooManyRedirects.
	MaxRedirects int
	// Preserve301302 keeps the method and body on 301 and 302 instead of
	// switching POST to GET.
	Preserve301302 bool
}

func (p RedirectPolicy) hops() int {
	switch {
	case p.MaxRedirects < 0:
		return 0
	case p.MaxRedirects == 0:
		return DefaultMaxRedirects
	}
	return p.MaxRedirects
}

// State is the phase of an exchange as the client drives it.
type State int

const (
	StateSending State = iota
	StateAwaitingResponse
	StateRedirecting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateRedirecting:
		return "redirecting"
	case StateDone:
		return "done"
	default:
		return "failed"
	}
}

func isRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// redirectState follows one request through its redirects. hops only
// ever decreases.
type redirectState struct {
	policy   RedirectPolicy
	original *Request
	current  *Request
	hops     int
	followed int
	state    State
}

func newRedirectState(p RedirectPolicy, r *Request) *redirectState {
	return &redirectState{policy: p, original: r, current: r, hops: p.hops(), state: StateSending}
}

// next decides what follows resp. It returns nil when resp is final.
func (s *redirectState) next(resp *Response) (*Request, error) {
	loc := resp.Header.Get("Location")
	if s.policy.NoFollow || !isRedirect(resp.StatusCode) || loc == "" {
		s.state = StateDone
		return nil, nil
	}
	if s.hops <= 0 {
		s.state = StateFailed
		return nil, fault.New(fault.KindRedirect, "redirect",
			errors.Wrapf(ErrTooManyRedirects, "after %d redirects", s.followed))
	}
	s.state = StateRedirecting
	next, err := redirectRequest(s.current, resp.StatusCode, loc, s.policy.Preserve301302)
	if err != nil {
		s.state = StateFailed
		return nil, fault.New(fault.KindRedirect, "redirect", err)
	}
	s.hops--
	s.followed++
	s.current = next
	s.state = StateSending
	return next, nil
}

// redirectRequest builds the request that follows a redirect of prev.
//
//	303       GET without body, whatever the method was.
//	301, 302  POST becomes GET without body unless preserve is set.
//	307, 308  method and body kept; the body must be replayable.
func redirectRequest(prev *Request, status int, location string, preserve bool) (*Request, error) {
	u, err := prev.URL.Parse(location)
	if err != nil {
		return nil, errors.Wrapf(ErrBadLocation, "%q: %v", location, err)
	}
	if !isHTTPScheme(u.Scheme) {
		return nil, errors.Wrapf(ErrUnsupportedScheme, "redirect to %q", u.Redacted())
	}
	next := prev.clone()
	next.URL = u
	next.Host = ""

	keepBody := true
	switch status {
	case 303:
		next.Method = "GET"
		keepBody = false
	case 301, 302:
		if !preserve && next.Method == "POST" {
			next.Method = "GET"
			keepBody = false
		}
	}
	if !keepBody {
		next.Body, next.GetBody, next.ContentLength = nil, nil, 0
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
		next.Header.Del("Transfer-Encoding")
		return next, nil
	}
	if prev.Body == nil && prev.ContentLength == 0 {
		return next, nil
	}
	if prev.GetBody == nil {
		return nil, errors.Wrapf(ErrBodyNotReplayable, "%d redirect of %s", status, prev.Method)
	}
	body, err := prev.GetBody()
	if err != nil {
		return nil, errors.Wrap(err, "replay request body")
	}
	next.Body = body
	return next, nil
}

func sameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname()) && effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if strings.EqualFold(u.Scheme, "https") {
		return "443"
	}
	return "80"
}
