package httpx

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"dqx0.com/go/httpc/httpx/internal/http1"
)

// Request is an outgoing HTTP/1.1 request.
//
// ContentLength is -1 when unknown, which sends the body chunked. A nil
// Body sends no body. GetBody, if non-nil, returns a fresh copy of the
// body and is required to follow 307 and 308 redirects of requests with
// a body.
type Request struct {
	Method        string
	URL           *url.URL
	Header        Header
	Body          io.Reader
	ContentLength int64
	GetBody       func() (io.ReadCloser, error)
	// Host overrides the Host header derived from URL.
	Host string
	ctx  context.Context
}

// NewRequest is NewRequestWithContext with context.Background.
func NewRequest(method, rawURL string, body io.Reader) (*Request, error) {
	return NewRequestWithContext(context.Background(), method, rawURL, body)
}

// NewRequestWithContext builds a Request. For *bytes.Buffer,
// *bytes.Reader and *strings.Reader bodies it sets ContentLength and
// GetBody; other bodies are sent chunked and cannot be replayed.
func NewRequestWithContext(ctx context.Context, method, rawURL string, body io.Reader) (*Request, error) {
	if method == "" {
		method = "GET"
	}
	if !http1.ValidToken(method) {
		return nil, errors.Errorf("httpx: invalid method %q", method)
	}
	if ctx == nil {
		return nil, errors.New("httpx: nil Context")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "httpx: parse URL")
	}
	r := &Request{Method: method, URL: u, ctx: ctx}
	if body == nil {
		return r, nil
	}
	r.Body = body
	r.ContentLength = -1
	switch v := body.(type) {
	case *bytes.Buffer:
		buf := v.Bytes()
		r.ContentLength = int64(len(buf))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
	case *bytes.Reader:
		snapshot := *v
		r.ContentLength = int64(v.Len())
		r.GetBody = func() (io.ReadCloser, error) {
			c := snapshot
			return io.NopCloser(&c), nil
		}
	case *strings.Reader:
		snapshot := *v
		r.ContentLength = int64(v.Len())
		r.GetBody = func() (io.ReadCloser, error) {
			c := snapshot
			return io.NopCloser(&c), nil
		}
	}
	if r.ContentLength == 0 {
		r.Body = nil
	}
	return r, nil
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}

func (r *Request) clone() *Request {
	r2 := *r
	r2.Header = r.Header.Clone()
	return &r2
}

// hasBody reports whether r carries a body to send.
func (r *Request) hasBody() bool {
	return r.Body != nil && r.Method != "TRACE"
}
