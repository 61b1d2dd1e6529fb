package httpx

import (
	"net/url"
	"strconv"

	"dqx0.com/go/httpc/httpx/internal/http1"
)

// Framing says how the end of a response body is found.
type Framing = http1.Framing

const (
	FixedLength = http1.FixedLength
	Chunked     = http1.Chunked
	UntilClose  = http1.UntilClose
)

// Response is a received response. Body is bound to the connection it
// arrived on and must be closed.
type Response struct {
	Status     string // e.g. "200 OK"
	StatusCode int
	Reason     string
	Proto      string
	Header     Header
	// ContentLength is the length of the body as framed on the wire, or
	// -1 when unknown or when the body is decompressed.
	ContentLength int64
	Framing       Framing
	// Uncompressed is set when Body undoes the Content-Encoding.
	Uncompressed bool
	// URL is the final URL after redirects.
	URL       *url.URL
	Redirects int
	Request   *Request
	TLS       *TLSState
	// ExchangeID identifies the exchange in logs and, when enabled, the
	// X-Request-ID header.
	ExchangeID string
	Body       *Body
}

func statusText(code int, reason string) string {
	if reason == "" {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code) + " " + reason
}
