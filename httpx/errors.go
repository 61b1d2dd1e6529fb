package httpx

import (
	"github.com/pkg/errors"

	"dqx0.com/go/httpc/httpx/internal/decode"
	"dqx0.com/go/httpc/httpx/internal/fault"
	"dqx0.com/go/httpc/httpx/internal/http1"
)

// Error is returned for every failed exchange. Kind says which layer
// failed; Err carries the cause and can be matched with errors.Is
// against the sentinels below.
type Error = fault.Error

// Kind classifies an Error.
type Kind = fault.Kind

const (
	KindUnknown  = fault.KindUnknown
	KindConnect  = fault.KindConnect
	KindTLS      = fault.KindTLS
	KindProtocol = fault.KindProtocol
	KindDecode   = fault.KindDecode
	KindRedirect = fault.KindRedirect
	KindWrite    = fault.KindWrite
)

var (
	ErrTimeout         = fault.ErrTimeout
	ErrHeaderTooLarge  = http1.ErrHeaderTooLarge
	ErrMalformedStatus = http1.ErrMalformedStatus
	ErrMalformedHeader = http1.ErrMalformedHeader
	ErrFoldedHeader    = http1.ErrFoldedHeader
	ErrMalformedChunk  = http1.ErrMalformedChunk
	ErrContentLength   = http1.ErrContentLength
	ErrTooManyInterim  = http1.ErrTooManyInterim
	ErrInvalidText     = decode.ErrInvalidText

	ErrTooManyRedirects  = errors.New("httpx: stopped after too many redirects")
	ErrBodyNotReplayable = errors.New("httpx: request body cannot be replayed for redirect")
	ErrBadLocation       = errors.New("httpx: invalid redirect location")
	ErrUnsupportedScheme = errors.New("httpx: unsupported URL scheme")
	ErrProxyRefused      = errors.New("httpx: proxy refused CONNECT")
	ErrALPN              = errors.New("httpx: server negotiated a protocol other than http/1.1")
	ErrUnknownCharset    = errors.New("httpx: unknown charset")
)

// KindOf returns the Kind of err, or KindUnknown if err did not come from
// an exchange.
func KindOf(err error) Kind { return fault.KindOf(err) }

// IsTimeout reports whether err was caused by a connect, read or overall
// deadline.
func IsTimeout(err error) bool { return fault.IsTimeout(err) }
