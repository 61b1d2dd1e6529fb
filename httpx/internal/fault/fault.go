// Package fault holds the error taxonomy shared by every layer of the
// client pipeline. A layer classifies an error once; layers above it
// annotate but never reclassify.
package fault

import (
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

// Kind identifies which layer of the exchange failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnect
	KindTLS
	KindProtocol
	KindDecode
	KindRedirect
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindTLS:
		return "tls"
	case KindProtocol:
		return "protocol"
	case KindDecode:
		return "decode"
	case KindRedirect:
		return "redirect"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// ErrTimeout is wrapped by every error caused by an expired connect,
// read or exchange deadline.
var ErrTimeout = errors.New("httpx: timeout")

// Error is the error type returned for a failed exchange.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("httpx: %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("httpx: %s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New classifies err as kind. Nil stays nil and an error that already
// carries a Kind is returned as is.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Timeout builds a connect-kind error that matches ErrTimeout and keeps
// the cause's message.
func Timeout(op string, cause error) error {
	err := ErrTimeout
	if cause != nil {
		err = errors.Wrap(ErrTimeout, cause.Error())
	}
	return &Error{Kind: KindConnect, Op: op, Err: err}
}

// KindOf reports the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Classify wraps r so that every error other than io.EOF it returns is
// classified as kind. io.EOF passes through unwrapped since io.Copy and
// io.ReadAll compare it with ==.
func Classify(r io.Reader, kind Kind, op string) *Reader {
	return &Reader{R: r, Kind: kind, Op: op}
}

// Reader classifies the errors of an underlying reader.
type Reader struct {
	R    io.Reader
	Kind Kind
	Op   string
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.R.Read(p)
	if err != nil && err != io.EOF {
		if KindOf(err) == KindUnknown && IsTimeout(err) {
			return n, Timeout(r.Op, err)
		}
		return n, New(r.Kind, r.Op, err)
	}
	return n, err
}
