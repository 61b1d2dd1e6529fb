package http1

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrContentLength = errors.New("http1: invalid Content-Length")

type FramingKind int

const (
	FixedLength FramingKind = iota
	Chunked
	UntilClose
)

// Framing says where a message body ends. Length is only meaningful for
// FixedLength.
type Framing struct {
	Kind   FramingKind
	Length int64
}

func (f Framing) String() string {
	switch f.Kind {
	case FixedLength:
		return fmt.Sprintf("fixed(%d)", f.Length)
	case Chunked:
		return "chunked"
	default:
		return "until-close"
	}
}

// ResponseFraming applies the response body rules: no body for HEAD and
// for 1xx, 204 and 304; chunked beats Content-Length; otherwise the body
// runs until the connection closes.
func ResponseFraming(method string, status int, h []Field) (Framing, error) {
	if method == "HEAD" || (status >= 100 && status < 200) || status == 204 || status == 304 {
		return Framing{Kind: FixedLength}, nil
	}
	if te := Values(h, "Transfer-Encoding"); len(te) > 0 {
		if isChunked(te) {
			return Framing{Kind: Chunked}, nil
		}
		return Framing{Kind: UntilClose}, nil
	}
	n, ok, err := contentLength(h)
	if err != nil {
		return Framing{}, err
	}
	if ok {
		return Framing{Kind: FixedLength, Length: n}, nil
	}
	return Framing{Kind: UntilClose}, nil
}

// RequestFraming applies the request body rules, where a missing length
// means no body.
func RequestFraming(h []Field) (Framing, error) {
	if isChunked(Values(h, "Transfer-Encoding")) {
		return Framing{Kind: Chunked}, nil
	}
	n, _, err := contentLength(h)
	if err != nil {
		return Framing{}, err
	}
	return Framing{Kind: FixedLength, Length: n}, nil
}

func isChunked(te []string) bool {
	for _, t := range tokens(te) {
		if t == "chunked" {
			return true
		}
	}
	return false
}

// contentLength requires every Content-Length value to parse and agree.
func contentLength(h []Field) (int64, bool, error) {
	vals := tokens(Values(h, "Content-Length"))
	if len(vals) == 0 {
		return 0, false, nil
	}
	var n int64 = -1
	for _, v := range vals {
		m, err := strconv.ParseUint(v, 10, 63)
		if err != nil {
			return 0, false, errors.Wrapf(ErrContentLength, "%q", v)
		}
		if n >= 0 && int64(m) != n {
			return 0, false, errors.Wrapf(ErrContentLength, "conflicting values %s", strings.Join(vals, ", "))
		}
		n = int64(m)
	}
	return n, true, nil
}

// NewBodyReader returns the de-framed body. maxLine bounds chunk-size and
// trailer lines.
func NewBodyReader(f Framing, br *bufio.Reader, maxLine int) io.Reader {
	switch f.Kind {
	case Chunked:
		return NewChunkedReader(br, maxLine)
	case FixedLength:
		if f.Length == 0 {
			return eofReader{}
		}
		return &fixedReader{r: br, n: f.Length}
	default:
		return br
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// fixedReader is an io.LimitedReader that reports a short source as
// truncation instead of a clean end.
type fixedReader struct {
	r io.Reader
	n int64
}

func (f *fixedReader) Read(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > f.n {
		p = p[:f.n]
	}
	n, err := f.r.Read(p)
	f.n -= int64(n)
	if err == io.EOF {
		if f.n > 0 {
			return n, errors.Wrapf(io.ErrUnexpectedEOF, "body truncated with %d bytes missing", f.n)
		}
		err = nil
	}
	return n, err
}
