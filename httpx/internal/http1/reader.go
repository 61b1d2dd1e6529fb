package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMaxHeaderBytes bounds a status line plus header block. Interim
// 1xx heads count against the budget of the final head.
const DefaultMaxHeaderBytes = 64 << 10

// MaxInterim is how many interim 1xx heads may precede a final response.
const MaxInterim = 16

var (
	ErrHeaderTooLarge  = errors.New("http1: header block too large")
	ErrMalformedStatus = errors.New("http1: malformed status line")
	ErrMalformedHeader = errors.New("http1: malformed header line")
	ErrFoldedHeader    = errors.New("http1: obsolete header line folding")
	ErrMalformedReq    = errors.New("http1: malformed request line")
	ErrTooManyInterim  = errors.New("http1: too many interim responses")
)

// ResponseHead is a parsed status line and header block.
type ResponseHead struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     []Field
}

// ParsedRequest is a minimal representation parsed from the wire.
type ParsedRequest struct {
	Method        string
	RequestURI    string
	Proto         string
	Header        []Field
	ContentLength int64
	Body          io.Reader
}

type Reader struct {
	BR *bufio.Reader
	// MaxHeaderBytes bounds each head (start line plus fields and CRLFs).
	// Zero means DefaultMaxHeaderBytes.
	MaxHeaderBytes int
}

// ReadResponseHead reads the final response head. Interim 1xx heads
// other than 101 Switching Protocols are consumed and skipped, at most
// MaxInterim of them, all sharing one MaxHeaderBytes budget.
func (r *Reader) ReadResponseHead() (*ResponseHead, error) {
	budget := r.limit()
	for skipped := 0; ; skipped++ {
		h, err := r.readResponseHead(&budget)
		if err != nil {
			return nil, err
		}
		if h.StatusCode >= 100 && h.StatusCode < 200 && h.StatusCode != 101 {
			if skipped == MaxInterim {
				return nil, errors.Wrapf(ErrTooManyInterim, "after %d", skipped)
			}
			continue
		}
		return h, nil
	}
}

func (r *Reader) readResponseHead(budget *int) (*ResponseHead, error) {
	line, err := r.readLine(budget)
	if err != nil {
		if err == io.EOF {
			return nil, errors.Wrap(io.ErrUnexpectedEOF, "connection closed before response")
		}
		return nil, errors.Wrap(err, "read status line")
	}
	proto, code, reason, err := parseStatusLine(line)
	if err != nil {
		return nil, err
	}
	hdr, err := r.readFields(budget)
	if err != nil {
		return nil, err
	}
	return &ResponseHead{Proto: proto, StatusCode: code, Reason: reason, Header: hdr}, nil
}

// ReadRequest parses a request head and binds its body per the request
// framing rules. Used by the test server harness.
func (r *Reader) ReadRequest() (*ParsedRequest, error) {
	budget := r.limit()
	line, err := r.readLine(&budget)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || !ValidToken(parts[0]) || !strings.HasPrefix(parts[2], "HTTP/1.") {
		return nil, errors.Wrapf(ErrMalformedReq, "%q", line)
	}
	hdr, err := r.readFields(&budget)
	if err != nil {
		return nil, err
	}
	f, err := RequestFraming(hdr)
	if err != nil {
		return nil, err
	}
	cl := f.Length
	if f.Kind == Chunked {
		cl = -1
	}
	return &ParsedRequest{
		Method:        parts[0],
		RequestURI:    parts[1],
		Proto:         parts[2],
		Header:        hdr,
		ContentLength: cl,
		Body:          NewBodyReader(f, r.BR, r.limit()),
	}, nil
}

func parseStatusLine(line string) (proto string, code int, reason string, err error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || len(proto) != len("HTTP/1.1") || !strings.HasPrefix(proto, "HTTP/1.") {
		return "", 0, "", errors.Wrapf(ErrMalformedStatus, "%q", line)
	}
	digits, reason, _ := strings.Cut(rest, " ")
	if len(digits) != 3 {
		return "", 0, "", errors.Wrapf(ErrMalformedStatus, "status code %q", digits)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return "", 0, "", errors.Wrapf(ErrMalformedStatus, "status code %q", digits)
		}
	}
	code, _ = strconv.Atoi(digits)
	if code < 100 || code > 599 {
		return "", 0, "", errors.Wrapf(ErrMalformedStatus, "status code %d out of range", code)
	}
	return proto, code, reason, nil
}

func (r *Reader) readFields(budget *int) ([]Field, error) {
	var fields []Field
	for {
		line, err := r.readLine(budget)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Wrap(err, "read header block")
		}
		if line == "" {
			return fields, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, errors.Wrapf(ErrFoldedHeader, "%q", line)
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || !ValidToken(name) {
			return nil, errors.Wrapf(ErrMalformedHeader, "%q", line)
		}
		fields = append(fields, Field{Name: name, Value: strings.Trim(value, " \t")})
	}
}

func (r *Reader) readLine(budget *int) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.BR.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		*budget--
		if *budget < 0 {
			return "", ErrHeaderTooLarge
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
	}
	return sb.String(), nil
}

func (r *Reader) limit() int {
	if r.MaxHeaderBytes > 0 {
		return r.MaxHeaderBytes
	}
	return DefaultMaxHeaderBytes
}
