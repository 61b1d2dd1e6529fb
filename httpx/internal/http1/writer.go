package http1

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrInvalidHeader = errors.New("http1: invalid request header")
	ErrBodyLength    = errors.New("http1: body length does not match Content-Length")
)

// WriteRequestHead writes the request line, fields and the blank line.
// Field values are stripped of CR, LF and control characters.
func WriteRequestHead(bw *bufio.Writer, method, target string, fields []Field) error {
	if !ValidToken(method) {
		return errors.Wrapf(ErrInvalidHeader, "method %q", method)
	}
	if !validTarget(target) {
		return errors.Wrapf(ErrInvalidHeader, "request target %q", target)
	}
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", method, target); err != nil {
		return err
	}
	for _, f := range fields {
		if !ValidToken(f.Name) {
			return errors.Wrapf(ErrInvalidHeader, "field name %q", f.Name)
		}
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", f.Name, SanitizeHeaderValue(f.Value)); err != nil {
			return err
		}
	}
	_, err := bw.WriteString("\r\n")
	return err
}

// WriteBody streams body. A non-negative length must match the body
// exactly; a negative length selects chunked framing.
func WriteBody(bw *bufio.Writer, body io.Reader, length int64) (int64, error) {
	if length < 0 {
		cw := &ChunkedWriter{W: bw}
		n, err := io.Copy(cw, body)
		if err != nil {
			return n, err
		}
		return n, cw.Close()
	}
	n, err := io.CopyN(bw, body, length)
	if err == io.EOF {
		return n, errors.Wrapf(ErrBodyLength, "body ended after %d of %d bytes", n, length)
	}
	if err != nil {
		return n, err
	}
	var extra [1]byte
	if m, _ := io.ReadFull(body, extra[:]); m > 0 {
		return n, errors.Wrapf(ErrBodyLength, "body longer than %d bytes", length)
	}
	return n, nil
}

// ChunkedWriter emits every Write as one chunk. Close writes the
// terminating zero-length chunk.
type ChunkedWriter struct {
	W *bufio.Writer
}

func (c *ChunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(c.W, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := c.W.Write(p); err != nil {
		return 0, err
	}
	if _, err := c.W.WriteString("\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *ChunkedWriter) Close() error {
	_, err := c.W.WriteString("0\r\n\r\n")
	return err
}
