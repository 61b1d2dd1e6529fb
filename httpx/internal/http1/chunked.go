package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrMalformedChunk = errors.New("http1: malformed chunked encoding")

// chunkedReader de-frames Transfer-Encoding: chunked. A stream that ends
// anywhere before the terminal chunk and its trailer block is reported as
// io.ErrUnexpectedEOF.
type chunkedReader struct {
	br       *bufio.Reader
	remain   int64
	finished bool
	maxLine  int // line limit for chunk header and trailer lines
	err      error
}

// NewChunkedReader returns a reader yielding the payload of a chunked body.
func NewChunkedReader(br *bufio.Reader, maxLine int) io.Reader {
	if maxLine <= 0 {
		maxLine = DefaultMaxHeaderBytes
	}
	return &chunkedReader{br: br, maxLine: maxLine}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.finished {
		return 0, io.EOF
	}
	if c.remain == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, c.fail(err)
		}
		if size == 0 {
			if err := c.readTrailers(); err != nil {
				return 0, c.fail(err)
			}
			c.finished = true
			return 0, io.EOF
		}
		c.remain = size
	}
	if len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.br.Read(p)
	c.remain -= int64(n)
	if err != nil {
		if err == io.EOF {
			err = errors.Wrapf(io.ErrUnexpectedEOF, "chunk truncated with %d bytes missing", c.remain)
		}
		return n, c.fail(err)
	}
	if c.remain == 0 {
		if err := c.expectCRLF(); err != nil {
			return n, c.fail(err)
		}
	}
	return n, nil
}

func (c *chunkedReader) fail(err error) error {
	c.err = err
	return err
}

func (c *chunkedReader) readChunkSize() (int64, error) {
	line, err := c.readLine()
	if err != nil {
		return 0, err
	}
	// Strip chunk extensions if any: "<hex>;<ext>"
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" || len(line) > 16 {
		return 0, errors.Wrapf(ErrMalformedChunk, "chunk size %q", line)
	}
	for i := 0; i < len(line); i++ {
		if !isHex(line[i]) {
			return 0, errors.Wrapf(ErrMalformedChunk, "chunk size %q", line)
		}
	}
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(ErrMalformedChunk, "chunk size %q", line)
	}
	return n, nil
}

func (c *chunkedReader) expectCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return noEOF(err)
	}
	if b1 == '\n' {
		return nil
	}
	b2, err := c.br.ReadByte()
	if err != nil {
		return noEOF(err)
	}
	if b1 != '\r' || b2 != '\n' {
		return errors.Wrapf(ErrMalformedChunk, "expected CRLF after chunk data, got %q", []byte{b1, b2})
	}
	return nil
}

// readTrailers consumes and discards the trailer block.
func (c *chunkedReader) readTrailers() error {
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

func (c *chunkedReader) readLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return "", noEOF(err)
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if sb.Len() > c.maxLine {
			return "", errors.Wrap(ErrMalformedChunk, "chunk line too long")
		}
	}
	return sb.String(), nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
