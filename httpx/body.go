package httpx

import (
	"bufio"
	"io"

	"github.com/pkg/errors"

	"dqx0.com/go/httpc/httpx/internal/decode"
	"dqx0.com/go/httpc/httpx/internal/fault"
	"dqx0.com/go/httpc/httpx/internal/http1"
)

// Fallback selects how Body.Text handles bytes that are invalid in the
// body's charset.
type Fallback = decode.Fallback

const (
	FallbackReplace = decode.FallbackReplace
	FallbackDrop    = decode.FallbackDrop
	FallbackStrict  = decode.FallbackStrict
)

// ParseFallback maps "replace", "drop" and "strict" to a Fallback.
func ParseFallback(s string) (Fallback, error) { return decode.ParseFallback(s) }

// KnownCharset reports whether label names a charset Body.Text can decode.
func KnownCharset(label string) bool {
	_, ok := decode.Lookup(label)
	return ok
}

var errBodyClosed = errors.New("httpx: read on closed response body")

// Body streams a response body. Read returns the de-framed and
// decompressed bytes; Text and TextReader additionally transcode them to
// UTF-8. The connection is closed when the body is read to the end, when
// a read fails, or on Close, whichever happens first.
type Body struct {
	src  io.Reader
	conn *conn

	contentType string
	def         decode.Charset
	fallback    decode.Fallback
	br          *bufio.Reader
	charset     *decode.Charset
	text        io.Reader

	done    bool
	closed  bool
	onClose []func()
}

func newBody(c *conn, p decode.Pipeline, contentType string, def decode.Charset, fb decode.Fallback) *Body {
	return &Body{
		src:         p.Apply(c.br),
		conn:        c,
		contentType: contentType,
		def:         def,
		fallback:    fb,
	}
}

// framingStage removes the transfer framing described by f.
func framingStage(f http1.Framing, maxLine int) decode.Stage {
	return decode.NewStage("framing:"+f.String(), fault.KindProtocol, func(r io.Reader) io.Reader {
		br, ok := r.(*bufio.Reader)
		if !ok {
			br = bufio.NewReader(r)
		}
		return http1.NewBodyReader(f, br, maxLine)
	})
}

func (b *Body) Read(p []byte) (int, error) {
	return b.read(b.src, p)
}

func (b *Body) read(r io.Reader, p []byte) (int, error) {
	if b.closed {
		return 0, errBodyClosed
	}
	if b.done {
		return 0, io.EOF
	}
	n, err := r.Read(p)
	if err != nil {
		b.done = true
		b.release()
	}
	return n, err
}

// WriteTo streams the remaining body into w.
func (b *Body) WriteTo(w io.Writer) (int64, error) {
	return io.Copy(w, struct{ io.Reader }{b})
}

// Bytes reads the remaining body and closes it.
func (b *Body) Bytes() ([]byte, error) {
	defer b.Close()
	return io.ReadAll(struct{ io.Reader }{b})
}

// Text reads the remaining body as UTF-8 text and closes it.
func (b *Body) Text() (string, error) {
	defer b.Close()
	buf, err := io.ReadAll(b.TextReader())
	return string(buf), err
}

// TextReader returns a reader of the body transcoded to UTF-8. The body
// must not be read through both TextReader and Read.
func (b *Body) TextReader() io.Reader {
	if b.text == nil {
		b.Charset()
		b.text = decode.Transcode(*b.charset, b.fallback).Apply(b.br)
	}
	return textReader{b}
}

// TextWith is Text decoding from the charset named by label, whatever
// the response declares.
func (b *Body) TextWith(label string) (string, error) {
	defer b.Close()
	r, err := b.TextReaderWith(label)
	if err != nil {
		return "", err
	}
	buf, err := io.ReadAll(r)
	return string(buf), err
}

// TextReaderWith is TextReader decoding from the charset named by label.
// It fails with ErrUnknownCharset for a label Lookup cannot resolve, and
// once text has already been read.
func (b *Body) TextReaderWith(label string) (io.Reader, error) {
	cs, ok := decode.Lookup(label)
	if !ok {
		return nil, fault.New(fault.KindDecode, "text", errors.Wrapf(ErrUnknownCharset, "%q", label))
	}
	if b.text != nil {
		return nil, fault.New(fault.KindDecode, "text", errors.New("httpx: text reader already in use"))
	}
	if b.br == nil {
		b.br = bufio.NewReader(b.src)
		b.src = b.br
	}
	b.charset = &cs
	b.text = decode.Transcode(cs, b.fallback).Apply(b.br)
	return textReader{b}, nil
}

type textReader struct{ b *Body }

func (t textReader) Read(p []byte) (int, error) { return t.b.read(t.b.text, p) }

// Charset returns the name of the charset TextReader decodes from: the
// declared one, one sniffed from the start of the body, or the default.
// Sniffing peeks at the body, so call it before reading.
func (b *Body) Charset() string {
	if b.charset == nil {
		b.br = bufio.NewReaderSize(b.src, decode.SniffLen)
		b.src = b.br
		cs := b.def
		if !b.closed {
			cs = decode.Detect(b.br, b.contentType, b.def)
		}
		b.charset = &cs
	}
	return b.charset.Name
}

// Close releases the connection. Closing before the end discards the
// rest of the body. Close is idempotent.
func (b *Body) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.release()
	return nil
}

func (b *Body) release() {
	if b.conn != nil {
		b.conn.close()
		b.conn = nil
	}
	hooks := b.onClose
	b.onClose = nil
	for _, f := range hooks {
		f()
	}
}

// afterRelease runs f once the connection has been released.
func (b *Body) afterRelease(f func()) {
	if b.conn == nil {
		f()
		return
	}
	b.onClose = append(b.onClose, f)
}
