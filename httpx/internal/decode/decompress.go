package decode

import (
	"bufio"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"dqx0.com/go/httpc/httpx/internal/fault"
)

// AcceptEncoding is the Accept-Encoding value matching what Decompressors
// can undo.
const AcceptEncoding = "gzip, deflate"

// Decompressors returns the stages undoing the Content-Encoding values
// in contentEncoding. Codings are undone last-applied first. The second
// result is false when a coding is not supported; the body is then left
// untouched.
func Decompressors(contentEncoding []string) ([]Stage, bool) {
	var codings []string
	for _, v := range contentEncoding {
		for _, c := range strings.Split(v, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && c != "identity" {
				codings = append(codings, c)
			}
		}
	}
	stages := make([]Stage, 0, len(codings))
	for i := len(codings) - 1; i >= 0; i-- {
		switch codings[i] {
		case "gzip", "x-gzip":
			stages = append(stages, Gzip())
		case "deflate":
			stages = append(stages, Deflate())
		default:
			return nil, false
		}
	}
	return stages, true
}

// Gzip undoes gzip content coding, including multi-member streams.
func Gzip() Stage {
	return NewStage("gzip", fault.KindDecode, func(r io.Reader) io.Reader {
		return &lazyReader{src: r, open: func(src io.Reader) (io.Reader, error) {
			return gzip.NewReader(src)
		}}
	})
}

// Deflate undoes deflate content coding. Servers disagree on whether
// that means a zlib stream or raw DEFLATE, so the first two bytes decide.
func Deflate() Stage {
	return NewStage("deflate", fault.KindDecode, func(r io.Reader) io.Reader {
		return &lazyReader{src: r, open: func(src io.Reader) (io.Reader, error) {
			br := bufio.NewReader(src)
			head, err := br.Peek(2)
			if err != nil && len(head) < 2 {
				if err == io.EOF && len(head) == 0 {
					return nil, io.EOF
				}
				return flate.NewReader(br), nil
			}
			if isZlibHeader(head[0], head[1]) {
				return zlib.NewReader(br)
			}
			return flate.NewReader(br), nil
		}}
	})
}

// isZlibHeader checks CM=8, CINFO<=7 and the FCHECK multiple of 31.
func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// lazyReader defers reading the decoder header until the first Read so
// building a pipeline never touches the connection. An empty source is
// an empty body rather than a corrupt stream.
type lazyReader struct {
	src  io.Reader
	open func(io.Reader) (io.Reader, error)
	r    io.Reader
	err  error
}

func (l *lazyReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.r == nil {
		r, err := l.open(l.src)
		if err != nil {
			l.err = err
			return 0, err
		}
		l.r = r
	}
	n, err := l.r.Read(p)
	if err != nil {
		l.err = err
	}
	return n, err
}
