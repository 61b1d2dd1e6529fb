package decode

import (
	"bufio"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"github.com/pkg/errors"
	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"dqx0.com/go/httpc/httpx/internal/fault"
)

// ErrInvalidText reports a byte sequence that is not valid in the body's
// charset while the strict fallback is in effect.
var ErrInvalidText = errors.New("httpx: invalid text in response body")

// Fallback selects what happens to byte sequences that do not decode.
type Fallback int

const (
	// FallbackReplace substitutes U+FFFD.
	FallbackReplace Fallback = iota
	// FallbackDrop removes the sequence.
	FallbackDrop
	// FallbackStrict fails the read with ErrInvalidText.
	FallbackStrict
)

func (f Fallback) String() string {
	switch f {
	case FallbackDrop:
		return "drop"
	case FallbackStrict:
		return "strict"
	default:
		return "replace"
	}
}

// ParseFallback maps "replace", "drop" and "strict" to a Fallback.
func ParseFallback(s string) (Fallback, error) {
	switch strings.ToLower(s) {
	case "", "replace":
		return FallbackReplace, nil
	case "drop":
		return FallbackDrop, nil
	case "strict":
		return FallbackStrict, nil
	}
	return FallbackReplace, errors.Errorf("unknown charset fallback %q", s)
}

// SniffLen is how much of the body charset detection looks at.
const SniffLen = 1024

// minConfidence is the lowest chardet score that is trusted.
const minConfidence = 50

// Charset is a resolved character encoding.
type Charset struct {
	Name     string
	Encoding encoding.Encoding
}

// UTF8 is the charset text is transcoded into.
var UTF8 = Charset{Name: "utf-8", Encoding: unicode.UTF8}

// Lookup resolves a charset label. WHATWG labels are tried first, then
// the IANA registry.
func Lookup(label string) (Charset, bool) {
	label = strings.TrimSpace(strings.Trim(label, `"'`))
	if label == "" {
		return Charset{}, false
	}
	if e, name := htmlcharset.Lookup(label); e != nil {
		return normalize(name, e), true
	}
	e, err := ianaindex.MIME.Encoding(label)
	if err != nil || e == nil {
		return Charset{}, false
	}
	name, err := ianaindex.MIME.Name(e)
	if err != nil {
		name = label
	}
	return normalize(name, e), true
}

func normalize(name string, e encoding.Encoding) Charset {
	name = strings.ToLower(name)
	if name == "utf-8" || e == encoding.Nop {
		return UTF8
	}
	return Charset{Name: name, Encoding: e}
}

// DeclaredCharset returns the charset parameter of a Content-Type value.
func DeclaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// Detect picks the charset of a body: the Content-Type declaration, then
// a BOM or HTML meta tag in the first SniffLen bytes, then statistical
// detection, then def. br is peeked, not consumed.
func Detect(br *bufio.Reader, contentType string, def Charset) Charset {
	if cs, ok := Lookup(DeclaredCharset(contentType)); ok {
		return cs
	}
	peek, _ := br.Peek(SniffLen)
	if len(peek) == 0 {
		return def
	}
	e, name, certain := htmlcharset.DetermineEncoding(peek, "")
	if certain {
		return normalize(name, e)
	}
	if cs, ok := metaCharset(peek); ok {
		return cs
	}
	if !hasHighBit(peek) {
		return def
	}
	if name == "utf-8" {
		return UTF8
	}
	if res, err := chardet.NewTextDetector().DetectBest(peek); err == nil && res.Confidence >= minConfidence {
		if cs, ok := Lookup(res.Charset); ok {
			return cs
		}
	}
	return def
}

// metaCharset reports the charset declared by an HTML meta tag in p.
// DetermineEncoding does not say whether its uncertain answer came from
// the meta prescan or from its own fallback, so p is scanned twice with
// the non-ASCII bytes blanked: once as plain ASCII, which falls back to
// windows-1252, and once with a UTF-8 suffix, which falls back to utf-8.
// Only a meta declaration gives the same name both times.
func metaCharset(p []byte) (Charset, bool) {
	const suffix = "\xc3\xa9."
	n := len(p)
	if n > SniffLen-len(suffix) {
		n = SniffLen - len(suffix)
	}
	ascii := make([]byte, n, n+len(suffix))
	for i, c := range p[:n] {
		if c >= utf8.RuneSelf {
			c = ' '
		}
		ascii[i] = c
	}
	e, name, _ := htmlcharset.DetermineEncoding(ascii, "")
	_, other, _ := htmlcharset.DetermineEncoding(append(ascii, suffix...), "")
	if name != other {
		return Charset{}, false
	}
	return normalize(name, e), true
}

func hasHighBit(p []byte) bool {
	for _, c := range p {
		if c >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// Transcode returns the stage converting text in cs to UTF-8 under the
// fallback policy.
//
// UTF-8 input is checked byte by byte, so a U+FFFD the body really
// contains survives the drop and strict policies. Other decoders emit
// U+FFFD for what they cannot decode and give no other signal, so for
// them every U+FFFD in the output counts as undecodable.
func Transcode(cs Charset, fb Fallback) Stage {
	return NewStage("transcode:"+cs.Name, fault.KindDecode, func(r io.Reader) io.Reader {
		enc := cs.Encoding
		if enc == nil || enc == encoding.Nop {
			enc = unicode.UTF8
		}
		if enc == unicode.UTF8 && fb != FallbackReplace {
			return transform.NewReader(r, utf8Filter{drop: fb == FallbackDrop})
		}
		var t transform.Transformer = enc.NewDecoder()
		switch fb {
		case FallbackDrop:
			t = transform.Chain(t, runes.Remove(runes.Predicate(isReplacement)))
		case FallbackStrict:
			t = transform.Chain(t, utf8Filter{replacement: true})
		}
		return transform.NewReader(r, t)
	})
}

func isReplacement(r rune) bool { return r == utf8.RuneError }

// utf8Filter passes valid UTF-8 through. Invalid sequences fail the read
// with ErrInvalidText, or are removed when drop is set. With replacement
// set, an encoded U+FFFD is treated as invalid too.
type utf8Filter struct {
	transform.NopResetter
	drop        bool
	replacement bool
}

func (f utf8Filter) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && (size <= 1 || f.replacement) {
			if size <= 1 && !atEOF && !utf8.FullRune(src[nSrc:]) {
				return nDst, nSrc, transform.ErrShortSrc
			}
			if !f.drop {
				return nDst, nSrc, errors.Wrapf(ErrInvalidText, "at byte %d", nSrc)
			}
			nSrc += size
			continue
		}
		if nDst+size > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], src[nSrc:nSrc+size])
		nSrc += size
	}
	return nDst, nSrc, nil
}
