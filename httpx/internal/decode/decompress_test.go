package decode

import (
	"bytes"
	stdflate "compress/flate"
	stdgzip "compress/gzip"
	stdzlib "compress/zlib"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dqx0.com/go/httpc/httpx/internal/fault"
)

var sizes = []int{0, 1, 64 << 10, 10 << 20}

func payload(n int) []byte {
	rng := rand.New(rand.NewSource(int64(n)))
	words := []string{"alpha ", "beta ", "gamma ", "delta\n", "\x00\xff", "epsilon "}
	var b bytes.Buffer
	for b.Len() < n {
		b.WriteString(words[rng.Intn(len(words))])
	}
	return b.Bytes()[:n]
}

func gzipped(t *testing.T, p []byte) []byte {
	var buf bytes.Buffer
	w := stdgzip.NewWriter(&buf)
	_, err := w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibbed(t *testing.T, p []byte) []byte {
	var buf bytes.Buffer
	w := stdzlib.NewWriter(&buf)
	_, err := w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func deflated(t *testing.T, p []byte) []byte {
	var buf bytes.Buffer
	w, err := stdflate.NewWriter(&buf, stdflate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestGzipRoundTrip(t *testing.T) {
	for _, n := range sizes {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			p := payload(n)
			got, err := io.ReadAll(Gzip().Apply(bytes.NewReader(gzipped(t, p))))
			require.NoError(t, err)
			require.True(t, bytes.Equal(p, got), "payload mismatch for %d bytes", n)
		})
	}
}

func TestDeflateRoundTrip(t *testing.T) {
	for _, n := range sizes {
		t.Run(fmt.Sprintf("zlib/%d", n), func(t *testing.T) {
			p := payload(n)
			got, err := io.ReadAll(Deflate().Apply(bytes.NewReader(zlibbed(t, p))))
			require.NoError(t, err)
			require.True(t, bytes.Equal(p, got))
		})
		t.Run(fmt.Sprintf("raw/%d", n), func(t *testing.T) {
			p := payload(n)
			got, err := io.ReadAll(Deflate().Apply(bytes.NewReader(deflated(t, p))))
			require.NoError(t, err)
			require.True(t, bytes.Equal(p, got))
		})
	}
}

func TestEmptySourceIsEmptyBody(t *testing.T) {
	for _, s := range []Stage{Gzip(), Deflate()} {
		got, err := io.ReadAll(s.Apply(strings.NewReader("")))
		require.NoError(t, err, s.Name())
		require.Empty(t, got)
	}
}

func TestCorruptStreamIsDecodeError(t *testing.T) {
	_, err := io.ReadAll(Gzip().Apply(strings.NewReader("definitely not gzip")))
	require.Error(t, err)
	require.Equal(t, fault.KindDecode, fault.KindOf(err))

	good := gzipped(t, payload(4096))
	_, err = io.ReadAll(Gzip().Apply(bytes.NewReader(good[:len(good)/2])))
	require.Error(t, err)
	require.Equal(t, fault.KindDecode, fault.KindOf(err))
}

type countingReader struct {
	r     io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}

func TestDecoderIsLazy(t *testing.T) {
	src := &countingReader{r: bytes.NewReader(gzipped(t, []byte("x")))}
	r := Pipeline{Gzip()}.Apply(src)
	require.Zero(t, src.reads)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "x", string(got))
}

func TestDecompressorsOrder(t *testing.T) {
	stages, ok := Decompressors([]string{"deflate, gzip"})
	require.True(t, ok)
	require.Len(t, stages, 2)
	require.Equal(t, "gzip", stages[0].Name())
	require.Equal(t, "deflate", stages[1].Name())

	p := []byte("layered body")
	body := gzipped(t, zlibbed(t, p))
	got, err := io.ReadAll(Pipeline(stages).Apply(bytes.NewReader(body)))
	require.NoError(t, err)
	require.Equal(t, p, got)

	stages, ok = Decompressors([]string{"X-GZIP", "identity"})
	require.True(t, ok)
	require.Len(t, stages, 1)

	_, ok = Decompressors([]string{"br"})
	require.False(t, ok)
}

func TestPipelineString(t *testing.T) {
	require.Equal(t, "gzip -> deflate", Pipeline{Gzip(), Deflate()}.String())
}
