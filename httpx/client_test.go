package httpx

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"dqx0.com/go/httpc/httpx/internal/wiretest"
)

type hostsResolver map[string]string

func (h hostsResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	ip, ok := h[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return []net.IPAddr{{IP: net.ParseIP(ip)}}, nil
}

func testTransport() *BasicTransport {
	tr := NewBasicTransport()
	tr.Resolver = hostsResolver{"example.test": "127.0.0.1", "other.test": "127.0.0.1", "example.com": "127.0.0.1"}
	return tr
}

func testClient() *Client { return &Client{Transport: testTransport()} }

func urlOn(s *wiretest.Server, host, path string) string {
	return fmt.Sprintf("http://%s:%d%s", host, s.Port(), path)
}

func TestGet_Hello(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(200, "hello", "Content-Type", "text/plain"))
	res, err := testClient().Get(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.StatusCode != 200 || res.Status != "200 OK" || res.Reason != "OK" {
		t.Fatalf("status=%q", res.Status)
	}
	b, err := res.Body.Bytes()
	if err != nil || string(b) != "hello" {
		t.Fatalf("body=%q err=%v", b, err)
	}
	if res.ContentLength != 5 || res.Framing.Kind != FixedLength {
		t.Fatalf("framing=%v cl=%d", res.Framing, res.ContentLength)
	}
	if res.ExchangeID == "" {
		t.Fatalf("missing exchange id")
	}

	reqs := s.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests=%d", len(reqs))
	}
	r := reqs[0]
	if r.Method != "GET" || r.Target != "/" {
		t.Fatalf("request line %s %s", r.Method, r.Target)
	}
	if r.Header[0].Name != "Host" || r.Header[0].Value != fmt.Sprintf("example.test:%d", s.Port()) {
		t.Fatalf("first header %v", r.Header[0])
	}
	if r.Get("Connection") != "close" || r.Get("Accept-Encoding") != "gzip, deflate" || r.Get("User-Agent") != DefaultUserAgent {
		t.Fatalf("headers=%v", r.Header)
	}
	if r.Has("Content-Length") || r.Has("X-Request-ID") {
		t.Fatalf("unexpected headers=%v", r.Header)
	}
}

func TestGet_UserHeadersInOrder(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(200, ""))
	req, _ := NewRequest("GET", urlOn(s, "example.test", "/q?a=1&b=2"), nil)
	req.Header.Add("X-B", "2")
	req.Header.Add("x-a", "1")
	req.Header.Add("X-B", "3")
	req.Header.Add("User-Agent", "custom/1")
	res, err := testClient().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	res.Body.Close()
	r := s.Requests()[0]
	if r.Target != "/q?a=1&b=2" {
		t.Fatalf("target=%q", r.Target)
	}
	var names []string
	for _, f := range r.Header[1:4] {
		names = append(names, f.Name+"="+f.Value)
	}
	if strings.Join(names, ",") != "X-B=2,x-a=1,X-B=3" {
		t.Fatalf("order=%v", names)
	}
	if r.Get("User-Agent") != "custom/1" {
		t.Fatalf("user agent overridden: %v", r.Header)
	}
}

func TestGet_ChunkedWikipedia(t *testing.T) {
	s := wiretest.Start(t, wiretest.Raw("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"4\r\nWiki\r\n6\r\npedia \r\nE\r\nin \r\n\r\nchunks.\r\n0\r\n\r\n"))
	res, err := testClient().Get(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Framing.Kind != Chunked || res.ContentLength != -1 {
		t.Fatalf("framing=%v", res.Framing)
	}
	b, err := res.Body.Bytes()
	if err != nil || string(b) != "Wikipedia in \r\n\r\nchunks." {
		t.Fatalf("body=%q err=%v", b, err)
	}
}

func TestGet_UntilClose(t *testing.T) {
	s := wiretest.Start(t, wiretest.Raw("HTTP/1.0 200 OK\r\n\r\nstreamed until close"))
	res, err := testClient().Get(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := res.Body.Bytes()
	if err != nil || string(b) != "streamed until close" || res.Proto != "HTTP/1.0" {
		t.Fatalf("body=%q err=%v proto=%s", b, err, res.Proto)
	}
}

func TestHead_NoBody(t *testing.T) {
	s := wiretest.Start(t, wiretest.Raw("HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\n"))
	res, err := testClient().Head(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	b, err := res.Body.Bytes()
	if err != nil || len(b) != 0 {
		t.Fatalf("body=%q err=%v", b, err)
	}
}

func TestPost_FixedAndChunkedBodies(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(201, ""))
	c := testClient()
	res, err := c.Post(urlOn(s, "example.test", "/fixed"), "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	res.Body.Close()
	stream := io.MultiReader(strings.NewReader("str"), strings.NewReader("eam"))
	res, err = c.Post(urlOn(s, "example.test", "/chunked"), "", stream)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	res.Body.Close()
	res, err = c.Post(urlOn(s, "example.test", "/empty"), "", nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	res.Body.Close()

	reqs := s.Requests()
	if reqs[0].Get("Content-Length") != "7" || string(reqs[0].Body) != "payload" || reqs[0].Get("Content-Type") != "text/plain" {
		t.Fatalf("fixed: %v %q", reqs[0].Header, reqs[0].Body)
	}
	if reqs[1].Get("Transfer-Encoding") != "chunked" || reqs[1].Has("Content-Length") || string(reqs[1].Body) != "stream" {
		t.Fatalf("chunked: %v %q", reqs[1].Header, reqs[1].Body)
	}
	if reqs[2].Get("Content-Length") != "0" || len(reqs[2].Body) != 0 {
		t.Fatalf("empty: %v", reqs[2].Header)
	}
}

func TestRedirect_301PostBecomesGet(t *testing.T) {
	s := wiretest.Start(t, wiretest.Route(map[string]wiretest.Handler{
		"/old": wiretest.Reply(301, "", "Location", "/new"),
		"/new": wiretest.Reply(200, "moved here"),
	}))
	res, err := testClient().Post(urlOn(s, "example.test", "/old"), "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	b, _ := res.Body.Bytes()
	if res.StatusCode != 200 || string(b) != "moved here" || res.Redirects != 1 || res.URL.Path != "/new" {
		t.Fatalf("status=%d body=%q redirects=%d url=%v", res.StatusCode, b, res.Redirects, res.URL)
	}
	reqs := s.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests=%d", len(reqs))
	}
	second := reqs[1]
	if second.Method != "GET" || second.Target != "/new" || len(second.Body) != 0 {
		t.Fatalf("second=%s %s body=%q", second.Method, second.Target, second.Body)
	}
	if second.Has("Content-Type") || second.Has("Content-Length") {
		t.Fatalf("body headers kept: %v", second.Header)
	}
}

func TestRedirect_307ReplaysBody(t *testing.T) {
	s := wiretest.Start(t, wiretest.Route(map[string]wiretest.Handler{
		"/a": wiretest.Reply(307, "", "Location", "/b"),
		"/b": wiretest.Reply(200, "ok"),
	}))
	req, _ := NewRequest("PUT", urlOn(s, "example.test", "/a"), bytes.NewReader([]byte("data")))
	res, err := testClient().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	res.Body.Close()
	reqs := s.Requests()
	if len(reqs) != 2 || reqs[1].Method != "PUT" || string(reqs[1].Body) != "data" {
		t.Fatalf("second request %+v", reqs[len(reqs)-1])
	}
}

func TestRedirect_307UnreplayableBody(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(307, "", "Location", "/b"))
	req, _ := NewRequest("POST", urlOn(s, "example.test", "/a"), io.MultiReader(strings.NewReader("x")))
	_, err := testClient().Do(req)
	if !errors.Is(err, ErrBodyNotReplayable) || KindOf(err) != KindRedirect {
		t.Fatalf("err=%v", err)
	}
}

func TestRedirect_MaxHops(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(302, "", "Location", "/loop"))
	c := testClient()
	c.Redirect.MaxRedirects = 3
	_, err := c.Get(urlOn(s, "example.test", "/loop"))
	if !errors.Is(err, ErrTooManyRedirects) || KindOf(err) != KindRedirect {
		t.Fatalf("err=%v", err)
	}
	if n := len(s.Requests()); n != 4 {
		t.Fatalf("server saw %d requests, want 4", n)
	}
}

func TestRedirect_NoFollowAndMissingLocation(t *testing.T) {
	s := wiretest.Start(t, wiretest.Route(map[string]wiretest.Handler{
		"/r":       wiretest.Reply(302, "go away", "Location", "/elsewhere"),
		"/nowhere": wiretest.Reply(301, "no location"),
	}))
	c := testClient()
	c.Redirect.NoFollow = true
	res, err := c.Get(urlOn(s, "example.test", "/r"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b, _ := res.Body.Bytes(); res.StatusCode != 302 || string(b) != "go away" {
		t.Fatalf("status=%d body=%q", res.StatusCode, b)
	}

	res, err = testClient().Get(urlOn(s, "example.test", "/nowhere"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != 301 || len(s.Requests()) != 2 {
		t.Fatalf("status=%d requests=%d", res.StatusCode, len(s.Requests()))
	}
}

func TestRedirect_AuthorizationStaysOnOriginalHost(t *testing.T) {
	var s *wiretest.Server
	s = wiretest.Start(t, func(c net.Conn, r *wiretest.Request) {
		switch r.Target {
		case "/start":
			wiretest.Reply(302, "", "Location", "/same")(c, r)
		case "/same":
			wiretest.Reply(302, "", "Location", urlOn(s, "other.test", "/away"))(c, r)
		default:
			wiretest.Reply(200, "done")(c, r)
		}
	})
	c := testClient()
	c.Auth = BasicAuth{Username: "user", Password: "pass"}
	res, err := c.Get(urlOn(s, "example.test", "/start"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	res.Body.Close()
	reqs := s.Requests()
	if len(reqs) != 3 {
		t.Fatalf("requests=%d", len(reqs))
	}
	if reqs[0].Get("Authorization") != "Basic dXNlcjpwYXNz" || reqs[1].Get("Authorization") == "" {
		t.Fatalf("same-host requests lost credentials")
	}
	if reqs[2].Has("Authorization") {
		t.Fatalf("credentials leaked to other host")
	}
}

func TestBearerAndDefaultHeaders(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(200, ""))
	c := testClient()
	c.Auth = BearerToken("t0k")
	c.Header = Header{{Name: "Accept", Value: "application/json"}, {Name: "X-Default", Value: "d"}}
	req, _ := NewRequest("GET", urlOn(s, "example.test", "/"), nil)
	req.Header.Add("X-Default", "mine")
	res, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	res.Body.Close()
	r := s.Requests()[0]
	if r.Get("Authorization") != "Bearer t0k" || r.Get("Accept") != "application/json" {
		t.Fatalf("headers=%v", r.Header)
	}
	if got := r.Header; len(headerValues(got, "X-Default")) != 1 || r.Get("X-Default") != "mine" {
		t.Fatalf("default overrode request header: %v", got)
	}
}

func headerValues(h []Field, name string) []string { return Header(h).Values(name) }

func TestGzipResponse(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(strings.Repeat("compressible ", 1000)))
	zw.Close()
	s := wiretest.Start(t, wiretest.Reply(200, buf.String(), "Content-Encoding", "gzip"))

	res, err := testClient().Get(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := res.Body.Bytes()
	if err != nil || string(b) != strings.Repeat("compressible ", 1000) {
		t.Fatalf("decoded %d bytes, err=%v", len(b), err)
	}
	if !res.Uncompressed || res.ContentLength != -1 {
		t.Fatalf("uncompressed=%v cl=%d", res.Uncompressed, res.ContentLength)
	}

	tr := testTransport()
	tr.DisableCompression = true
	res, err = (&Client{Transport: tr}).Get(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	raw, _ := res.Body.Bytes()
	if !bytes.Equal(raw, buf.Bytes()) || res.Uncompressed {
		t.Fatalf("body was decoded with compression disabled")
	}
	if s.Requests()[1].Has("Accept-Encoding") {
		t.Fatalf("Accept-Encoding sent with compression disabled")
	}
}

func TestCorruptGzipIsDecodeError(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(200, "not gzip at all", "Content-Encoding", "gzip"))
	res, err := testClient().Get(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := res.Body.Bytes(); KindOf(err) != KindDecode {
		t.Fatalf("err=%v kind=%v", err, KindOf(err))
	}
}

func TestText_Charset(t *testing.T) {
	s := wiretest.Start(t, wiretest.Route(map[string]wiretest.Handler{
		"/latin": wiretest.Reply(200, "caf\xe9", "Content-Type", "text/plain; charset=iso-8859-1"),
		"/bad":   wiretest.Reply(200, "a\xffb", "Content-Type", "text/plain; charset=utf-8"),
		"/plain": wiretest.Reply(200, "plain ascii"),
	}))
	res, err := testClient().Get(urlOn(s, "example.test", "/latin"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cs := res.Body.Charset(); cs != "windows-1252" {
		t.Fatalf("charset=%q", cs)
	}
	if txt, err := res.Body.Text(); err != nil || txt != "café" {
		t.Fatalf("text=%q err=%v", txt, err)
	}

	tr := testTransport()
	tr.Fallback = FallbackStrict
	res, err = (&Client{Transport: tr}).Get(urlOn(s, "example.test", "/bad"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := res.Body.Text(); !errors.Is(err, ErrInvalidText) || KindOf(err) != KindDecode {
		t.Fatalf("err=%v", err)
	}

	tr = testTransport()
	tr.DefaultCharset = "latin1"
	res, err = (&Client{Transport: tr}).Get(urlOn(s, "example.test", "/plain"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cs := res.Body.Charset(); cs != "windows-1252" {
		t.Fatalf("default charset not applied: %q", cs)
	}
	if txt, err := res.Body.Text(); err != nil || txt != "plain ascii" {
		t.Fatalf("text=%q err=%v", txt, err)
	}
}

func TestTextWithCharset(t *testing.T) {
	s := wiretest.Start(t, wiretest.Route(map[string]wiretest.Handler{
		"/mislabeled": wiretest.Reply(200, "\x83\x65\x83\x58\x83\x67", "Content-Type", "text/plain; charset=utf-8"),
		"/latin":      wiretest.Reply(200, "caf\xe9", "Content-Type", "text/plain"),
	}))
	res, err := testClient().Get(urlOn(s, "example.test", "/mislabeled"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if txt, err := res.Body.TextWith("Shift_JIS"); err != nil || txt != "テスト" {
		t.Fatalf("text=%q err=%v", txt, err)
	}

	res, err = testClient().Get(urlOn(s, "example.test", "/latin"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := res.Body.TextReaderWith("no-such-charset"); !errors.Is(err, ErrUnknownCharset) || KindOf(err) != KindDecode {
		t.Fatalf("err=%v", err)
	}
	r, err := res.Body.TextReaderWith("latin1")
	if err != nil {
		t.Fatalf("TextReaderWith: %v", err)
	}
	if res.Body.Charset() != "windows-1252" {
		t.Fatalf("charset=%q", res.Body.Charset())
	}
	if _, err := res.Body.TextReaderWith("utf-8"); err == nil {
		t.Fatal("second text reader accepted")
	}
	b, err := io.ReadAll(r)
	if err != nil || string(b) != "café" {
		t.Fatalf("text=%q err=%v", b, err)
	}
	res.Body.Close()
}

func TestProtocolErrors(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want error
	}{
		"folded":   {"HTTP/1.1 200 OK\r\nX-A: 1\r\n continued\r\n\r\n", ErrFoldedHeader},
		"status":   {"HTTP/1.1 abc OK\r\n\r\n", ErrMalformedStatus},
		"header":   {"HTTP/1.1 200 OK\r\nno colon here\r\n\r\n", ErrMalformedHeader},
		"length":   {"HTTP/1.1 200 OK\r\nContent-Length: 3\r\nContent-Length: 4\r\n\r\nabcd", ErrContentLength},
		"too long": {"HTTP/1.1 200 OK\r\nX-Big: " + strings.Repeat("b", 2048) + "\r\n\r\n", ErrHeaderTooLarge},
		"empty":    {"", io.ErrUnexpectedEOF},
	}
	for name, tc := range cases {
		s := wiretest.Start(t, wiretest.Raw(tc.raw))
		tr := testTransport()
		tr.MaxHeaderBytes = 1024
		_, err := (&Client{Transport: tr}).Get(urlOn(s, "example.test", "/"))
		if !errors.Is(err, tc.want) || KindOf(err) != KindProtocol {
			t.Fatalf("%s: err=%v kind=%v", name, err, KindOf(err))
		}
	}
}

func TestTruncatedBodies(t *testing.T) {
	for name, raw := range map[string]string{
		"fixed":   "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc",
		"chunked": "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWi",
	} {
		s := wiretest.Start(t, wiretest.Raw(raw))
		res, err := testClient().Get(urlOn(s, "example.test", "/"))
		if err != nil {
			t.Fatalf("%s: Get: %v", name, err)
		}
		_, err = res.Body.Bytes()
		if !errors.Is(err, io.ErrUnexpectedEOF) || KindOf(err) != KindProtocol {
			t.Fatalf("%s: err=%v kind=%v", name, err, KindOf(err))
		}
	}
}

func TestReadTimeout(t *testing.T) {
	s := wiretest.Start(t, func(c net.Conn, r *wiretest.Request) {
		time.Sleep(300 * time.Millisecond)
		wiretest.Reply(200, "late")(c, r)
	})
	tr := testTransport()
	tr.ReadTimeout = 50 * time.Millisecond
	_, err := (&Client{Transport: tr}).Get(urlOn(s, "example.test", "/"))
	if !errors.Is(err, ErrTimeout) || !IsTimeout(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestClientTimeoutCoversBody(t *testing.T) {
	s := wiretest.Start(t, func(c net.Conn, r *wiretest.Request) {
		io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\npartial")
		time.Sleep(500 * time.Millisecond)
	})
	c := testClient()
	c.Timeout = 100 * time.Millisecond
	res, err := c.Get(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_, err = res.Body.Bytes()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v", err)
	}
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	_, err = testClient().Get(fmt.Sprintf("http://example.test:%d/", port))
	if err == nil || KindOf(err) != KindConnect || IsTimeout(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestUnknownHostAndScheme(t *testing.T) {
	if _, err := testClient().Get("http://nowhere.test/"); KindOf(err) != KindConnect {
		t.Fatalf("err=%v", err)
	}
	if _, err := testClient().Get("ftp://example.test/"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("err=%v", err)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(200, ""))
	tr := testTransport()
	tr.SendRequestID = true
	ctx := WithRequestID(context.Background(), "req-42")
	req, _ := NewRequestWithContext(ctx, "GET", urlOn(s, "example.test", "/"), nil)
	res, err := (&Client{Transport: tr}).Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	res.Body.Close()
	if res.ExchangeID != "req-42" || s.Requests()[0].Get("X-Request-ID") != "req-42" {
		t.Fatalf("id=%q header=%v", res.ExchangeID, s.Requests()[0].Header)
	}
}

func TestTraceHeaders(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(200, ""))
	parent := Trace{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", SpanID: "00f067aa0ba902b7", State: "congo=t61rcWkgMzE, bad key=1"}
	ctx := WithCorrelationID(WithTrace(context.Background(), parent), "order-7")
	req, _ := NewRequestWithContext(ctx, "GET", urlOn(s, "example.test", "/"), nil)
	res, err := (&Client{Transport: testTransport()}).Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	res.Body.Close()

	got := s.Requests()[0]
	if got.Get("X-Correlation-ID") != "order-7" {
		t.Fatalf("X-Correlation-ID=%q", got.Get("X-Correlation-ID"))
	}
	tr, ok := ParseTraceparent(got.Get("Traceparent"))
	if !ok || tr.TraceID != parent.TraceID || tr.SpanID == parent.SpanID || tr.Flags != "01" {
		t.Fatalf("Traceparent=%q", got.Get("Traceparent"))
	}
	if got.Get("Tracestate") != "congo=t61rcWkgMzE" {
		t.Fatalf("Tracestate=%q", got.Get("Tracestate"))
	}
}

func TestTraceHeadersFromTransport(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(200, ""))
	tr := testTransport()
	c := &Client{Transport: tr}
	for _, send := range []bool{false, true} {
		tr.SendTraceContext = send
		res, err := c.Get(urlOn(s, "example.test", "/"))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		res.Body.Close()
	}
	reqs := s.Requests()
	if reqs[0].Has("Traceparent") || reqs[0].Has("Tracestate") || reqs[0].Has("X-Correlation-ID") {
		t.Fatalf("unexpected trace headers: %v", reqs[0].Header)
	}
	if _, ok := ParseTraceparent(reqs[1].Get("Traceparent")); !ok {
		t.Fatalf("Traceparent=%q", reqs[1].Get("Traceparent"))
	}
}

func TestTraceHeadersCallerWins(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(200, ""))
	const tp = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-00"
	ctx := WithCorrelationID(WithTrace(context.Background(), Trace{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736"}), "ctx")
	req, _ := NewRequestWithContext(ctx, "GET", urlOn(s, "example.test", "/"), nil)
	req.Header.Set("Traceparent", tp)
	req.Header.Set("X-Correlation-ID", "mine")
	res, err := (&Client{Transport: testTransport()}).Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	res.Body.Close()
	got := s.Requests()[0]
	if got.Get("Traceparent") != tp || got.Get("X-Correlation-ID") != "mine" {
		t.Fatalf("header=%v", got.Header)
	}
}

func TestInterimResponsesSkipped(t *testing.T) {
	s := wiretest.Start(t, wiretest.Raw("HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	res, err := testClient().Get(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b, _ := res.Body.Bytes(); res.StatusCode != 200 || string(b) != "ok" {
		t.Fatalf("status=%d body=%q", res.StatusCode, b)
	}
}

func TestBodyCloseIsIdempotent(t *testing.T) {
	s := wiretest.Start(t, wiretest.Reply(200, "some body"))
	res, err := testClient().Get(urlOn(s, "example.test", "/"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := res.Body.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := res.Body.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := res.Body.Read(make([]byte, 4)); err == nil {
		t.Fatalf("read after close succeeded")
	}
}
