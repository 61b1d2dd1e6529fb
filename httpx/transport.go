package httpx

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"dqx0.com/go/httpc/httpx/internal/decode"
	"dqx0.com/go/httpc/httpx/internal/dial"
	"dqx0.com/go/httpc/httpx/internal/fault"
	"dqx0.com/go/httpc/httpx/internal/http1"
	"dqx0.com/go/httpc/internal/obs"
)

// Transport performs a single HTTP exchange.
type Transport interface {
	RoundTrip(*Request) (*Response, error)
}

// Resolver looks up host addresses; *net.Resolver implements it.
type Resolver = dial.Resolver

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultUserAgent      = "httpx/1.0"
)

// BasicTransport is a synchronous HTTP/1.1 Transport. Every exchange
// opens its own connection and closes it when the response body is
// done; nothing is pooled.
type BasicTransport struct {
	// ConnectTimeout bounds resolution, connect, proxy CONNECT and the TLS
	// handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds each socket read and is refreshed on every read.
	ReadTimeout time.Duration
	// FallbackDelay is the head start each address gets before the next
	// one is tried. Zero means 250ms.
	FallbackDelay time.Duration
	Resolver      Resolver
	Proxy         *Router

	TLS        TLSSettings
	TLSBackend TLSBackend

	DisableCompression bool
	// DefaultCharset is used for text when the body neither declares nor
	// reveals its charset. Empty means UTF-8.
	DefaultCharset string
	Fallback       Fallback
	MaxHeaderBytes int
	UserAgent      string
	// SendRequestID sends the exchange ID as X-Request-ID.
	SendRequestID bool
	// SendTraceContext sends a Traceparent starting a new trace when the
	// request's context carries none. With a Trace on the context the
	// header is always sent.
	SendTraceContext bool

	Logger obs.Logger
	Meter  obs.Meter

	warnOnce sync.Once
}

// DefaultTransport is used by Client when Transport is nil. Its proxy
// settings are read from the environment once, at startup.
var DefaultTransport = &BasicTransport{
	ConnectTimeout: DefaultConnectTimeout,
	ReadTimeout:    DefaultReadTimeout,
	Proxy:          NewRouter(ProxyFromEnvironment()),
}

// NewBasicTransport returns a BasicTransport with default timeouts and
// no proxy.
func NewBasicTransport() *BasicTransport {
	return &BasicTransport{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
	}
}

func (t *BasicTransport) RoundTrip(r *Request) (*Response, error) {
	rtStart := time.Now()
	if r == nil || r.URL == nil {
		return nil, errors.New("httpx: nil request or URL")
	}
	ctx := r.Context()
	id := exchangeID(ctx)
	method := r.Method
	if method == "" {
		method = "GET"
	}
	route, err := t.Proxy.Route(r.URL)
	if err != nil {
		t.logf(obs.Error, "exchange %s: route %s: %v", id, r.URL.Redacted(), err)
		t.metricCounter("httpx_client_requests_error", 1, obs.Label{Key: "stage", Value: "route"})
		return nil, err
	}
	t.metricCounter("httpx_client_requests_total", 1, obs.Label{Key: "method", Value: method})

	c, err := t.connect(ctx, route, id)
	if err != nil {
		t.logf(obs.Error, "exchange %s: connect %s failed: %v", id, route.Dial().Addr(), err)
		t.metricCounter("httpx_client_requests_error", 1, obs.Label{Key: "stage", Value: KindOf(err).String()})
		return nil, err
	}
	resp, err := t.exchange(c, r, method, route)
	if err != nil {
		c.close()
		t.logf(obs.Warn, "exchange %s: %s %s: %v", id, method, r.URL.Redacted(), err)
		t.metricCounter("httpx_client_requests_error", 1, obs.Label{Key: "stage", Value: KindOf(err).String()})
		return nil, err
	}
	resp.ExchangeID = id
	status := strconv.Itoa(resp.StatusCode)
	t.logf(obs.Debug, "exchange %s: %s %s -> %s (%s)", id, method, r.URL.Redacted(), resp.Status, resp.Framing)
	t.metricCounter("httpx_client_responses_total", 1, obs.Label{Key: "status", Value: status})
	t.metricHistogram("httpx_client_roundtrip_duration_ms", float64(time.Since(rtStart).Milliseconds()),
		obs.Label{Key: "method", Value: method}, obs.Label{Key: "status", Value: status})
	return resp, nil
}

// connect opens the connection for route: socket, TLS to an https proxy,
// CONNECT tunnel, then TLS to the target, all within ConnectTimeout.
func (t *BasicTransport) connect(ctx context.Context, route Route, id string) (*conn, error) {
	cctx := ctx
	if t.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, t.ConnectTimeout)
		defer cancel()
	}
	ep := route.Dial()
	d := &dial.Dialer{
		Resolver:      t.Resolver,
		FallbackDelay: t.FallbackDelay,
		Logger:        t.logger(),
		Meter:         t.getMeter(),
	}
	nc, err := d.Dial(cctx, ep.Host, ep.Port)
	if err != nil {
		return nil, err
	}
	var state *TLSState
	if route.Proxy != nil && ep.Secure {
		sc, err := t.handshake(cctx, nc, ep.Host)
		if err != nil {
			_ = nc.Close()
			return nil, err
		}
		nc = sc
	}
	if route.Tunnel {
		tc, err := t.tunnel(cctx, nc, route)
		if err != nil {
			_ = nc.Close()
			return nil, err
		}
		nc = tc
	}
	if route.Target.Secure {
		sc, err := t.handshake(cctx, nc, route.Target.Host)
		if err != nil {
			_ = nc.Close()
			return nil, err
		}
		st := sc.State()
		state = &st
		nc = sc
	}
	return newConn(ctx, nc, t.ReadTimeout, id, state), nil
}

func (t *BasicTransport) handshake(ctx context.Context, nc net.Conn, host string) (*SecureConn, error) {
	backend := t.TLSBackend
	if backend == nil {
		backend = StdTLS{}
	}
	t.warnOnce.Do(func() { warnInsecure(t.logger(), &t.TLS, host) })
	sc, err := backend.Handshake(ctx, nc, &t.TLS, host)
	if err != nil {
		return nil, err
	}
	t.logf(obs.Debug, "tls %s with %s: %s alpn=%q", backend.Name(), host, sc.State().VersionName(), sc.State().ALPN)
	return sc, nil
}

// tunnel asks the proxy to CONNECT to the target. A non-2xx answer is a
// connect error carrying the status.
func (t *BasicTransport) tunnel(ctx context.Context, nc net.Conn, route Route) (net.Conn, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(dl)
		defer nc.SetDeadline(time.Time{})
	}
	addr := route.Target.Addr()
	fields := []Field{{Name: "Host", Value: addr}}
	if pa := proxyAuthorization(route.Proxy); pa != "" {
		fields = append(fields, Field{Name: "Proxy-Authorization", Value: pa})
	}
	bw := bufio.NewWriter(nc)
	err := http1.WriteRequestHead(bw, "CONNECT", addr, fields)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		return nil, connectError(ctx, "proxy CONNECT", err)
	}
	br := bufio.NewReader(nc)
	head, err := (&http1.Reader{BR: br, MaxHeaderBytes: t.MaxHeaderBytes}).ReadResponseHead()
	if err != nil {
		return nil, connectError(ctx, "proxy CONNECT", err)
	}
	if head.StatusCode < 200 || head.StatusCode > 299 {
		return nil, fault.New(fault.KindConnect, "proxy CONNECT "+addr,
			errors.Wrapf(ErrProxyRefused, "status %d %s", head.StatusCode, head.Reason))
	}
	if br.Buffered() == 0 {
		return nc, nil
	}
	return &readerConn{Conn: nc, r: br}, nil
}

func connectError(ctx context.Context, op string, err error) error {
	if ctx.Err() == context.DeadlineExceeded || fault.IsTimeout(err) {
		return fault.Timeout(op, err)
	}
	return fault.New(fault.KindConnect, op, err)
}

// readerConn reads through r, which may hold bytes already taken off
// the socket.
type readerConn struct {
	net.Conn
	r io.Reader
}

func (c *readerConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// exchange writes the request and reads the response head. The body is
// left on the connection for the caller.
func (t *BasicTransport) exchange(c *conn, r *Request, method string, route Route) (*Response, error) {
	target := requestTarget(r.URL, route)
	length, body := bodyFraming(r, method)
	fields := t.requestFields(r, method, route, length, body != nil, c.id)

	if err := http1.WriteRequestHead(c.bw, method, target, fields); err != nil {
		return nil, fault.New(fault.KindWrite, "write request head", err)
	}
	if body != nil {
		_, err := http1.WriteBody(c.bw, body, length)
		if rc, ok := body.(io.Closer); ok {
			_ = rc.Close()
		}
		if err != nil {
			return nil, fault.New(fault.KindWrite, "write request body", err)
		}
	}
	if err := c.bw.Flush(); err != nil {
		return nil, fault.New(fault.KindWrite, "flush request", err)
	}

	rd := &http1.Reader{BR: c.br, MaxHeaderBytes: t.MaxHeaderBytes}
	head, err := rd.ReadResponseHead()
	if err != nil {
		return nil, fault.New(fault.KindProtocol, "read response head", err)
	}
	framing, err := http1.ResponseFraming(method, head.StatusCode, head.Header)
	if err != nil {
		return nil, fault.New(fault.KindProtocol, "response framing", err)
	}
	h := Header(head.Header)
	resp := &Response{
		Status:        statusText(head.StatusCode, head.Reason),
		StatusCode:    head.StatusCode,
		Reason:        head.Reason,
		Proto:         head.Proto,
		Header:        h,
		ContentLength: -1,
		Framing:       framing,
		URL:           r.URL,
		Request:       r,
		TLS:           c.tls,
	}
	if framing.Kind == http1.FixedLength {
		resp.ContentLength = framing.Length
	}
	maxLine := t.MaxHeaderBytes
	if maxLine <= 0 {
		maxLine = http1.DefaultMaxHeaderBytes
	}
	pipeline := decode.Pipeline{framingStage(framing, maxLine)}
	if !t.DisableCompression && method != "HEAD" {
		if stages, ok := decode.Decompressors(h.Values("Content-Encoding")); ok && len(stages) > 0 {
			pipeline = append(pipeline, stages...)
			resp.Uncompressed = true
			resp.ContentLength = -1
		}
	}
	resp.Body = newBody(c, pipeline, h.Get("Content-Type"), t.defaultCharset(), t.Fallback)
	if framing.Kind == http1.FixedLength && framing.Length == 0 {
		resp.Body.done = true
		resp.Body.release()
	}
	return resp, nil
}

// bodyFraming returns the length to announce and the body to send. A nil
// body with length zero still announces Content-Length for methods that
// normally carry one.
func bodyFraming(r *Request, method string) (int64, io.Reader) {
	if !r.hasBody() {
		return 0, nil
	}
	if r.ContentLength > 0 {
		return r.ContentLength, r.Body
	}
	return -1, r.Body
}

func (t *BasicTransport) requestFields(r *Request, method string, route Route, length int64, hasBody bool, id string) []Field {
	fields := make([]Field, 0, len(r.Header)+6)
	host := r.Host
	if host == "" {
		host = hostHeader(r.URL)
	}
	fields = append(fields, Field{Name: "Host", Value: host})
	for _, f := range r.Header {
		switch strings.ToLower(f.Name) {
		case "host", "content-length", "transfer-encoding", "connection", "proxy-authorization":
			continue
		}
		fields = append(fields, f)
	}
	switch {
	case hasBody && length >= 0:
		fields = append(fields, Field{Name: "Content-Length", Value: strconv.FormatInt(length, 10)})
	case hasBody:
		fields = append(fields, Field{Name: "Transfer-Encoding", Value: "chunked"})
	case method == "POST" || method == "PUT" || method == "PATCH":
		fields = append(fields, Field{Name: "Content-Length", Value: "0"})
	}
	if !t.DisableCompression && !r.Header.Has("Accept-Encoding") {
		fields = append(fields, Field{Name: "Accept-Encoding", Value: decode.AcceptEncoding})
	}
	if !r.Header.Has("User-Agent") {
		ua := t.UserAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		fields = append(fields, Field{Name: "User-Agent", Value: ua})
	}
	if t.SendRequestID && !r.Header.Has("X-Request-ID") {
		fields = append(fields, Field{Name: "X-Request-ID", Value: id})
	}
	ctx := r.Context()
	if cid, ok := CorrelationIDFrom(ctx); ok && !r.Header.Has("X-Correlation-ID") {
		fields = append(fields, Field{Name: "X-Correlation-ID", Value: cid})
	}
	if !r.Header.Has("Traceparent") {
		tr, ok := TraceFrom(ctx)
		if ok || t.SendTraceContext {
			fields = append(fields, Field{Name: "Traceparent", Value: traceparent(tr)})
		}
		if ts := ParseTraceState(tr.State).String(); ts != "" && !r.Header.Has("Tracestate") {
			fields = append(fields, Field{Name: "Tracestate", Value: ts})
		}
	}
	if route.absoluteForm() {
		if pa := proxyAuthorization(route.Proxy); pa != "" {
			fields = append(fields, Field{Name: "Proxy-Authorization", Value: pa})
		}
	}
	return append(fields, Field{Name: "Connection", Value: "close"})
}

// requestTarget is the origin-form path and query, or the absolute URL
// when talking to a forwarding proxy.
func requestTarget(u *url.URL, route Route) string {
	if route.absoluteForm() {
		abs := *u
		abs.User = nil
		abs.Fragment = ""
		abs.RawFragment = ""
		if abs.Path == "" && abs.Opaque == "" {
			abs.Path = "/"
		}
		return abs.String()
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	if p := u.RequestURI(); p != "" {
		return p
	}
	return "/"
}

// hostHeader is the URL host with default ports dropped.
func hostHeader(u *url.URL) string {
	host := u.Host
	port := u.Port()
	if (port == "80" && u.Scheme == "http") || (port == "443" && u.Scheme == "https") {
		host = strings.TrimSuffix(host, ":"+port)
	}
	return host
}

func (t *BasicTransport) defaultCharset() decode.Charset {
	if cs, ok := decode.Lookup(t.DefaultCharset); ok {
		return cs
	}
	return decode.UTF8
}

func (t *BasicTransport) logger() obs.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return obs.NopLogger{}
}

func (t *BasicTransport) logf(level obs.Level, format string, args ...interface{}) {
	t.logger().Logf(level, format, args...)
}

func (t *BasicTransport) metricCounter(name string, value float64, labels ...obs.Label) {
	t.getMeter().Counter(name, value, labels...)
}

func (t *BasicTransport) metricHistogram(name string, value float64, labels ...obs.Label) {
	t.getMeter().Histogram(name, value, labels...)
}

func (t *BasicTransport) getMeter() obs.Meter {
	if t.Meter != nil {
		return t.Meter
	}
	return obs.NopMeter{}
}
