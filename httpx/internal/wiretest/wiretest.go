// Package wiretest runs scripted HTTP/1.1 servers for tests. Handlers
// answer with raw bytes so tests control every byte on the wire.
package wiretest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"dqx0.com/go/httpc/httpx/internal/http1"
)

// Request is what the server received.
type Request struct {
	Method string
	Target string
	Proto  string
	Header []http1.Field
	Body   []byte
}

func (r *Request) Get(name string) string { return http1.Get(r.Header, name) }

func (r *Request) Has(name string) bool { return http1.Has(r.Header, name) }

// Handler answers one request. It owns c until it returns; the server
// closes c afterwards.
type Handler func(c net.Conn, r *Request)

// Server accepts connections and serves one request per connection.
type Server struct {
	ln      net.Listener
	handler Handler

	mu   sync.Mutex
	reqs []*Request
	wg   sync.WaitGroup
}

// Start listens on a loopback port and serves h until the test ends.
func Start(t testing.TB, h Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{ln: ln, handler: h}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr is host:port of the listener.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Port is the listening port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// URL returns http://127.0.0.1:port followed by path.
func (s *Server) URL(path string) string { return "http://" + s.Addr() + path }

// Requests returns the requests served so far, in arrival order.
func (s *Server) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.reqs...)
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer c.Close()
			br := bufio.NewReader(c)
			r, err := ReadRequest(br)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.reqs = append(s.reqs, r)
			s.mu.Unlock()
			s.handler(&bufferedConn{Conn: c, br: br}, r)
		}()
	}
}

// ReadRequest reads one request with its whole body from br.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	rd := &http1.Reader{BR: br}
	pr, err := rd.ReadRequest()
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(pr.Body)
	if err != nil {
		return nil, err
	}
	return &Request{Method: pr.Method, Target: pr.RequestURI, Proto: pr.Proto, Header: pr.Header, Body: body}, nil
}

// bufferedConn keeps bytes the request reader buffered past the request.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.br.Read(p) }

// Raw writes s verbatim.
func Raw(s string) Handler {
	return func(c net.Conn, _ *Request) { _, _ = io.WriteString(c, s) }
}

// Reply writes a Content-Length framed response. headers alternate name
// and value.
func Reply(status int, body string, headers ...string) Handler {
	return func(c net.Conn, _ *Request) { _, _ = io.WriteString(c, Response(status, body, headers...)) }
}

// Response renders a Content-Length framed response.
func Response(status int, body string, headers ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, reason(status))
	for i := 0; i+1 < len(headers); i += 2 {
		fmt.Fprintf(&b, "%s: %s\r\n", headers[i], headers[i+1])
	}
	b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	b.WriteString(body)
	return b.String()
}

// Route picks a handler by request target; unknown targets get 404.
func Route(routes map[string]Handler) Handler {
	return func(c net.Conn, r *Request) {
		if h, ok := routes[r.Target]; ok {
			h(c, r)
			return
		}
		Reply(404, "not found")(c, r)
	}
}

func reason(status int) string {
	switch status {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 303:
		return "See Other"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	}
	return "Status"
}
