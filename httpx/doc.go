// Package httpx is a small synchronous HTTP/1.1 client.
//
// An exchange runs on the caller's goroutine: the proxy router picks a
// route, the dialer races the target's addresses (Happy Eyeballs), an
// optional TLS backend secures the socket, the request is written and
// the response head parsed. The body stays on the connection and is
// decoded lazily as the caller reads it: transfer framing first, then
// Content-Encoding, then, for Text, the charset.
//
// Highlights
//   - One connection per exchange, closed when the body is done.
//   - Pluggable TLS: crypto/tls (StdTLS) or uTLS (UTLS).
//   - HTTP and HTTPS proxies, CONNECT tunnels, NO_PROXY exclusions.
//   - Redirects with 303/301/302 method rewriting and 307/308 body replay.
//   - Typed errors: every failure is an *Error with a Kind.
//   - Observability: plug-in Logger and Meter interfaces.
//
// Quick start:
//
//	c := &httpx.Client{Timeout: 10 * time.Second}
//	res, err := c.Get("https://example.com/")
//	if err != nil { log.Fatal(err) }
//	text, err := res.Body.Text()
//	if err != nil { log.Fatal(err) }
//	fmt.Println(res.StatusCode, text)
package httpx
