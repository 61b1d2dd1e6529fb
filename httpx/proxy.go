package httpx

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpproxy"

	"dqx0.com/go/httpc/httpx/internal/fault"
)

// ProxyConfig holds the proxy settings. NoProxy is a comma separated list
// of exclusions: host names, domain suffixes (".example.com" or
// "example.com"), "*.example.com", "*", IP addresses and CIDR ranges,
// each optionally with ":port".
type ProxyConfig struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// ProxyFromEnvironment reads HTTP_PROXY, HTTPS_PROXY and NO_PROXY (or
// their lowercase forms) once.
func ProxyFromEnvironment() ProxyConfig {
	c := httpproxy.FromEnvironment()
	return ProxyConfig{HTTPProxy: c.HTTPProxy, HTTPSProxy: c.HTTPSProxy, NoProxy: c.NoProxy}
}

// Router decides whether a URL is reached directly or through a proxy.
// A nil *Router routes everything directly.
type Router struct {
	cfg   ProxyConfig
	proxy func(*url.URL) (*url.URL, error)
}

func NewRouter(cfg ProxyConfig) *Router {
	hc := &httpproxy.Config{HTTPProxy: cfg.HTTPProxy, HTTPSProxy: cfg.HTTPSProxy, NoProxy: cfg.NoProxy}
	return &Router{cfg: cfg, proxy: hc.ProxyFunc()}
}

// Config returns the settings the router was built from.
func (rt *Router) Config() ProxyConfig {
	if rt == nil {
		return ProxyConfig{}
	}
	return rt.cfg
}

// Endpoint is a host and port to connect to. Secure means TLS runs on
// the connection.
type Endpoint struct {
	Host   string
	Port   int
	Secure bool
}

// Addr returns host:port, bracketing IPv6 literals.
func (e Endpoint) Addr() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }

// EndpointFor returns the endpoint of an http or https URL.
func EndpointFor(u *url.URL) (Endpoint, error) {
	var e Endpoint
	switch strings.ToLower(u.Scheme) {
	case "http":
		e.Port = 80
	case "https":
		e.Port, e.Secure = 443, true
	default:
		return e, errors.Wrapf(ErrUnsupportedScheme, "%q", u.Scheme)
	}
	e.Host = u.Hostname()
	if e.Host == "" {
		return e, errors.Errorf("missing host in %q", u.Redacted())
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return e, errors.Errorf("invalid port %q", p)
		}
		e.Port = n
	}
	return e, nil
}

// Route is how one request reaches its target.
type Route struct {
	Target Endpoint
	// Proxy is nil for direct connections.
	Proxy         *url.URL
	ProxyEndpoint Endpoint
	// Tunnel is set for https targets behind a proxy: a CONNECT tunnel is
	// opened and TLS to the target runs inside it.
	Tunnel bool
}

// Dial returns the endpoint the socket connects to.
func (r Route) Dial() Endpoint {
	if r.Proxy != nil {
		return r.ProxyEndpoint
	}
	return r.Target
}

// absoluteForm reports whether the request line carries the full URL.
func (r Route) absoluteForm() bool { return r.Proxy != nil && !r.Tunnel }

// Route resolves the route for u. An exclusion in NoProxy always wins
// over a configured proxy, and loopback targets are never proxied.
func (rt *Router) Route(u *url.URL) (Route, error) {
	target, err := EndpointFor(u)
	if err != nil {
		return Route{}, fault.New(fault.KindConnect, "route", err)
	}
	r := Route{Target: target}
	if rt == nil || rt.proxy == nil {
		return r, nil
	}
	pu, err := rt.proxy(u)
	if err != nil {
		return Route{}, fault.New(fault.KindConnect, "proxy config", err)
	}
	if pu == nil {
		return r, nil
	}
	pe, err := EndpointFor(pu)
	if err != nil {
		return Route{}, fault.New(fault.KindConnect, "proxy "+pu.Redacted(), err)
	}
	r.Proxy = pu
	r.ProxyEndpoint = pe
	r.Tunnel = target.Secure
	return r, nil
}

// proxyAuthorization returns the Proxy-Authorization value for the
// proxy's userinfo, or "".
func proxyAuthorization(u *url.URL) string {
	if u == nil || u.User == nil {
		return ""
	}
	pass, _ := u.User.Password()
	return BasicAuth{Username: u.User.Username(), Password: pass}.Authorization()
}
