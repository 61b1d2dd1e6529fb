// Package dial opens TCP connections to a host name by racing its
// addresses (RFC 8305 "Happy Eyeballs").
package dial

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"dqx0.com/go/httpc/httpx/internal/fault"
	"dqx0.com/go/httpc/internal/obs"
)

// DefaultFallbackDelay is how long an attempt may run before the next
// candidate address is tried in parallel.
const DefaultFallbackDelay = 250 * time.Millisecond

// Resolver looks up the addresses of a host. *net.Resolver implements it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Dialer races connection attempts across the resolved addresses of a
// host. The zero value is usable.
type Dialer struct {
	Resolver Resolver
	// DialContext opens a single connection. Nil means net.Dialer.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
	// Timeout bounds resolution plus connect. Zero means no limit beyond ctx.
	Timeout       time.Duration
	FallbackDelay time.Duration

	Logger obs.Logger
	Meter  obs.Meter
}

type attempt struct {
	addr string
	conn net.Conn
	err  error
}

// Dial connects to host:port. host may be a name or an IP literal.
func (d *Dialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	addrs, err := d.resolve(ctx, host)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fault.Timeout("resolve "+host, err)
		}
		return nil, fault.New(fault.KindConnect, "resolve "+host, err)
	}
	c, err := d.race(ctx, Interleave(addrs), strconv.Itoa(port))
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}

func (d *Dialer) resolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IPAddr{{IP: ip}}, nil
	}
	r := d.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, errors.Errorf("no addresses for %s", host)
	}
	return addrs, nil
}

// Interleave orders addrs for racing. The family of the first address
// leads and the two families alternate after it; relative order within a
// family is kept.
func Interleave(addrs []net.IPAddr) []net.IPAddr {
	if len(addrs) == 0 {
		return nil
	}
	v4 := addrs[0].IP.To4() != nil
	var primary, secondary []net.IPAddr
	for _, a := range addrs {
		if (a.IP.To4() != nil) == v4 {
			primary = append(primary, a)
		} else {
			secondary = append(secondary, a)
		}
	}
	out := make([]net.IPAddr, 0, len(addrs))
	for i := 0; i < len(primary) || i < len(secondary); i++ {
		if i < len(primary) {
			out = append(out, primary[i])
		}
		if i < len(secondary) {
			out = append(out, secondary[i])
		}
	}
	return out
}

// race starts addrs[0] at once and each later address when the previous
// one fails or the fallback delay passes, whichever is first. The first
// connection wins; every other attempt is cancelled and joined, and late
// successes are closed before race returns.
func (d *Dialer) race(ctx context.Context, addrs []net.IPAddr, port string) (net.Conn, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attempt, len(addrs))
	var g errgroup.Group
	next, pending := 0, 0
	start := func() {
		a := addrs[next]
		next++
		pending++
		addr := net.JoinHostPort(a.String(), port)
		d.meter().Counter("httpx_client_dial_attempts_total", 1, obs.Label{Key: "family", Value: family(a.IP)})
		g.Go(func() error {
			c, err := d.dialOne(raceCtx, addr)
			results <- attempt{addr: addr, conn: c, err: err}
			return nil
		})
	}

	delay := d.FallbackDelay
	if delay <= 0 {
		delay = DefaultFallbackDelay
	}
	start()
	stagger := time.After(delay)
	var winner net.Conn
	var failed []attempt
loop:
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			if r.err == nil {
				winner = r.conn
				break loop
			}
			d.logf(obs.Debug, "dial %s failed: %v", r.addr, r.err)
			failed = append(failed, r)
			if next < len(addrs) {
				start()
				stagger = time.After(delay)
			}
		case <-stagger:
			if next < len(addrs) {
				start()
				stagger = time.After(delay)
			}
		}
	}
	cancel()
	_ = g.Wait()
	close(results)
	for r := range results {
		if r.conn != nil {
			d.logf(obs.Debug, "closing late connection to %s", r.addr)
			_ = r.conn.Close()
		}
	}
	if winner != nil {
		return winner, nil
	}
	return nil, d.bestError(ctx, failed)
}

// bestError prefers a real network error over a timeout since it says
// more about why the host is unreachable.
func (d *Dialer) bestError(ctx context.Context, failed []attempt) error {
	var timeout error
	for _, a := range failed {
		if fault.IsTimeout(a.err) || errors.Is(a.err, context.Canceled) || errors.Is(a.err, context.DeadlineExceeded) {
			if timeout == nil {
				timeout = a.err
			}
			continue
		}
		return fault.New(fault.KindConnect, "dial "+a.addr, a.err)
	}
	if ctx.Err() == context.Canceled {
		return fault.New(fault.KindConnect, "dial", ctx.Err())
	}
	return fault.Timeout("dial", timeout)
}

func (d *Dialer) dialOne(ctx context.Context, addr string) (net.Conn, error) {
	if d.DialContext != nil {
		return d.DialContext(ctx, "tcp", addr)
	}
	var nd net.Dialer
	return nd.DialContext(ctx, "tcp", addr)
}

func family(ip net.IP) string {
	if ip.To4() != nil {
		return "ipv4"
	}
	return "ipv6"
}

func (d *Dialer) logf(level obs.Level, format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Logf(level, format, args...)
	}
}

func (d *Dialer) meter() obs.Meter {
	if d.Meter != nil {
		return d.Meter
	}
	return obs.NopMeter{}
}
