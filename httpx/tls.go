package httpx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	utls "github.com/refraction-networking/utls"

	"dqx0.com/go/httpc/httpx/internal/fault"
	"dqx0.com/go/httpc/internal/obs"
)

const alpnHTTP11 = "http/1.1"

// TLSSettings configures certificate verification. Extra roots are added
// to the system pool, never substituted for it.
type TLSSettings struct {
	// RootPEMs holds PEM encoded CA certificates.
	RootPEMs  [][]byte
	RootCerts []*x509.Certificate
	// InsecureSkipVerify accepts any certificate.
	InsecureSkipVerify bool
	// InsecureSkipHostname verifies the chain but not the host name.
	InsecureSkipHostname bool
}

func (s *TLSSettings) insecure() bool {
	return s != nil && (s.InsecureSkipVerify || s.InsecureSkipHostname)
}

func (s *TLSSettings) rootPool() (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if s == nil {
		return pool, nil
	}
	for i, pem := range s.RootPEMs {
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in root PEM #%d", i)
		}
	}
	for _, c := range s.RootCerts {
		pool.AddCert(c)
	}
	return pool, nil
}

// verification returns the InsecureSkipVerify flag and verify callback to
// put in a tls.Config. Hostname checking is turned off by verifying the
// chain ourselves.
func (s *TLSSettings) verification(roots *x509.CertPool) (bool, func([][]byte, [][]*x509.Certificate) error) {
	if s == nil {
		return false, nil
	}
	if s.InsecureSkipVerify {
		return true, nil
	}
	if s.InsecureSkipHostname {
		return true, func(raw [][]byte, _ [][]*x509.Certificate) error {
			return verifyChain(raw, roots)
		}
	}
	return false, nil
}

func verifyChain(raw [][]byte, roots *x509.CertPool) error {
	if len(raw) == 0 {
		return errors.New("server presented no certificates")
	}
	certs := make([]*x509.Certificate, len(raw))
	for i, b := range raw {
		c, err := x509.ParseCertificate(b)
		if err != nil {
			return errors.Wrap(err, "parse server certificate")
		}
		certs[i] = c
	}
	opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}
	_, err := certs[0].Verify(opts)
	return err
}

// TLSState describes an established TLS session.
type TLSState struct {
	Backend          string
	Version          uint16
	ALPN             string
	ServerName       string
	PeerCertificates []*x509.Certificate
}

// VersionName returns e.g. "TLS 1.3".
func (s TLSState) VersionName() string { return tls.VersionName(s.Version) }

// SecureConn is an established TLS connection. Close sends close_notify
// before closing the socket.
type SecureConn struct {
	net.Conn
	state TLSState
}

func (c *SecureConn) State() TLSState { return c.state }

// TLSBackend performs client TLS handshakes. Implementations negotiate
// ALPN "http/1.1" and must fail rather than fall back to plain text.
type TLSBackend interface {
	Name() string
	Handshake(ctx context.Context, raw net.Conn, cfg *TLSSettings, serverName string) (*SecureConn, error)
}

// TLSBackendByName returns the backend called name: "std" (or "") or "utls".
func TLSBackendByName(name string) (TLSBackend, error) {
	switch strings.ToLower(name) {
	case "", "std", "crypto/tls":
		return StdTLS{}, nil
	case "utls":
		return UTLS{}, nil
	}
	return nil, errors.Errorf("unknown TLS backend %q", name)
}

// StdTLS is the crypto/tls backend.
type StdTLS struct{}

func (StdTLS) Name() string { return "std" }

func (StdTLS) Handshake(ctx context.Context, raw net.Conn, cfg *TLSSettings, serverName string) (*SecureConn, error) {
	roots, err := cfg.rootPool()
	if err != nil {
		return nil, fault.New(fault.KindTLS, "load roots", err)
	}
	skip, verify := cfg.verification(roots)
	tc := tls.Client(raw, &tls.Config{
		ServerName:            serverName,
		RootCAs:               roots,
		NextProtos:            []string{alpnHTTP11},
		InsecureSkipVerify:    skip,
		VerifyPeerCertificate: verify,
	})
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, handshakeError(ctx, serverName, err)
	}
	st := tc.ConnectionState()
	return secure(tc, TLSState{
		Backend:          "std",
		Version:          st.Version,
		ALPN:             st.NegotiatedProtocol,
		ServerName:       serverName,
		PeerCertificates: st.PeerCertificates,
	})
}

// UTLS is the github.com/refraction-networking/utls backend. Hello
// picks the ClientHello to mimic; the zero value means HelloGolang.
// Hellos advertising h2 fail when the server selects it.
type UTLS struct {
	Hello utls.ClientHelloID
}

func (UTLS) Name() string { return "utls" }

func (u UTLS) Handshake(ctx context.Context, raw net.Conn, cfg *TLSSettings, serverName string) (*SecureConn, error) {
	roots, err := cfg.rootPool()
	if err != nil {
		return nil, fault.New(fault.KindTLS, "load roots", err)
	}
	skip, verify := cfg.verification(roots)
	hello := u.Hello
	if hello.Client == "" {
		hello = utls.HelloGolang
	}
	uc := utls.UClient(raw, &utls.Config{
		ServerName:            serverName,
		RootCAs:               roots,
		NextProtos:            []string{alpnHTTP11},
		InsecureSkipVerify:    skip,
		VerifyPeerCertificate: verify,
	}, hello)
	if dl, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(dl)
	}
	err = uc.Handshake()
	_ = raw.SetDeadline(time.Time{})
	if err != nil {
		return nil, handshakeError(ctx, serverName, err)
	}
	st := uc.ConnectionState()
	return secure(uc, TLSState{
		Backend:          "utls",
		Version:          st.Version,
		ALPN:             st.NegotiatedProtocol,
		ServerName:       serverName,
		PeerCertificates: st.PeerCertificates,
	})
}

func secure(c net.Conn, st TLSState) (*SecureConn, error) {
	if st.ALPN != "" && st.ALPN != alpnHTTP11 {
		return nil, fault.New(fault.KindTLS, "alpn", errors.Wrapf(ErrALPN, "got %q", st.ALPN))
	}
	return &SecureConn{Conn: c, state: st}, nil
}

func handshakeError(ctx context.Context, serverName string, err error) error {
	if ctx.Err() == context.DeadlineExceeded || fault.IsTimeout(err) {
		return fault.Timeout("tls handshake", err)
	}
	return fault.New(fault.KindTLS, "tls handshake with "+serverName, err)
}

func warnInsecure(l obs.Logger, s *TLSSettings, host string) {
	if !s.insecure() {
		return
	}
	if s.InsecureSkipVerify {
		l.Logf(obs.Warn, "TLS certificate verification disabled for %s", host)
		return
	}
	l.Logf(obs.Warn, "TLS hostname verification disabled for %s", host)
}
