package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"dqx0.com/go/httpc/httpx"
)

// Config is the client configuration.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// Timeout bounds a whole exchange including redirects and the body.
	// Zero means no limit.
	Timeout time.Duration

	Redirects RedirectConfig
	Proxy     ProxyConfig
	TLS       TLSConfig

	Compression      bool
	DefaultCharset   string
	Fallback         httpx.Fallback
	Headers          Headers
	Auth             AuthConfig
	UserAgent        string
	SendRequestID    bool
	SendTraceContext bool
}

type RedirectConfig struct {
	Follow bool
	// Max is the number of redirects followed before failing. Zero
	// follows none.
	Max            int
	Preserve301302 bool
}

// ProxyConfig holds proxy settings. Explicit values override the
// environment when FromEnv is set.
type ProxyConfig struct {
	FromEnv bool
	HTTP    string
	HTTPS   string
	NoProxy string
}

type TLSConfig struct {
	Backend          string
	CAFiles          []string
	Insecure         bool
	InsecureHostname bool
}

// AuthConfig holds at most one of basic credentials or a bearer token.
type AuthConfig struct {
	Username string
	Password string
	Bearer   string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ConnectTimeout: httpx.DefaultConnectTimeout,
		ReadTimeout:    httpx.DefaultReadTimeout,
		Redirects:      RedirectConfig{Follow: true, Max: httpx.DefaultMaxRedirects},
		Proxy:          ProxyConfig{FromEnv: true},
		TLS:            TLSConfig{Backend: "std"},
		Compression:    true,
		DefaultCharset: "utf-8",
		Fallback:       httpx.FallbackReplace,
		UserAgent:      httpx.DefaultUserAgent,
	}
}

type yamlConfig struct {
	Timeouts struct {
		Connect string `yaml:"connect"`
		Read    string `yaml:"read"`
		Total   string `yaml:"total"`
	} `yaml:"timeouts"`
	Redirects struct {
		Follow   *bool `yaml:"follow"`
		Max      *int  `yaml:"max"`
		Preserve bool  `yaml:"preserve_301_302"`
	} `yaml:"redirects"`
	Proxy struct {
		FromEnv *bool  `yaml:"from_env"`
		HTTP    string `yaml:"http"`
		HTTPS   string `yaml:"https"`
		NoProxy string `yaml:"no_proxy"`
	} `yaml:"proxy"`
	TLS struct {
		Backend          string   `yaml:"backend"`
		CAFiles          []string `yaml:"ca_files"`
		Insecure         bool     `yaml:"insecure"`
		InsecureHostname bool     `yaml:"insecure_hostname"`
	} `yaml:"tls"`
	Compression    *bool   `yaml:"compression"`
	DefaultCharset string  `yaml:"default_charset"`
	Fallback       string  `yaml:"fallback"`
	Headers        Headers `yaml:"headers"`
	Auth           struct {
		Basic *struct {
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		} `yaml:"basic"`
		Bearer string `yaml:"bearer"`
	} `yaml:"auth"`
	UserAgent        string `yaml:"user_agent"`
	SendRequestID    bool   `yaml:"send_request_id"`
	SendTraceContext bool   `yaml:"send_trace_context"`
}

// LoadFromFile reads a YAML file over Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes a YAML document over Default.
func Parse(data []byte) (Config, error) {
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	cfg := Default()

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"timeouts.connect", yc.Timeouts.Connect, &cfg.ConnectTimeout},
		{"timeouts.read", yc.Timeouts.Read, &cfg.ReadTimeout},
		{"timeouts.total", yc.Timeouts.Total, &cfg.Timeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse %s", d.name)
		}
		*d.dst = v
	}

	if yc.Redirects.Follow != nil {
		cfg.Redirects.Follow = *yc.Redirects.Follow
	}
	if yc.Redirects.Max != nil {
		cfg.Redirects.Max = *yc.Redirects.Max
	}
	cfg.Redirects.Preserve301302 = yc.Redirects.Preserve

	if yc.Proxy.FromEnv != nil {
		cfg.Proxy.FromEnv = *yc.Proxy.FromEnv
	}
	cfg.Proxy.HTTP = yc.Proxy.HTTP
	cfg.Proxy.HTTPS = yc.Proxy.HTTPS
	cfg.Proxy.NoProxy = yc.Proxy.NoProxy

	if yc.TLS.Backend != "" {
		cfg.TLS.Backend = yc.TLS.Backend
	}
	cfg.TLS.CAFiles = yc.TLS.CAFiles
	cfg.TLS.Insecure = yc.TLS.Insecure
	cfg.TLS.InsecureHostname = yc.TLS.InsecureHostname

	if yc.Compression != nil {
		cfg.Compression = *yc.Compression
	}
	if yc.DefaultCharset != "" {
		cfg.DefaultCharset = yc.DefaultCharset
	}
	if yc.Fallback != "" {
		fb, err := httpx.ParseFallback(yc.Fallback)
		if err != nil {
			return Config{}, errors.Wrap(err, "parse fallback")
		}
		cfg.Fallback = fb
	}
	cfg.Headers = yc.Headers
	if b := yc.Auth.Basic; b != nil {
		cfg.Auth.Username, cfg.Auth.Password = b.Username, b.Password
	}
	cfg.Auth.Bearer = yc.Auth.Bearer
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	cfg.SendRequestID = yc.SendRequestID
	cfg.SendTraceContext = yc.SendTraceContext

	return cfg, cfg.Validate()
}

// Validate checks values that cannot be caught while decoding.
func (c *Config) Validate() error {
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 || c.Timeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if c.Redirects.Max < 0 {
		return errors.New("config: redirects.max must not be negative")
	}
	if _, err := httpx.TLSBackendByName(c.TLS.Backend); err != nil {
		return errors.Wrap(err, "config: tls.backend")
	}
	if c.DefaultCharset != "" && !httpx.KnownCharset(c.DefaultCharset) {
		return errors.Errorf("config: unknown default_charset %q", c.DefaultCharset)
	}
	if c.Auth.Bearer != "" && c.Auth.Username != "" {
		return errors.New("config: auth takes basic or bearer, not both")
	}
	return nil
}

// Transport builds the transport described by c. CA files are read here.
func (c *Config) Transport(logger httpx.Logger) (*httpx.BasicTransport, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	backend, _ := httpx.TLSBackendByName(c.TLS.Backend)
	tr := httpx.NewBasicTransport()
	tr.ConnectTimeout = c.ConnectTimeout
	tr.ReadTimeout = c.ReadTimeout
	tr.TLSBackend = backend
	tr.TLS.InsecureSkipVerify = c.TLS.Insecure
	tr.TLS.InsecureSkipHostname = c.TLS.InsecureHostname
	for _, path := range c.TLS.CAFiles {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read CA file")
		}
		tr.TLS.RootPEMs = append(tr.TLS.RootPEMs, pem)
	}
	tr.Proxy = httpx.NewRouter(c.proxy())
	tr.DisableCompression = !c.Compression
	tr.DefaultCharset = c.DefaultCharset
	tr.Fallback = c.Fallback
	tr.UserAgent = c.UserAgent
	tr.SendRequestID = c.SendRequestID
	tr.SendTraceContext = c.SendTraceContext
	tr.Logger = logger
	return tr, nil
}

func (c *Config) proxy() httpx.ProxyConfig {
	var pc httpx.ProxyConfig
	if c.Proxy.FromEnv {
		pc = httpx.ProxyFromEnvironment()
	}
	if c.Proxy.HTTP != "" {
		pc.HTTPProxy = c.Proxy.HTTP
	}
	if c.Proxy.HTTPS != "" {
		pc.HTTPSProxy = c.Proxy.HTTPS
	}
	if c.Proxy.NoProxy != "" {
		pc.NoProxy = c.Proxy.NoProxy
	}
	return pc
}

// Client builds a client over a transport from c.
func (c *Config) Client(logger httpx.Logger) (*httpx.Client, error) {
	tr, err := c.Transport(logger)
	if err != nil {
		return nil, err
	}
	cl := &httpx.Client{
		Transport: tr,
		Timeout:   c.Timeout,
		Redirect:  c.redirectPolicy(),
		Header:    httpx.Header(c.Headers).Clone(),
		Logger:    logger,
	}
	switch {
	case c.Auth.Bearer != "":
		cl.Auth = httpx.BearerToken(c.Auth.Bearer)
	case c.Auth.Username != "":
		cl.Auth = httpx.BasicAuth{Username: c.Auth.Username, Password: c.Auth.Password}
	}
	return cl, nil
}

func (c *Config) redirectPolicy() httpx.RedirectPolicy {
	p := httpx.RedirectPolicy{
		NoFollow:       !c.Redirects.Follow,
		MaxRedirects:   c.Redirects.Max,
		Preserve301302: c.Redirects.Preserve301302,
	}
	if p.MaxRedirects == 0 {
		p.MaxRedirects = -1
	}
	return p
}

// Headers are default request headers in file order. In YAML they are
// a mapping whose values are a string or a list of strings.
type Headers httpx.Header

func (h *Headers) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: headers must be a mapping", n.Line)
	}
	var out httpx.Header
	for i := 0; i+1 < len(n.Content); i += 2 {
		name, val := n.Content[i].Value, n.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			out.Add(name, val.Value)
		case yaml.SequenceNode:
			for _, v := range val.Content {
				if v.Kind != yaml.ScalarNode {
					return errors.Errorf("line %d: header %s: values must be strings", v.Line, name)
				}
				out.Add(name, v.Value)
			}
		default:
			return errors.Errorf("line %d: header %s: values must be strings", val.Line, name)
		}
	}
	*h = Headers(out)
	return nil
}
