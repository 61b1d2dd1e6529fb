// Command httpx-get fetches a URL with the httpx client and writes the
// body to stdout.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dqx0.com/go/httpc/httpx"
	"dqx0.com/go/httpc/internal/config"
)

type CLI struct {
	URL string `arg:"" help:"URL to fetch"`

	Method       string        `short:"X" help:"Request method (default GET, or POST with --data)"`
	Header       []string      `short:"H" sep:"none" help:"Extra request header, \"Name: value\""`
	Data         string        `short:"d" help:"Request body; @file reads a file, @- reads stdin"`
	Config       string        `type:"existingfile" help:"YAML configuration file"`
	NoFollow     bool          `help:"Return redirects instead of following them"`
	MaxRedirects int           `default:"-1" help:"Redirect limit; negative keeps the configured limit"`
	Insecure     bool          `short:"k" help:"Skip TLS certificate verification"`
	CACert       []string      `name:"cacert" type:"existingfile" help:"Extra CA certificate PEM file"`
	TLSBackend   string        `name:"tls-backend" help:"TLS implementation: std or utls"`
	Timeout      time.Duration `help:"Overall limit for the exchange"`
	Text         bool          `help:"Write the body as UTF-8 text even when stdout is not a terminal"`
	Include      bool          `short:"i" help:"Write the status line and headers before the body"`
	Verbose      bool          `short:"v" help:"Log the exchange to stderr"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("httpx-get"),
		kong.Description("Fetch a URL over HTTP/1.1."),
		kong.UsageOnError())
	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	kctx.FatalIfErrorf(cli.run(context.Background(), os.Stdin, os.Stdout, os.Stderr, tty))
}

func (c *CLI) run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, tty bool) error {
	logger := c.logger(stderr)
	defer func() { _ = logger.Sync() }()

	cfg := config.Default()
	if c.Config != "" {
		var err error
		if cfg, err = config.LoadFromFile(c.Config); err != nil {
			return err
		}
	}
	c.apply(&cfg)
	client, err := cfg.Client(httpx.NewZapLogger(logger))
	if err != nil {
		return err
	}

	body, err := c.body(stdin)
	if err != nil {
		return err
	}
	method := c.Method
	if method == "" {
		method = "GET"
		if body != nil {
			method = "POST"
		}
	}
	req, err := httpx.NewRequestWithContext(ctx, method, c.URL, body)
	if err != nil {
		return err
	}
	for _, h := range c.Header {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return errors.Errorf("bad header %q, want \"Name: value\"", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if body != nil && !req.Header.Has("Content-Type") {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	logger.Debug("response",
		zap.String("status", res.Status),
		zap.Int("redirects", res.Redirects),
		zap.String("exchange", res.ExchangeID))

	if c.Include {
		if err := writeHead(stdout, res); err != nil {
			return err
		}
	}
	if c.Text || tty {
		_, err = io.Copy(stdout, res.Body.TextReader())
	} else {
		_, err = res.Body.WriteTo(stdout)
	}
	return err
}

// apply lays the command line over the loaded configuration.
func (c *CLI) apply(cfg *config.Config) {
	if c.NoFollow {
		cfg.Redirects.Follow = false
	}
	if c.MaxRedirects >= 0 {
		cfg.Redirects.Max = c.MaxRedirects
	}
	if c.Insecure {
		cfg.TLS.Insecure = true
	}
	cfg.TLS.CAFiles = append(cfg.TLS.CAFiles, c.CACert...)
	if c.TLSBackend != "" {
		cfg.TLS.Backend = c.TLSBackend
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
}

func (c *CLI) body(stdin io.Reader) (io.Reader, error) {
	switch {
	case c.Data == "":
		return nil, nil
	case c.Data == "@-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, errors.Wrap(err, "read stdin")
		}
		return bytes.NewReader(b), nil
	case strings.HasPrefix(c.Data, "@"):
		b, err := os.ReadFile(c.Data[1:])
		if err != nil {
			return nil, errors.Wrap(err, "read body file")
		}
		return bytes.NewReader(b), nil
	}
	return strings.NewReader(c.Data), nil
}

func (c *CLI) logger(w io.Writer) *zap.Logger {
	level := zapcore.WarnLevel
	if c.Verbose {
		level = zapcore.DebugLevel
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level))
}

func writeHead(w io.Writer, res *httpx.Response) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\r\n", res.Proto, res.Status)
	for _, f := range res.Header {
		fmt.Fprintf(&b, "%s: %s\r\n", f.Name, f.Value)
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}
