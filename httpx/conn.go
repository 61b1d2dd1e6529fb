package httpx

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"dqx0.com/go/httpc/httpx/internal/fault"
)

// conn is the connection of one exchange. Reads and writes honour the
// exchange context and the per-read timeout, and every socket error is
// classified before it reaches the protocol layers.
type conn struct {
	nc          net.Conn
	br          *bufio.Reader
	bw          *bufio.Writer
	ctx         context.Context
	readTimeout time.Duration
	id          string
	tls         *TLSState

	stopWatch func() bool
	closeOnce sync.Once
}

func newConn(ctx context.Context, nc net.Conn, readTimeout time.Duration, id string, state *TLSState) *conn {
	c := &conn{nc: nc, ctx: ctx, readTimeout: readTimeout, id: id, tls: state}
	c.br = bufio.NewReader(socketReader{c})
	c.bw = bufio.NewWriter(socketWriter{c})
	// Cancelling the exchange unblocks a pending read or write.
	c.stopWatch = context.AfterFunc(ctx, func() { _ = nc.Close() })
	return c
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.stopWatch()
		_ = c.nc.Close()
	})
}

// deadline is the earlier of the context deadline and, when per is
// positive, now+per.
func (c *conn) deadline(per time.Duration) time.Time {
	var d time.Time
	if per > 0 {
		d = time.Now().Add(per)
	}
	if dl, ok := c.ctx.Deadline(); ok && (d.IsZero() || dl.Before(d)) {
		d = dl
	}
	return d
}

func (c *conn) classify(op string, kind fault.Kind, err error) error {
	switch {
	case c.ctx.Err() == context.DeadlineExceeded:
		return fault.Timeout(op, err)
	case c.ctx.Err() != nil:
		return fault.New(kind, op, c.ctx.Err())
	case fault.IsTimeout(err):
		return fault.Timeout(op, err)
	}
	return fault.New(kind, op, err)
}

type socketReader struct{ c *conn }

func (r socketReader) Read(p []byte) (int, error) {
	_ = r.c.nc.SetReadDeadline(r.c.deadline(r.c.readTimeout))
	n, err := r.c.nc.Read(p)
	if err != nil && err != io.EOF {
		return n, r.c.classify("read", fault.KindConnect, err)
	}
	return n, err
}

type socketWriter struct{ c *conn }

func (w socketWriter) Write(p []byte) (int, error) {
	_ = w.c.nc.SetWriteDeadline(w.c.deadline(0))
	n, err := w.c.nc.Write(p)
	if err != nil {
		return n, w.c.classify("write", fault.KindWrite, err)
	}
	return n, nil
}
