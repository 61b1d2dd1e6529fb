package httpx

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Trace is W3C trace context for outgoing requests. TraceID is 32 hex
// digits, SpanID is the caller's 16 hex digit span and Flags two hex
// digits ("01" when empty). State is sent as the Tracestate header.
type Trace struct {
	TraceID string
	SpanID  string
	Flags   string
	State   string
}

type traceKeyType struct{}

var traceKey traceKeyType

// WithTrace returns a context that carries tr. Requests made with it send
// a Traceparent in tr's trace with a new span ID and tr.SpanID as parent.
func WithTrace(ctx context.Context, tr Trace) context.Context {
	return context.WithValue(ctx, traceKey, tr)
}

// TraceFrom extracts trace context from ctx.
func TraceFrom(ctx context.Context) (Trace, bool) {
	tr, ok := ctx.Value(traceKey).(Trace)
	return tr, ok && tr.TraceID != ""
}

// ParseTraceparent reads a traceparent header value, for continuing a
// trace received from elsewhere.
func ParseTraceparent(v string) (Trace, bool) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) < 4 {
		return Trace{}, false
	}
	ver, tid, sid, fl := parts[0], parts[1], parts[2], parts[3]
	if len(ver) != 2 || len(tid) != 32 || len(sid) != 16 || len(fl) != 2 {
		return Trace{}, false
	}
	if !isHex(ver) || !isHex(tid) || !isHex(sid) || !isHex(fl) {
		return Trace{}, false
	}
	if tid == strings.Repeat("0", 32) || sid == strings.Repeat("0", 16) {
		return Trace{}, false
	}
	return Trace{TraceID: strings.ToLower(tid), SpanID: strings.ToLower(sid), Flags: strings.ToLower(fl)}, true
}

// traceparent formats the header for a new span of tr, starting a new
// trace when tr is empty.
func traceparent(tr Trace) string {
	tid := strings.ToLower(tr.TraceID)
	if tid == "" {
		tid = newTraceID()
	}
	flags := tr.Flags
	if flags == "" {
		flags = "01"
	}
	return "00-" + tid + "-" + newSpanID() + "-" + strings.ToLower(flags)
}

// Random UUIDs are never all zero: the version nibble is set in byte 6.
func newTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func newSpanID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			continue
		}
		return false
	}
	return true
}
