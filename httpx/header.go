package httpx

import (
	"strings"

	"dqx0.com/go/httpc/httpx/internal/http1"
)

// Field is a single header line.
type Field = http1.Field

// Header is an ordered list of header fields. Names compare
// case-insensitively and keep their original case on the wire; repeated
// names keep their relative order.
type Header []Field

// Get returns the first value for key, or "".
func (h Header) Get(key string) string { return http1.Get(h, key) }

// Values returns all values for key in order.
func (h Header) Values(key string) []string { return http1.Values(h, key) }

// Has reports whether key is present, even with an empty value.
func (h Header) Has(key string) bool { return http1.Has(h, key) }

// Add appends a field.
func (h *Header) Add(key, value string) {
	*h = append(*h, Field{Name: key, Value: value})
}

// Set replaces every field named key with a single one. The new field
// takes the position of the first one it replaces.
func (h *Header) Set(key, value string) {
	out := (*h)[:0]
	replaced := false
	for _, f := range *h {
		if !strings.EqualFold(f.Name, key) {
			out = append(out, f)
			continue
		}
		if !replaced {
			out = append(out, Field{Name: key, Value: value})
			replaced = true
		}
	}
	if !replaced {
		out = append(out, Field{Name: key, Value: value})
	}
	*h = out
}

// Del removes every field named key.
func (h *Header) Del(key string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, key) {
			out = append(out, f)
		}
	}
	*h = out
}

// Clone returns a copy that shares no storage with h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	return append(Header(nil), h...)
}
