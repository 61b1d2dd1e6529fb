package http1

import "strings"

// Field is one header line. Names keep the case they had on the wire;
// lookups are case-insensitive.
type Field struct {
	Name  string
	Value string
}

// Get returns the first value for name, or "".
func Get(fields []Field, name string) string {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for name in wire order.
func Values(fields []Field, name string) []string {
	var vv []string
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			vv = append(vv, f.Value)
		}
	}
	return vv
}

// Has reports whether a field named name is present.
func Has(fields []Field, name string) bool {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// tokens splits comma separated header values into lower-cased,
// trimmed list elements, skipping empty ones.
func tokens(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
