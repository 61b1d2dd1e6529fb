package httpx

import "strings"

// MaxTraceStateMembers is how many list members a tracestate may carry.
const MaxTraceStateMembers = 32

// TraceState builds a tracestate header value. Members are kept most
// recent first and invalid ones are dropped.
type TraceState struct {
	order []string
	kv    map[string]string
}

// ParseTraceState reads an existing tracestate value. The first
// occurrence of a key wins.
func ParseTraceState(v string) *TraceState {
	ts := &TraceState{kv: make(map[string]string)}
	for _, part := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		val = strings.TrimSpace(val)
		if !validTraceStateKey(k) || !validTraceStateValue(val) {
			continue
		}
		if _, dup := ts.kv[k]; dup || len(ts.order) == MaxTraceStateMembers {
			continue
		}
		ts.kv[k] = val
		ts.order = append(ts.order, k)
	}
	return ts
}

// Set puts key first with value. It reports false for an invalid pair.
// The oldest member is evicted past MaxTraceStateMembers.
func (ts *TraceState) Set(key, value string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	v := strings.TrimSpace(value)
	if !validTraceStateKey(k) || !validTraceStateValue(v) {
		return false
	}
	if _, ok := ts.kv[k]; ok {
		for i, ek := range ts.order {
			if ek == k {
				ts.order = append(ts.order[:i], ts.order[i+1:]...)
				break
			}
		}
	}
	ts.kv[k] = v
	ts.order = append([]string{k}, ts.order...)
	if len(ts.order) > MaxTraceStateMembers {
		delete(ts.kv, ts.order[MaxTraceStateMembers])
		ts.order = ts.order[:MaxTraceStateMembers]
	}
	return true
}

func (ts *TraceState) String() string {
	var sb strings.Builder
	for i, k := range ts.order {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(ts.kv[k])
	}
	return sb.String()
}

// key or tenant@system, each of a-z 0-9 _ - * / .
func validTraceStateKey(k string) bool {
	parts := strings.Split(k, "@")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 256 {
			return false
		}
		for i := 0; i < len(p); i++ {
			c := p[i]
			if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == '*' || c == '/' || c == '.' {
				continue
			}
			return false
		}
	}
	return true
}

func validTraceStateValue(v string) bool {
	if v == "" || len(v) > 256 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if c := v[i]; c < 0x20 || c > 0x7e || c == ',' || c == '=' {
			return false
		}
	}
	return true
}
