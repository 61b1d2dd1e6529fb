package obs

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// PromMeter bridges Meter to Prometheus. Vectors are created on first use
// of a name; the label keys of that first observation fix the schema and
// later observations with different keys are dropped.
type PromMeter struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPromMeter returns a PromMeter registering into reg, or into the
// default registerer when reg is nil.
func NewPromMeter(reg prometheus.Registerer) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PromMeter{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (m *PromMeter) Counter(name string, value float64, labels ...Label) {
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelKeys(labels))
		if err := m.reg.Register(vec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					vec = existing
				}
			} else {
				m.mu.Unlock()
				return
			}
		}
		m.counters[name] = vec
	}
	m.mu.Unlock()
	c, err := vec.GetMetricWith(labelMap(labels))
	if err != nil {
		return
	}
	c.Add(value)
}

func (m *PromMeter) Histogram(name string, value float64, labels ...Label) {
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, labelKeys(labels))
		if err := m.reg.Register(vec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					vec = existing
				}
			} else {
				m.mu.Unlock()
				return
			}
		}
		m.histograms[name] = vec
	}
	m.mu.Unlock()
	o, err := vec.GetMetricWith(labelMap(labels))
	if err != nil {
		return
	}
	o.Observe(value)
}

func labelKeys(labels []Label) []string {
	keys := make([]string, 0, len(labels))
	for _, l := range labels {
		keys = append(keys, l.Key)
	}
	sort.Strings(keys)
	return keys
}

func labelMap(labels []Label) prometheus.Labels {
	m := make(prometheus.Labels, len(labels))
	for _, l := range labels {
		m[l.Key] = l.Value
	}
	return m
}
