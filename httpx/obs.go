package httpx

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"dqx0.com/go/httpc/internal/obs"
)

// Logger receives transport and redirect diagnostics.
type Logger = obs.Logger

// Level is the severity passed to Logger.Logf.
type Level = obs.Level

const (
	LevelDebug = obs.Debug
	LevelInfo  = obs.Info
	LevelWarn  = obs.Warn
	LevelError = obs.Error
)

// Label is a metric label passed to Meter.
type Label = obs.Label

// Meter receives client counters and histograms.
type Meter = obs.Meter

// NewZapLogger logs through l under the name "httpx".
func NewZapLogger(l *zap.Logger) Logger { return obs.NewZapLogger(l) }

// NewPromMeter exports client metrics to reg, or to the default
// registerer when reg is nil.
func NewPromMeter(reg prometheus.Registerer) Meter { return obs.NewPromMeter(reg) }
