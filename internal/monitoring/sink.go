package monitoring

import (
	"sort"
	"sync"

	"costshub/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink accepts named metrics and structured error records. The orchestrator,
// scheduler, and queue report task outcomes through this interface; delivery
// beyond the emission contract is out of scope.
type Sink interface {
	IncCounter(name string, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	RecordError(component, severity string, err error)
}

// NopSink discards everything. Used by one-shot commands and tests that do
// not assert on metrics.
type NopSink struct{}

func (NopSink) IncCounter(string, map[string]string)      {}
func (NopSink) SetGauge(string, float64, map[string]string) {}
func (NopSink) RecordError(string, string, error)         {}

// PrometheusSink exposes emitted metrics through a prometheus registry.
// Metric vectors are created lazily on first emission; the label key set of
// the first call fixes the vector's labels.
type PrometheusSink struct {
	registry *prometheus.Registry

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	errors   *prometheus.CounterVec
}

// NewPrometheusSink creates a sink backed by its own registry.
func NewPrometheusSink() *PrometheusSink {
	registry := prometheus.NewRegistry()
	errors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costshub_errors_total",
			Help: "Structured error records by component and severity",
		},
		[]string{"component", "severity"},
	)
	registry.MustRegister(errors)

	return &PrometheusSink{
		registry: registry,
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
		errors:   errors,
	}
}

// Registry returns the backing registry for serving /metrics.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// IncCounter implements Sink.
func (s *PrometheusSink) IncCounter(name string, labels map[string]string) {
	s.mu.Lock()
	vec, ok := s.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: name, Help: name},
			labelKeys(labels),
		)
		s.registry.MustRegister(vec)
		s.counters[name] = vec
	}
	s.mu.Unlock()

	vec.With(labels).Inc()
}

// SetGauge implements Sink.
func (s *PrometheusSink) SetGauge(name string, value float64, labels map[string]string) {
	s.mu.Lock()
	vec, ok := s.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: name, Help: name},
			labelKeys(labels),
		)
		s.registry.MustRegister(vec)
		s.gauges[name] = vec
	}
	s.mu.Unlock()

	vec.With(labels).Set(value)
}

// RecordError implements Sink.
func (s *PrometheusSink) RecordError(component, severity string, err error) {
	s.errors.With(prometheus.Labels{"component": component, "severity": severity}).Inc()
	logging.Error("Component error reported", err, map[string]interface{}{
		"component": component,
		"severity":  severity,
	})
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Recorder captures emissions for test assertions.
type Recorder struct {
	mu       sync.Mutex
	Counters map[string]int
	Gauges   map[string]float64
	Errors   []error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		Counters: make(map[string]int),
		Gauges:   make(map[string]float64),
	}
}

func (r *Recorder) IncCounter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Counters[name]++
}

func (r *Recorder) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Gauges[name] = value
}

func (r *Recorder) RecordError(component, severity string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
}

// CounterValue returns the recorded count for name.
func (r *Recorder) CounterValue(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Counters[name]
}
