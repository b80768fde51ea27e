package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/lifespan/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records respacing results in Prometheus metrics.
type PromSink struct {
	runs        *prometheus.CounterVec
	rows        *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
	passes      *prometheus.HistogramVec
	validation  *prometheus.CounterVec
	duration    prometheus.Gauge
	lastRun     prometheus.Gauge
}

// NewPromSink registers metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifespan_respace_total",
			Help: "Parameter respacings by outcome",
		}, []string{"param", "outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifespan_respace_rows_total",
			Help: "Rows added or removed by respacing",
		}, []string{"param", "change"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifespan_respace_diagnostics_total",
			Help: "Degraded estimates produced while respacing",
		}, []string{"param", "diagnostic"}),
		passes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lifespan_respace_passes",
			Help:    "Extension passes needed to cover operating windows",
			Buckets: prometheus.LinearBuckets(0, 1, 8),
		}, []string{"param"}),
		validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifespan_validation_points_total",
			Help: "Grid points flagged by the consistency validator",
		}, []string{"param", "state"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifespan_run_duration_seconds",
			Help: "Duration of the last batch run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifespan_run_last_timestamp_seconds",
			Help: "Completion time of the last batch run",
		}),
	}
	var err error
	if s.runs, err = register(reg, s.runs); err != nil {
		return nil, err
	}
	if s.rows, err = register(reg, s.rows); err != nil {
		return nil, err
	}
	if s.diagnostics, err = register(reg, s.diagnostics); err != nil {
		return nil, err
	}
	if s.passes, err = register(reg, s.passes); err != nil {
		return nil, err
	}
	if s.validation, err = register(reg, s.validation); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	if s.lastRun, err = register(reg, s.lastRun); err != nil {
		return nil, err
	}
	return s, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRespace updates counters for each respacing result.
func (s *PromSink) RecordRespace(events []coremetrics.RespaceEvent) error {
	for _, ev := range events {
		s.runs.WithLabelValues(ev.Param, string(ev.Outcome)).Inc()
		s.rows.WithLabelValues(ev.Param, "added").Add(float64(ev.Added))
		s.rows.WithLabelValues(ev.Param, "removed").Add(float64(ev.Removed))
		for name, n := range ev.Diagnostics {
			s.diagnostics.WithLabelValues(ev.Param, name).Add(float64(n))
		}
		if ev.Outcome == coremetrics.OutcomeApplied || ev.Outcome == coremetrics.OutcomeUnchanged {
			s.passes.WithLabelValues(ev.Param).Observe(float64(ev.Passes))
		}
	}
	return nil
}

// RecordValidation counts flagged grid points.
func (s *PromSink) RecordValidation(ev coremetrics.ValidationEvent) error {
	s.validation.WithLabelValues(ev.Param, "missing").Add(float64(ev.Missing))
	s.validation.WithLabelValues(ev.Param, "extra").Add(float64(ev.Extra))
	s.validation.WithLabelValues(ev.Param, "remaining_missing").Add(float64(ev.RemainingMissing))
	s.validation.WithLabelValues(ev.Param, "remaining_extra").Add(float64(ev.RemainingExtra))
	return nil
}

// RecordRun sets the run gauges.
func (s *PromSink) RecordRun(ev coremetrics.RunEvent) error {
	s.duration.Set(ev.Duration.Seconds())
	s.lastRun.Set(float64(ev.Time.Unix()))
	return nil
}

// WriteTextfile dumps g in the format read by the node exporter textfile
// collector. Batch runs use it instead of a scrape endpoint.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return prometheus.WriteToTextfile(path, g)
}
