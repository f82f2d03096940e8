// Package metrics records build statistics in a Prometheus registry.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentic-research/stratum/internal/topology"
)

// Registry holds the build metrics. It implements topology.Observer.
type Registry struct {
	BuildsTotal       *prometheus.CounterVec
	BuildDuration     prometheus.Histogram
	BuildPasses       prometheus.Histogram
	BuildErrors       *prometheus.CounterVec
	PassesTotal       *prometheus.CounterVec
	TopologyNodes     prometheus.Gauge
	TopologyLinks     prometheus.Gauge
	LastBuildUnixTime prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
}

// NewRegistry creates a registry with every metric registered.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	f := promauto.With(r.registry)

	r.BuildsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_build_total",
			Help: "Total number of topology builds",
		},
		[]string{"status"},
	)
	r.BuildDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratum_build_duration_seconds",
		Help:    "Topology build duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	r.BuildPasses = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratum_build_passes",
		Help:    "Parse passes per build",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
	})
	r.BuildErrors = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_build_errors_total",
			Help: "Errors collected during builds, by class",
		},
		[]string{"class"},
	)
	r.PassesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_build_pass_total",
			Help: "Completed parse passes, by outcome",
		},
		[]string{"outcome"},
	)
	r.TopologyNodes = f.NewGauge(prometheus.GaugeOpts{
		Name: "stratum_build_nodes",
		Help: "Nodes in the last successfully built topology",
	})
	r.TopologyLinks = f.NewGauge(prometheus.GaugeOpts{
		Name: "stratum_build_links",
		Help: "Linked relationships in the last successfully built topology",
	})
	r.LastBuildUnixTime = f.NewGauge(prometheus.GaugeOpts{
		Name: "stratum_build_last_timestamp_seconds",
		Help: "Unix time the last build finished",
	})
	return r
}

// Prometheus returns the underlying registry, for exposition.
func (r *Registry) Prometheus() *prometheus.Registry { return r.registry }

// PassCompleted records one parse pass.
func (r *Registry) PassCompleted(_ int, decorated, pruned bool) {
	outcome := "stable"
	switch {
	case decorated && pruned:
		outcome = "decorated_pruned"
	case decorated:
		outcome = "decorated"
	case pruned:
		outcome = "pruned"
	}
	r.PassesTotal.WithLabelValues(outcome).Inc()
}

// BuildFinished records the outcome of one build.
func (r *Registry) BuildFinished(t *topology.Topology, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.BuildDuration.Observe(elapsed.Seconds())
	r.LastBuildUnixTime.SetToCurrentTime()

	if t == nil {
		r.BuildsTotal.WithLabelValues("parse_error").Inc()
		if err != nil {
			r.BuildErrors.WithLabelValues(Class(err)).Inc()
		}
		return
	}

	errs := t.Errors()
	switch {
	case err != nil:
		r.BuildsTotal.WithLabelValues("failed").Inc()
	case len(errs) > 0:
		r.BuildsTotal.WithLabelValues("degraded").Inc()
	default:
		r.BuildsTotal.WithLabelValues("ok").Inc()
	}
	for _, e := range errs {
		r.BuildErrors.WithLabelValues(Class(e)).Inc()
	}
	r.BuildPasses.Observe(float64(t.Passes))
	r.TopologyNodes.Set(float64(len(t.Nodes())))
	r.TopologyLinks.Set(float64(len(t.Links())))
}

// Class names the kind of a build error for the error counter.
func Class(err error) string {
	var (
		parseErr      *topology.ParseError
		resolutionErr *topology.ResolutionError
		validationErr *topology.ValidationError
	)
	switch {
	case errors.As(err, &parseErr):
		return "parse"
	case errors.Is(err, topology.ErrMissingTarget):
		return "missing_target"
	case errors.Is(err, topology.ErrUnstable):
		return "unstable"
	case errors.As(err, &resolutionErr):
		return "resolution"
	case errors.As(err, &validationErr):
		return "validation"
	}
	return "other"
}

// WriteTextfile writes the text exposition format to path, for the node
// exporter's textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
