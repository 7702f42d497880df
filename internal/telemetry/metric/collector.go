package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EnvironmentStats is a point-in-time view of an execution environment.
type EnvironmentStats struct {
	// State is the numeric lifecycle state (0 cold, 1 restoring, 2 ready, 3 draining).
	State int

	Invocations uint64
	Resources   int

	// ImageAgeSeconds is zero when no snapshot image is active.
	ImageAgeSeconds float64
}

// StatsFunc returns the current environment stats.
type StatsFunc func() EnvironmentStats

// EnvironmentCollector exports environment stats at scrape time, so the
// lifecycle package does not need to push gauge updates.
type EnvironmentCollector struct {
	stats StatsFunc

	state       *prometheus.Desc
	invocations *prometheus.Desc
	resources   *prometheus.Desc
	imageAge    *prometheus.Desc
}

// NewEnvironmentCollector creates a collector reading from stats.
func NewEnvironmentCollector(stats StatsFunc) *EnvironmentCollector {
	return &EnvironmentCollector{
		stats: stats,
		state: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "lifecycle_state"),
			"Lifecycle state of the execution environment (0 cold, 1 restoring, 2 ready, 3 draining)",
			nil, nil,
		),
		invocations: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "environment", "invocations"),
			"Invocations admitted by this environment since boot",
			nil, nil,
		),
		resources: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "environment", "resources"),
			"Declared resources",
			nil, nil,
		),
		imageAge: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "snapshot", "image_age_seconds"),
			"Age of the active snapshot image",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *EnvironmentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.invocations
	ch <- c.resources
	ch <- c.imageAge
}

// Collect implements prometheus.Collector.
func (c *EnvironmentCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(s.State))
	ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.CounterValue, float64(s.Invocations))
	ch <- prometheus.MustNewConstMetric(c.resources, prometheus.GaugeValue, float64(s.Resources))
	ch <- prometheus.MustNewConstMetric(c.imageAge, prometheus.GaugeValue, s.ImageAgeSeconds)
}

// RegisterEnvironment registers an environment collector. It is a no-op on a
// nil registry.
func (r *Registry) RegisterEnvironment(stats StatsFunc) error {
	if r == nil {
		return nil
	}
	return r.reg.Register(NewEnvironmentCollector(stats))
}
