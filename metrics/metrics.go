// Package metrics implements source.Metrics with real Prometheus
// instrumentation, grounded on
// controller/api/destination/watcher/prometheus.go's metricsVecs pattern:
// one CounterVec, labeled by table and mutation kind, registered once via
// promauto and shared by every Source the caller wires it into.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/linkerd/ivmsync/source"
)

// SourceMetrics implements source.Metrics, counting pushes per table and
// mutation kind.
type SourceMetrics struct {
	table  string
	pushes *prometheus.CounterVec
}

var pushesVec = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ivmsync_source_pushes_total",
		Help: "Total number of mutations pushed through a Source, by table and kind.",
	},
	[]string{"table", "kind"},
)

// NewSourceMetrics returns a Metrics sink for the named table. Every call
// shares the same underlying CounterVec (Prometheus collectors may only be
// registered once per process), distinguished by the table label.
func NewSourceMetrics(table string) *SourceMetrics {
	return &SourceMetrics{table: table, pushes: pushesVec}
}

// ObservePush implements source.Metrics.
func (m *SourceMetrics) ObservePush(kind source.MutationKind) {
	m.pushes.WithLabelValues(m.table, kindLabel(kind)).Inc()
}

// Counter returns the underlying per-kind counter, for tests that assert
// on observed values via prometheus/client_golang/prometheus/testutil.
func (m *SourceMetrics) Counter(kind source.MutationKind) prometheus.Counter {
	return m.pushes.WithLabelValues(m.table, kindLabel(kind))
}

func kindLabel(kind source.MutationKind) string {
	switch kind {
	case source.Add:
		return "add"
	case source.Remove:
		return "remove"
	case source.Edit:
		return "edit"
	case source.Set:
		return "set"
	default:
		return "unknown"
	}
}

var _ source.Metrics = (*SourceMetrics)(nil)
