package source

// Metrics receives push observations. Grounded on
// controller/api/destination/watcher/prometheus.go's metricsVecs pattern:
// a small sink interface the production metrics package implements with
// prometheus.CounterVec, and tests/dev tooling implement as a no-op.
type Metrics interface {
	ObservePush(kind MutationKind)
}

type noopMetrics struct{}

func (noopMetrics) ObservePush(MutationKind) {}
