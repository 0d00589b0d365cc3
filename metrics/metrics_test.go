package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linkerd/ivmsync/metrics"
	"github.com/linkerd/ivmsync/row"
	"github.com/linkerd/ivmsync/source"
)

func TestSourceMetricsCountsPushes(t *testing.T) {
	m := metrics.NewSourceMetrics("widgets-test")
	s := source.New("widgets-test", row.PrimaryKey{"id"}, source.WithMetrics(m))

	if err := s.Push(source.Mutation{Kind: source.Add, Row: row.Row{"id": row.NumberFromInt(1)}}); err != nil {
		t.Fatalf("push: %v", err)
	}

	if got := testutil.ToFloat64(m.Counter(source.Add)); got != 1 {
		t.Fatalf("got %v adds, want 1", got)
	}
}
