package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/storyloom-ai/storyloom"
)

// MetricsCallbacks exports node execution counts and latencies as Prometheus
// metrics.
type MetricsCallbacks struct {
	storyloom.BaseExecutionCallbacks
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetricsCallbacks registers the collectors with the given registerer
// (prometheus.DefaultRegisterer when nil).
func NewMetricsCallbacks(registerer prometheus.Registerer) (*MetricsCallbacks, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &MetricsCallbacks{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyloom",
			Name:      "node_executions_total",
			Help:      "Node dispatch unit executions by node and outcome.",
		}, []string{"node", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storyloom",
			Name:      "node_duration_seconds",
			Help:      "Node dispatch unit execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"node"}),
	}

	for _, collector := range []prometheus.Collector{m.executions, m.duration} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsCallbacks) AfterNodeExecution(ctx context.Context, event *storyloom.NodeEvent) {
	outcome := "ok"
	if event.Err != nil {
		if _, suspended := storyloom.AsSuspend(event.Err); suspended {
			outcome = "suspended"
		} else {
			outcome = "error"
		}
	}
	m.executions.WithLabelValues(event.Node, outcome).Inc()
	m.duration.WithLabelValues(event.Node).Observe(event.Duration.Seconds())
}
