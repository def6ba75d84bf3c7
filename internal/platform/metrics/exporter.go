package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/agentflow/internal/task"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name when none is given.
const DefaultNamespace = "agentflow"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// Exporter adapts task.Metrics to Prometheus collectors.
type Exporter struct {
	taskDurationSeconds *prom.HistogramVec
	queueLatencySeconds prom.Histogram
	taskPanicTotal      prom.Counter
	taskRejectedTotal   *prom.CounterVec
	queueDepth          prom.Gauge
}

var _ task.Metrics = (*Exporter)(nil)

// NewExporter creates and registers the coordinator collectors on reg.
// Registering twice on the same registry reuses the existing collectors.
func NewExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*Exporter, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		// LLM calls routinely take tens of seconds.
		buckets = []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds, by terminal status.",
		Buckets:   buckets,
	}, []string{"status"})
	latency := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_queue_latency_seconds",
		Help:      "Time tasks spent waiting for a worker.",
		Buckets:   prom.DefBuckets,
	})
	panics := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of recovered task panics.",
	})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected submissions.",
	}, []string{"reason"})
	depth := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current number of queued tasks.",
	})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if latency, err = registerCollector(reg, latency); err != nil {
		return nil, err
	}
	if panics, err = registerCollector(reg, panics); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if depth, err = registerCollector(reg, depth); err != nil {
		return nil, err
	}

	return &Exporter{
		taskDurationSeconds: durationVec,
		queueLatencySeconds: latency,
		taskPanicTotal:      panics,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          depth,
	}, nil
}

// RecordTaskDuration implements task.Metrics.
func (m *Exporter) RecordTaskDuration(status task.Status, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(string(status), "unknown")).Observe(duration.Seconds())
}

// RecordQueueLatency implements task.Metrics.
func (m *Exporter) RecordQueueLatency(latency time.Duration) {
	if m == nil {
		return
	}
	m.queueLatencySeconds.Observe(latency.Seconds())
}

// RecordTaskPanic implements task.Metrics.
func (m *Exporter) RecordTaskPanic(string, any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.Inc()
}

// RecordQueueDepth implements task.Metrics.
func (m *Exporter) RecordQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// RecordTaskRejected implements task.Metrics.
func (m *Exporter) RecordTaskRejected(reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
