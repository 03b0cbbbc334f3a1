// Package metrics provides Prometheus collectors for the pipeline.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joelkehle/insight-pipeline/internal/gateway"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

const namespace = "insight_pipeline"

type Metrics struct {
	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	GatewayCalls    *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec

	QueueJobs *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Stage runs by outcome",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of stage runs",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_attempts_total",
			Help:      "AI gateway attempts by error class",
		}, []string{"op", "class"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_attempt_duration_seconds",
			Help:      "Latency of AI gateway attempts",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"op"}),
		QueueJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_total",
			Help:      "Queue job verdicts",
		}, []string{"stage", "outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Status transition events by result",
		}, []string{"topic", "result"}),
	}
	reg.MustRegister(m.StageRuns, m.StageDuration, m.GatewayCalls, m.GatewayDuration, m.QueueJobs, m.EventsPublished)
	return m
}

// StageFinished records one stage run.
func (m *Metrics) StageFinished(stage, outcome string, elapsed time.Duration) {
	m.StageRuns.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// GatewayAttempt matches gateway.Observer.
func (m *Metrics) GatewayAttempt(op string, class gateway.Class, elapsed time.Duration) {
	m.GatewayCalls.WithLabelValues(op, class.String()).Inc()
	m.GatewayDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) QueueJob(stage, outcome string) {
	m.QueueJobs.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) EventPublished(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(topic, result).Inc()
}

// StatusCounter reports how many responses sit in each status.
type StatusCounter func(ctx context.Context) (map[response.Status]int, error)

type statusCollector struct {
	count StatusCounter
	desc  *prometheus.Desc
}

// NewStatusCollector exposes a gauge per status, read from count at scrape
// time.
func NewStatusCollector(count StatusCounter) prometheus.Collector {
	return &statusCollector{
		count: count,
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "responses"),
			"Responses by processing status", []string{"status"}, nil),
	}
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	counts, err := c.count(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for st, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(st))
	}
}

// DepthFunc reports how many jobs are waiting in the queue.
type DepthFunc func(ctx context.Context) (int64, error)

type depthCollector struct {
	depth DepthFunc
	desc  *prometheus.Desc
}

func NewQueueDepthCollector(depth DepthFunc) prometheus.Collector {
	return &depthCollector{
		depth: depth,
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "depth"),
			"Jobs waiting to be dequeued", nil, nil),
	}
}

func (c *depthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *depthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := c.depth(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n))
}
