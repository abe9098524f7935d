// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/propability/internal/model"
)

// Outcomes used as label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder is what the services report to.
type Recorder interface {
	RecordStage(stage model.Stage, outcome string, d time.Duration)
	RecordSubmission(outcome string)
	RecordSyncFailure(operation string)
	RecordCheckinFeedback(rooted bool)
	RecordRateLimited(route string)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	stageTotal   *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	submissions  *prometheus.CounterVec
	syncFailures *prometheus.CounterVec
	checkins     *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propability_submission_stage_total",
			Help: "Submission pipeline stages run, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "propability_submission_stage_seconds",
			Help:    "Latency of each submission pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propability_submissions_total",
			Help: "Submissions that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		syncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propability_registry_sync_failures_total",
			Help: "Record store failures seen by the registry, by operation.",
		}, []string{"operation"}),
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propability_checkin_feedback_total",
			Help: "Check-in answers, by whether the cutting rooted.",
		}, []string{"rooted"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propability_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.stageTotal,
		c.stageLatency,
		c.submissions,
		c.syncFailures,
		c.checkins,
		c.rateLimited,
	)
	return c
}

func (c *Collector) RecordStage(stage model.Stage, outcome string, d time.Duration) {
	c.stageTotal.WithLabelValues(string(stage), outcome).Inc()
	c.stageLatency.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (c *Collector) RecordSubmission(outcome string) {
	c.submissions.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSyncFailure(operation string) {
	c.syncFailures.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordCheckinFeedback(rooted bool) {
	c.checkins.WithLabelValues(strconv.FormatBool(rooted)).Inc()
}

func (c *Collector) RecordRateLimited(route string) {
	c.rateLimited.WithLabelValues(route).Inc()
}

var _ Recorder = (*Collector)(nil)

// Nop discards everything. Used by tests and when metrics are disabled.
type Nop struct{}

func (Nop) RecordStage(model.Stage, string, time.Duration) {}
func (Nop) RecordSubmission(string) {}
func (Nop) RecordSyncFailure(string) {}
func (Nop) RecordCheckinFeedback(bool) {}
func (Nop) RecordRateLimited(string) {}

var _ Recorder = Nop{}

// Handler returns the HTTP handler Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
