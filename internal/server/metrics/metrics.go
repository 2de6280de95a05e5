// Package metrics holds the Prometheus collectors of the reconciliation
// engine: notification outcomes, scheduler runs, ledger activity and mail
// delivery failures.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	notifications   *prometheus.CounterVec
	notifyLatency   prometheus.Histogram
	schedulerRuns   *prometheus.CounterVec
	schedulerAffect *prometheus.CounterVec
	invoices        *prometheus.CounterVec
	mailFailures    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "entryledger"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "notifications_total",
			Help:      "Payment notifications by payment status and outcome",
		},
		[]string{"payment_status", "outcome"},
	)
	c.notifyLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing one payment notification",
			Buckets:   prometheus.DefBuckets,
		},
	)
	c.schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduler job runs by result",
		},
		[]string{"job", "result"},
	)
	c.schedulerAffect = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "entries_affected_total",
			Help:      "Entries changed by scheduler jobs",
		},
		[]string{"job"},
	)
	c.invoices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "invoices_total",
			Help:      "Ledger lookups by payment type and whether a new invoice was issued",
		},
		[]string{"payment_type", "created"},
	)
	c.mailFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mail",
			Name:      "delivery_failures_total",
			Help:      "Emails that could not be handed to the sink",
		},
		[]string{"template"},
	)
	c.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "transitions_total",
			Help:      "Applied entry state transitions by trigger",
		},
		[]string{"trigger"},
	)

	c.registry.MustRegister(
		c.notifications, c.notifyLatency, c.schedulerRuns, c.schedulerAffect,
		c.invoices, c.mailFailures, c.transitions,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveNotification(paymentStatus, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(paymentStatus, outcome).Inc()
	c.notifyLatency.Observe(took.Seconds())
}

func (c *Collector) ObserveSchedulerRun(job string, affected int, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.schedulerRuns.WithLabelValues(job, result).Inc()
	c.schedulerAffect.WithLabelValues(job).Add(float64(affected))
}

func (c *Collector) ObserveInvoice(paymentType string, created bool) {
	if c == nil {
		return
	}
	label := "false"
	if created {
		label = "true"
	}
	c.invoices.WithLabelValues(paymentType, label).Inc()
}

func (c *Collector) MailFailed(template string) {
	if c == nil {
		return
	}
	c.mailFailures.WithLabelValues(template).Inc()
}

func (c *Collector) Transition(trigger string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(trigger).Inc()
}
