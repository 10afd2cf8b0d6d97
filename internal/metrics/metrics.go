// Package metrics exposes the relay's Prometheus instruments. All recording
// methods are safe to call on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lollypop"

type Metrics struct {
	registry *prometheus.Registry

	updatesReceived   *prometheus.CounterVec
	messagesRelayed   *prometheus.CounterVec
	threadsCreated    prometheus.Counter
	threadFailures    prometheus.Counter
	backupsPublished  *prometheus.CounterVec
	backupRetireFails prometheus.Counter
	transportErrors   *prometheus.CounterVec
	threads           prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		updatesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_received_total",
			Help:      "Telegram updates accepted for dispatch, by intake.",
		}, []string{"intake"}),
		messagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages relayed, by direction and payload kind.",
		}, []string{"direction", "kind"}),
		threadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_created_total",
			Help:      "Forum topics opened for new users.",
		}),
		threadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_creation_failures_total",
			Help:      "Inbound messages dropped because no topic could be opened.",
		}),
		backupsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_published_total",
			Help:      "Backup publish attempts, by trigger and result.",
		}, []string{"trigger", "result"}),
		backupRetireFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_retire_failures_total",
			Help:      "Superseded backup artifacts that could not be deleted.",
		}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Failed Telegram calls, by operation.",
		}, []string{"op"}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads",
			Help:      "Users currently mapped to a topic.",
		}),
	}
	reg.MustRegister(
		m.updatesReceived,
		m.messagesRelayed,
		m.threadsCreated,
		m.threadFailures,
		m.backupsPublished,
		m.backupRetireFails,
		m.transportErrors,
		m.threads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) UpdateReceived(intake string) {
	if m == nil {
		return
	}
	m.updatesReceived.WithLabelValues(intake).Inc()
}

func (m *Metrics) MessageRelayed(direction, kind string) {
	if m == nil {
		return
	}
	m.messagesRelayed.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) ThreadCreated() {
	if m == nil {
		return
	}
	m.threadsCreated.Inc()
}

func (m *Metrics) ThreadCreationFailed() {
	if m == nil {
		return
	}
	m.threadFailures.Inc()
}

func (m *Metrics) BackupPublished(trigger, result string) {
	if m == nil {
		return
	}
	m.backupsPublished.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) BackupRetireFailed() {
	if m == nil {
		return
	}
	m.backupRetireFails.Inc()
}

func (m *Metrics) TransportError(op string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SetThreads(n int) {
	if m == nil {
		return
	}
	m.threads.Set(float64(n))
}
