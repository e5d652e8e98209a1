package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	eventsTotal     *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	eventsInFlight  prometheus.Gauge
	eventLag        prometheus.Histogram
	ledgerTokenSums *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "usage_events_total",
			Help:      "Execution events applied to the usage ledger, by status.",
		},
		[]string{"service", "status"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "usage_event_duration_seconds",
			Help:      "Time spent applying one execution event, by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	eventsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "usage_events_in_flight",
			Help:        "Number of execution events being applied.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	eventLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "event_lag_seconds",
			Help:        "Delay between execution recording and ledger update.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	ledgerTokenSums := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "ledger_tokens_total",
			Help:      "Tokens added to the usage ledger, by agent.",
		},
		[]string{"service", "agent"},
	)

	registry.MustRegister(eventsTotal, eventDuration, eventsInFlight, eventLag, ledgerTokenSums)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		eventsTotal:     eventsTotal,
		eventDuration:   eventDuration,
		eventsInFlight:  eventsInFlight,
		eventLag:        eventLag,
		ledgerTokenSums: ledgerTokenSums,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent(recordedAt time.Time) {
	m.eventsInFlight.Inc()
	if !recordedAt.IsZero() {
		if lag := time.Since(recordedAt); lag >= 0 {
			m.eventLag.Observe(lag.Seconds())
		}
	}
}

func (m *WorkerMetrics) FinishEvent(agent string, tokens int, duration time.Duration, err error) {
	m.eventsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.eventsTotal.WithLabelValues(m.service, status).Inc()
	m.eventDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
	if err == nil && tokens > 0 {
		m.ledgerTokenSums.WithLabelValues(m.service, agent).Add(float64(tokens))
	}
}
