package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type AuditorMetrics struct {
	registry *prometheus.Registry

	eventsTotal   *prometheus.CounterVec
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	chainLength   prometheus.Gauge
	lastCheck     prometheus.Gauge
}

func NewAuditorMetrics(service string) *AuditorMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heritage",
			Subsystem: "auditor",
			Name:      "events_total",
			Help:      "Total ledger events received.",
		},
		[]string{"service"},
	)
	checksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heritage",
			Subsystem: "auditor",
			Name:      "integrity_checks_total",
			Help:      "Total chain integrity checks by result.",
		},
		[]string{"service", "result"},
	)
	checkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "heritage",
			Subsystem: "auditor",
			Name:      "integrity_check_duration_seconds",
			Help:      "Chain integrity check duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	chainLength := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "heritage",
			Subsystem: "auditor",
			Name:      "chain_entries",
			Help:      "Entries verified by the last integrity check.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	lastCheck := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "heritage",
			Subsystem: "auditor",
			Name:      "last_check_timestamp_seconds",
			Help:      "Unix time of the last completed integrity check.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(eventsTotal, checksTotal, checkDuration, chainLength, lastCheck)

	return &AuditorMetrics{
		registry:      registry,
		eventsTotal:   eventsTotal,
		checksTotal:   checksTotal,
		checkDuration: checkDuration,
		chainLength:   chainLength,
		lastCheck:     lastCheck,
	}
}

func (m *AuditorMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *AuditorMetrics) ObserveEvent(service string) {
	m.eventsTotal.WithLabelValues(service).Inc()
}

// ObserveCheck records one integrity check. err is a failed check; valid
// reports the chain state when the check completed.
func (m *AuditorMetrics) ObserveCheck(service string, duration time.Duration, entries int, valid bool, err error) {
	result := "valid"
	switch {
	case err != nil:
		result = "error"
	case !valid:
		result = "broken"
	}
	m.checksTotal.WithLabelValues(service, result).Inc()
	m.checkDuration.WithLabelValues(service).Observe(duration.Seconds())
	if err == nil {
		m.chainLength.Set(float64(entries))
		m.lastCheck.SetToCurrentTime()
	}
}
