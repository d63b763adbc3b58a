package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
)

const namespace = "heritage"

// recognitionStage also counts toward the per-engine selection counter.
const recognitionStage = "recognition"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	stageDuration          *prometheus.HistogramVec
	stageErrorsTotal       *prometheus.CounterVec
	ocrEngineSelections    *prometheus.CounterVec
	reasoningCallsTotal    *prometheus.CounterVec
	structureParseFailures prometheus.Counter
	ledgerAppendsTotal     *prometheus.CounterVec
	breakerState           *prometheus.GaugeVec
}

// NewHTTPServerMetrics registers the API and pipeline collectors on a private
// registry. Every series carries a constant service label.
func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"service": service}

	return &HTTPServerMetrics{
		registry: registry,
		requestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total HTTP requests processed.", ConstLabels: labels,
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request duration in seconds.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		requestInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "in_flight_requests",
			Help: "Number of in-flight HTTP requests.", ConstLabels: labels,
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "stage_duration_seconds",
			Help: "Pipeline stage duration in seconds by stage and engine.", ConstLabels: labels,
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage", "engine"}),
		stageErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "stage_errors_total",
			Help: "Total failed pipeline stages.", ConstLabels: labels,
		}, []string{"stage", "engine"}),
		ocrEngineSelections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ocr", Name: "engine_selections_total",
			Help: "Total recognition runs by OCR engine.", ConstLabels: labels,
		}, []string{"engine"}),
		reasoningCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reasoning", Name: "calls_total",
			Help: "Total reasoning calls by mode and status.", ConstLabels: labels,
		}, []string{"mode", "status"}),
		structureParseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reasoning", Name: "structure_parse_failures_total",
			Help: "Total structure outputs rejected as malformed JSON.", ConstLabels: labels,
		}),
		ledgerAppendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "registrations_total",
			Help: "Total ledger registrations by result.", ConstLabels: labels,
		}, []string{"result"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "resilience", Name: "breaker_open",
			Help: "1 when the operation's circuit breaker is open.", ConstLabels: labels,
		}, []string{"operation"}),
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()
		next.ServeHTTP(rec, r)

		path := normalizePath(r.URL.Path)
		m.requestTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(started).Seconds())
	})
}

// normalizePath collapses session ids so label cardinality stays bounded.
func normalizePath(path string) string {
	const prefix = "/v1/sessions/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" {
		return path
	}
	if _, tail, found := strings.Cut(rest, "/"); found {
		return prefix + "{session_id}/" + tail
	}
	return prefix + "{session_id}"
}

func (m *HTTPServerMetrics) ObserveStage(stage, engine string, duration time.Duration, err error) {
	if engine == "" {
		engine = "none"
	}
	m.stageDuration.WithLabelValues(stage, engine).Observe(duration.Seconds())
	if err != nil {
		m.stageErrorsTotal.WithLabelValues(stage, engine).Inc()
	}
	if stage == recognitionStage {
		m.ocrEngineSelections.WithLabelValues(engine).Inc()
	}
}

func (m *HTTPServerMetrics) ObserveReasoning(mode string, err error) {
	if mode == "" {
		mode = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.reasoningCallsTotal.WithLabelValues(mode, status).Inc()
}

func (m *HTTPServerMetrics) IncStructureParseFailure() { m.structureParseFailures.Inc() }

func (m *HTTPServerMetrics) IncLedgerAppend(created bool) {
	result := "existing"
	if created {
		result = "appended"
	}
	m.ledgerAppendsTotal.WithLabelValues(result).Inc()
}

// ObserveBreakerState has the resilience.StateObserver shape.
func (m *HTTPServerMetrics) ObserveBreakerState(operation string, _, to gobreaker.State) {
	open := 0.0
	if to == gobreaker.StateOpen {
		open = 1
	}
	m.breakerState.WithLabelValues(operation).Set(open)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
