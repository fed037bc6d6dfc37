// Package obs holds the Prometheus collectors shared by the gateway. All
// Observe methods are safe to call on a nil *Metrics.
package obs

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	AdapterOpsTotal      *prometheus.CounterVec
	AdapterOpDuration    *prometheus.HistogramVec
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	IngestMessagesTotal  *prometheus.CounterVec
	IngestFlushDuration  prometheus.Histogram
	IngestFlushRows      prometheus.Counter
	PublishTotal         *prometheus.CounterVec
	EmbeddedStoresOpen   prometheus.Gauge
	SiteCacheLookups     *prometheus.CounterVec
	WidgetCompileFailure *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdapterOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitetap_adapter_operations_total",
				Help: "Backend adapter operations by kind, operation and result",
			},
			[]string{"kind", "op", "result"},
		),
		AdapterOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitetap_adapter_operation_duration_seconds",
				Help:    "Backend adapter operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "op"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitetap_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitetap_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		IngestMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitetap_ingest_messages_total",
				Help: "Queue messages handled by the ingest consumer, by result",
			},
			[]string{"result"},
		),
		IngestFlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitetap_ingest_flush_duration_seconds",
				Help:    "Time spent writing one ingest batch",
				Buckets: prometheus.DefBuckets,
			},
		),
		IngestFlushRows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitetap_ingest_flush_rows_total",
				Help: "Rows written by ingest batches",
			},
		),
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitetap_queue_publish_total",
				Help: "Messages published to the queue, by topic and result",
			},
			[]string{"topic", "result"},
		),
		EmbeddedStoresOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitetap_embedded_stores_open",
				Help: "Per-site embedded databases currently open",
			},
		),
		SiteCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitetap_site_cache_lookups_total",
				Help: "Site directory cache lookups by result",
			},
			[]string{"result"},
		),
		WidgetCompileFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitetap_widget_compile_failures_total",
				Help: "Widget configs rejected by the query compiler, by error kind",
			},
			[]string{"kind"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.AdapterOpsTotal,
			m.AdapterOpDuration,
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.IngestMessagesTotal,
			m.IngestFlushDuration,
			m.IngestFlushRows,
			m.PublishTotal,
			m.EmbeddedStoresOpen,
			m.SiteCacheLookups,
			m.WidgetCompileFailure,
		)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveAdapter(kind, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.AdapterOpsTotal.WithLabelValues(kind, op, result(err)).Inc()
	m.AdapterOpDuration.WithLabelValues(kind, op).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveIngest counts one consumed message. Result is a short label such as
// "stored", "duplicate", "invalid" or "error".
func (m *Metrics) ObserveIngest(res string) {
	if m == nil {
		return
	}
	m.IngestMessagesTotal.WithLabelValues(res).Inc()
}

func (m *Metrics) ObserveFlush(rows int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.IngestFlushDuration.Observe(d.Seconds())
	if err == nil {
		m.IngestFlushRows.Add(float64(rows))
	}
}

func (m *Metrics) ObservePublish(topic string, n int, err error) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(topic, result(err)).Add(float64(n))
}

func (m *Metrics) SetEmbeddedOpen(n int) {
	if m == nil {
		return
	}
	m.EmbeddedStoresOpen.Set(float64(n))
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.SiteCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.SiteCacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveCompileFailure(kind string) {
	if m == nil {
		return
	}
	m.WidgetCompileFailure.WithLabelValues(kind).Inc()
}
