package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Prometheus struct {
	samples         *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	subscriberDrops *prometheus.CounterVec
	persistence     *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	etaEstimates    *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	httpDuration    *prometheus.HistogramVec
}

func NewPrometheus(reg prometheus.Registerer, serviceName string) *Prometheus {
	labels := prometheus.Labels{"service": serviceName}
	m := &Prometheus{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ridetrack_samples_total",
			Help:        "Location samples offered to tracking sessions, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ridetrack_geofence_alerts_total",
			Help:        "Geofence alerts raised, by zone kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		subscriberDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ridetrack_subscriber_drops_total",
			Help:        "Buffered items dropped for slow subscribers.",
			ConstLabels: labels,
		}, []string{"stream"}),
		persistence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ridetrack_sample_persistence_total",
			Help:        "Sample log appends, by status.",
			ConstLabels: labels,
		}, []string{"status"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ridetrack_active_sessions",
			Help:        "Tracking sessions not yet ended.",
			ConstLabels: labels,
		}),
		etaEstimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ridetrack_eta_estimates_total",
			Help:        "ETA estimates produced, by source.",
			ConstLabels: labels,
		}, []string{"source"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ridetrack_dispatch_total",
			Help:        "Optimal driver searches, by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "ridetrack_dispatch_duration_seconds",
			Help:        "Optimal driver search latency.",
			Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			ConstLabels: labels,
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "ridetrack_http_duration_seconds",
			Help:        "Duration of HTTP requests.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method", "path", "status_code"}),
	}

	reg.MustRegister(
		m.samples,
		m.alerts,
		m.subscriberDrops,
		m.persistence,
		m.activeSessions,
		m.etaEstimates,
		m.dispatchTotal,
		m.dispatchLatency,
		m.httpDuration,
	)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (p *Prometheus) RecordSample(result string) {
	p.samples.WithLabelValues(result).Inc()
}

func (p *Prometheus) RecordGeofenceAlert(kind string) {
	p.alerts.WithLabelValues(kind).Inc()
}

func (p *Prometheus) RecordSubscriberDrop(stream string) {
	p.subscriberDrops.WithLabelValues(stream).Inc()
}

func (p *Prometheus) RecordPersistence(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	p.persistence.WithLabelValues(status).Inc()
}

func (p *Prometheus) SetActiveSessions(n int) {
	p.activeSessions.Set(float64(n))
}

func (p *Prometheus) RecordETA(source string) {
	p.etaEstimates.WithLabelValues(source).Inc()
}

func (p *Prometheus) RecordDispatch(outcome string, duration time.Duration) {
	p.dispatchTotal.WithLabelValues(outcome).Inc()
	p.dispatchLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveHTTPRequestDuration(method, path, code string, duration float64) {
	p.httpDuration.WithLabelValues(method, path, code).Observe(duration)
}
