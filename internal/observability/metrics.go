// Package observability exposes Prometheus metrics for ingestion cycles and
// the renderer API.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unklstewy/skyplot/internal/ingest"
)

// CycleCollector bundles the ingestion and API metrics. It satisfies
// ingest.Recorder so it can sit next to the log and database recorders.
type CycleCollector struct {
	gatherer prometheus.Gatherer

	Cycles        *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	UpstreamCodes *prometheus.CounterVec

	Rows          prometheus.Gauge
	LastSuccess   prometheus.Gauge
	StreamClients prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewCycleCollector registers the metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCycleCollector(reg prometheus.Registerer) (*CycleCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyplot_cycles_total",
		Help: "Ingestion cycles, labeled by outcome.",
	}, []string{"outcome"}), "skyplot_cycles_total")
	if err != nil {
		return nil, err
	}
	// Pre-create every outcome so failures show up as 0 rather than absent.
	for _, o := range ingest.Outcomes {
		cycles.WithLabelValues(string(o))
	}

	duration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skyplot_cycle_duration_seconds",
		Help:    "Ingestion cycle latency in seconds, fetch to publish.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"}), "skyplot_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}

	codes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyplot_upstream_errors_total",
		Help: "Upstream transport failures, labeled by HTTP status (0 when no response).",
	}, []string{"code"}), "skyplot_upstream_errors_total")
	if err != nil {
		return nil, err
	}

	rows, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skyplot_buffer_rows",
		Help: "Aircraft in the currently published buffer.",
	}), "skyplot_buffer_rows")
	if err != nil {
		return nil, err
	}
	lastSuccess, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skyplot_last_success_timestamp_seconds",
		Help: "Unix time of the last successful buffer replacement.",
	}), "skyplot_last_success_timestamp_seconds")
	if err != nil {
		return nil, err
	}
	clients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skyplot_stream_clients",
		Help: "Connected websocket subscribers.",
	}), "skyplot_stream_clients")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyplot_http_requests_total",
		Help: "Handled API requests, labeled by method, route pattern and status.",
	}, []string{"method", "route", "code"}), "skyplot_http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skyplot_http_request_duration_seconds",
		Help:    "API latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"}), "skyplot_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &CycleCollector{
		gatherer:      gatherer,
		Cycles:        cycles,
		CycleDuration: duration,
		UpstreamCodes: codes,
		Rows:          rows,
		LastSuccess:   lastSuccess,
		StreamClients: clients,
		HTTPRequests:  requests,
		HTTPDurations: durations,
	}, nil
}

// Record implements ingest.Recorder.
func (c *CycleCollector) Record(_ context.Context, ev ingest.CycleEvent) error {
	if c == nil {
		return nil
	}
	outcome := string(ev.Outcome)
	c.Cycles.WithLabelValues(outcome).Inc()
	c.CycleDuration.WithLabelValues(outcome).Observe(ev.Duration.Seconds())

	switch ev.Outcome {
	case ingest.OutcomeOK:
		c.Rows.Set(float64(ev.Rows))
		c.LastSuccess.Set(float64(ev.StartedAt.Add(ev.Duration).Unix()))
	case ingest.OutcomeTransport:
		c.UpstreamCodes.WithLabelValues(strconv.Itoa(ev.StatusCode)).Inc()
	}
	return nil
}

// Middleware records request counts and durations by chi route pattern, so
// /api/v1/aircraft/{icao24} is one series rather than one per aircraft.
func (c *CycleCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if c == nil {
			return
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *CycleCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
