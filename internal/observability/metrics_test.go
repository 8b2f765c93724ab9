package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/unklstewy/skyplot/internal/ingest"
)

func TestRecordSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCycleCollector(reg)
	if err != nil {
		t.Fatalf("NewCycleCollector: %v", err)
	}

	started := time.Unix(1700000000, 0)
	err = c.Record(context.Background(), ingest.CycleEvent{
		Cycle:     1,
		StartedAt: started,
		Duration:  2 * time.Second,
		Outcome:   ingest.OutcomeOK,
		Rows:      42,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if got := testutil.ToFloat64(c.Cycles.WithLabelValues("ok")); got != 1 {
		t.Errorf("skyplot_cycles_total{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Rows); got != 42 {
		t.Errorf("skyplot_buffer_rows = %v, want 42", got)
	}
	if got := testutil.ToFloat64(c.LastSuccess); got != 1700000002 {
		t.Errorf("skyplot_last_success_timestamp_seconds = %v, want 1700000002", got)
	}
	if count := histogramSampleCount(t, reg, "skyplot_cycle_duration_seconds", map[string]string{"outcome": "ok"}); count != 1 {
		t.Errorf("duration sample_count = %d, want 1", count)
	}
}

func TestRecordFailureKeepsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCycleCollector(reg)
	if err != nil {
		t.Fatalf("NewCycleCollector: %v", err)
	}

	c.Record(context.Background(), ingest.CycleEvent{Outcome: ingest.OutcomeOK, Rows: 5, StartedAt: time.Now()})
	c.Record(context.Background(), ingest.CycleEvent{
		Outcome:    ingest.OutcomeTransport,
		StatusCode: http.StatusTooManyRequests,
		Err:        errors.New("HTTP 429"),
	})

	if got := testutil.ToFloat64(c.Rows); got != 5 {
		t.Errorf("rows gauge = %v, want 5 after a failed cycle", got)
	}
	if got := testutil.ToFloat64(c.Cycles.WithLabelValues("transport")); got != 1 {
		t.Errorf("skyplot_cycles_total{transport} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.UpstreamCodes.WithLabelValues("429")); got != 1 {
		t.Errorf("skyplot_upstream_errors_total{429} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Cycles.WithLabelValues("domain")); got != 0 {
		t.Errorf("pre-created domain series = %v, want 0", got)
	}
}

func TestNewCycleCollectorTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCycleCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewCycleCollector(reg)
	if err != nil {
		t.Fatalf("second registration should reuse collectors: %v", err)
	}
	if first.Cycles != second.Cycles {
		t.Error("Expected the existing counter to be reused")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCycleCollector(reg)
	if err != nil {
		t.Fatalf("NewCycleCollector: %v", err)
	}

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/v1/aircraft/{icao24}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a0b1c2", "c0ffee"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/aircraft/"+id, nil))
	}

	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/api/v1/aircraft/{icao24}", "404")); got != 2 {
		t.Errorf("skyplot_http_requests_total = %v, want 2", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCycleCollector(reg)
	if err != nil {
		t.Fatalf("NewCycleCollector: %v", err)
	}
	c.StreamClients.Set(3)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"skyplot_cycles_total",
		"skyplot_buffer_rows",
		"skyplot_last_success_timestamp_seconds",
		"skyplot_stream_clients 3",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
