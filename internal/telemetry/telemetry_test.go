package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/history/{id}", "418"))
	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/history/{id}", "418"))
	if after-before != 3 {
		t.Fatalf("expected 3 requests under one route label, got %v", after-before)
	}
	if got := testutil.ToFloat64(APIActiveConnections); got != 0 {
		t.Fatalf("active connections should return to 0, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	SessionsTotal.WithLabelValues("finished").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "mpvremote_sessions_total") {
		t.Fatal("expected session counter in exposition")
	}
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := StartSpan(context.Background(), "session.admit", attribute.String("url", "/tmp/a.mkv"))
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()
	if span.SpanContext().IsValid() {
		t.Fatal("no-op provider should produce invalid span contexts")
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.5, "ParentBased"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("samplerFor(%v) = %s, want prefix %s", tt.rate, got, tt.want)
		}
	}
}

func TestTracingMiddlewarePassesThrough(t *testing.T) {
	h := TracingMiddleware("mpvremote-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	for _, path := range []string{"/status", "/healthz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("%s: unexpected status %d", path, rec.Code)
		}
	}
}
