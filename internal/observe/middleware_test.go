package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// instrumented returns a mux behind Middleware with metrics and spans
// captured in memory.
func instrumented(t *testing.T) (*http.ServeMux, http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	return mux, Middleware(m)(mux), reader, exp
}

func serve(h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	mux, h, reader, exp := instrumented(t)
	mux.HandleFunc("GET /v1/calls/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		if rec := serve(h, "GET", "/v1/calls/"+id, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "callsentry.http.request.duration")
	if met == nil {
		t.Fatal("request duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d series, want 1 shared by all call ids", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 3 {
		t.Errorf("count = %d, want 3", dp.Count)
	}
	if v, _ := dp.Attributes.Value(attribute.Key("route")); v.AsString() != "GET /v1/calls/{id}" {
		t.Errorf("route = %q", v.AsString())
	}
	if v, _ := dp.Attributes.Value(attribute.Key("status")); v.AsInt64() != 404 {
		t.Errorf("status = %d", v.AsInt64())
	}

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	if spans[0].Name != "HTTP GET /v1/calls/{id}" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var route, status bool
	for _, a := range spans[0].Attributes {
		switch {
		case a.Key == "http.route" && a.Value.AsString() == "GET /v1/calls/{id}":
			route = true
		case a.Key == "http.response.status_code" && a.Value.AsInt64() == 404:
			status = true
		}
	}
	if !route || !status {
		t.Errorf("span attributes = %v", spans[0].Attributes)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	_, h, _, exp := instrumented(t)

	if rec := serve(h, "GET", "/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP "+unmatchedRoute {
		t.Errorf("spans = %+v", spans)
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	mux, h, _, _ := instrumented(t)
	var seen string
	mux.HandleFunc("GET /v1/stats", func(_ http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	})

	rec := serve(h, "GET", "/v1/stats", nil)
	if len(seen) != 32 {
		t.Fatalf("handler saw correlation id %q", seen)
	}
	if got := rec.Header().Get(CorrelationHeader); got != seen {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, seen)
	}

	// An incoming traceparent is continued.
	rec = serve(h, "GET", "/v1/stats", map[string]string{
		"traceparent": "00-" + incomingTraceID + "-00f067aa0ba902b7-01",
	})
	if seen != incomingTraceID {
		t.Errorf("handler trace = %q, want %q", seen, incomingTraceID)
	}
	if got := rec.Header().Get(CorrelationHeader); got != incomingTraceID {
		t.Errorf("%s = %q", CorrelationHeader, got)
	}
}

func TestMiddleware_UnwrapsRecorder(t *testing.T) {
	mux, h, _, _ := instrumented(t)
	var inner http.ResponseWriter
	mux.HandleFunc("GET /v1/stream", func(w http.ResponseWriter, _ *http.Request) {
		if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
			inner = u.Unwrap()
		}
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/stream", nil))
	if inner != rec {
		t.Error("Unwrap did not return the original writer")
	}
}

func TestQuietRoutes(t *testing.T) {
	cases := map[string]bool{
		"GET /healthz":        true,
		"GET /readyz":         true,
		"/metrics":            true,
		"GET /v1/calls":       false,
		unmatchedRoute:        false,
		"GET /v1/calls/{id}":  false,
		"GET /v1/stream":      false,
		"POST /healthz/extra": false,
	}
	for route, want := range cases {
		if got := quiet(route); got != want {
			t.Errorf("quiet(%q) = %v, want %v", route, got, want)
		}
	}
}
