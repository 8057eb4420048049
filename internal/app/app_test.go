package app_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/callsentry/internal/app"
	"github.com/MrWong99/callsentry/internal/call"
	"github.com/MrWong99/callsentry/internal/config"
	embmock "github.com/MrWong99/callsentry/pkg/provider/embeddings/mock"
	"github.com/MrWong99/callsentry/pkg/provider/stt"
	sttmock "github.com/MrWong99/callsentry/pkg/provider/stt/mock"
	"github.com/MrWong99/callsentry/pkg/store/memstore"
)

const minimalYAML = `
providers:
  stt:
    name: whisper
    base_url: http://localhost:9000
  stt_fallbacks:
    - name: openai
      model: whisper-1
`

// testConfig returns a validated config with defaults applied.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		STT:          &sttmock.Transcriber{Result: stt.Transcript{Text: "hello"}},
		STTFallbacks: []stt.Transcriber{&sttmock.Transcriber{}},
	}
}

func newApp(t *testing.T, opts ...app.Option) (*app.App, *memstore.Store) {
	t.Helper()
	repo := memstore.New()
	a, err := app.New(context.Background(), testConfig(t), testProviders(), append([]app.Option{app.WithRepository(repo)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, repo
}

func TestNew_RequiresSTT(t *testing.T) {
	t.Parallel()

	for _, p := range []*app.Providers{nil, {}} {
		if _, err := app.New(context.Background(), testConfig(t), p, app.WithRepository(memstore.New())); err == nil {
			t.Errorf("New(%+v) succeeded without an stt provider", p)
		}
	}
}

func TestNew_InMemoryStoreWithoutDSN(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if _, ok := a.Repository().(*memstore.Store); !ok {
		t.Errorf("Repository = %T, want *memstore.Store", a.Repository())
	}
}

func TestCallConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Detection.TickInterval = 250 * time.Millisecond
	cfg.Detection.HighRiskThreshold = 0.8

	cc := app.CallConfig(cfg)
	if cc.TickInterval != 250*time.Millisecond || cc.HighRiskThreshold != 0.8 {
		t.Errorf("CallConfig = %+v", cc)
	}
	if cc.SampleRate != config.DefaultSampleRate || cc.LookBack != config.DefaultLookBack {
		t.Errorf("defaults not carried over: %+v", cc)
	}
	if len(cc.Tables.FraudKeywords) == 0 {
		t.Error("evidence tables not carried over")
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	a, _ := newApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/calls", "/v1/calls/suspicious", "/v1/stats", "/v1/live"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}

	// No embedder configured.
	resp, err := http.Get(srv.URL + "/v1/calls/x/similar")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("similar without embedder = %d, want 501", resp.StatusCode)
	}
}

func TestHandler_SimilarWithEmbedder(t *testing.T) {
	t.Parallel()

	p := testProviders()
	p.Embeddings = &embmock.Embedder{Vector: []float32{1, 0}}
	repo := memstore.New()
	a, err := app.New(context.Background(), testConfig(t), p, app.WithRepository(repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/calls/missing/similar")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("similar for unknown call = %d, want 404", resp.StatusCode)
	}
}

// closingTranscriber counts Close calls, like a transcriber holding a
// loaded model.
type closingTranscriber struct {
	sttmock.Transcriber
	closed atomic.Int32
}

func (c *closingTranscriber) Close() error {
	c.closed.Add(1)
	return nil
}

func TestShutdown_ClosesTranscribers(t *testing.T) {
	t.Parallel()

	primary, fallback := &closingTranscriber{}, &closingTranscriber{}
	p := &app.Providers{STT: primary, STTFallbacks: []stt.Transcriber{&sttmock.Transcriber{}, fallback}}
	a, err := app.New(context.Background(), testConfig(t), p, app.WithRepository(memstore.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_ = a.Shutdown(context.Background())
	if primary.closed.Load() != 1 || fallback.closed.Load() != 1 {
		t.Errorf("Close calls: primary=%d fallback=%d, want 1 each", primary.closed.Load(), fallback.closed.Load())
	}
}

func TestShutdown_FinalisesActiveCall(t *testing.T) {
	t.Parallel()

	a, repo := newApp(t)
	ctx := context.Background()

	id, err := a.Controller().Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if a.Controller().Status() != call.StatusCompleted {
		t.Errorf("status = %v, want completed", a.Controller().Status())
	}
	if _, err := repo.Get(ctx, id); err != nil {
		t.Errorf("active call not persisted: %v", err)
	}

	// Second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a, _ := newApp(t, app.WithListener(l))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("GET /healthz: %v", err)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["status"] != "ok" {
		t.Errorf("healthz body = %v", body)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
