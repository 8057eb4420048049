// Package app wires all callsentry subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and runs the background loops, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithRepository,
// WithListener, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callsentry/internal/api"
	"github.com/MrWong99/callsentry/internal/call"
	"github.com/MrWong99/callsentry/internal/config"
	"github.com/MrWong99/callsentry/internal/health"
	"github.com/MrWong99/callsentry/internal/ingest"
	"github.com/MrWong99/callsentry/internal/observe"
	"github.com/MrWong99/callsentry/internal/resilience"
	"github.com/MrWong99/callsentry/pkg/provider/embeddings"
	"github.com/MrWong99/callsentry/pkg/provider/oracle"
	"github.com/MrWong99/callsentry/pkg/provider/stt"
	"github.com/MrWong99/callsentry/pkg/store"
	"github.com/MrWong99/callsentry/pkg/store/memstore"
	"github.com/MrWong99/callsentry/pkg/store/postgres"
)

const (
	readHeaderTimeout = 10 * time.Second
	drainTimeout      = 15 * time.Second
)

// Providers holds the backends built by main.go via the config registry.
// STT is required; nil means the slot is not configured.
type Providers struct {
	STT          stt.Transcriber
	STTFallbacks []stt.Transcriber

	Oracle          oracle.Classifier
	OracleFallbacks []oracle.Classifier

	Embeddings embeddings.Embedder
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers

	mu  sync.Mutex
	cfg *config.Config

	repo       store.Repository
	transcribe *resilience.TranscriberFallback
	classifier *resilience.ClassifierFallback
	repairer   *swapRepairer
	hub        *ingest.Hub
	ctrl       *call.Controller
	health     *health.Handler
	metrics    *observe.Metrics
	handler    http.Handler

	listener   net.Listener
	configPath string
	watcher    *config.Watcher
	levelVar   *slog.LevelVar
	now        func() time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRepository injects a record store instead of creating one from config.
func WithRepository(r store.Repository) Option {
	return func(a *App) { a.repo = r }
}

// WithListener serves on l instead of listening on Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithConfigWatch enables hot reload of the config file at path.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires all subsystems together. providers comes from main.go
// (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an stt provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Record store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Provider chains ───────────────────────────────────────────────
	a.initProviders()

	// ── 3. Call controller ───────────────────────────────────────────────
	if err := a.initController(); err != nil {
		return nil, fmt.Errorf("app: init controller: %w", err)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens PostgreSQL when a DSN is configured and falls back to an
// in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.repo != nil {
		return nil
	}
	sc := a.cfg.Storage
	if sc.PostgresDSN == "" {
		slog.Warn("no postgres_dsn configured, call records are kept in memory only")
		a.repo = memstore.New()
		return nil
	}
	pg, err := postgres.New(ctx, sc.PostgresDSN, sc.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.repo = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

// initProviders puts every backend kind with a failover chain behind
// circuit breakers.
func (a *App) initProviders() {
	pc := a.cfg.Providers
	p := a.providers

	for _, t := range append([]stt.Transcriber{p.STT}, p.STTFallbacks...) {
		if c, ok := t.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	a.transcribe = resilience.NewTranscriberFallback(p.STT, pc.STT.Name, resilience.FallbackConfig{})
	for i, fb := range p.STTFallbacks {
		a.transcribe.AddFallback(entryName(pc.STTFallbacks, i, "stt-fallback"), fb)
	}

	if p.Oracle != nil {
		a.classifier = resilience.NewClassifierFallback(p.Oracle, pc.Oracle.Name, resilience.FallbackConfig{})
		for i, fb := range p.OracleFallbacks {
			a.classifier.AddFallback(entryName(pc.OracleFallbacks, i, "oracle-fallback"), fb)
		}
	}
}

func (a *App) initController() error {
	a.hub = ingest.NewHub()
	a.repairer = &swapRepairer{}
	a.repairer.Configure(a.cfg)

	opts := []call.Option{
		call.WithAlertSink(a.hub),
		call.WithVerdictSink(a.hub),
		call.WithAnalysisSink(a.repo),
		call.WithRepairer(a.repairer),
		call.WithMetrics(a.metrics),
		call.WithClock(a.now),
	}
	if a.classifier != nil {
		opts = append(opts, call.WithOracle(a.classifier))
	}
	if a.providers.Embeddings != nil {
		opts = append(opts, call.WithEmbedder(a.providers.Embeddings))
	}

	ctrl, err := call.New(CallConfig(a.cfg), a.transcribe, a.repo, opts...)
	if err != nil {
		return err
	}
	a.ctrl = ctrl
	return nil
}

func (a *App) initHTTP() {
	a.health = health.New(
		health.PingCheck("store", a.repo),
		health.BreakerCheck("stt", a.transcribe.Breakers()...),
	)

	apiOpts := []api.Option{api.WithLive(a.ctrl), api.WithClock(a.now)}
	if a.providers.Embeddings != nil {
		apiOpts = append(apiOpts, api.WithEmbedder(a.providers.Embeddings))
	}

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(nil))
	ingest.New(a.ctrl, a.hub, ingest.WithOriginPatterns(a.cfg.Server.AllowedOrigins...)).Register(mux)
	api.New(a.repo, apiOpts...).Register(mux)

	a.handler = observe.Middleware(a.metrics)(mux)
}

// CallConfig maps the detection and evidence sections onto a controller
// configuration.
func CallConfig(cfg *config.Config) call.Config {
	d := cfg.Detection
	return call.Config{
		SampleRate:          d.SampleRate,
		TickInterval:        d.TickInterval,
		LookBack:            d.LookBack,
		MaxDuration:         d.MaxDuration,
		MinTickAudio:        d.MinTickAudio,
		FinalPassTimeout:    d.FinalPassTimeout,
		SuspiciousThreshold: d.SuspiciousThreshold,
		HighRiskThreshold:   d.HighRiskThreshold,
		Tables:              cfg.Evidence,
	}
}

// entryName returns the configured name of the i-th fallback entry.
func entryName(entries []config.ProviderEntry, i int, def string) string {
	if i < len(entries) && entries[i].Name != "" {
		return entries[i].Name
	}
	return fmt.Sprintf("%s-%d", def, i+1)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Controller returns the call controller.
func (a *App) Controller() *call.Controller { return a.ctrl }

// Repository returns the record store in use.
func (a *App) Repository() store.Repository { return a.repo }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, runs the retention loop and, when enabled, the config
// watcher. It blocks until ctx is cancelled or the server fails. The HTTP
// server is drained before Run returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.serve(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: drain http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.retain(gctx)
		return nil
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("server listening", "addr", a.addr(srv))
	return g.Wait()
}

func (a *App) serve(srv *http.Server) error {
	tls := a.cfg.Server.TLS
	if a.listener != nil {
		if tls != nil {
			return srv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		}
		return srv.Serve(a.listener)
	}
	if tls != nil {
		return srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return srv.ListenAndServe()
}

func (a *App) addr(srv *http.Server) string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return srv.Addr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown finalises the active call, if any, and closes the store. It is
// safe to call more than once; only the first call has any effect.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		a.health.SetDraining()
		if a.watcher != nil {
			a.watcher.Stop()
		}

		if a.ctrl.Status() == call.StatusRecording {
			rec, err := a.ctrl.Stop(ctx)
			switch {
			case errors.Is(err, call.ErrNoActiveCall):
				// The stream handler finished the call first.
			case err != nil:
				errs = append(errs, fmt.Errorf("app: finalise active call: %w", err))
			default:
				slog.Info("finalised active call on shutdown", "call_id", rec.ID)
			}
		}

		errs = append(errs, a.close())
	})
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
