// Package call owns the lifecycle of one monitored phone call: it buffers
// streaming audio, evaluates the recent window on a fixed tick, raises
// edge-triggered alerts and turns the finished call into a persisted
// [store.Record].
//
// A [Controller] handles calls sequentially. Ingestion is decoupled from
// evaluation: [Controller.Ingest] only copies samples into a bounded ring
// buffer, while a background loop runs at most one evaluation at a time and
// skips ticks that would overlap.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/callsentry/internal/observe"
	"github.com/MrWong99/callsentry/pkg/acoustic"
	"github.com/MrWong99/callsentry/pkg/conversation"
	"github.com/MrWong99/callsentry/pkg/fusion"
	"github.com/MrWong99/callsentry/pkg/provider/embeddings"
	"github.com/MrWong99/callsentry/pkg/provider/oracle"
	"github.com/MrWong99/callsentry/pkg/provider/stt"
	"github.com/MrWong99/callsentry/pkg/store"
)

var (
	// ErrCallActive is returned by Start while a call is recording or
	// being finalised.
	ErrCallActive = errors.New("call: a call is already active")

	// ErrNoActiveCall is returned by Ingest and Stop when no call is
	// recording.
	ErrNoActiveCall = errors.New("call: no active call")
)

// Defaults applied by [Config] for zero fields.
const (
	DefaultSampleRate        = 16000
	DefaultTickInterval      = 500 * time.Millisecond
	DefaultLookBack          = 3 * time.Second
	DefaultMaxDuration       = 300 * time.Second
	DefaultHighRiskThreshold = 0.7
	DefaultMinTickAudio      = 500 * time.Millisecond
	DefaultFinalPassTimeout  = 2 * time.Minute
)

// Config is the immutable per-call configuration.
type Config struct {
	SampleRate   int
	TickInterval time.Duration
	LookBack     time.Duration
	MaxDuration  time.Duration

	// MinTickAudio is the least buffered audio a tick needs to run.
	MinTickAudio time.Duration

	// FinalPassTimeout bounds the final pass and persistence. It is the only
	// way finalisation ends early; cancelling Stop's context does not.
	FinalPassTimeout time.Duration

	SuspiciousThreshold float64
	HighRiskThreshold   float64

	Tables conversation.Tables
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.LookBack <= 0 {
		c.LookBack = DefaultLookBack
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.MinTickAudio <= 0 {
		c.MinTickAudio = DefaultMinTickAudio
	}
	if c.FinalPassTimeout <= 0 {
		c.FinalPassTimeout = DefaultFinalPassTimeout
	}
	if c.SuspiciousThreshold <= 0 {
		c.SuspiciousThreshold = fusion.DefaultSuspiciousThreshold
	}
	if c.HighRiskThreshold <= 0 {
		c.HighRiskThreshold = DefaultHighRiskThreshold
	}
	return c
}

func (c Config) samples(d time.Duration) int {
	return int(d.Seconds() * float64(c.SampleRate))
}

// Alert is raised when a live call's fused risk crosses the high risk
// threshold from below.
type Alert struct {
	SessionID string    `json:"session_id"`
	FusedRisk float64   `json:"fused_risk"`
	Reasoning string    `json:"reasoning"`
	At        time.Time `json:"at"`
}

// AlertSink receives alerts. OnAlert runs on the tick goroutine and should
// return quickly.
type AlertSink interface {
	OnAlert(ctx context.Context, a Alert)
}

// AlertFunc adapts a function to [AlertSink].
type AlertFunc func(ctx context.Context, a Alert)

// OnAlert implements AlertSink.
func (f AlertFunc) OnAlert(ctx context.Context, a Alert) { f(ctx, a) }

// Verdict is the outcome of one live tick that produced a transcript.
type Verdict struct {
	SessionID        string        `json:"session_id"`
	At               time.Time     `json:"at"`
	Transcript       string        `json:"transcript"`
	AudioRisk        float64       `json:"audio_risk"`
	ConversationRisk float64       `json:"conversation_risk"`
	Fusion           fusion.Result `json:"fusion"`
}

// VerdictSink receives every live verdict. Like AlertSink it runs on the
// tick goroutine.
type VerdictSink interface {
	OnVerdict(ctx context.Context, v Verdict)
}

// VerdictFunc adapts a function to [VerdictSink].
type VerdictFunc func(ctx context.Context, v Verdict)

// OnVerdict implements VerdictSink.
func (f VerdictFunc) OnVerdict(ctx context.Context, v Verdict) { f(ctx, v) }

// Repairer rewrites a raw transcript before analysis, e.g. to restore
// keywords the recogniser misheard.
type Repairer interface {
	Repair(text string) string
}

// Option configures optional collaborators of a [Controller].
type Option func(*Controller)

// WithOracle blends an advisory text classifier into the final verdict.
func WithOracle(c oracle.Classifier) Option {
	return func(ctl *Controller) { ctl.oracle = c }
}

// WithEmbedder embeds final transcripts for similarity search.
func WithEmbedder(e embeddings.Embedder) Option {
	return func(ctl *Controller) { ctl.embedder = e }
}

// WithAlertSink registers the receiver of alert edges.
func WithAlertSink(s AlertSink) Option {
	return func(ctl *Controller) { ctl.alerts = s }
}

// WithVerdictSink registers the receiver of live verdicts.
func WithVerdictSink(s VerdictSink) Option {
	return func(ctl *Controller) { ctl.verdicts = s }
}

// WithAnalysisSink persists live verdicts. Failures are logged and ignored.
func WithAnalysisSink(s store.AnalysisSink) Option {
	return func(ctl *Controller) { ctl.analyses = s }
}

// WithRepairer sets the transcript repair step.
func WithRepairer(r Repairer) Option {
	return func(ctl *Controller) { ctl.repairer = r }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(ctl *Controller) { ctl.now = now }
}

// Controller runs calls one at a time. All exported methods are safe for
// concurrent use.
type Controller struct {
	transcriber stt.Transcriber
	sink        store.Sink

	oracle   oracle.Classifier
	embedder embeddings.Embedder
	alerts   AlertSink
	verdicts VerdictSink
	analyses store.AnalysisSink
	repairer Repairer
	metrics  *observe.Metrics
	now      func() time.Time

	mu       sync.Mutex
	cfg      Config
	status   Status
	session  *Session
	fuser    *fusion.Engine
	cancel   context.CancelFunc
	loopDone chan struct{}
	lastInfo SessionInfo

	ticking  atomic.Bool
	inflight sync.WaitGroup
}

// New creates an idle Controller. transcriber and sink are required.
func New(cfg Config, transcriber stt.Transcriber, sink store.Sink, opts ...Option) (*Controller, error) {
	if transcriber == nil {
		return nil, errors.New("call: transcriber must not be nil")
	}
	if sink == nil {
		return nil, errors.New("call: record sink must not be nil")
	}
	c := &Controller{
		transcriber: transcriber,
		sink:        sink,
		now:         time.Now,
		cfg:         cfg.withDefaults(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// SetConfig replaces the configuration used by the next call. The active
// call, if any, keeps its own.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg.withDefaults()
}

// Config returns the configuration the next call will use.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Info describes the active call, or the last finished one when idle.
func (c *Controller) Info() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session.info(c.status)
	}
	return c.lastInfo
}

// Start begins a new call and its tick loop. It returns the session id.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusRecording || c.status == StatusFinalizing {
		return "", ErrCallActive
	}

	cfg := c.cfg
	s := newSession(uuid.NewString(), c.now().UTC(), cfg)
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.session = s
	c.status = StatusRecording
	c.fuser = fusion.New(fusion.WithSuspiciousThreshold(cfg.SuspiciousThreshold))
	c.cancel = cancel
	c.loopDone = make(chan struct{})

	go c.loop(loopCtx, s, c.fuser, c.loopDone)

	c.metrics.ActiveCalls.Add(ctx, 1)
	slog.Info("call started",
		"call_id", s.ID,
		"sample_rate", cfg.SampleRate,
		"tick_interval", cfg.TickInterval,
		"max_duration", cfg.MaxDuration,
	)
	return s.ID, nil
}

// Ingest appends samples (mono, [-1,1], at the configured sample rate) to
// the active call. It never waits for evaluation.
func (c *Controller) Ingest(samples []float32) error {
	c.mu.Lock()
	s, status := c.session, c.status
	c.mu.Unlock()

	if status != StatusRecording || s == nil {
		return ErrNoActiveCall
	}
	s.buf.Write(samples)
	return nil
}

// Stop ends the active call. It cancels ticking, runs the final pass over
// the whole buffer and hands the record to the sink. The returned record is
// valid even when err is non-nil: a persistence failure is reported but the
// call still completes.
func (c *Controller) Stop(ctx context.Context) (store.Record, error) {
	c.mu.Lock()
	if c.status != StatusRecording {
		c.mu.Unlock()
		return store.Record{}, ErrNoActiveCall
	}
	s, fuser, cancel, done := c.session, c.fuser, c.cancel, c.loopDone
	c.status = StatusFinalizing
	c.mu.Unlock()

	cancel()
	<-done
	c.inflight.Wait()

	fctx, cancelFinal := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalPassTimeout)
	defer cancelFinal()
	fctx, span := observe.StartCallSpan(fctx, "call.finalize", s.ID)
	defer span.End()

	start := c.now()
	rec := c.finalize(fctx, s, fuser)

	var err error
	if perr := c.sink.Save(fctx, rec); perr != nil {
		err = fmt.Errorf("call: persist %s: %w", rec.ID, perr)
		observe.Logger(fctx).Error("failed to persist call record", "err", perr)
	}
	c.metrics.FinalizeDuration.Record(fctx, c.now().Sub(start).Seconds())
	c.metrics.RecordCall(fctx, rec.FusedRisk, rec.IsSuspicious)
	c.metrics.ActiveCalls.Add(fctx, -1)

	c.mu.Lock()
	c.status = StatusCompleted
	c.lastInfo = s.info(StatusCompleted)
	c.session = nil
	c.cancel = nil
	c.mu.Unlock()

	observe.Logger(fctx).Info("call completed",
		"duration", rec.Duration,
		"fused_risk", rec.FusedRisk,
		"suspicious", rec.IsSuspicious,
		"failed_stages", rec.FailedStages,
	)
	return rec, err
}

// loop fires ticks until ctx is cancelled. A tick that would overlap the
// one still in flight is dropped.
func (c *Controller) loop(ctx context.Context, s *Session, fuser *fusion.Engine, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// Both cases may be ready once Stop cancels; select picks at random.
			if ctx.Err() != nil {
				return
			}
			if !c.ticking.CompareAndSwap(false, true) {
				c.metrics.TicksSkipped.Add(ctx, 1)
				continue
			}
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				defer c.ticking.Store(false)
				c.tick(ctx, s, fuser)
			}()
		}
	}
}

// tick evaluates the look-back window. Any failure means no update.
func (c *Controller) tick(ctx context.Context, s *Session, fuser *fusion.Engine) {
	ctx, span := observe.StartCallSpan(ctx, "call.tick", s.ID)
	defer span.End()
	start := c.now()
	defer func() {
		c.metrics.TickDuration.Record(ctx, c.now().Sub(start).Seconds())
	}()

	window := s.buf.Tail(s.cfg.samples(s.cfg.LookBack))
	if len(window) == 0 || len(window) < s.cfg.samples(s.cfg.MinTickAudio) {
		return
	}

	if ctx.Err() != nil {
		return
	}
	tr, err := c.transcribe(ctx, window, s.cfg.SampleRate)
	if err != nil {
		if ctx.Err() == nil {
			observe.Logger(ctx).Debug("tick transcription unavailable", "err", err)
		}
		return
	}
	text := c.repair(tr.Text)
	if text == "" {
		return
	}

	conv := s.analyzer.Analyze(text)
	bundle := acoustic.Extract(window, s.cfg.SampleRate)
	res := fuser.Fuse(fusion.Input{
		AudioRisk:              acoustic.Risk(bundle),
		AudioConfidence:        acoustic.Confidence(bundle),
		AudioFactors:           factorNames(acoustic.Factors(bundle)),
		ConversationRisk:       conv.Risk,
		ConversationConfidence: conv.Confidence,
		ConversationReasoning:  conv.Reasoning,
	})

	// A call stopped mid-tick keeps its last verdict.
	if ctx.Err() != nil {
		return
	}
	c.publish(ctx, s, text, bundle, conv, res)
}

func (c *Controller) publish(ctx context.Context, s *Session, text string, bundle acoustic.FeatureBundle, conv conversation.Result, res fusion.Result) {
	at := c.now().UTC()
	crossed := s.observe(res)

	if c.verdicts != nil {
		c.verdicts.OnVerdict(ctx, Verdict{
			SessionID:        s.ID,
			At:               at,
			Transcript:       text,
			AudioRisk:        acoustic.Risk(bundle),
			ConversationRisk: conv.Risk,
			Fusion:           res,
		})
	}
	if c.analyses != nil {
		err := c.analyses.SaveAnalysis(ctx, store.Analysis{
			CallID:           s.ID,
			At:               at,
			Transcript:       text,
			AudioRisk:        acoustic.Risk(bundle),
			ConversationRisk: conv.Risk,
			FusedRisk:        res.FusedRisk,
			IsSuspicious:     res.IsSuspicious,
			Reasoning:        res.Reasoning,
		})
		if err != nil {
			observe.Logger(ctx).Warn("failed to save live analysis", "err", err)
		}
	}
	if crossed {
		c.metrics.Alerts.Add(ctx, 1)
		observe.Logger(ctx).Warn("high risk call", "risk", res.FusedRisk, "reasoning", res.Reasoning)
		if c.alerts != nil {
			c.alerts.OnAlert(ctx, Alert{
				SessionID: s.ID,
				FusedRisk: res.FusedRisk,
				Reasoning: res.Reasoning,
				At:        at,
			})
		}
	}
}

func (c *Controller) transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	start := c.now()
	tr, err := c.transcriber.Transcribe(ctx, samples, sampleRate)
	c.metrics.STTDuration.Record(ctx, c.now().Sub(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderError(ctx, "stt", "transcribe")
	}
	c.metrics.RecordProviderRequest(ctx, "stt", "transcribe", statusOf(err))
	return tr, err
}

func (c *Controller) repair(text string) string {
	text = strings.TrimSpace(text)
	if c.repairer == nil || text == "" {
		return text
	}
	return c.repairer.Repair(text)
}

func (c *Controller) classify(ctx context.Context, text string) (oracle.Classification, error) {
	start := c.now()
	cl, err := c.oracle.Classify(ctx, text)
	c.metrics.OracleDuration.Record(ctx, c.now().Sub(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", statusOf(err))))
	if err != nil {
		c.metrics.RecordProviderError(ctx, "oracle", "classify")
	}
	return cl, err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func factorNames(fs []acoustic.Factor) []string {
	if len(fs) == 0 {
		return nil
	}
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}
