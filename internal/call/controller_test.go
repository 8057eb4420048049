package call

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/callsentry/internal/observe"
	"github.com/MrWong99/callsentry/pkg/acoustic"
	"github.com/MrWong99/callsentry/pkg/conversation"
	"github.com/MrWong99/callsentry/pkg/fusion"
	"github.com/MrWong99/callsentry/pkg/provider/embeddings/mock"
	"github.com/MrWong99/callsentry/pkg/provider/oracle"
	oraclemock "github.com/MrWong99/callsentry/pkg/provider/oracle/mock"
	"github.com/MrWong99/callsentry/pkg/provider/stt"
	sttmock "github.com/MrWong99/callsentry/pkg/provider/stt/mock"
	"github.com/MrWong99/callsentry/pkg/store"
	storemock "github.com/MrWong99/callsentry/pkg/store/mock"
)

const scamText = "Your account has been suspended. Press 1 to verify your account immediately."

func testConfig() Config {
	return Config{
		SampleRate:   16000,
		TickInterval: time.Hour, // ticks are driven by hand unless a test shortens this
		LookBack:     3 * time.Second,
		MaxDuration:  10 * time.Second,
		Tables:       conversation.DefaultTables(),
	}
}

func newTestController(t *testing.T, cfg Config, tr stt.Transcriber, sink store.Sink, opts ...Option) (*Controller, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	c, err := New(cfg, tr, sink, append([]Option{WithMetrics(m)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, reader
}

func sine(freq float64, seconds float64, rate int) []float32 {
	out := make([]float32, int(seconds*float64(rate)))
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var total int64
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}, nil, &storemock.Sink{}); err == nil {
		t.Error("expected error for nil transcriber")
	}
	if _, err := New(Config{}, &sttmock.Transcriber{}, nil); err == nil {
		t.Error("expected error for nil sink")
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.SampleRate != 16000 || cfg.TickInterval != 500*time.Millisecond || cfg.LookBack != 3*time.Second ||
		cfg.MaxDuration != 300*time.Second || cfg.HighRiskThreshold != 0.7 || cfg.SuspiciousThreshold != 0.6 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLifecycleErrors(t *testing.T) {
	c, _ := newTestController(t, testConfig(), &sttmock.Transcriber{}, &storemock.Sink{})
	ctx := context.Background()

	if err := c.Ingest([]float32{0}); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("Ingest while idle: %v", err)
	}
	if _, err := c.Stop(ctx); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("Stop while idle: %v", err)
	}
	if c.Status() != StatusIdle {
		t.Errorf("Status = %v", c.Status())
	}

	id, err := c.Start(ctx)
	if err != nil || id == "" {
		t.Fatalf("Start = %q, %v", id, err)
	}
	if _, err := c.Start(ctx); !errors.Is(err, ErrCallActive) {
		t.Errorf("second Start: %v, want ErrCallActive", err)
	}
	if _, err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Status() != StatusCompleted {
		t.Errorf("Status = %v, want completed", c.Status())
	}
	if err := c.Ingest([]float32{0}); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("Ingest after Stop: %v", err)
	}

	id2, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("restart after completion: %v", err)
	}
	if id2 == id {
		t.Error("session ids must be unique")
	}
	_, _ = c.Stop(ctx)
}

func TestIngest_BufferCap(t *testing.T) {
	cfg := testConfig()
	cfg.SampleRate = 100
	cfg.MaxDuration = time.Second
	c, _ := newTestController(t, cfg, &sttmock.Transcriber{}, &storemock.Sink{})
	ctx := context.Background()
	if _, err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	for i := 0; i < 250; i += 25 {
		if err := c.Ingest(seq(i, 25)); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	got := c.session.buf.All()
	if want := seq(150, 100); !slices.Equal(got, want) {
		t.Errorf("buffer holds %d samples starting at %v, want the newest 100", len(got), got[0])
	}
	if info := c.Info(); info.Buffered != time.Second || info.Status != "recording" {
		t.Errorf("Info = %+v", info)
	}
}

func TestSession_AlertEdges(t *testing.T) {
	s := newSession("s", time.Now(), Config{HighRiskThreshold: 0.7}.withDefaults())
	var fired []float64
	for _, r := range []float64{0.3, 0.8, 0.85, 0.4, 0.9} {
		if s.observe(fusion.Result{FusedRisk: r}) {
			fired = append(fired, r)
		}
	}
	if !slices.Equal(fired, []float64{0.8, 0.9}) {
		t.Errorf("alerts fired at %v, want [0.8 0.9]", fired)
	}
	if info := s.info(StatusRecording); info.Alerts != 2 || info.Ticks != 5 || info.RunningRisk != 0.9 {
		t.Errorf("info = %+v", info)
	}
}

func TestPublish_AlertAndAnalysisSinks(t *testing.T) {
	var (
		mu     sync.Mutex
		alerts []Alert
		n      int
	)
	sink := &storemock.Sink{}
	c, reader := newTestController(t, testConfig(), &sttmock.Transcriber{}, sink,
		WithAnalysisSink(sink),
		WithAlertSink(AlertFunc(func(_ context.Context, a Alert) {
			mu.Lock()
			defer mu.Unlock()
			alerts = append(alerts, a)
		})),
		WithVerdictSink(VerdictFunc(func(context.Context, Verdict) {
			mu.Lock()
			defer mu.Unlock()
			n++
		})),
	)
	ctx := context.Background()
	id, _ := c.Start(ctx)
	defer c.Stop(ctx) //nolint:errcheck

	for _, r := range []float64{0.3, 0.8, 0.85, 0.4, 0.9} {
		c.publish(ctx, c.session, "text", acoustic.FeatureBundle{}, conversation.Result{}, fusion.Result{FusedRisk: r, Reasoning: "why"})
	}

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 2 || alerts[0].FusedRisk != 0.8 || alerts[1].FusedRisk != 0.9 {
		t.Fatalf("alerts = %+v", alerts)
	}
	if alerts[0].SessionID != id || alerts[0].Reasoning != "why" {
		t.Errorf("alert = %+v", alerts[0])
	}
	if n != 5 {
		t.Errorf("verdicts = %d, want 5", n)
	}
	if got := len(sink.Analyses()); got != 5 {
		t.Errorf("analyses saved = %d, want 5", got)
	}
	if got := counterValue(t, reader, "callsentry.alerts"); got != 2 {
		t.Errorf("alert counter = %d, want 2", got)
	}
}

func TestTick_ProducesVerdict(t *testing.T) {
	tr := &sttmock.Transcriber{Result: stt.Transcript{Text: scamText}}
	var got []Verdict
	c, _ := newTestController(t, testConfig(), tr, &storemock.Sink{},
		WithVerdictSink(VerdictFunc(func(_ context.Context, v Verdict) { got = append(got, v) })),
	)
	ctx := context.Background()
	if _, err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	// Too little audio: no transcription request.
	_ = c.Ingest(sine(440, 0.1, 16000))
	c.tick(ctx, c.session, c.fuser)
	if tr.CallCount() != 0 {
		t.Fatalf("tick transcribed %d times with too little audio", tr.CallCount())
	}

	_ = c.Ingest(sine(440, 4, 16000))
	c.tick(ctx, c.session, c.fuser)

	call, ok := tr.LastCall()
	if !ok || len(call.Samples) != 3*16000 {
		t.Fatalf("transcribed window = %d samples, want the 3 s look-back", len(call.Samples))
	}
	if len(got) != 1 {
		t.Fatalf("verdicts = %d, want 1", len(got))
	}
	if math.Abs(got[0].ConversationRisk-0.78) > 1e-9 {
		t.Errorf("ConversationRisk = %v, want 0.78", got[0].ConversationRisk)
	}
	if c.Info().RunningRisk != got[0].Fusion.FusedRisk {
		t.Errorf("RunningRisk = %v, want %v", c.Info().RunningRisk, got[0].Fusion.FusedRisk)
	}
}

func TestTick_TranscriptionFailureIsNoUpdate(t *testing.T) {
	tr := &sttmock.Transcriber{Err: errors.New("stt down")}
	var n int
	c, _ := newTestController(t, testConfig(), tr, &storemock.Sink{},
		WithVerdictSink(VerdictFunc(func(context.Context, Verdict) { n++ })),
	)
	ctx := context.Background()
	_, _ = c.Start(ctx)
	defer c.Stop(ctx) //nolint:errcheck

	_ = c.Ingest(sine(440, 1, 16000))
	c.tick(ctx, c.session, c.fuser)
	c.tick(ctx, c.session, c.fuser)
	if n != 0 || c.Info().Ticks != 0 {
		t.Errorf("failed transcription updated state: verdicts=%d info=%+v", n, c.Info())
	}
}

func TestLoop_SkipsOverlappingTicks(t *testing.T) {
	var (
		calls   atomic.Int32
		entered = make(chan struct{})
	)
	tr := &sttmock.Transcriber{Func: func(ctx context.Context, _ []float32, _ int) (stt.Transcript, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-ctx.Done()
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{Text: "hello"}, nil
	}}
	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	c, reader := newTestController(t, cfg, tr, &storemock.Sink{})
	ctx := context.Background()

	if _, err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	_ = c.Ingest(sine(440, 1, 16000))

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick never started")
	}
	time.Sleep(60 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("transcriptions while first tick blocked = %d, want 1", got)
	}
	if skipped := counterValue(t, reader, "callsentry.ticks.skipped"); skipped == 0 {
		t.Error("expected skipped ticks to be counted")
	}

	rec, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Transcript != "hello" {
		t.Errorf("final transcript = %q", rec.Transcript)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("transcriptions = %d, want blocked tick + final pass", got)
	}
}

func TestStop_NoTickStartsAfterCancel(t *testing.T) {
	var calls, late atomic.Int32
	tr := &sttmock.Transcriber{Func: func(ctx context.Context, _ []float32, _ int) (stt.Transcript, error) {
		calls.Add(1)
		if ctx.Err() != nil {
			late.Add(1)
		}
		return stt.Transcript{Text: "hello"}, nil
	}}
	cfg := testConfig()
	cfg.TickInterval = time.Millisecond
	c, _ := newTestController(t, cfg, tr, &storemock.Sink{})
	ctx := context.Background()
	samples := sine(440, 1, 16000)

	for i := range 200 {
		if _, err := c.Start(ctx); err != nil {
			t.Fatalf("cycle %d: Start: %v", i, err)
		}
		_ = c.Ingest(samples)
		time.Sleep(time.Duration(i%3) * time.Millisecond)
		if _, err := c.Stop(ctx); err != nil {
			t.Fatalf("cycle %d: Stop: %v", i, err)
		}
	}
	if calls.Load() < 200 {
		t.Fatalf("transcriptions = %d, want at least one final pass per call", calls.Load())
	}
	if n := late.Load(); n != 0 {
		t.Errorf("%d transcriptions started on a cancelled tick context", n)
	}
}

func TestStop_FinalPass(t *testing.T) {
	tr := &sttmock.Transcriber{Result: stt.Transcript{Text: scamText}}
	sink := &storemock.Sink{}
	orc := &oraclemock.Classifier{Result: oracle.Classification{Label: oracle.LabelNegative, Score: 0.9}}
	emb := &mock.Embedder{Vector: []float32{0.1, 0.2, 0.3}}
	c, reader := newTestController(t, testConfig(), tr, sink, WithOracle(orc), WithEmbedder(emb))
	ctx := context.Background()

	id, _ := c.Start(ctx)
	samples := sine(440, 5, 16000)
	_ = c.Ingest(samples)

	rec, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.ID != id || rec.Transcript != scamText {
		t.Errorf("record = %+v", rec)
	}
	call, _ := tr.LastCall()
	if len(call.Samples) != len(samples) {
		t.Errorf("final pass transcribed %d samples, want the whole call (%d)", len(call.Samples), len(samples))
	}
	if rec.AudioFeatures.Duration != 5 {
		t.Errorf("feature duration = %v, want 5", rec.AudioFeatures.Duration)
	}
	if math.Abs(rec.Conversation.Risk-0.78) > 1e-9 || len(rec.Conversation.Keywords) == 0 {
		t.Errorf("conversation = %+v", rec.Conversation)
	}
	if len(rec.FailedStages) != 0 {
		t.Errorf("FailedStages = %v", rec.FailedStages)
	}
	if !slices.Equal(rec.Embedding, emb.Vector) {
		t.Errorf("Embedding = %v", rec.Embedding)
	}
	var hasOracle bool
	for _, f := range rec.Fusion.ContributingFactors {
		hasOracle = hasOracle || f.Source == fusion.SourceOracle
	}
	if !hasOracle {
		t.Errorf("oracle missing from factors %+v", rec.Fusion.ContributingFactors)
	}
	if rec.FusedRisk != rec.Fusion.FusedRisk || rec.IsSuspicious != (rec.FusedRisk >= 0.6) {
		t.Errorf("verdict inconsistent: %+v", rec)
	}
	if saved := sink.Records(); len(saved) != 1 || saved[0].ID != id {
		t.Errorf("sink got %d records", len(saved))
	}
	if counterValue(t, reader, "callsentry.calls") != 1 {
		t.Error("completed call not counted")
	}
	if info := c.Info(); info.ID != id || info.Status != "completed" {
		t.Errorf("Info after stop = %+v", info)
	}
}

func TestStop_StageFailuresStillProduceRecord(t *testing.T) {
	tests := []struct {
		name   string
		stt    *sttmock.Transcriber
		oracle *oraclemock.Classifier
		emb    *mock.Embedder
		want   []string
	}{
		{
			name:   "transcription",
			stt:    &sttmock.Transcriber{Err: errors.New("down")},
			oracle: &oraclemock.Classifier{},
			emb:    &mock.Embedder{},
			want:   []string{store.StageTranscription},
		},
		{
			name:   "oracle and embedding",
			stt:    &sttmock.Transcriber{Result: stt.Transcript{Text: scamText}},
			oracle: &oraclemock.Classifier{Err: errors.New("quota")},
			emb:    &mock.Embedder{Err: errors.New("timeout")},
			want:   []string{store.StageOracle, store.StageEmbedding},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &storemock.Sink{}
			c, _ := newTestController(t, testConfig(), tt.stt, sink, WithOracle(tt.oracle), WithEmbedder(tt.emb))
			ctx := context.Background()
			_, _ = c.Start(ctx)
			_ = c.Ingest(sine(440, 1, 16000))

			rec, err := c.Stop(ctx)
			if err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if !slices.Equal(rec.FailedStages, tt.want) {
				t.Errorf("FailedStages = %v, want %v", rec.FailedStages, tt.want)
			}
			if len(sink.Records()) != 1 {
				t.Error("record not persisted")
			}
			if rec.AudioFeatures.IsEmpty() {
				t.Error("audio features should survive a failed stage")
			}
		})
	}
}

func TestStop_EmptyTranscriptSkipsOracle(t *testing.T) {
	orc := &oraclemock.Classifier{}
	c, _ := newTestController(t, testConfig(), &sttmock.Transcriber{}, &storemock.Sink{}, WithOracle(orc))
	ctx := context.Background()
	_, _ = c.Start(ctx)
	_ = c.Ingest(sine(440, 1, 16000))
	rec, _ := c.Stop(ctx)
	if orc.CallCount() != 0 {
		t.Error("oracle consulted without a transcript")
	}
	if rec.Conversation.Reasoning != conversation.NothingToAnalyze {
		t.Errorf("reasoning = %q", rec.Conversation.Reasoning)
	}
}

func TestStop_PersistFailureStillCompletes(t *testing.T) {
	sinkErr := errors.New("db down")
	sink := &storemock.Sink{Err: sinkErr}
	c, _ := newTestController(t, testConfig(), &sttmock.Transcriber{}, sink)
	ctx := context.Background()
	id, _ := c.Start(ctx)

	rec, err := c.Stop(ctx)
	if !errors.Is(err, sinkErr) {
		t.Fatalf("Stop err = %v, want wrapped sink error", err)
	}
	if rec.ID != id {
		t.Errorf("record id = %q, want %q", rec.ID, id)
	}
	if c.Status() != StatusCompleted {
		t.Errorf("Status = %v, want completed", c.Status())
	}
}

func TestStop_IgnoresCallerCancellation(t *testing.T) {
	var sawCancelled atomic.Bool
	tr := &sttmock.Transcriber{Func: func(ctx context.Context, _ []float32, _ int) (stt.Transcript, error) {
		sawCancelled.Store(ctx.Err() != nil)
		return stt.Transcript{Text: "hi"}, nil
	}}
	sink := &storemock.Sink{}
	c, _ := newTestController(t, testConfig(), tr, sink)
	_, _ = c.Start(context.Background())
	_ = c.Ingest(sine(440, 1, 16000))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sawCancelled.Load() {
		t.Error("final pass ran with a cancelled context")
	}
	if rec.Transcript != "hi" || len(sink.Records()) != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestSetConfig_AppliesToNextCall(t *testing.T) {
	c, _ := newTestController(t, testConfig(), &sttmock.Transcriber{}, &storemock.Sink{})
	ctx := context.Background()
	_, _ = c.Start(ctx)

	next := testConfig()
	next.HighRiskThreshold = 0.95
	c.SetConfig(next)
	if c.session.cfg.HighRiskThreshold != 0.7 {
		t.Errorf("active session threshold changed to %v", c.session.cfg.HighRiskThreshold)
	}
	_, _ = c.Stop(ctx)

	_, _ = c.Start(ctx)
	defer c.Stop(ctx) //nolint:errcheck
	if c.session.cfg.HighRiskThreshold != 0.95 {
		t.Errorf("next session threshold = %v, want 0.95", c.session.cfg.HighRiskThreshold)
	}
}
