package ingest_test

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/callsentry/internal/call"
	"github.com/MrWong99/callsentry/internal/ingest"
	"github.com/MrWong99/callsentry/pkg/fusion"
	"github.com/MrWong99/callsentry/pkg/store"
)

// fakeController records what the handler feeds it.
type fakeController struct {
	mu       sync.Mutex
	startErr error
	samples  []float32
	stopped  chan struct{}
	once     sync.Once
	record   store.Record
	stopErr  error
}

func newFake() *fakeController {
	return &fakeController{
		stopped: make(chan struct{}),
		record: store.Record{
			ID:           "call-1",
			Duration:     2 * time.Second,
			Transcript:   "your account is suspended",
			FusedRisk:    0.72,
			IsSuspicious: true,
			Fusion:       fusion.Result{Reasoning: "HIGH RISK"},
		},
	}
}

func (f *fakeController) Start(context.Context) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "call-1", nil
}

func (f *fakeController) Ingest(s []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s...)
	return nil
}

func (f *fakeController) Stop(context.Context) (store.Record, error) {
	f.once.Do(func() { close(f.stopped) })
	return f.record, f.stopErr
}

func (f *fakeController) Config() call.Config { return call.Config{SampleRate: 16000} }

func (f *fakeController) ingested() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

func serve(t *testing.T, ctrl ingest.Controller, hub *ingest.Hub) string {
	t.Helper()
	mux := http.NewServeMux()
	ingest.New(ctrl, hub).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) ingest.Event {
	t.Helper()
	var ev ingest.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func pcm(n int) []byte {
	b := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(i*100)))
	}
	return b
}

func TestStream_FullCall(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctrl, hub := newFake(), ingest.NewHub()
	conn := dial(t, ctx, serve(t, ctrl, hub)+"?sample_rate=8000")

	started := readEvent(t, ctx, conn)
	if started.Type != ingest.TypeStarted || started.CallID != "call-1" || started.SampleRate != 16000 {
		t.Fatalf("started = %+v", started)
	}

	// 8 kHz in, 16 kHz out.
	if err := conn.Write(ctx, websocket.MessageBinary, pcm(400)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	hub.OnVerdict(ctx, call.Verdict{SessionID: "call-1", Transcript: "hello"})
	hub.OnAlert(ctx, call.Alert{SessionID: "call-1", FusedRisk: 0.8})
	hub.OnAlert(ctx, call.Alert{SessionID: "other-call", FusedRisk: 0.9})

	if ev := readEvent(t, ctx, conn); ev.Type != ingest.TypeVerdict || ev.Verdict == nil || ev.Verdict.Transcript != "hello" {
		t.Fatalf("verdict event = %+v", ev)
	}
	if ev := readEvent(t, ctx, conn); ev.Type != ingest.TypeAlert || ev.Alert == nil || ev.Alert.FusedRisk != 0.8 {
		t.Fatalf("alert event = %+v", ev)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": ingest.TypeEnd}); err != nil {
		t.Fatalf("write end: %v", err)
	}
	final := readEvent(t, ctx, conn)
	if final.Type != ingest.TypeFinal || final.Final == nil {
		t.Fatalf("final = %+v", final)
	}
	if !final.Final.IsSuspicious || final.Final.FusedRisk != 0.72 || !final.Final.Persisted || final.Final.DurationSeconds != 2 {
		t.Errorf("final summary = %+v", final.Final)
	}

	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		t.Errorf("close status = %v (err %v), want normal closure", status, err)
	}
	if got := ctrl.ingested(); got != 800 {
		t.Errorf("ingested %d samples, want 800 after resampling", got)
	}
}

func TestStream_PersistFailureReported(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctrl := newFake()
	ctrl.stopErr = errors.New("call: persist call-1: db down")
	conn := dial(t, ctx, serve(t, ctrl, ingest.NewHub()))
	readEvent(t, ctx, conn)

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"end"}`)); err != nil {
		t.Fatalf("write end: %v", err)
	}
	final := readEvent(t, ctx, conn)
	if final.Final == nil || final.Final.Persisted {
		t.Errorf("final = %+v, want persisted=false", final.Final)
	}
}

func TestStream_SecondCallRejected(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctrl := newFake()
	ctrl.startErr = call.ErrCallActive
	conn := dial(t, ctx, serve(t, ctrl, ingest.NewHub()))

	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusTryAgainLater {
		t.Fatalf("close status = %v (err %v), want 1013", status, err)
	}
}

func TestStream_DisconnectStopsCall(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctrl := newFake()
	conn := dial(t, ctx, serve(t, ctrl, ingest.NewHub()))
	readEvent(t, ctx, conn)
	conn.CloseNow()

	select {
	case <-ctrl.stopped:
	case <-ctx.Done():
		t.Fatal("call was not stopped after the client went away")
	}
}

func TestStream_BadFormat(t *testing.T) {
	t.Parallel()
	url := serve(t, newFake(), ingest.NewHub())
	for _, q := range []string{"?sample_rate=abc", "?sample_rate=10", "?channels=0", "?channels=99"} {
		_, resp, err := websocket.Dial(context.Background(), url+q, nil)
		if err == nil {
			t.Errorf("%s: dial succeeded", q)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: response = %v, want 400", q, resp)
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	t.Parallel()
	hub := ingest.NewHub()
	events, cancel := hub.Subscribe("a")
	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Fatal("channel still open after cancel")
	}
	// Publishing to a gone subscriber must not panic.
	hub.OnVerdict(context.Background(), call.Verdict{SessionID: "a"})
}

func TestHub_DropsWhenFull(t *testing.T) {
	t.Parallel()
	hub := ingest.NewHub()
	events, cancel := hub.Subscribe("a")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 1000 {
			hub.OnVerdict(context.Background(), call.Verdict{SessionID: "a"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}
	if n := len(events); n == 0 || n == 1000 {
		t.Errorf("buffered %d events, want a bounded non-empty queue", n)
	}
}
