package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/callsentry/pkg/acoustic"
	"github.com/MrWong99/callsentry/pkg/fusion"
	"github.com/MrWong99/callsentry/pkg/store"
	"github.com/MrWong99/callsentry/pkg/store/postgres"
)

const testEmbeddingDim = 3

// testDSN skips the test unless CALLSENTRY_TEST_POSTGRES_DSN is set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CALLSENTRY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CALLSENTRY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the schema and returns a freshly migrated Store.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS call_records CASCADE",
		"DROP TABLE IF EXISTS analysis_results CASCADE",
	} {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}
	conn.Close(ctx)

	s, err := postgres.New(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func sample(id string, started time.Time, risk float64, suspicious bool) store.Record {
	return store.Record{
		ID:            id,
		StartedAt:     started,
		EndedAt:       started.Add(90 * time.Second),
		Duration:      90 * time.Second,
		Transcript:    "your account has been suspended",
		AudioFeatures: acoustic.FeatureBundle{Duration: 90, SampleRate: 16000},
		AudioRisk:     0.3,
		Conversation:  store.ConversationSummary{Keywords: []string{"suspended"}, Risk: 0.5},
		Fusion:        fusion.Result{FusedRisk: risk, IsSuspicious: suspicious, Reasoning: "test"},
		FusedRisk:     risk,
		IsSuspicious:  suspicious,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	r := sample("call-1", now, 0.8, true)
	r.FailedStages = []string{store.StageOracle}
	r.Embedding = []float32{1, 0, 0}
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Overwrite must not fail.
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save (upsert): %v", err)
	}

	got, err := s.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Duration != 90*time.Second || got.Transcript != r.Transcript || !got.StartedAt.Equal(now) {
		t.Errorf("Get = %+v", got)
	}
	if got.AudioFeatures.SampleRate != 16000 || got.Conversation.Keywords[0] != "suspended" || got.Fusion.Reasoning != "test" {
		t.Errorf("JSONB columns not round-tripped: %+v", got)
	}
	if len(got.FailedStages) != 1 || got.FailedStages[0] != store.StageOracle {
		t.Errorf("FailedStages = %v", got.FailedStages)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
}

func TestQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, r := range []store.Record{
		sample("a", now.Add(-time.Hour), 0.9, true),
		sample("b", now.Add(-2*time.Hour), 0.65, true),
		sample("c", now.Add(-3*time.Hour), 0.2, false),
		sample("old", now.Add(-100*24*time.Hour), 0.95, true),
	} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil || len(recent) != 2 || recent[0].ID != "a" || recent[1].ID != "b" {
		t.Errorf("Recent = %+v, err %v", recent, err)
	}

	sus, err := s.Suspicious(ctx, now.Add(-7*24*time.Hour))
	if err != nil || len(sus) != 2 || sus[0].ID != "a" {
		t.Errorf("Suspicious = %+v, err %v", sus, err)
	}

	st, err := s.Stats(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 3 || st.Suspicious != 2 || st.HighRisk != 1 || st.AvgDuration != 90*time.Second {
		t.Errorf("Stats = %+v", st)
	}

	if err := s.SaveAnalysis(ctx, store.Analysis{CallID: "old", At: now.Add(-100 * 24 * time.Hour)}); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	n, err := s.Cleanup(ctx, now.Add(-90*24*time.Hour))
	if err != nil || n != 1 {
		t.Errorf("Cleanup = %d, %v; want 1", n, err)
	}
}

func TestSimilar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	near := sample("near", now, 0.5, false)
	near.Embedding = []float32{1, 0, 0}
	far := sample("far", now, 0.5, false)
	far.Embedding = []float32{0, 1, 0}
	none := sample("none", now, 0.5, false)
	for _, r := range []store.Record{near, far, none} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.Similar(ctx, []float32{0.9, 0.1, 0}, 5)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(got) != 2 || got[0].ID != "near" || got[1].ID != "far" {
		t.Errorf("Similar = %+v", got)
	}
	if got[0].Distance >= got[1].Distance {
		t.Errorf("distances not ascending: %v, %v", got[0].Distance, got[1].Distance)
	}
}
