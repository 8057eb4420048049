package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/callsentry/pkg/store"
)

var _ store.Repository = (*Store)(nil)

// Store is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, ensures the pgvector extension and schema exist and
// registers pgvector types on every pooled connection.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	// The vector type must exist before AfterConnect can register it, so
	// the extension is created over a one-off connection first.
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	_, err = conn.Exec(ctx, ddlExtension)
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// Ping implements store.Repository.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Save implements store.Sink. Saving an existing id overwrites it.
func (s *Store) Save(ctx context.Context, r store.Record) error {
	features, err := json.Marshal(r.AudioFeatures)
	if err != nil {
		return fmt.Errorf("postgres store: marshal audio features: %w", err)
	}
	conv, err := json.Marshal(r.Conversation)
	if err != nil {
		return fmt.Errorf("postgres store: marshal conversation: %w", err)
	}
	fused, err := json.Marshal(r.Fusion)
	if err != nil {
		return fmt.Errorf("postgres store: marshal fusion: %w", err)
	}
	stages := r.FailedStages
	if stages == nil {
		stages = []string{}
	}
	var embedding any
	if len(r.Embedding) > 0 {
		embedding = pgvector.NewVector(r.Embedding)
	}

	const q = `
		INSERT INTO call_records
		    (id, started_at, ended_at, duration_ms, transcript, audio_features, audio_risk,
		     conversation, fusion, fused_risk, is_suspicious, failed_stages, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
		    started_at     = EXCLUDED.started_at,
		    ended_at       = EXCLUDED.ended_at,
		    duration_ms    = EXCLUDED.duration_ms,
		    transcript     = EXCLUDED.transcript,
		    audio_features = EXCLUDED.audio_features,
		    audio_risk     = EXCLUDED.audio_risk,
		    conversation   = EXCLUDED.conversation,
		    fusion         = EXCLUDED.fusion,
		    fused_risk     = EXCLUDED.fused_risk,
		    is_suspicious  = EXCLUDED.is_suspicious,
		    failed_stages  = EXCLUDED.failed_stages,
		    embedding      = EXCLUDED.embedding`

	_, err = s.pool.Exec(ctx, q,
		r.ID, r.StartedAt, r.EndedAt, r.Duration.Milliseconds(), r.Transcript,
		features, r.AudioRisk, conv, fused, r.FusedRisk, r.IsSuspicious, stages, embedding,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save %s: %w", r.ID, err)
	}
	return nil
}

// SaveAnalysis implements store.AnalysisSink.
func (s *Store) SaveAnalysis(ctx context.Context, a store.Analysis) error {
	const q = `
		INSERT INTO analysis_results
		    (call_id, at, transcript, audio_risk, conversation_risk, fused_risk, is_suspicious, reasoning)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, q,
		a.CallID, a.At, a.Transcript, a.AudioRisk, a.ConversationRisk, a.FusedRisk, a.IsSuspicious, a.Reasoning,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save analysis for %s: %w", a.CallID, err)
	}
	return nil
}

// recordColumns is the projection scanned by [scanRecord].
const recordColumns = `id, started_at, ended_at, duration_ms, transcript, audio_features, audio_risk,
    conversation, fusion, fused_risk, is_suspicious, failed_stages`

// Get implements store.Repository.
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM call_records WHERE id = $1`, id)
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get %s: %w", id, err)
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get %s: %w", id, err)
	}
	return r, nil
}

// Recent implements store.Repository.
func (s *Store) Recent(ctx context.Context, limit int) ([]store.Record, error) {
	return s.queryRecords(ctx, "recent",
		`SELECT `+recordColumns+` FROM call_records ORDER BY started_at DESC LIMIT $1`, limit)
}

// Suspicious implements store.Repository.
func (s *Store) Suspicious(ctx context.Context, since time.Time) ([]store.Record, error) {
	return s.queryRecords(ctx, "suspicious",
		`SELECT `+recordColumns+` FROM call_records
		 WHERE is_suspicious AND started_at >= $1
		 ORDER BY fused_risk DESC`, since)
}

// Stats implements store.Repository.
func (s *Store) Stats(ctx context.Context, since time.Time) (store.Stats, error) {
	const q = `
		SELECT count(*),
		       count(*) FILTER (WHERE is_suspicious),
		       count(*) FILTER (WHERE fused_risk > $2),
		       COALESCE(avg(fused_risk), 0),
		       COALESCE(avg(duration_ms), 0)
		FROM call_records
		WHERE started_at >= $1`

	var (
		st        store.Stats
		avgMillis float64
	)
	err := s.pool.QueryRow(ctx, q, since, store.HighRiskThreshold).
		Scan(&st.Total, &st.Suspicious, &st.HighRisk, &st.AvgRisk, &avgMillis)
	if err != nil {
		return store.Stats{}, fmt.Errorf("postgres store: stats: %w", err)
	}
	st.AvgDuration = time.Duration(avgMillis * float64(time.Millisecond))
	st.SuspiciousRate = store.SuspiciousRate(st.Suspicious, st.Total)
	return st, nil
}

// Cleanup implements store.Repository. Both deletes run in one transaction.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres store: cleanup: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM call_records WHERE started_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("postgres store: cleanup call records: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM analysis_results WHERE at < $1`, olderThan); err != nil {
		return 0, fmt.Errorf("postgres store: cleanup analyses: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres store: cleanup: commit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Similar implements store.Repository using the HNSW cosine index.
func (s *Store) Similar(ctx context.Context, embedding []float32, k int) ([]store.Match, error) {
	if len(embedding) == 0 || k <= 0 {
		return nil, nil
	}
	q := `SELECT ` + recordColumns + `, embedding <=> $1 AS distance
		FROM call_records
		WHERE embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Match, error) {
		var m store.Match
		sc := newRecordScan()
		if err := row.Scan(append(sc.dest(), &m.Distance)...); err != nil {
			return store.Match{}, err
		}
		r, err := sc.record()
		m.Record = r
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar: %w", err)
	}
	return matches, nil
}

func (s *Store) queryRecords(ctx context.Context, op, q string, args ...any) ([]store.Record, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %s: %w", op, err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %s: %w", op, err)
	}
	return records, nil
}

// recordScan holds the scan targets for [recordColumns].
type recordScan struct {
	r          store.Record
	durationMS int64
	features   []byte
	conv       []byte
	fused      []byte
}

func newRecordScan() *recordScan { return &recordScan{} }

func (sc *recordScan) dest() []any {
	return []any{
		&sc.r.ID, &sc.r.StartedAt, &sc.r.EndedAt, &sc.durationMS, &sc.r.Transcript,
		&sc.features, &sc.r.AudioRisk, &sc.conv, &sc.fused, &sc.r.FusedRisk,
		&sc.r.IsSuspicious, &sc.r.FailedStages,
	}
}

func (sc *recordScan) record() (store.Record, error) {
	r := sc.r
	r.Duration = time.Duration(sc.durationMS) * time.Millisecond
	if err := json.Unmarshal(sc.features, &r.AudioFeatures); err != nil {
		return store.Record{}, fmt.Errorf("decode audio features: %w", err)
	}
	if err := json.Unmarshal(sc.conv, &r.Conversation); err != nil {
		return store.Record{}, fmt.Errorf("decode conversation: %w", err)
	}
	if err := json.Unmarshal(sc.fused, &r.Fusion); err != nil {
		return store.Record{}, fmt.Errorf("decode fusion: %w", err)
	}
	if len(r.FailedStages) == 0 {
		r.FailedStages = nil
	}
	return r, nil
}

func scanRecord(row pgx.CollectableRow) (store.Record, error) {
	sc := newRecordScan()
	if err := row.Scan(sc.dest()...); err != nil {
		return store.Record{}, err
	}
	return sc.record()
}
