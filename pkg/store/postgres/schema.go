// Package postgres implements [store.Repository] on PostgreSQL with the
// pgvector extension.
//
// Finished calls live in call_records. Feature bundles, conversation
// summaries and fusion verdicts are stored as JSONB so their shape can grow
// without migrations. The transcript embedding sits in a vector column with
// an HNSW cosine index. Live per-tick verdicts go to analysis_results.
//
// Usage:
//
//	s, err := postgres.New(ctx, dsn, 1536)
//	if err != nil { … }
//	defer s.Close()
//	_ = s.Save(ctx, record)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlCallRecords returns the call_records DDL with the embedding dimension
// baked into the vector column.
func ddlCallRecords(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS call_records (
    id              TEXT         PRIMARY KEY,
    started_at      TIMESTAMPTZ  NOT NULL,
    ended_at        TIMESTAMPTZ  NOT NULL,
    duration_ms     BIGINT       NOT NULL DEFAULT 0,
    transcript      TEXT         NOT NULL DEFAULT '',
    audio_features  JSONB        NOT NULL DEFAULT '{}',
    audio_risk      DOUBLE PRECISION NOT NULL DEFAULT 0,
    conversation    JSONB        NOT NULL DEFAULT '{}',
    fusion          JSONB        NOT NULL DEFAULT '{}',
    fused_risk      DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_suspicious   BOOLEAN      NOT NULL DEFAULT false,
    failed_stages   TEXT[]       NOT NULL DEFAULT '{}',
    embedding       vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_call_records_started_at
    ON call_records (started_at);

CREATE INDEX IF NOT EXISTS idx_call_records_suspicious
    ON call_records (is_suspicious, fused_risk DESC);

CREATE INDEX IF NOT EXISTS idx_call_records_embedding
    ON call_records USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Analyses are written while the call is still live, before its record
// exists, so call_id carries no foreign key.
const ddlAnalysisResults = `
CREATE TABLE IF NOT EXISTS analysis_results (
    id                 BIGSERIAL    PRIMARY KEY,
    call_id            TEXT         NOT NULL,
    at                 TIMESTAMPTZ  NOT NULL DEFAULT now(),
    transcript         TEXT         NOT NULL DEFAULT '',
    audio_risk         DOUBLE PRECISION NOT NULL DEFAULT 0,
    conversation_risk  DOUBLE PRECISION NOT NULL DEFAULT 0,
    fused_risk         DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_suspicious      BOOLEAN      NOT NULL DEFAULT false,
    reasoning          TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_analysis_results_call_id
    ON analysis_results (call_id);

CREATE INDEX IF NOT EXISTS idx_analysis_results_at
    ON analysis_results (at);
`

const ddlExtension = `CREATE EXTENSION IF NOT EXISTS vector;`

// Migrate creates the extension, tables and indexes if they do not exist.
// It is idempotent and runs on every [New].
//
// embeddingDimensions must match the configured embedding model. Changing it
// after the first migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres store: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{ddlExtension, ddlCallRecords(embeddingDimensions), ddlAnalysisResults} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store: migrate: %w", err)
		}
	}
	return nil
}
