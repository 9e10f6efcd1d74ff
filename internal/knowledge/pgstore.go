package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// entryCols is the standard SELECT column list for scanEntries.
const entryCols = `id, title, content, content_type, category, tags, vector,
	source_reference, access_count, created_at, updated_at, last_accessed_at`

// Schema returns the DDL for the knowledge table with the given vector
// dimension. Applied by the operator (or the test harness); the store
// itself never migrates.
func Schema(dim int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_entries (
    id               TEXT PRIMARY KEY,
    title            TEXT NOT NULL DEFAULT '',
    content          TEXT NOT NULL,
    content_type     TEXT NOT NULL,
    category         TEXT NOT NULL DEFAULT '',
    tags             TEXT[] NOT NULL DEFAULT '{}',
    vector           vector(%d) NOT NULL,
    source_reference TEXT NOT NULL DEFAULT '',
    access_count     BIGINT NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    last_accessed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_entries(category);
CREATE INDEX IF NOT EXISTS idx_knowledge_tags ON knowledge_entries USING GIN(tags);
CREATE INDEX IF NOT EXISTS idx_knowledge_access ON knowledge_entries(access_count DESC);
`, dim)
}

// Scored pairs an entry with a similarity score in [0, 1].
type Scored struct {
	Entry *Entry
	Score float64
}

// PGStore is a Storage implementation backed by PostgreSQL + pgvector.
// Its NearestNeighbors method pushes vector ranking into the database,
// so the search engine can skip the in-process linear scan.
//
// Safe for concurrent use by multiple goroutines.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore creates a PGStore over an existing pool. The schema must
// already be applied (see Schema).
func NewPGStore(pool *pgxpool.Pool, logger *slog.Logger) (*PGStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{pool: pool, logger: logger}, nil
}

// Insert implements Storage.
func (s *PGStore) Insert(ctx context.Context, e *Entry) error {
	vec := pgvector.NewVector(e.Vector)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_entries
		 (id, title, content, content_type, category, tags, vector,
		  source_reference, access_count, created_at, updated_at, last_accessed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Title, e.Content, string(e.ContentType), e.Category, e.Tags, vec,
		e.SourceReference, e.AccessCount, e.CreatedAt, e.UpdatedAt, nullableTime(e.LastAccessedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting entry %q: %w", e.ID, err)
	}
	return nil
}

// Get implements Storage.
func (s *PGStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryCols+` FROM knowledge_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting entry %q: %w", id, err)
	}
	return e, nil
}

// Update implements Storage.
func (s *PGStore) Update(ctx context.Context, e *Entry) error {
	vec := pgvector.NewVector(e.Vector)
	tag, err := s.pool.Exec(ctx,
		`UPDATE knowledge_entries
		 SET title = $2, content = $3, content_type = $4, category = $5,
		     tags = $6, vector = $7, source_reference = $8, updated_at = $9
		 WHERE id = $1`,
		e.ID, e.Title, e.Content, string(e.ContentType), e.Category,
		e.Tags, vec, e.SourceReference, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating entry %q: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, e.ID)
	}
	return nil
}

// Delete implements Storage.
func (s *PGStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM knowledge_entries WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting entry %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// All implements Storage.
func (s *PGStore) All(ctx context.Context) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryCols+` FROM knowledge_entries`)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByCategory implements Storage.
func (s *PGStore) ListByCategory(ctx context.Context, category string, limit int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+` FROM knowledge_entries
		 WHERE category = $1 ORDER BY created_at DESC LIMIT $2`,
		category, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing by category %q: %w", category, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByTag implements Storage.
func (s *PGStore) ListByTag(ctx context.Context, tag string, limit int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+` FROM knowledge_entries
		 WHERE $1 = ANY(tags) ORDER BY created_at DESC LIMIT $2`,
		tag, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing by tag %q: %w", tag, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// MostAccessed implements Storage.
func (s *PGStore) MostAccessed(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+` FROM knowledge_entries
		 ORDER BY access_count DESC, created_at DESC LIMIT $1`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing most accessed: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// TouchAccess implements Storage.
func (s *PGStore) TouchAccess(ctx context.Context, id string, at time.Time) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE knowledge_entries
		 SET access_count = access_count + 1, last_accessed_at = $2
		 WHERE id = $1
		 RETURNING `+entryCols,
		id, at)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("touching entry %q: %w", id, err)
	}
	return e, nil
}

// NearestNeighbors returns the k entries closest to vec by cosine
// distance, ranked in the database. Satisfies the search engine's
// vector-index seam.
func (s *PGStore) NearestNeighbors(ctx context.Context, vec []float32, k int) ([]Scored, error) {
	qv := pgvector.NewVector(vec)
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+`, 1 - (vector <=> $1) AS similarity
		 FROM knowledge_entries
		 ORDER BY vector <=> $1
		 LIMIT $2`,
		qv, clampLimit(k))
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor query: %w", err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var e Entry
		var vecCol pgvector.Vector
		var lastAccessed *time.Time
		var score float64
		if err := rows.Scan(
			&e.ID, &e.Title, &e.Content, &e.ContentType, &e.Category, &e.Tags, &vecCol,
			&e.SourceReference, &e.AccessCount, &e.CreatedAt, &e.UpdatedAt, &lastAccessed,
			&score,
		); err != nil {
			return nil, fmt.Errorf("scanning neighbor: %w", err)
		}
		e.Vector = vecCol.Slice()
		if lastAccessed != nil {
			e.LastAccessedAt = *lastAccessed
		}
		out = append(out, Scored{Entry: &e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating neighbors: %w", err)
	}
	return out, nil
}

// Close closes nothing: the pool is managed by the caller.
func (*PGStore) Close() error { return nil }

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var vecCol pgvector.Vector
	var lastAccessed *time.Time
	if err := row.Scan(
		&e.ID, &e.Title, &e.Content, &e.ContentType, &e.Category, &e.Tags, &vecCol,
		&e.SourceReference, &e.AccessCount, &e.CreatedAt, &e.UpdatedAt, &lastAccessed,
	); err != nil {
		return nil, err
	}
	e.Vector = vecCol.Slice()
	if lastAccessed != nil {
		e.LastAccessedAt = *lastAccessed
	}
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return out, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func clampLimit(limit int) int {
	const maxListLimit = 1000
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
