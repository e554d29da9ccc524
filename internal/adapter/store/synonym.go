package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tunelens/tunelens/internal/domain"
	"github.com/tunelens/tunelens/internal/port"
)

// SynonymStore implements port.SynonymStore over Postgres + pgvector.
type SynonymStore struct {
	store *PostgresStore
}

// NewSynonymStore creates a synonym store backed by the given Postgres store.
func NewSynonymStore(store *PostgresStore) *SynonymStore {
	return &SynonymStore{store: store}
}

const entryColumns = `id, tag_type, tag_value, synonym_data, source, confidence, is_active, created_at, updated_at`

// SelectActiveByKey returns the unique active entry for a key.
func (s *SynonymStore) SelectActiveByKey(ctx context.Context, tagType domain.TagType, tagValue string) (*domain.SynonymEntry, error) {
	query := `SELECT ` + entryColumns + `
	          FROM mir_synonyms
	          WHERE tag_type = $1 AND tag_value = $2 AND is_active`

	entry, err := scanEntry(s.store.db.QueryRowContext(ctx, query, tagType, tagValue))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrSynonymNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select synonym: %w", err)
	}
	return entry, nil
}

// ListActive returns up to limit active entries in store-native order.
// Intentionally unordered: this backs the empty-query browse path.
func (s *SynonymStore) ListActive(ctx context.Context, tagType domain.TagType, limit int) ([]domain.SynonymEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM mir_synonyms WHERE is_active`
	args := []interface{}{}
	argIdx := 1

	if tagType != "" {
		query += fmt.Sprintf(" AND tag_type = $%d", argIdx)
		args = append(args, tagType)
		argIdx++
	}

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list synonyms: %w", err)
	}
	defer rows.Close()

	var entries []domain.SynonymEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan synonym: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// FullTextSearch ranks active entries against query using Postgres full-text
// search over the entries' search terms, best matches first.
func (s *SynonymStore) FullTextSearch(ctx context.Context, query string, tagType domain.TagType, limit int) ([]domain.ScoredEntry, error) {
	sqlQuery := `SELECT ` + entryColumns + `,
	                    ts_rank(to_tsvector('english', search_text), plainto_tsquery('english', $1)) AS score
	             FROM mir_synonyms
	             WHERE is_active
	               AND to_tsvector('english', search_text) @@ plainto_tsquery('english', $1)`
	args := []interface{}{query}
	argIdx := 2

	if tagType != "" {
		sqlQuery += fmt.Sprintf(" AND tag_type = $%d", argIdx)
		args = append(args, tagType)
		argIdx++
	}

	sqlQuery += fmt.Sprintf(" ORDER BY score DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	return s.queryScored(ctx, sqlQuery, args...)
}

// VectorSearch returns active entries by ascending cosine distance to the
// given embedding; Score carries the cosine similarity.
func (s *SynonymStore) VectorSearch(ctx context.Context, embedding []float32, tagType domain.TagType, limit int) ([]domain.ScoredEntry, error) {
	vectorStr := vectorToString(embedding)
	sqlQuery := `SELECT ` + entryColumns + `,
	                    1 - (embedding <=> $1::vector) AS score
	             FROM mir_synonyms
	             WHERE is_active AND embedding IS NOT NULL`
	args := []interface{}{vectorStr}
	argIdx := 2

	if tagType != "" {
		sqlQuery += fmt.Sprintf(" AND tag_type = $%d", argIdx)
		args = append(args, tagType)
		argIdx++
	}

	sqlQuery += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", argIdx)
	args = append(args, limit)

	return s.queryScored(ctx, sqlQuery, args...)
}

// Upsert updates the active entry for the key in place, or inserts a new row.
func (s *SynonymStore) Upsert(ctx context.Context, entry *domain.SynonymEntry) (*domain.SynonymEntry, error) {
	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal synonym data: %w", err)
	}

	var embedding interface{}
	if len(entry.Embedding) > 0 {
		embedding = vectorToString(entry.Embedding)
	}
	searchText := strings.Join(entry.Data.SearchTerms, " ")

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM mir_synonyms WHERE tag_type = $1 AND tag_value = $2 AND is_active FOR UPDATE`,
		entry.TagType, entry.TagValue,
	).Scan(&existingID)

	var row rowScanner
	switch {
	case errors.Is(err, sql.ErrNoRows):
		row = tx.QueryRowContext(ctx,
			`INSERT INTO mir_synonyms (tag_type, tag_value, synonym_data, search_text, embedding, source, confidence, is_active)
			 VALUES ($1, $2, $3::jsonb, $4, $5::vector, $6, $7, true)
			 RETURNING `+entryColumns,
			entry.TagType, entry.TagValue, dataJSON, searchText, embedding, entry.Source, entry.Confidence,
		)
	case err != nil:
		return nil, fmt.Errorf("select for update: %w", err)
	default:
		row = tx.QueryRowContext(ctx,
			`UPDATE mir_synonyms
			 SET synonym_data = $1::jsonb, search_text = $2, embedding = $3::vector,
			     source = $4, confidence = $5, is_active = true, updated_at = NOW()
			 WHERE id = $6
			 RETURNING `+entryColumns,
			dataJSON, searchText, embedding, entry.Source, entry.Confidence, existingID,
		)
	}

	result, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("upsert synonym: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return result, nil
}

// SoftDelete deactivates the active entry for a key.
func (s *SynonymStore) SoftDelete(ctx context.Context, tagType domain.TagType, tagValue string) (bool, error) {
	query := `UPDATE mir_synonyms SET is_active = false, updated_at = NOW()
	          WHERE tag_type = $1 AND tag_value = $2 AND is_active`

	res, err := s.store.db.ExecContext(ctx, query, tagType, tagValue)
	if err != nil {
		return false, fmt.Errorf("soft delete synonym: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete synonym: %w", err)
	}
	return affected > 0, nil
}

func (s *SynonymStore) queryScored(ctx context.Context, query string, args ...interface{}) ([]domain.ScoredEntry, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search synonyms: %w", err)
	}
	defer rows.Close()

	var results []domain.ScoredEntry
	for rows.Next() {
		var (
			se       domain.ScoredEntry
			dataJSON []byte
		)
		if err := rows.Scan(
			&se.ID, &se.TagType, &se.TagValue, &dataJSON, &se.Source,
			&se.Confidence, &se.IsActive, &se.CreatedAt, &se.UpdatedAt, &se.Score,
		); err != nil {
			return nil, fmt.Errorf("scan scored synonym: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &se.Data); err != nil {
			return nil, fmt.Errorf("decode synonym data: %w", err)
		}
		results = append(results, se)
	}
	return results, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*domain.SynonymEntry, error) {
	var (
		entry    domain.SynonymEntry
		dataJSON []byte
	)
	if err := row.Scan(
		&entry.ID, &entry.TagType, &entry.TagValue, &dataJSON, &entry.Source,
		&entry.Confidence, &entry.IsActive, &entry.CreatedAt, &entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dataJSON, &entry.Data); err != nil {
		return nil, fmt.Errorf("decode synonym data: %w", err)
	}
	return &entry, nil
}

// vectorToString converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = fmt.Sprintf("%g", val)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
