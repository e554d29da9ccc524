package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tunelens/tunelens/internal/domain"
)

// PostgresStore handles all relational database operations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the tables and indexes this service needs. The
// partial unique index is what enforces the one-active-entry-per-key
// invariant; deactivated rows fall outside it, so a key can be recreated.
func (s *PostgresStore) EnsureSchema(ctx context.Context, embeddingDim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mir_synonyms (
			id           uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			tag_type     text NOT NULL CHECK (tag_type IN ('genre', 'mood')),
			tag_value    text NOT NULL,
			synonym_data jsonb NOT NULL DEFAULT '{}'::jsonb,
			search_text  text NOT NULL DEFAULT '',
			embedding    vector(%d),
			source       text NOT NULL DEFAULT 'ollama',
			confidence   real NOT NULL DEFAULT 1.0,
			is_active    boolean NOT NULL DEFAULT true,
			created_at   timestamptz NOT NULL DEFAULT NOW(),
			updated_at   timestamptz NOT NULL DEFAULT NOW()
		)`, embeddingDim),
		`CREATE UNIQUE INDEX IF NOT EXISTS mir_synonyms_active_key
			ON mir_synonyms (tag_type, tag_value) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS mir_synonyms_fts
			ON mir_synonyms USING gin (to_tsvector('english', search_text))`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			actor       text NOT NULL DEFAULT 'anonymous',
			action      text NOT NULL,
			resource    text NOT NULL,
			resource_id text NOT NULL DEFAULT '',
			details     jsonb NOT NULL DEFAULT '{}'::jsonb,
			ip          text NOT NULL DEFAULT '',
			user_agent  text NOT NULL DEFAULT '',
			created_at  timestamptz NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *PostgresStore) WriteAudit(actor, action, resource, resourceID, details, ip, userAgent string) error {
	query := `INSERT INTO audit_logs (actor, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`
	_, err := s.db.ExecContext(context.Background(), query,
		actor, action, resource, resourceID, details, ip, userAgent,
	)
	return err
}

// ListAuditLogs returns recent audit logs with optional action filter.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, actor, action, resource, resource_id, details, ip, user_agent, created_at
	          FROM audit_logs`
	args := []interface{}{}
	argIdx := 1

	if action != "" {
		query += fmt.Sprintf(" WHERE action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.Actor, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}
