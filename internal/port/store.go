package port

import (
	"context"

	"github.com/tunelens/tunelens/internal/domain"
)

// SynonymStore abstracts the relational + vector storage for synonym entries.
// All reads see active rows only. A zero-value tagType means "no filter".
type SynonymStore interface {
	// SelectActiveByKey returns the unique active entry for a key, or
	// ErrSynonymNotFound if none exists.
	SelectActiveByKey(ctx context.Context, tagType domain.TagType, tagValue string) (*domain.SynonymEntry, error)

	// ListActive returns up to limit active entries in store-native order.
	ListActive(ctx context.Context, tagType domain.TagType, limit int) ([]domain.SynonymEntry, error)

	// FullTextSearch matches query against entries' search terms using the
	// store's native text ranking, best matches first.
	FullTextSearch(ctx context.Context, query string, tagType domain.TagType, limit int) ([]domain.ScoredEntry, error)

	// VectorSearch returns entries by ascending cosine distance to the given
	// embedding; Score carries the cosine similarity (1 - distance).
	VectorSearch(ctx context.Context, embedding []float32, tagType domain.TagType, limit int) ([]domain.ScoredEntry, error)

	// Upsert updates the active entry for (entry.TagType, entry.TagValue) in
	// place if one exists, otherwise inserts a new row. The write is
	// transactional; on error no partial state is left active.
	Upsert(ctx context.Context, entry *domain.SynonymEntry) (*domain.SynonymEntry, error)

	// SoftDelete deactivates the active entry for a key. Returns whether a
	// row was affected. The row is never physically removed.
	SoftDelete(ctx context.Context, tagType domain.TagType, tagValue string) (bool, error)
}
