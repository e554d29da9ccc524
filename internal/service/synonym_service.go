package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tunelens/tunelens/internal/domain"
	"github.com/tunelens/tunelens/internal/port"
)

// Hybrid scoring weights. Fixed by contract, not configurable per call.
const (
	ftsWeight    = 0.3
	vectorWeight = 0.7
)

const (
	// DefaultLimit is used when the caller passes a non-positive limit.
	DefaultLimit = 10

	cacheNamespace = "mir_synonym:"
	cacheTTL       = 24 * time.Hour

	// maxEmbeddingTerms bounds how much of the payload feeds the embedding
	// text when no vector is supplied on a write.
	maxEmbeddingTerms = 10
)

// SynonymService is the hybrid search engine over the synonym catalog. Reads
// never fail: store and embedding problems degrade the result and are
// reported through SearchDiagnostics. Writes fail loudly on store errors.
type SynonymService struct {
	store port.SynonymStore
	ai    port.AIProvider
	cache port.Cache
}

// NewSynonymService creates the service with its injected dependencies.
func NewSynonymService(store port.SynonymStore, ai port.AIProvider, cache port.Cache) *SynonymService {
	return &SynonymService{store: store, ai: ai, cache: cache}
}

// Search returns up to limit entries ranked by blended relevance. A blank
// query lists active entries unranked (browse mode). The embedding provider
// failing drops the request to text-only retrieval; either retrieval branch
// failing contributes an empty set. See SearchDiagnostics for what happened.
func (s *SynonymService) Search(ctx context.Context, query string, tagType domain.TagType, limit int) ([]domain.SearchResultItem, domain.SearchDiagnostics) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var diag domain.SearchDiagnostics
	key := searchCacheKey(query, tagType, limit)

	if data, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("cache read failed", "key", key, "error", err)
	} else if data != nil {
		var items []domain.SearchResultItem
		uerr := json.Unmarshal(data, &items)
		if uerr == nil {
			diag.CacheHit = true
			return items, diag
		}
		slog.Warn("cache entry corrupt, ignoring", "key", key, "error", uerr)
	}

	var items []domain.SearchResultItem
	if strings.TrimSpace(query) == "" {
		items = s.browse(ctx, tagType, limit, &diag)
	} else {
		items = s.retrieve(ctx, query, tagType, limit, &diag)
	}

	if data, err := json.Marshal(items); err == nil {
		if err := s.cache.SetWithTTL(ctx, key, data, cacheTTL); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}

	return items, diag
}

// browse serves the empty-query path: active entries in store-native order,
// no scoring, no embedding call.
func (s *SynonymService) browse(ctx context.Context, tagType domain.TagType, limit int, diag *domain.SearchDiagnostics) []domain.SearchResultItem {
	entries, err := s.store.ListActive(ctx, tagType, limit)
	if err != nil {
		diag.FTSError = err.Error()
		slog.Warn("synonym browse failed", "tag_type", tagType, "error", err)
		return nil
	}

	items := make([]domain.SearchResultItem, len(entries))
	for i, e := range entries {
		items[i] = domain.SearchResultItem{TagType: e.TagType, TagValue: e.TagValue, Data: e.Data}
	}
	return items
}

// retrieve runs the dual-retrieval pipeline: embed, search both branches
// concurrently, merge, rank, truncate.
func (s *SynonymService) retrieve(ctx context.Context, query string, tagType domain.TagType, limit int, diag *domain.SearchDiagnostics) []domain.SearchResultItem {
	embedding, err := s.ai.Embed(ctx, query)
	if err != nil || len(embedding) == 0 {
		// Hard fallback: one failure skips vector search for this request.
		diag.EmbeddingFallback = true
		if err != nil {
			slog.Warn("query embedding failed, text-only search", "error", err)
		}
	}

	fetch := 2 * limit
	var ftsResults, vecResults []domain.ScoredEntry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.store.FullTextSearch(gctx, query, tagType, fetch)
		if err != nil {
			diag.FTSError = err.Error()
			slog.Warn("full-text search failed", "error", err)
			return nil
		}
		ftsResults = res
		return nil
	})
	if !diag.EmbeddingFallback {
		g.Go(func() error {
			res, err := s.store.VectorSearch(gctx, embedding, tagType, fetch)
			if err != nil {
				diag.VectorError = err.Error()
				slog.Warn("vector search failed", "error", err)
				return nil
			}
			vecResults = res
			return nil
		})
	}
	_ = g.Wait() // branch errors are recorded in diag, never propagated

	return mergeResults(ftsResults, vecResults, limit)
}

// synonymKey identifies one logical entry across both retrieval branches.
type synonymKey struct {
	tagType  domain.TagType
	tagValue string
}

// mergeResults blends the two candidate lists into hybrid-scored items.
// FTS candidates are inserted first, then vector-only candidates, and the
// final sort is stable, so that insertion order is the tie-break.
func mergeResults(fts, vec []domain.ScoredEntry, limit int) []domain.SearchResultItem {
	merged := make(map[synonymKey]*domain.SearchResultItem, len(fts)+len(vec))
	order := make([]synonymKey, 0, len(fts)+len(vec))

	for _, e := range fts {
		k := synonymKey{e.TagType, e.TagValue}
		merged[k] = &domain.SearchResultItem{
			TagType:     e.TagType,
			TagValue:    e.TagValue,
			Data:        e.Data,
			FTSScore:    e.Score,
			HybridScore: e.Score * ftsWeight,
		}
		order = append(order, k)
	}

	for _, e := range vec {
		k := synonymKey{e.TagType, e.TagValue}
		if item, ok := merged[k]; ok {
			item.VectorScore = e.Score
			item.HybridScore = item.FTSScore*ftsWeight + e.Score*vectorWeight
			continue
		}
		merged[k] = &domain.SearchResultItem{
			TagType:     e.TagType,
			TagValue:    e.TagValue,
			Data:        e.Data,
			VectorScore: e.Score,
			HybridScore: e.Score * vectorWeight,
		}
		order = append(order, k)
	}

	items := make([]domain.SearchResultItem, 0, len(order))
	for _, k := range order {
		items = append(items, *merged[k])
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].HybridScore > items[j].HybridScore
	})

	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Get returns the single active entry for a key, or nil if none exists.
// Store errors are swallowed (logged) — the read path prioritizes
// availability over completeness.
func (s *SynonymService) Get(ctx context.Context, tagType domain.TagType, tagValue string) *domain.SynonymEntry {
	key := lookupCacheKey(tagType, tagValue)

	if data, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("cache read failed", "key", key, "error", err)
	} else if data != nil {
		var entry domain.SynonymEntry
		uerr := json.Unmarshal(data, &entry)
		if uerr == nil {
			return &entry
		}
		slog.Warn("cache entry corrupt, ignoring", "key", key, "error", uerr)
	}

	entry, err := s.store.SelectActiveByKey(ctx, tagType, tagValue)
	if errors.Is(err, port.ErrSynonymNotFound) {
		return nil
	}
	if err != nil {
		slog.Warn("synonym lookup failed", "tag_type", tagType, "tag_value", tagValue, "error", err)
		return nil
	}

	if data, err := json.Marshal(entry); err == nil {
		if err := s.cache.SetWithTTL(ctx, key, data, cacheTTL); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return entry
}

// CreateOrUpdate upserts the entry for a key: an existing active entry is
// updated in place, otherwise a new row is inserted. When no embedding is
// supplied one is generated from the payload; an embedding failure stores a
// null vector rather than failing the write. On success the whole cache
// namespace is invalidated.
func (s *SynonymService) CreateOrUpdate(ctx context.Context, tagType domain.TagType, tagValue string, data domain.SynonymData, embedding []float32, confidence float64, source string) (*domain.SynonymEntry, error) {
	if source == "" {
		source = domain.SourceAPI
	}
	confidence = clamp01(confidence)

	if len(embedding) == 0 {
		if text := embeddingText(data); text != "" {
			vec, err := s.ai.Embed(ctx, text)
			if err != nil {
				slog.Warn("payload embedding failed, storing without vector",
					"tag_type", tagType, "tag_value", tagValue, "error", err)
			} else {
				embedding = vec
			}
		}
	}

	entry := &domain.SynonymEntry{
		TagType:    tagType,
		TagValue:   tagValue,
		Data:       data,
		Embedding:  embedding,
		Source:     source,
		Confidence: confidence,
		IsActive:   true,
	}

	saved, err := s.store.Upsert(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("upsert synonyms for %s/%s: %w", tagType, tagValue, err)
	}

	s.invalidate(ctx)
	return saved, nil
}

// Deactivate soft-deletes the active entry for a key and reports whether a
// row was affected.
func (s *SynonymService) Deactivate(ctx context.Context, tagType domain.TagType, tagValue string) (bool, error) {
	affected, err := s.store.SoftDelete(ctx, tagType, tagValue)
	if err != nil {
		return false, fmt.Errorf("deactivate synonyms for %s/%s: %w", tagType, tagValue, err)
	}
	if affected {
		s.invalidate(ctx)
	}
	return affected, nil
}

// invalidate wipes the entire cache namespace. Coarse on purpose: this
// mirrors the write-path contract, one write flushes all cached reads.
func (s *SynonymService) invalidate(ctx context.Context) {
	if _, err := s.cache.DeleteByPrefix(ctx, cacheNamespace); err != nil {
		slog.Warn("cache invalidation failed", "error", err)
	}
}

// embeddingText builds the text embedded on writes that carry no vector:
// the first terms of the payload, space-joined.
func embeddingText(data domain.SynonymData) string {
	terms := data.SearchTerms
	if len(terms) > maxEmbeddingTerms {
		terms = terms[:maxEmbeddingTerms]
	}
	related := data.RelatedTags
	if len(related) > maxEmbeddingTerms {
		related = related[:maxEmbeddingTerms]
	}
	return strings.TrimSpace(strings.Join(terms, " ") + " " + strings.Join(related, " "))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// --- Cache keys ---

func searchCacheKey(query string, tagType domain.TagType, limit int) string {
	return cacheKey("search", fmt.Sprintf("%s|%s|%d", query, tagType, limit))
}

func lookupCacheKey(tagType domain.TagType, tagValue string) string {
	return cacheKey("lookup", fmt.Sprintf("%s|%s", tagType, tagValue))
}

func cacheKey(operation, args string) string {
	sum := sha256.Sum256([]byte(args))
	return cacheNamespace + operation + ":" + hex.EncodeToString(sum[:8])
}
