package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunelens/tunelens/internal/domain"
	"github.com/tunelens/tunelens/internal/port"
)

// --- fakes ---

type fakeStore struct {
	fts     []domain.ScoredEntry
	ftsErr  error
	vec     []domain.ScoredEntry
	vecErr  error
	listed  []domain.SynonymEntry
	listErr error

	selectErr error
	upsertErr error

	softDeleteAffected bool
	softDeleteErr      error

	// upsert state: active entries keyed by tagType/tagValue
	active map[string]*domain.SynonymEntry
	nextID int

	ftsCalls    int
	vecCalls    int
	listCalls   int
	selectCalls int

	lastListTagType domain.TagType
	lastFTSLimit    int
	lastVecLimit    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{active: map[string]*domain.SynonymEntry{}}
}

func storeKey(t domain.TagType, v string) string { return string(t) + "/" + v }

func (f *fakeStore) SelectActiveByKey(ctx context.Context, tagType domain.TagType, tagValue string) (*domain.SynonymEntry, error) {
	f.selectCalls++
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	entry, ok := f.active[storeKey(tagType, tagValue)]
	if !ok || !entry.IsActive {
		return nil, port.ErrSynonymNotFound
	}
	clone := *entry
	return &clone, nil
}

func (f *fakeStore) ListActive(ctx context.Context, tagType domain.TagType, limit int) ([]domain.SynonymEntry, error) {
	f.listCalls++
	f.lastListTagType = tagType
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := f.listed
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) FullTextSearch(ctx context.Context, query string, tagType domain.TagType, limit int) ([]domain.ScoredEntry, error) {
	f.ftsCalls++
	f.lastFTSLimit = limit
	if f.ftsErr != nil {
		return nil, f.ftsErr
	}
	return f.fts, nil
}

func (f *fakeStore) VectorSearch(ctx context.Context, embedding []float32, tagType domain.TagType, limit int) ([]domain.ScoredEntry, error) {
	f.vecCalls++
	f.lastVecLimit = limit
	if f.vecErr != nil {
		return nil, f.vecErr
	}
	return f.vec, nil
}

func (f *fakeStore) Upsert(ctx context.Context, entry *domain.SynonymEntry) (*domain.SynonymEntry, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	key := storeKey(entry.TagType, entry.TagValue)
	if existing, ok := f.active[key]; ok && existing.IsActive {
		existing.Data = entry.Data
		existing.Embedding = entry.Embedding
		existing.Source = entry.Source
		existing.Confidence = entry.Confidence
		existing.IsActive = true
		existing.UpdatedAt = time.Now()
		clone := *existing
		return &clone, nil
	}
	f.nextID++
	saved := *entry
	saved.ID = fmt.Sprintf("id-%d", f.nextID)
	saved.IsActive = true
	saved.CreatedAt = time.Now()
	saved.UpdatedAt = saved.CreatedAt
	f.active[key] = &saved
	clone := saved
	return &clone, nil
}

func (f *fakeStore) SoftDelete(ctx context.Context, tagType domain.TagType, tagValue string) (bool, error) {
	if f.softDeleteErr != nil {
		return false, f.softDeleteErr
	}
	if entry, ok := f.active[storeKey(tagType, tagValue)]; ok && entry.IsActive {
		entry.IsActive = false
		return true, nil
	}
	return f.softDeleteAffected, nil
}

type fakeAI struct {
	embedResult []float32
	embedErr    error
	embedCalls  int
	lastEmbed   string

	chatResponse string
	chatErr      error
}

func (f *fakeAI) ModelName() string { return "fake-model" }

func (f *fakeAI) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls++
	f.lastEmbed = text
	return f.embedResult, f.embedErr
}

func (f *fakeAI) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.chatResponse, f.chatErr
}

type fakeCache struct {
	data   map[string][]byte
	getErr error
	setErr error

	deletePrefixes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.data[key], nil
}

func (f *fakeCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	return nil
}

func (f *fakeCache) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	f.deletePrefixes = append(f.deletePrefixes, prefix)
	n := 0
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func scored(tagType domain.TagType, tagValue string, score float64) domain.ScoredEntry {
	return domain.ScoredEntry{
		SynonymEntry: domain.SynonymEntry{TagType: tagType, TagValue: tagValue, IsActive: true},
		Score:        score,
	}
}

func newService(store *fakeStore, aiProvider *fakeAI, c *fakeCache) *SynonymService {
	return NewSynonymService(store, aiProvider, c)
}

// --- search ---

func TestSearchHybridMergeScenario(t *testing.T) {
	// A is text-only, B is vector-only, C matches both.
	st := newFakeStore()
	st.fts = []domain.ScoredEntry{
		scored(domain.TagTypeGenre, "a", 0.8),
		scored(domain.TagTypeGenre, "c", 0.5),
	}
	st.vec = []domain.ScoredEntry{
		scored(domain.TagTypeGenre, "b", 0.9),
		scored(domain.TagTypeGenre, "c", 0.4),
	}
	aiProvider := &fakeAI{embedResult: []float32{0.1, 0.2}}
	svc := newService(st, aiProvider, newFakeCache())

	items, diag := svc.Search(context.Background(), "guitar", "", 10)

	require.Len(t, items, 3)
	assert.False(t, diag.Degraded())

	// Expected order: B (0.63), C (0.43), A (0.24).
	assert.Equal(t, "b", items[0].TagValue)
	assert.Equal(t, "c", items[1].TagValue)
	assert.Equal(t, "a", items[2].TagValue)

	assert.Equal(t, 0.9*vectorWeight, items[0].HybridScore)
	assert.Equal(t, 0.5*ftsWeight+0.4*vectorWeight, items[1].HybridScore)
	assert.Equal(t, 0.8*ftsWeight, items[2].HybridScore)

	// Single-source items carry a zero for the missing branch.
	assert.Zero(t, items[0].FTSScore)
	assert.Zero(t, items[2].VectorScore)
	assert.Equal(t, 0.5, items[1].FTSScore)
	assert.Equal(t, 0.4, items[1].VectorScore)
}

func TestSearchRankedDescendingAndTruncated(t *testing.T) {
	st := newFakeStore()
	for i := 0; i < 5; i++ {
		st.fts = append(st.fts, scored(domain.TagTypeGenre, fmt.Sprintf("g%d", i), float64(i)*0.1))
	}
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, newFakeCache())

	items, _ := svc.Search(context.Background(), "q", "", 2)

	require.Len(t, items, 2)
	assert.Equal(t, "g4", items[0].TagValue)
	assert.Equal(t, "g3", items[1].TagValue)
	assert.GreaterOrEqual(t, items[0].HybridScore, items[1].HybridScore)
}

func TestSearchTieBreakKeepsSourceOrder(t *testing.T) {
	st := newFakeStore()
	st.fts = []domain.ScoredEntry{
		scored(domain.TagTypeGenre, "first", 0.5),
		scored(domain.TagTypeGenre, "second", 0.5),
	}
	svc := newService(st, &fakeAI{embedErr: errors.New("down")}, newFakeCache())

	items, _ := svc.Search(context.Background(), "q", "", 10)

	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].TagValue)
	assert.Equal(t, "second", items[1].TagValue)
}

func TestSearchFetchesDoubleLimitCandidates(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, newFakeCache())

	svc.Search(context.Background(), "q", "", 7)

	assert.Equal(t, 14, st.lastFTSLimit)
	assert.Equal(t, 14, st.lastVecLimit)
}

func TestSearchEmbeddingFailureFallsBackToTextOnly(t *testing.T) {
	st := newFakeStore()
	st.fts = []domain.ScoredEntry{
		scored(domain.TagTypeMood, "calm", 0.6),
		scored(domain.TagTypeMood, "mellow", 0.2),
	}
	aiProvider := &fakeAI{embedErr: errors.New("timeout")}
	svc := newService(st, aiProvider, newFakeCache())

	items, diag := svc.Search(context.Background(), "relaxing", domain.TagTypeMood, 10)

	assert.True(t, diag.EmbeddingFallback)
	assert.Zero(t, st.vecCalls)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Zero(t, item.VectorScore)
		assert.Equal(t, item.FTSScore*ftsWeight, item.HybridScore)
	}
}

func TestSearchEmptyEmbeddingAlsoFallsBack(t *testing.T) {
	st := newFakeStore()
	aiProvider := &fakeAI{embedResult: nil} // provider "succeeded" with nothing
	svc := newService(st, aiProvider, newFakeCache())

	_, diag := svc.Search(context.Background(), "q", "", 10)

	assert.True(t, diag.EmbeddingFallback)
	assert.Zero(t, st.vecCalls)
}

func TestSearchBranchFailureContributesEmptySet(t *testing.T) {
	st := newFakeStore()
	st.ftsErr = errors.New("fts index broken")
	st.vec = []domain.ScoredEntry{scored(domain.TagTypeGenre, "rock", 0.9)}
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, newFakeCache())

	items, diag := svc.Search(context.Background(), "q", "", 10)

	require.Len(t, items, 1)
	assert.Equal(t, "rock", items[0].TagValue)
	assert.NotEmpty(t, diag.FTSError)
	assert.Empty(t, diag.VectorError)
	assert.True(t, diag.Degraded())
}

func TestSearchBothBranchesFailReturnsEmptyNotError(t *testing.T) {
	st := newFakeStore()
	st.ftsErr = errors.New("fts down")
	st.vecErr = errors.New("vector down")
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, newFakeCache())

	items, diag := svc.Search(context.Background(), "q", "", 10)

	assert.Empty(t, items)
	assert.NotEmpty(t, diag.FTSError)
	assert.NotEmpty(t, diag.VectorError)
	assert.True(t, diag.Degraded())
}

func TestSearchEmptyQueryBrowsesWithoutEmbedding(t *testing.T) {
	st := newFakeStore()
	for i := 0; i < 8; i++ {
		st.listed = append(st.listed, domain.SynonymEntry{
			TagType: domain.TagTypeGenre, TagValue: fmt.Sprintf("g%d", i), IsActive: true,
		})
	}
	aiProvider := &fakeAI{embedResult: []float32{1}}
	svc := newService(st, aiProvider, newFakeCache())

	items, diag := svc.Search(context.Background(), "   ", domain.TagTypeGenre, 5)

	assert.Zero(t, aiProvider.embedCalls)
	assert.Zero(t, st.ftsCalls)
	assert.Zero(t, st.vecCalls)
	assert.Equal(t, domain.TagTypeGenre, st.lastListTagType)
	assert.False(t, diag.Degraded())
	require.Len(t, items, 5)
	for _, item := range items {
		assert.Zero(t, item.FTSScore)
		assert.Zero(t, item.VectorScore)
		assert.Zero(t, item.HybridScore)
	}
}

func TestSearchCacheHitSkipsAllWork(t *testing.T) {
	st := newFakeStore()
	st.fts = []domain.ScoredEntry{scored(domain.TagTypeGenre, "rock", 0.5)}
	aiProvider := &fakeAI{embedResult: []float32{1}}
	c := newFakeCache()
	svc := newService(st, aiProvider, c)

	first, diag := svc.Search(context.Background(), "q", "", 10)
	require.Len(t, first, 1)
	assert.False(t, diag.CacheHit)

	second, diag := svc.Search(context.Background(), "q", "", 10)

	assert.True(t, diag.CacheHit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, st.ftsCalls)
	assert.Equal(t, 1, aiProvider.embedCalls)
}

func TestSearchCacheErrorIsSwallowed(t *testing.T) {
	st := newFakeStore()
	st.fts = []domain.ScoredEntry{scored(domain.TagTypeGenre, "rock", 0.5)}
	c := newFakeCache()
	c.getErr = errors.New("redis gone")
	c.setErr = errors.New("redis gone")
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, c)

	items, _ := svc.Search(context.Background(), "q", "", 10)

	require.Len(t, items, 1)
}

func TestSearchCacheKeysVaryByArgs(t *testing.T) {
	base := searchCacheKey("q", domain.TagTypeGenre, 10)

	assert.True(t, strings.HasPrefix(base, "mir_synonym:search:"))
	assert.Equal(t, base, searchCacheKey("q", domain.TagTypeGenre, 10))
	assert.NotEqual(t, base, searchCacheKey("q", domain.TagTypeGenre, 5))
	assert.NotEqual(t, base, searchCacheKey("q", domain.TagTypeMood, 10))
	assert.NotEqual(t, base, searchCacheKey("other", domain.TagTypeGenre, 10))
	assert.True(t, strings.HasPrefix(lookupCacheKey(domain.TagTypeGenre, "rock"), "mir_synonym:lookup:"))
}

// --- lookup ---

func TestGetReturnsActiveEntryAndCachesIt(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, newFakeCache())

	_, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock music"}}, nil, 1.0, domain.SourceAPI)
	require.NoError(t, err)

	entry := svc.Get(context.Background(), domain.TagTypeGenre, "rock")
	require.NotNil(t, entry)
	assert.Equal(t, "rock", entry.TagValue)
	assert.Equal(t, 1, st.selectCalls)

	// Second lookup is served from cache.
	again := svc.Get(context.Background(), domain.TagTypeGenre, "rock")
	require.NotNil(t, again)
	assert.Equal(t, 1, st.selectCalls)
}

func TestGetReturnsNilWhenMissing(t *testing.T) {
	svc := newService(newFakeStore(), &fakeAI{}, newFakeCache())

	assert.Nil(t, svc.Get(context.Background(), domain.TagTypeGenre, "nope"))
}

func TestGetSwallowsStoreErrors(t *testing.T) {
	st := newFakeStore()
	st.selectErr = errors.New("connection refused")
	svc := newService(st, &fakeAI{}, newFakeCache())

	assert.Nil(t, svc.Get(context.Background(), domain.TagTypeGenre, "rock"))
}

// --- writes ---

func TestCreateOrUpdateTwiceUpdatesSameRow(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, newFakeCache())

	first, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock"}}, nil, 1.0, domain.SourceAPI)
	require.NoError(t, err)

	second, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock", "hard rock"}}, nil, 0.9, domain.SourceAPI)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsActive)
	assert.Equal(t, []string{"rock", "hard rock"}, second.Data.SearchTerms)
	assert.Len(t, st.active, 1)
}

func TestCreateOrUpdateGeneratesEmbeddingFromPayload(t *testing.T) {
	st := newFakeStore()
	aiProvider := &fakeAI{embedResult: []float32{0.5}}
	svc := newService(st, aiProvider, newFakeCache())

	terms := make([]string, 12)
	related := make([]string, 12)
	for i := range terms {
		terms[i] = fmt.Sprintf("term%d", i)
		related[i] = fmt.Sprintf("rel%d", i)
	}

	entry, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeMood, "happy",
		domain.SynonymData{SearchTerms: terms, RelatedTags: related}, nil, 1.0, domain.SourceAPI)
	require.NoError(t, err)

	// Only the first 10 of each list feed the embedding text.
	expected := strings.Join(terms[:10], " ") + " " + strings.Join(related[:10], " ")
	assert.Equal(t, expected, aiProvider.lastEmbed)
	assert.Equal(t, []float32{0.5}, entry.Embedding)
}

func TestCreateOrUpdateSuppliedEmbeddingSkipsProvider(t *testing.T) {
	aiProvider := &fakeAI{embedErr: errors.New("should not be called")}
	svc := newService(newFakeStore(), aiProvider, newFakeCache())

	entry, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock"}}, []float32{1, 2, 3}, 1.0, domain.SourceAPI)

	require.NoError(t, err)
	assert.Zero(t, aiProvider.embedCalls)
	assert.Equal(t, []float32{1, 2, 3}, entry.Embedding)
}

func TestCreateOrUpdateProceedsWithoutVectorOnEmbeddingFailure(t *testing.T) {
	aiProvider := &fakeAI{embedErr: errors.New("ollama down")}
	svc := newService(newFakeStore(), aiProvider, newFakeCache())

	entry, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock"}}, nil, 1.0, domain.SourceAPI)

	require.NoError(t, err)
	assert.Empty(t, entry.Embedding)
}

func TestCreateOrUpdatePropagatesStoreError(t *testing.T) {
	st := newFakeStore()
	st.upsertErr = errors.New("constraint violated")
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, newFakeCache())

	_, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{}, nil, 1.0, domain.SourceAPI)

	require.Error(t, err)
	assert.ErrorContains(t, err, "constraint violated")
}

func TestCreateOrUpdateInvalidatesWholeNamespace(t *testing.T) {
	st := newFakeStore()
	st.fts = []domain.ScoredEntry{scored(domain.TagTypeGenre, "rock", 0.5)}
	c := newFakeCache()
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, c)

	svc.Search(context.Background(), "q", "", 10)
	require.NotEmpty(t, c.data)

	_, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock"}}, nil, 1.0, domain.SourceAPI)
	require.NoError(t, err)

	assert.Contains(t, c.deletePrefixes, "mir_synonym:")
	assert.Empty(t, c.data)
}

func TestCreateOrUpdateClampsConfidence(t *testing.T) {
	svc := newService(newFakeStore(), &fakeAI{embedResult: []float32{1}}, newFakeCache())

	entry, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock"}}, nil, 3.5, domain.SourceAPI)

	require.NoError(t, err)
	assert.Equal(t, 1.0, entry.Confidence)
}

func TestDeactivateSoftDeletesAndInvalidates(t *testing.T) {
	st := newFakeStore()
	c := newFakeCache()
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, c)

	_, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock"}}, nil, 1.0, domain.SourceAPI)
	require.NoError(t, err)
	c.deletePrefixes = nil

	affected, err := svc.Deactivate(context.Background(), domain.TagTypeGenre, "rock")
	require.NoError(t, err)
	assert.True(t, affected)
	assert.Contains(t, c.deletePrefixes, "mir_synonym:")

	// The row still exists but is invisible to reads.
	assert.Nil(t, svc.Get(context.Background(), domain.TagTypeGenre, "rock"))
	assert.Len(t, st.active, 1)
}

func TestDeactivateMissingKeyDoesNotInvalidate(t *testing.T) {
	c := newFakeCache()
	svc := newService(newFakeStore(), &fakeAI{}, c)

	affected, err := svc.Deactivate(context.Background(), domain.TagTypeGenre, "nope")

	require.NoError(t, err)
	assert.False(t, affected)
	assert.Empty(t, c.deletePrefixes)
}

func TestDeactivatePropagatesStoreError(t *testing.T) {
	st := newFakeStore()
	st.softDeleteErr = errors.New("deadlock")
	svc := newService(st, &fakeAI{}, newFakeCache())

	_, err := svc.Deactivate(context.Background(), domain.TagTypeGenre, "rock")
	require.Error(t, err)
}

func TestDeactivatedKeyCanBeRecreated(t *testing.T) {
	st := newFakeStore()
	svc := newService(st, &fakeAI{embedResult: []float32{1}}, newFakeCache())

	first, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock"}}, nil, 1.0, domain.SourceAPI)
	require.NoError(t, err)

	_, err = svc.Deactivate(context.Background(), domain.TagTypeGenre, "rock")
	require.NoError(t, err)

	second, err := svc.CreateOrUpdate(context.Background(), domain.TagTypeGenre, "rock",
		domain.SynonymData{SearchTerms: []string{"rock"}}, nil, 1.0, domain.SourceAPI)
	require.NoError(t, err)

	assert.True(t, second.IsActive)
	assert.NotEmpty(t, first.ID)
	require.NotNil(t, svc.Get(context.Background(), domain.TagTypeGenre, "rock"))
}

func TestEmbeddingTextEmptyPayload(t *testing.T) {
	assert.Empty(t, embeddingText(domain.SynonymData{}))
}
