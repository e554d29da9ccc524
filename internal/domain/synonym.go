package domain

import (
	"fmt"
	"time"
)

// TagType identifies the taxonomy a tag belongs to.
type TagType string

const (
	TagTypeGenre TagType = "genre"
	TagTypeMood  TagType = "mood"
)

// ParseTagType validates a raw tag type string.
func ParseTagType(s string) (TagType, error) {
	switch TagType(s) {
	case TagTypeGenre, TagTypeMood:
		return TagType(s), nil
	default:
		return "", fmt.Errorf("invalid tag type %q (want genre or mood)", s)
	}
}

// Synonym provenance values.
const (
	SourceOllama = "ollama"
	SourceAPI    = "api"
)

// SynonymData is the semantic-expansion payload attached to one tag.
// All fields are optional; list order is preserved as stored.
type SynonymData struct {
	SearchTerms   []string            `json:"search_terms,omitempty"`
	RelatedTags   []string            `json:"related_tags,omitempty"`
	UsageContexts []string            `json:"usage_contexts,omitempty"`
	Translations  map[string][]string `json:"translations,omitempty"`
}

// SynonymEntry represents the expansion record for one (tagType, tagValue)
// pair. At most one active entry exists per pair; deactivated rows are kept
// for history and excluded from all reads.
type SynonymEntry struct {
	ID         string      `json:"id"          db:"id"`
	TagType    TagType     `json:"tag_type"    db:"tag_type"`
	TagValue   string      `json:"tag_value"   db:"tag_value"`
	Data       SynonymData `json:"synonym_data" db:"synonym_data"`
	Embedding  []float32   `json:"-"           db:"embedding"`
	Source     string      `json:"source"      db:"source"`
	Confidence float64     `json:"confidence"  db:"confidence"`
	IsActive   bool        `json:"is_active"   db:"is_active"`
	CreatedAt  time.Time   `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"  db:"updated_at"`
}

// ScoredEntry is an entry returned by one retrieval branch together with
// that branch's native relevance score (text rank or cosine similarity).
type ScoredEntry struct {
	SynonymEntry
	Score float64 `json:"score"`
}

// SearchResultItem is one row of a hybrid-search response.
type SearchResultItem struct {
	TagType     TagType     `json:"tag_type"`
	TagValue    string      `json:"tag_value"`
	Data        SynonymData `json:"synonym_data"`
	FTSScore    float64     `json:"fts_score"`
	VectorScore float64     `json:"vector_score"`
	HybridScore float64     `json:"hybrid_score"`
}

// SearchDiagnostics reports what actually happened during a search, so
// callers can tell "no matches" apart from "subsystem down". The search
// itself never fails; these are informational.
type SearchDiagnostics struct {
	CacheHit          bool   `json:"cache_hit"`
	EmbeddingFallback bool   `json:"embedding_fallback"`
	FTSError          string `json:"fts_error,omitempty"`
	VectorError       string `json:"vector_error,omitempty"`
}

// Degraded reports whether any retrieval subsystem failed or fell back.
func (d SearchDiagnostics) Degraded() bool {
	return d.EmbeddingFallback || d.FTSError != "" || d.VectorError != ""
}
