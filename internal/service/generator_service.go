package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tunelens/tunelens/internal/domain"
	"github.com/tunelens/tunelens/internal/port"
)

// GeneratorService produces synonym payloads for tags via the chat model and
// persists them with source="ollama". Generation is a write path: a model
// reply that does not parse is an error, not a degradation.
type GeneratorService struct {
	ai       port.AIProvider
	synonyms *SynonymService
}

// NewGeneratorService creates a new generator service.
func NewGeneratorService(ai port.AIProvider, synonyms *SynonymService) *GeneratorService {
	return &GeneratorService{ai: ai, synonyms: synonyms}
}

const generatorSystemPrompt = `You are a music-information-retrieval assistant. Given a music tag, you produce semantic expansions that help match free-text listener queries to that tag.

Respond with a single JSON object and nothing else. Schema:
{
  "search_terms": ["..."],            // up to 15 keyword phrases listeners might type
  "related_tags": ["..."],            // up to 10 adjacent tags in the same taxonomy
  "usage_contexts": ["..."],          // up to 8 situations where this tag fits
  "translations": {"es": ["..."], "de": ["..."]},  // per language-code lists
  "confidence": 0.0                   // your confidence in this expansion, 0.0-1.0
}
No Markdown, no code fences, no commentary.`

// Generate asks the model for an expansion of (tagType, tagValue), parses it,
// and stores it through the synonym service.
func (g *GeneratorService) Generate(ctx context.Context, tagType domain.TagType, tagValue string) (*domain.SynonymEntry, error) {
	slog.Info("generating synonyms", "tag_type", tagType, "tag_value", tagValue, "model", g.ai.ModelName())

	userPrompt := fmt.Sprintf("Generate the expansion for the %s tag %q.", tagType, tagValue)
	response, err := g.ai.Chat(ctx, generatorSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("generate synonyms for %s/%s: %w", tagType, tagValue, err)
	}

	data, confidence, err := parseGeneration(response)
	if err != nil {
		return nil, fmt.Errorf("generate synonyms for %s/%s: %w", tagType, tagValue, err)
	}

	return g.synonyms.CreateOrUpdate(ctx, tagType, tagValue, data, nil, confidence, domain.SourceOllama)
}

// parseGeneration decodes the model reply. Models wrap JSON in code fences
// often enough that stripping them first is worth it.
func parseGeneration(response string) (domain.SynonymData, float64, error) {
	text := strings.TrimSpace(response)
	if after, ok := strings.CutPrefix(text, "```json"); ok {
		text = after
	} else if after, ok := strings.CutPrefix(text, "```"); ok {
		text = after
	}
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))

	var payload struct {
		SearchTerms   []string            `json:"search_terms"`
		RelatedTags   []string            `json:"related_tags"`
		UsageContexts []string            `json:"usage_contexts"`
		Translations  map[string][]string `json:"translations"`
		Confidence    *float64            `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return domain.SynonymData{}, 0, fmt.Errorf("%w: %v", port.ErrBadGeneration, err)
	}
	if len(payload.SearchTerms) == 0 && len(payload.RelatedTags) == 0 {
		return domain.SynonymData{}, 0, fmt.Errorf("%w: no terms in reply", port.ErrBadGeneration)
	}

	confidence := 1.0
	if payload.Confidence != nil {
		confidence = clamp01(*payload.Confidence)
	}

	return domain.SynonymData{
		SearchTerms:   payload.SearchTerms,
		RelatedTags:   payload.RelatedTags,
		UsageContexts: payload.UsageContexts,
		Translations:  payload.Translations,
	}, confidence, nil
}
