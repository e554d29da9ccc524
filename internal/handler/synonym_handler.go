package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/tunelens/tunelens/internal/domain"
	"github.com/tunelens/tunelens/internal/service"
)

// SynonymHandler exposes the synonym service over REST. The handlers are
// thin pass-throughs: binding, status mapping, nothing else.
type SynonymHandler struct {
	synonyms  *service.SynonymService
	generator *service.GeneratorService
}

// NewSynonymHandler creates a new synonym handler.
func NewSynonymHandler(synonyms *service.SynonymService, generator *service.GeneratorService) *SynonymHandler {
	return &SynonymHandler{synonyms: synonyms, generator: generator}
}

// Register sets up read routes on public and write routes on admin.
func (h *SynonymHandler) Register(public fiber.Router, admin fiber.Router) {
	public.Post("/synonyms/search", h.Search)
	public.Get("/synonyms/:tagType/:tagValue", h.Get)

	admin.Post("/synonyms", h.Upsert)
	admin.Post("/synonyms/:tagType/:tagValue/generate", h.Generate)
	admin.Delete("/synonyms/:tagType/:tagValue", h.Deactivate)
}

// Search runs a hybrid search over the synonym catalog.
func (h *SynonymHandler) Search(c fiber.Ctx) error {
	var body struct {
		Query   string `json:"query"`
		TagType string `json:"tag_type"`
		Limit   int    `json:"limit"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	var tagType domain.TagType
	if body.TagType != "" {
		var err error
		tagType, err = domain.ParseTagType(body.TagType)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	items, diag := h.synonyms.Search(c.Context(), body.Query, tagType, body.Limit)
	if items == nil {
		items = []domain.SearchResultItem{}
	}

	return c.JSON(fiber.Map{
		"results":  items,
		"count":    len(items),
		"degraded": diag.Degraded(),
	})
}

// Get returns the active entry for one tag.
func (h *SynonymHandler) Get(c fiber.Ctx) error {
	tagType, tagValue, err := pathKey(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	entry := h.synonyms.Get(c.Context(), tagType, tagValue)
	if entry == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "synonyms not found"})
	}
	return c.JSON(entry)
}

// Upsert creates or updates the entry for one tag.
func (h *SynonymHandler) Upsert(c fiber.Ctx) error {
	var body struct {
		TagType    string             `json:"tag_type"`
		TagValue   string             `json:"tag_value"`
		Data       domain.SynonymData `json:"synonym_data"`
		Embedding  []float32          `json:"embedding"`
		Confidence *float64           `json:"confidence"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	tagType, err := domain.ParseTagType(body.TagType)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if body.TagValue == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tag_value is required"})
	}

	confidence := 1.0
	if body.Confidence != nil {
		confidence = *body.Confidence
	}

	entry, err := h.synonyms.CreateOrUpdate(c.Context(), tagType, body.TagValue, body.Data, body.Embedding, confidence, domain.SourceAPI)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(entry)
}

// Generate produces a model-generated expansion for one tag and stores it.
func (h *SynonymHandler) Generate(c fiber.Ctx) error {
	tagType, tagValue, err := pathKey(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	entry, err := h.generator.Generate(c.Context(), tagType, tagValue)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(entry)
}

// Deactivate soft-deletes the entry for one tag.
func (h *SynonymHandler) Deactivate(c fiber.Ctx) error {
	tagType, tagValue, err := pathKey(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	affected, err := h.synonyms.Deactivate(c.Context(), tagType, tagValue)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"deactivated": affected})
}

func pathKey(c fiber.Ctx) (domain.TagType, string, error) {
	tagType, err := domain.ParseTagType(c.Params("tagType"))
	if err != nil {
		return "", "", err
	}
	return tagType, c.Params("tagValue"), nil
}
