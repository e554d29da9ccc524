package handler

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/tunelens/tunelens/internal/domain"
)

// AuditReader lists persisted audit records.
type AuditReader interface {
	ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error)
}

// AuditHandler exposes audit logs to operators.
type AuditHandler struct {
	reader AuditReader
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(reader AuditReader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

// Register sets up audit routes.
func (h *AuditHandler) Register(router fiber.Router) {
	router.Get("/audit", h.List)
}

// List returns recent audit logs, optionally filtered by action.
func (h *AuditHandler) List(c fiber.Ctx) error {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
		}
		limit = n
	}

	logs, err := h.reader.ListAuditLogs(c.Context(), limit, c.Query("action"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}
	return c.JSON(fiber.Map{"logs": logs, "count": len(logs)})
}
