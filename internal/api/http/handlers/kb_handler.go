package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/knowledge"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// KnowledgeService searches and reads knowledge base articles.
type KnowledgeService interface {
	Search(ctx context.Context, query string, limit int) ([]*knowledge.Item, int, error)
	Article(ctx context.Context, id string) (*knowledge.Article, bool)
}

// KBHandler exposes the knowledge base to agents and staff.
type KBHandler struct {
	service KnowledgeService
}

// NewKBHandler constructs handler.
func NewKBHandler(svc KnowledgeService) *KBHandler {
	return &KBHandler{service: svc}
}

// Search GET /kb/search?q=&limit=.
func (h *KBHandler) Search(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	items, total, err := h.service.Search(c.UserContext(), query, c.QueryInt("limit", 0))
	if err != nil {
		return apperrors.NewServiceUnavailable("knowledge base unavailable", nil)
	}
	if items == nil {
		items = []*knowledge.Item{}
	}
	return c.JSON(fiber.Map{"data": dto.KBSearchResponse{Query: query, Total: total, Items: items}})
}

// Article GET /kb/articles/:id.
func (h *KBHandler) Article(c *fiber.Ctx) error {
	article, ok := h.service.Article(c.UserContext(), c.Params("id"))
	if !ok {
		return apperrors.NewNotFound("article", map[string]any{"id": c.Params("id")})
	}
	return c.JSON(fiber.Map{"data": article})
}
