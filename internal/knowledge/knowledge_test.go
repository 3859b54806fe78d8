package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

func resolvedTicket() *domain.Ticket {
	summary := "Router restarted"
	return &domain.Ticket{
		ID:          "t-1",
		IssueType:   "Wifi keeps dropping",
		Description: "Laptop loses wifi every few minutes",
		Category:    domain.CategoryWifi,
		Status:      domain.TicketStatusResolved,
		Tags:        []string{"wifi"},
		AgentResponse: &domain.AnalysisResult{
			Confidence: 0.9,
			Solution:   domain.ProposedSolution{Steps: []string{"Restart router", "Forget network"}},
			Reasoning:  "Known DHCP lease issue",
		},
		ResolutionSummary: &summary,
	}
}

func TestArticleFromTicket(t *testing.T) {
	now := time.Now()
	a, err := ArticleFromTicket(resolvedTicket(), now)
	require.NoError(t, err)

	assert.Equal(t, "ticket-t-1", a.ID)
	assert.Equal(t, "Wifi keeps dropping", a.Title)
	assert.Contains(t, a.Content, "1. Restart router")
	assert.Contains(t, a.Content, "2. Forget network")
	assert.Contains(t, a.Content, "Known DHCP lease issue")
	assert.Equal(t, "wifi", a.Category)
	assert.Equal(t, 0.9, a.Confidence)
}

func TestArticleFromTicketRequiresResolvedAndAnalysed(t *testing.T) {
	open := resolvedTicket()
	open.Status = domain.TicketStatusInProgress
	_, err := ArticleFromTicket(open, time.Now())
	assert.ErrorIs(t, err, ErrNotPublishable)

	raw := resolvedTicket()
	raw.AgentResponse = nil
	_, err = ArticleFromTicket(raw, time.Now())
	assert.ErrorIs(t, err, ErrNotPublishable)
}

func TestMemoryRepoUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()

	a, err := ArticleFromTicket(resolvedTicket(), time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, a))

	other := &Article{ID: "ticket-t-2", Title: "Printer jam", Content: "Open tray and remove paper"}
	require.NoError(t, repo.Upsert(ctx, other))

	items, total, err := repo.Search(ctx, "wifi router", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "ticket-t-1", items[0].ID)

	// upsert replaces
	a.Title = "Wifi fix"
	require.NoError(t, repo.Upsert(ctx, a))
	got, ok := repo.Get(ctx, "ticket-t-1")
	require.True(t, ok)
	assert.Equal(t, "Wifi fix", got.Title)

	items, total, err = repo.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}
