// Package knowledge stores articles derived from resolved tickets.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// ErrNotPublishable is returned for tickets that are not resolved or were never analysed.
var ErrNotPublishable = errors.New("ticket cannot be published to the knowledge base")

// Article is one knowledge base entry.
type Article struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	Tags       []string  `json:"tags"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Item is a search hit.
type Item struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Repo persists and searches articles. Upsert is keyed on Article.ID.
type Repo interface {
	Upsert(ctx context.Context, a *Article) error
	Get(ctx context.Context, id string) (*Article, bool)
	Search(ctx context.Context, q string, limit int) ([]*Item, int, error)
	Ping(ctx context.Context) error
}

// ArticleID derives the stable article id of a ticket.
func ArticleID(ticketID string) string {
	return "ticket-" + ticketID
}

// ArticleFromTicket renders a resolved, analysed ticket as an article.
func ArticleFromTicket(t *domain.Ticket, now time.Time) (*Article, error) {
	if t == nil || !t.Status.IsResolved() || t.AgentResponse == nil {
		return nil, ErrNotPublishable
	}
	res := t.AgentResponse

	var b strings.Builder
	b.WriteString(t.Description)
	b.WriteString("\n\nSolution:\n")
	for i, step := range res.Solution.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	if res.Reasoning != "" {
		b.WriteString("\nWhy it works: ")
		b.WriteString(res.Reasoning)
		b.WriteString("\n")
	}
	if t.ResolutionSummary != nil && *t.ResolutionSummary != "" {
		b.WriteString("\nResolution: ")
		b.WriteString(*t.ResolutionSummary)
		b.WriteString("\n")
	}

	title := t.IssueType
	if title == "" {
		title = "Resolved " + string(t.Category) + " issue"
	}
	tags := append([]string{}, t.Tags...)
	return &Article{
		ID:         ArticleID(t.ID),
		TicketID:   t.ID,
		Title:      title,
		Content:    strings.TrimSpace(b.String()),
		Category:   string(t.Category),
		Tags:       tags,
		Confidence: res.Confidence,
		UpdatedAt:  now,
	}, nil
}

type memoryRepo struct {
	mu   sync.RWMutex
	docs map[string]*Article
}

// NewMemoryRepo is used when no search cluster is configured, and in tests.
// Matching is a case-insensitive term count over title and content.
func NewMemoryRepo() Repo {
	return &memoryRepo{docs: map[string]*Article{}}
}

func (m *memoryRepo) Upsert(_ context.Context, a *Article) error {
	if a == nil || a.ID == "" {
		return errors.New("invalid article")
	}
	cp := *a
	m.mu.Lock()
	m.docs[a.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id string) (*Article, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.docs[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

func (m *memoryRepo) Search(_ context.Context, q string, limit int) ([]*Item, int, error) {
	terms := strings.Fields(strings.ToLower(q))
	if len(terms) == 0 {
		return []*Item{}, 0, nil
	}
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	var items []*Item
	for _, a := range m.docs {
		title := strings.ToLower(a.Title)
		content := strings.ToLower(a.Content)
		var score float64
		for _, term := range terms {
			score += 2 * float64(strings.Count(title, term))
			score += float64(strings.Count(content, term))
		}
		if score > 0 {
			items = append(items, &Item{ID: a.ID, Title: a.Title, Snippet: snippet(a.Content), Score: score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score == items[j].Score {
			return items[i].ID < items[j].ID
		}
		return items[i].Score > items[j].Score
	})
	total := len(items)
	if len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []*Item{}
	}
	return items, total, nil
}

func (m *memoryRepo) Ping(context.Context) error { return nil }

func snippet(s string) string {
	r := []rune(s)
	if len(r) > 120 {
		return string(r[:120]) + "..."
	}
	return s
}
