package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/knowledge"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

const defaultSearchLimit = 10

// KnowledgeService publishes resolved tickets as knowledge base articles.
type KnowledgeService struct {
	tickets    repository.TicketRepository
	articles   knowledge.Repo
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewKnowledgeService constructs the service.
func NewKnowledgeService(tickets repository.TicketRepository, articles knowledge.Repo, dispatcher events.Dispatcher, logger *zap.Logger) *KnowledgeService {
	return &KnowledgeService{
		tickets:    tickets,
		articles:   articles,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// SyncFromTicket upserts the article of a resolved, analysed ticket. The
// article id is derived from the ticket so repeated syncs overwrite.
func (s *KnowledgeService) SyncFromTicket(ctx context.Context, ticketID, jobID string) (*knowledge.Article, error) {
	ticket, err := getTicket(ctx, s.tickets, ticketID)
	if err != nil {
		return nil, err
	}
	article, err := knowledge.ArticleFromTicket(ticket, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.articles.Upsert(ctx, article); err != nil {
		return nil, fmt.Errorf("upsert article: %w", err)
	}
	s.logger.Info("knowledge article synced",
		zap.String("ticket_id", ticketID),
		zap.String("article_id", article.ID))
	publish(ctx, s.dispatcher, s.logger, events.New(events.EventKBArticleSynced, ticketID, systemActor(),
		events.KBArticleSyncedPayload{ArticleID: article.ID, JobID: jobID}, s.now()))
	return article, nil
}

// Search runs a free-text query over articles.
func (s *KnowledgeService) Search(ctx context.Context, query string, limit int) ([]*knowledge.Item, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*knowledge.Item{}, 0, nil
	}
	if limit <= 0 || limit > 50 {
		limit = defaultSearchLimit
	}
	return s.articles.Search(ctx, query, limit)
}

// Article fetches a single article.
func (s *KnowledgeService) Article(ctx context.Context, id string) (*knowledge.Article, bool) {
	return s.articles.Get(ctx, id)
}

// Ping checks the article store.
func (s *KnowledgeService) Ping(ctx context.Context) error {
	return s.articles.Ping(ctx)
}

func systemActor() events.Actor {
	return events.Actor{Type: domain.SubjectTypeAgent}
}

// publish delivers an event; subscriber failures are logged and swallowed.
func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event subscriber failed",
			zap.String("event", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}
