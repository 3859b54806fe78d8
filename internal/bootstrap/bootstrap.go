// Package bootstrap wires the stores, pipeline and services shared by the
// API server, the worker and the operations CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/analysis"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/knowledge"
	"github.com/spec-kit/helpdesk-service/internal/knowledge/esrepo"
	"github.com/spec-kit/helpdesk-service/internal/notify"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

// Container holds the wired application.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Postgres *persistence.Postgres
	Redis    *persistence.Redis
	Queue    *worker.RedisQueue
	Pipeline *worker.Pipeline
	Articles knowledge.Repo

	Users         repository.UserRepository
	Tickets       *service.TicketService
	Analysis      *service.AnalysisService
	Executor      *service.ActionExecutor
	Knowledge     *service.KnowledgeService
	Notifications *service.NotificationService
	Processing    *service.ProcessingService
	Ops           *service.OpsService

	shutdownTracing func(context.Context) error
}

// New connects to Postgres and Redis and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	c := &Container{Config: cfg, Logger: logger}
	if cfg.Metrics.Enabled {
		c.Metrics = observability.NewMetrics("helpdesk")
	}
	shutdownTracing, err := observability.InitTracing(ctx, cfg.App.Name, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	c.shutdownTracing = shutdownTracing

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c.Postgres = pg
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool(), logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	c.Redis = persistence.NewRedis(cfg.Redis, logger)

	articles, err := newArticleRepo(cfg.Knowledge, logger)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.Articles = articles

	analyzer, err := newAnalyzer(cfg.Analysis)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	if err := c.wire(analyzer, newNotifier(cfg.Notification, c.Redis, logger)); err != nil {
		c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Container) wire(analyzer analysis.Analyzer, notifier notify.Notifier) error {
	cfg, logger, pool := c.Config, c.Logger, c.Postgres.Pool()

	c.Queue = worker.NewRedisQueue(c.Redis.Client, cfg.Pipeline.KeyPrefix, cfg.Pipeline.CompletedTTL())
	c.Pipeline = worker.NewPipeline(c.Queue, cfg.Pipeline.MaxAttempts, logger, c.Metrics)

	tickets := repository.NewTicketRepository(pool)
	c.Users = repository.NewUserRepository(pool)
	interactions := repository.NewTicketInteractionRepository(pool)
	solutions := repository.NewSolutionRepository(pool)
	dispatcher := events.NewBus()

	c.Notifications = service.NewNotificationService(dispatcher, notifier, c.Users, logger, cfg.Notification)
	c.Notifications.RegisterHandlers()

	c.Knowledge = service.NewKnowledgeService(tickets, c.Articles, dispatcher, logger)
	executor, err := service.NewActionExecutor(service.ExecutorDependencies{
		TicketRepo:      tickets,
		InteractionRepo: interactions,
		SolutionRepo:    solutions,
		Knowledge:       c.Knowledge,
		Followups:       c.Pipeline,
		Dispatcher:      dispatcher,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	c.Executor = executor
	c.Analysis = service.NewAnalysisService(tickets, c.Users, analyzer, logger, c.Metrics)
	c.Processing = service.NewProcessingService(tickets, c.Analysis, executor, logger, c.Metrics)
	c.Tickets = service.NewTicketService(service.TicketDependencies{
		TicketRepo:      tickets,
		UserRepo:        c.Users,
		InteractionRepo: interactions,
		SolutionRepo:    solutions,
		Pipeline:        c.Pipeline,
		Executor:        executor,
		Dispatcher:      dispatcher,
		Logger:          logger,
	})
	c.Ops = service.NewOpsService(tickets, c.Queue, c.Pipeline, executor, c.Notifications, logger)
	return nil
}

// WorkerPool builds a pool consuming the ticket queue with the processing
// handlers registered.
func (c *Container) WorkerPool() *worker.Pool {
	p := c.Config.Pipeline
	pool := worker.NewPool(c.Queue, worker.PoolOptions{
		Workers:        p.Workers,
		PollInterval:   p.PollInterval(),
		Lease:          p.Lease(),
		Retry:          worker.RetryPolicy{MaxAttempts: p.MaxAttempts, Base: p.BackoffBase()},
		SchedulerBatch: p.SchedulerBatchLimit,
	}, c.Logger, c.Metrics)
	c.Processing.Register(pool)
	return pool
}

// Close releases connections and flushes spans.
func (c *Container) Close(ctx context.Context) {
	if c.shutdownTracing != nil {
		if err := c.shutdownTracing(ctx); err != nil {
			c.Logger.Warn("tracing shutdown", zap.Error(err))
		}
	}
	c.Redis.Close()
	c.Postgres.Close()
}

func newArticleRepo(cfg config.KnowledgeConfig, logger *zap.Logger) (knowledge.Repo, error) {
	if len(cfg.Addresses) == 0 {
		logger.Warn("ELASTICSEARCH_ADDRESSES not set; knowledge base kept in memory")
		return knowledge.NewMemoryRepo(), nil
	}
	repo, err := esrepo.New(esrepo.Config{
		Addresses: cfg.Addresses,
		Index:     cfg.Index,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return repo, nil
}

func newAnalyzer(cfg config.AnalysisConfig) (analysis.Analyzer, error) {
	switch cfg.Provider {
	case "", "http":
		return analysis.NewHTTPClient(cfg.URL, cfg.Timeout()), nil
	case "anthropic":
		return analysis.NewAnthropicAnalyzer(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown ANALYSIS_PROVIDER %q", cfg.Provider)
	}
}

func newNotifier(cfg config.NotificationConfig, rdb *persistence.Redis, logger *zap.Logger) notify.Notifier {
	var base notify.Notifier
	if cfg.SlackBotToken != "" {
		base = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAPIURL, logger)
	} else {
		logger.Warn("SLACK_BOT_TOKEN not set; notifications are only logged")
		base = notify.NewLogNotifier(logger)
	}
	return notify.NewDeduplicating(base, rdb.Client, "", cfg.DedupTTL(), logger)
}
