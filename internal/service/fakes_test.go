package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/analysis"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/knowledge"
	"github.com/spec-kit/helpdesk-service/internal/notify"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeTicketRepo struct {
	mu        sync.Mutex
	tickets   map[string]domain.Ticket
	conflicts int
	updates   int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: map[string]domain.Ticket{}}
}

func (r *fakeTicketRepo) put(t domain.Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Version == 0 {
		t.Version = 1
	}
	r.tickets[t.ID] = t
}

func (r *fakeTicketRepo) get(id string) domain.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickets[id]
}

func (r *fakeTicketRepo) Create(_ context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Version = 1
	t.CreatedAt = testNow
	t.UpdatedAt = testNow
	r.tickets[t.ID] = *t
	return nil
}

func (r *fakeTicketRepo) Update(_ context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[t.ID]
	if r.conflicts > 0 {
		r.conflicts--
		// simulate a concurrent writer bumping the version
		stored.Version++
		r.tickets[t.ID] = stored
		return repository.ErrVersionConflict
	}
	if !ok || stored.Version != t.Version {
		return repository.ErrVersionConflict
	}
	t.Version++
	t.AgentResponse = stored.AgentResponse
	t.AgentProcessed = stored.AgentProcessed
	r.tickets[t.ID] = *t
	r.updates++
	return nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (r *fakeTicketRepo) SaveAnalysis(_ context.Context, id string, result *domain.AnalysisResult) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok || t.AgentProcessed {
		return false, nil
	}
	t.AgentResponse = result
	t.AgentProcessed = true
	t.Version++
	r.tickets[id] = t
	return true, nil
}

func (r *fakeTicketRepo) ResetAnalysis(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.AgentResponse = nil
	t.AgentProcessed = false
	t.DecisionJobID = nil
	t.Version++
	r.tickets[id] = t
	return nil
}

func (r *fakeTicketRepo) ListWithFilter(_ context.Context, f repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, t := range r.tickets {
		if f.Processed != nil && t.AgentProcessed != *f.Processed {
			continue
		}
		if f.UpdatedBefore != nil && !t.UpdatedAt.Before(*f.UpdatedBefore) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeTicketRepo) Stats(_ context.Context, since time.Time) (repository.TicketStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := repository.TicketStats{ByStatus: map[domain.TicketStatus]int{}}
	for _, t := range r.tickets {
		if t.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByStatus[t.Status]++
		if t.AgentProcessed {
			stats.Processed++
		} else {
			stats.Pending++
		}
	}
	return stats, nil
}

func containsStatus(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeUserRepo struct {
	users map[string]*domain.User
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

type fakeInteractionRepo struct {
	mu    sync.Mutex
	items []domain.TicketInteraction
	keys  map[string]bool
}

func (r *fakeInteractionRepo) Create(_ context.Context, in *domain.TicketInteraction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys == nil {
		r.keys = map[string]bool{}
	}
	if in.DedupKey != nil {
		if r.keys[*in.DedupKey] {
			return false, nil
		}
		r.keys[*in.DedupKey] = true
	}
	r.items = append(r.items, *in)
	return true, nil
}

func (r *fakeInteractionRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketInteraction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketInteraction
	for _, it := range r.items {
		if it.TicketID == ticketID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *fakeInteractionRepo) kinds(ticketID string) []domain.InteractionKind {
	items, _ := r.ListByTicket(context.Background(), ticketID)
	out := make([]domain.InteractionKind, 0, len(items))
	for _, it := range items {
		out = append(out, it.Kind)
	}
	return out
}

type fakeSolutionRepo struct {
	mu        sync.Mutex
	solutions map[string]domain.Solution
}

func (r *fakeSolutionRepo) Upsert(_ context.Context, sol *domain.Solution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.solutions == nil {
		r.solutions = map[string]domain.Solution{}
	}
	if existing, ok := r.solutions[sol.TicketID]; ok {
		sol.ID = existing.ID
	}
	r.solutions[sol.TicketID] = *sol
	return nil
}

func (r *fakeSolutionRepo) GetByTicket(_ context.Context, ticketID string) (*domain.Solution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sol, ok := r.solutions[ticketID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &sol, nil
}

type fakeAnalyzer struct {
	calls  atomic.Int32
	result *domain.AnalysisResult
	err    error
	before func()
	// next, when set, answers instead of result and err.
	next analysis.Analyzer
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, req analysis.Request) (*domain.AnalysisResult, error) {
	a.calls.Add(1)
	if a.before != nil {
		a.before()
	}
	if a.next != nil {
		return a.next.Analyze(ctx, req)
	}
	if a.err != nil {
		return nil, a.err
	}
	r := *a.result
	return &r, nil
}

type scheduledFollowup struct {
	TicketID string
	Params   any
	ETA      time.Time
}

type fakeScheduler struct {
	mu       sync.Mutex
	enqueued []scheduledFollowup
	reject   bool
	options  []worker.EnqueueOptions
	ids      []string
	pushed   map[string]bool
}

// EnqueueFollowup mimics the queue: one job per deciding job id.
func (f *fakeScheduler) EnqueueFollowup(_ context.Context, ticketID, decisionJobID string, params any, eta time.Time) worker.EnqueueStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return worker.EnqueueStatus{Reason: "queue unavailable: connection refused"}
	}
	id := worker.FollowupJobID(ticketID, decisionJobID)
	if f.pushed == nil {
		f.pushed = map[string]bool{}
	}
	if f.pushed[id] {
		return worker.EnqueueStatus{Accepted: true, JobID: id, Duplicate: true}
	}
	f.pushed[id] = true
	f.enqueued = append(f.enqueued, scheduledFollowup{TicketID: ticketID, Params: params, ETA: eta})
	return worker.EnqueueStatus{Accepted: true, JobID: id}
}

func (f *fakeScheduler) Enqueue(_ context.Context, ticketID string, opts worker.EnqueueOptions) worker.EnqueueStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return worker.EnqueueStatus{Reason: "queue unavailable: connection refused"}
	}
	f.ids = append(f.ids, ticketID)
	f.options = append(f.options, opts)
	return worker.EnqueueStatus{Accepted: true, JobID: "job-" + ticketID}
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []notify.Notification
	keys   map[string]bool
	err    error
	failed int
}

// Notify mimics the Redis dedup wrapper.
func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		r.failed++
		return r.err
	}
	if r.keys == nil {
		r.keys = map[string]bool{}
	}
	if n.DedupKey != "" {
		if r.keys[n.DedupKey] {
			return nil
		}
		r.keys[n.DedupKey] = true
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recordingNotifier) find(kind notify.Kind) (notify.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.sent {
		if n.Kind == kind {
			return n, true
		}
	}
	return notify.Notification{}, false
}

type env struct {
	tickets      *fakeTicketRepo
	users        *fakeUserRepo
	interactions *fakeInteractionRepo
	solutions    *fakeSolutionRepo
	analyzer     *fakeAnalyzer
	scheduler    *fakeScheduler
	notifier     *recordingNotifier
	articles     knowledge.Repo
	dispatcher   events.Dispatcher
	analysis     *AnalysisService
	executor     *ActionExecutor
	processing   *ProcessingService
	ticketSvc    *TicketService
	ops          *OpsService
}

func newEnv() *env {
	logger := zap.NewNop()
	clock := func() time.Time { return testNow }
	slackID := "U42"
	e := &env{
		tickets: newFakeTicketRepo(),
		users: &fakeUserRepo{users: map[string]*domain.User{
			"user-1": {ID: "user-1", Username: "ada", FirstName: "Ada", LastName: "Lovelace", Department: "Finance", SlackUserID: &slackID, IsActive: true},
			"user-2": {ID: "user-2", Username: "bob", IsActive: true},
		}},
		interactions: &fakeInteractionRepo{},
		solutions:    &fakeSolutionRepo{},
		analyzer:     &fakeAnalyzer{},
		scheduler:    &fakeScheduler{},
		notifier:     &recordingNotifier{},
		articles:     knowledge.NewMemoryRepo(),
		dispatcher:   events.NewBus(),
	}
	notifications := NewNotificationService(e.dispatcher, e.notifier, e.users, logger,
		config.NotificationConfig{EscalationChannel: "#it-support-escalations"})
	notifications.RegisterHandlers()

	kb := NewKnowledgeService(e.tickets, e.articles, e.dispatcher, logger)
	kb.now = clock
	e.analysis = NewAnalysisService(e.tickets, e.users, e.analyzer, logger, nil)
	executor, err := NewActionExecutor(ExecutorDependencies{
		TicketRepo:      e.tickets,
		InteractionRepo: e.interactions,
		SolutionRepo:    e.solutions,
		Knowledge:       kb,
		Followups:       e.scheduler,
		Dispatcher:      e.dispatcher,
		Logger:          logger,
		Now:             clock,
	})
	if err != nil {
		panic(err)
	}
	e.executor = executor
	e.processing = NewProcessingService(e.tickets, e.analysis, executor, logger, nil).WithClock(clock)
	e.ticketSvc = NewTicketService(TicketDependencies{
		TicketRepo:      e.tickets,
		UserRepo:        e.users,
		InteractionRepo: e.interactions,
		SolutionRepo:    e.solutions,
		Pipeline:        e.scheduler,
		Executor:        executor,
		Dispatcher:      e.dispatcher,
		Logger:          logger,
	})
	e.ticketSvc.now = clock
	e.ops = NewOpsService(e.tickets, nil, e.scheduler, executor, notifications, logger).WithClock(clock)
	return e
}

func (e *env) seedTicket(id string, mutate ...func(*domain.Ticket)) domain.Ticket {
	t := domain.Ticket{
		ID:          id,
		ExternalKey: "HD-" + id,
		UserID:      "user-1",
		IssueType:   "VPN disconnects",
		Description: "VPN drops every 10 minutes",
		Category:    domain.CategoryVPN,
		Status:      domain.TicketStatusNew,
		Priority:    domain.TicketPriorityMedium,
		Tags:        []string{},
		CreatedAt:   testNow.Add(-time.Hour),
		UpdatedAt:   testNow.Add(-time.Hour),
	}
	for _, m := range mutate {
		m(&t)
	}
	e.tickets.put(t)
	return t
}

func job(id, ticketID string, kind worker.Kind) *worker.Job {
	return &worker.Job{ID: id, Kind: kind, TicketID: ticketID, Attempt: 1, MaxAttempts: 3, State: worker.StateRunning}
}

var errAnalysisDown = errors.New("connection refused")
