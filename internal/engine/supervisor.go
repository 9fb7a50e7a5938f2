// Package engine runs the per-event suggestion pipeline. Every submitted
// activity event gets its own isolated unit of work: its own goroutine, its
// own storage calls, its own failure domain. Nothing a unit does can reach
// the request that submitted it or any sibling unit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArnavS-22/gumborebuild/internal/coherence"
	"github.com/ArnavS-22/gumborebuild/internal/domain"
	"github.com/ArnavS-22/gumborebuild/internal/evidence"
	"github.com/ArnavS-22/gumborebuild/internal/generation"
	"github.com/ArnavS-22/gumborebuild/internal/observability"
	"github.com/ArnavS-22/gumborebuild/internal/ratelimit"
)

// ErrShuttingDown rejects submissions after shutdown has begun.
var ErrShuttingDown = errors.New("supervisor is shutting down")

// Config tunes the pipeline.
type Config struct {
	Lanes             []domain.Lane
	GenerationTimeout time.Duration
	DedupWindow       time.Duration
	StorageRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Lanes) == 0 {
		c.Lanes = domain.DefaultLanes
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 45 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 24 * time.Hour
	}
	if c.StorageRetryDelay <= 0 {
		c.StorageRetryDelay = 500 * time.Millisecond
	}
	return c
}

// Stats is a snapshot of pipeline activity for health reporting.
type Stats struct {
	Live           int        `json:"live_tasks"`
	Completed      int64      `json:"tasks_completed"`
	Failed         int64      `json:"tasks_failed"`
	Cancelled      int64      `json:"tasks_cancelled"`
	Accepted       int64      `json:"suggestions_accepted"`
	Rejected       int64      `json:"suggestions_rejected"`
	RateLimited    int64      `json:"rate_limit_skips"`
	LastAcceptedAt *time.Time `json:"last_accepted_at,omitempty"`
}

// Supervisor spawns and tracks pipeline units.
type Supervisor struct {
	events    domain.EventRepository
	store     domain.SuggestionRepository
	limiter   *ratelimit.Limiter
	validator *coherence.Validator
	generator generation.Generator
	cfg       Config
	logger    *log.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	live   map[string]*TaskHandle
	closed bool
	stats  Stats
}

// New constructs a Supervisor. The supplied logger may be nil.
func New(
	events domain.EventRepository,
	store domain.SuggestionRepository,
	limiter *ratelimit.Limiter,
	validator *coherence.Validator,
	generator generation.Generator,
	cfg Config,
	logger *log.Logger,
) *Supervisor {
	if logger == nil {
		logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		events:    events,
		store:     store,
		limiter:   limiter,
		validator: validator,
		generator: generator,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
		live:      make(map[string]*TaskHandle),
	}
}

// Submit spawns an isolated unit for the event and returns immediately. The
// unit derives its context from the supervisor, never from the caller, so
// the submitting request's lifetime cannot cancel or observe it.
func (s *Supervisor) Submit(eventID string) (*TaskHandle, error) {
	if eventID == "" {
		return nil, errors.New("event id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	handle := newTaskHandle(uuid.NewString(), eventID)
	s.live[handle.ID] = handle
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(handle)
	return handle, nil
}

// LiveCount returns the number of units not yet terminal.
func (s *Supervisor) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Snapshot returns current pipeline stats.
func (s *Supervisor) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Live = len(s.live)
	return st
}

// Shutdown cancels all live units and waits for them to drain, bounded by
// ctx. Units still running when ctx expires are abandoned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown drain: %w", ctx.Err())
	}
}

func (s *Supervisor) run(handle *TaskHandle) {
	started := time.Now()
	var terminalErr error
	terminal := TaskCompleted

	defer func() {
		if r := recover(); r != nil {
			terminal = TaskFailed
			terminalErr = fmt.Errorf("panic: %v", r)
		}
		s.finish(handle, terminal, terminalErr, started)
	}()

	handle.setRunning()
	ctx := s.baseCtx

	event, err := s.events.GetEvent(ctx, handle.EventID)
	if err != nil {
		terminal, terminalErr = s.classify(ctx, fmt.Errorf("load event: %w", err))
		return
	}

	facts := evidence.Extract(event.Content)

	var firstErr error
	for _, lane := range s.cfg.Lanes {
		if err := ctx.Err(); err != nil {
			terminal, terminalErr = TaskCancelled, err
			return
		}

		if !s.limiter.TryAcquire(lane) {
			s.logger.Printf("rate-limit skip event=%s lane=%s", event.ID, lane)
			observability.RecordRateLimitSkip(string(lane))
			s.bump(func(st *Stats) { st.RateLimited++ })
			continue
		}

		if err := s.runLane(ctx, event, facts, lane); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		terminal, terminalErr = s.classify(ctx, firstErr)
	}
}

// runLane executes generate -> validate -> persist for one lane.
func (s *Supervisor) runLane(ctx context.Context, event *domain.ActivityEvent, facts evidence.Facts, lane domain.Lane) error {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	candidates, err := s.generator.Generate(genCtx, generation.PromptContext{
		Event: *event,
		Facts: facts,
		Lane:  lane,
	})
	cancel()
	if err != nil {
		if errors.Is(err, generation.ErrNoCandidates) {
			// A silent lane, not a failure.
			return nil
		}
		return fmt.Errorf("generate lane=%s: %w", lane, err)
	}

	for _, candidate := range candidates {
		candidate.Lane = lane
		verdict := s.validator.Validate(candidate, event.Content)

		suggestion := domain.Suggestion{
			ID:             uuid.NewString(),
			EventID:        event.ID,
			Lane:           lane,
			Title:          candidate.Title,
			Body:           candidate.Body,
			EvidenceRefs:   verdict.EvidenceRefs,
			CoherenceScore: verdict.Score,
			DedupKey:       candidate.DedupKey(),
			CreatedAt:      time.Now().UTC(),
		}

		if !verdict.Accepted {
			observability.RecordValidation(string(verdict.Reason))
			s.bump(func(st *Stats) { st.Rejected++ })
			suggestion.State = domain.SuggestionStateRejected
			suggestion.RejectionReason = verdict.Reason
			s.logger.Printf("candidate rejected event=%s lane=%s reason=%s score=%.2f", event.ID, lane, verdict.Reason, verdict.Score)
			// Best effort: a lost rejection record only costs tuning data.
			if err := s.store.SaveRejected(ctx, suggestion); err != nil {
				s.logger.Printf("persist rejection failed event=%s: %v", event.ID, err)
			}
			continue
		}

		observability.RecordValidation("accepted")
		suggestion.State = domain.SuggestionStateAccepted

		result, err := s.saveWithRetry(ctx, suggestion)
		if err != nil {
			return fmt.Errorf("persist suggestion lane=%s: %w", lane, err)
		}
		if result == domain.StoreResultDuplicate {
			s.logger.Printf("duplicate suggestion event=%s lane=%s key=%s", event.ID, lane, suggestion.DedupKey[:12])
			continue
		}

		now := suggestion.CreatedAt
		s.bump(func(st *Stats) {
			st.Accepted++
			st.LastAcceptedAt = &now
		})
	}
	return nil
}

// saveWithRetry retries a failed accepted-save once after a short backoff,
// then abandons the write.
func (s *Supervisor) saveWithRetry(ctx context.Context, suggestion domain.Suggestion) (domain.StoreResult, error) {
	result, err := s.store.SaveAccepted(ctx, suggestion, s.cfg.DedupWindow)
	if err == nil || ctx.Err() != nil {
		return result, err
	}

	s.logger.Printf("store write failed, retrying once: %v", err)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.cfg.StorageRetryDelay):
	}
	return s.store.SaveAccepted(ctx, suggestion, s.cfg.DedupWindow)
}

func (s *Supervisor) classify(ctx context.Context, err error) (TaskState, error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return TaskCancelled, err
	}
	return TaskFailed, err
}

func (s *Supervisor) finish(handle *TaskHandle, state TaskState, err error, started time.Time) {
	elapsed := time.Since(started)
	handle.finish(state, err)

	s.mu.Lock()
	delete(s.live, handle.ID)
	switch state {
	case TaskCompleted:
		s.stats.Completed++
	case TaskFailed:
		s.stats.Failed++
	case TaskCancelled:
		s.stats.Cancelled++
	}
	s.mu.Unlock()
	s.wg.Done()

	observability.RecordTaskFinished(string(state), elapsed)
	if err != nil {
		s.logger.Printf("task %s event=%s state=%s elapsed=%s: %v", handle.ID, handle.EventID, state, elapsed.Round(time.Millisecond), err)
		return
	}
	s.logger.Printf("task %s event=%s state=%s elapsed=%s", handle.ID, handle.EventID, state, elapsed.Round(time.Millisecond))
}

func (s *Supervisor) bump(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}
