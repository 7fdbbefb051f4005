// Package service is the submission API of the task queue: it validates
// and creates task records, hands their ids to the worker pool, and
// implements cancel and retry on top of the store's atomic updates.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"localqueue/internal/domain"
	"localqueue/internal/queue"
	"localqueue/internal/store"
	"localqueue/internal/worker"
)

// Interrupter stops the handler of a running task.
type Interrupter interface {
	Interrupt(id string) bool
}

type Service struct {
	store    store.TaskStore
	handlers *worker.Registry
	queue    *queue.FIFO
	pool     Interrupter
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(gen func() string) Option { return func(s *Service) { s.newID = gen } }

func New(st store.TaskStore, handlers *worker.Registry, q *queue.FIFO, pool Interrupter, opts ...Option) *Service {
	s := &Service{
		store:    st,
		handlers: handlers,
		queue:    q,
		pool:     pool,
		log:      zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TaskTypes lists the task types that can be submitted.
func (s *Service) TaskTypes() []string { return s.handlers.Types() }

// QueueDepth is the number of ids waiting for a worker.
func (s *Service) QueueDepth() int { return s.queue.Len() }

// Submit creates a PENDING task and queues it. It returns as soon as the
// record is stored; execution happens later on the pool.
func (s *Service) Submit(ctx context.Context, taskType string, params map[string]any) (domain.TaskRecord, error) {
	return s.submit(ctx, taskType, params, nil)
}

func (s *Service) submit(ctx context.Context, taskType string, params map[string]any, retryOf *string) (domain.TaskRecord, error) {
	if _, ok := s.handlers.Lookup(taskType); !ok {
		return domain.TaskRecord{}, fmt.Errorf("%w: %q", domain.ErrUnknownTaskType, taskType)
	}
	if params == nil {
		params = map[string]any{}
	}
	rec := domain.TaskRecord{
		ID:         s.newID(),
		TaskType:   taskType,
		Status:     domain.StatusPending,
		CreatedAt:  s.now(),
		Progress:   0,
		Parameters: params,
		RetryOf:    retryOf,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return domain.TaskRecord{}, fmt.Errorf("create task: %w", err)
	}
	if err := s.queue.Push(rec.ID); err != nil {
		s.log.Error().Err(err).Str("task_id", rec.ID).Msg("queue task")
		// Nothing will ever run it; close the record so it does not sit PENDING.
		now := s.now()
		_, uerr := s.store.Update(context.WithoutCancel(ctx), rec.ID, domain.Patch{
			Status:      domain.StatusPtr(domain.StatusCancelled),
			CompletedAt: &now,
		})
		if uerr != nil {
			s.log.Warn().Err(uerr).Str("task_id", rec.ID).Msg("cancel unqueued task")
		}
		return domain.TaskRecord{}, fmt.Errorf("queue task %s: %w", rec.ID, err)
	}
	s.log.Info().Str("task_id", rec.ID).Str("task_type", taskType).Msg("task submitted")
	return rec.Clone(), nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.TaskRecord, error) {
	return s.store.Get(ctx, id)
}

// List returns matching tasks, newest created first.
func (s *Service) List(ctx context.Context, f domain.Filter) ([]domain.TaskRecord, error) {
	return s.store.List(ctx, f)
}

// Cancel moves a PENDING or RUNNING task to CANCELLED and signals its handler.
// It reports false, without error, when the task is already terminal.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	now := s.now()
	_, err := s.store.Update(ctx, id, domain.Patch{
		Status:      domain.StatusPtr(domain.StatusCancelled),
		CompletedAt: &now,
	})
	if errors.Is(err, domain.ErrInvalidState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	interrupted := s.pool.Interrupt(id)
	s.log.Info().Str("task_id", id).Bool("was_running", interrupted).Msg("task cancelled")
	return true, nil
}

// Retry resubmits a FAILED task as a new task with the same type and
// parameters. The original record is left untouched.
func (s *Service) Retry(ctx context.Context, id string) (domain.TaskRecord, error) {
	orig, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	if orig.Status != domain.StatusFailed {
		return domain.TaskRecord{}, fmt.Errorf("%w: only %s tasks can be retried, %s is %s",
			domain.ErrInvalidState, domain.StatusFailed, id, orig.Status)
	}
	origID := orig.ID
	rec, err := s.submit(ctx, orig.TaskType, orig.Parameters, &origID)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	s.log.Info().Str("task_id", rec.ID).Str("retry_of", id).Msg("task retried")
	return rec, nil
}

// Recover re-queues tasks a previous process left PENDING, oldest first, and
// fails tasks it left RUNNING so they can be retried. Call it before the pool
// starts.
func (s *Service) Recover(ctx context.Context) (requeued, failed int, err error) {
	pending := domain.StatusPending
	recs, err := s.store.List(ctx, domain.Filter{Status: &pending})
	if err != nil {
		return 0, 0, fmt.Errorf("list pending tasks: %w", err)
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if err := s.queue.Push(recs[i].ID); err != nil {
			return requeued, failed, fmt.Errorf("requeue %s: %w", recs[i].ID, err)
		}
		requeued++
	}

	running := domain.StatusRunning
	recs, err = s.store.List(ctx, domain.Filter{Status: &running})
	if err != nil {
		return requeued, failed, fmt.Errorf("list running tasks: %w", err)
	}
	msg := "interrupted: process restarted"
	for _, r := range recs {
		now := s.now()
		_, err := s.store.Update(ctx, r.ID, domain.Patch{
			Status:       domain.StatusPtr(domain.StatusFailed),
			CompletedAt:  &now,
			ErrorMessage: &msg,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("task_id", r.ID).Msg("fail interrupted task")
			continue
		}
		failed++
	}
	if requeued > 0 || failed > 0 {
		s.log.Info().Int("requeued", requeued).Int("failed", failed).Msg("recovered tasks from previous run")
	}
	return requeued, failed, nil
}
