package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"localqueue/internal/domain"
	"localqueue/internal/queue"
	"localqueue/internal/store"
)

// finalWriteTimeout bounds the outcome write, which runs detached from the
// pool context so shutdown cannot leave a record RUNNING.
const finalWriteTimeout = 5 * time.Second

type Pool struct {
	store    store.TaskStore
	handlers *Registry
	queue    *queue.FIFO
	tracker  *Tracker
	size     int
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Pool)

func WithLogger(l zerolog.Logger) Option { return func(p *Pool) { p.log = l } }

func WithClock(now func() time.Time) Option { return func(p *Pool) { p.now = now } }

// NewPool creates a pool of size workers draining q. A size below one is
// treated as one.
func NewPool(st store.TaskStore, handlers *Registry, q *queue.FIFO, size int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		store:    st,
		handlers: handlers,
		queue:    q,
		tracker:  NewTracker(),
		size:     size,
		log:      zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.size }

// Run starts the workers and blocks until ctx is done (or the queue is
// closed) and every in-flight task has recorded its outcome.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.work(ctx, n)
		}(i)
	}
	p.log.Info().Int("workers", p.size).Msg("worker pool started")
	wg.Wait()
	p.log.Info().Msg("worker pool stopped")
}

// Interrupt signals the handler of a running task to stop. It reports false
// when the task is not executing.
func (p *Pool) Interrupt(id string) bool { return p.tracker.Stop(id) }

// Running returns the ids currently executing.
func (p *Pool) Running() []string { return p.tracker.IDs() }

func (p *Pool) work(ctx context.Context, n int) {
	logger := p.log.With().Int("worker", n).Logger()
	for {
		id, err := p.queue.Pop(ctx)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			// left PENDING for recovery on next start
			return
		}
		p.process(ctx, logger, id)
	}
}

func (p *Pool) process(ctx context.Context, logger zerolog.Logger, id string) {
	logger = logger.With().Str("task_id", id).Logger()

	// Register before claiming: a cancel landing in between either finds the
	// context to interrupt or makes the claim fail.
	taskCtx, release := p.tracker.Start(ctx, id)
	defer release()

	started := p.now()
	rec, err := p.store.Update(ctx, id, domain.Patch{
		Status:    domain.StatusPtr(domain.StatusRunning),
		StartedAt: &started,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			logger.Debug().Err(err).Msg("skipping task that is no longer pending")
			return
		}
		logger.Error().Err(err).Msg("claim task")
		return
	}

	logger = logger.With().Str("task_type", rec.TaskType).Logger()
	logger.Info().Msg("task started")

	result, herr := p.execute(taskCtx, logger, rec)
	p.finish(ctx, taskCtx, logger, rec, result, herr)
}

func (p *Pool) execute(ctx context.Context, logger zerolog.Logger, rec domain.TaskRecord) (result map[string]any, err error) {
	h, ok := p.handlers.Lookup(rec.TaskType)
	if !ok {
		return nil, &domain.HandlerError{
			TaskType: rec.TaskType,
			Message:  "no handler registered for task type " + rec.TaskType,
		}
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("handler panicked")
			result = nil
			err = &domain.HandlerError{TaskType: rec.TaskType, Message: fmt.Sprintf("handler panicked: %v", r)}
		}
	}()
	return h.Handle(ctx, rec.ID, rec.Parameters, p.reporter(ctx, logger, rec.ID))
}

func (p *Pool) reporter(ctx context.Context, logger zerolog.Logger, id string) ProgressFunc {
	var (
		mu   sync.Mutex
		last = -1
	)
	return func(taskID string, percent int) {
		if taskID != id {
			logger.Warn().Str("reported_id", taskID).Msg("progress reported for another task; ignoring")
			return
		}
		if ctx.Err() != nil {
			return
		}
		percent = domain.ClampProgress(percent)
		mu.Lock()
		if percent <= last {
			mu.Unlock()
			return
		}
		last = percent
		mu.Unlock()

		if _, err := p.store.Update(ctx, id, domain.Patch{Progress: &percent}); err != nil {
			if errors.Is(err, domain.ErrInvalidState) || ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Int("progress", percent).Msg("persist progress")
		}
	}
}

func (p *Pool) finish(ctx, taskCtx context.Context, logger zerolog.Logger, rec domain.TaskRecord, result map[string]any, herr error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	done := p.now()
	patch := domain.Patch{CompletedAt: &done}
	if herr == nil {
		if result == nil {
			result = map[string]any{}
		}
		patch.Status = domain.StatusPtr(domain.StatusSuccess)
		patch.ResultData = result
	} else {
		msg := herr.Error()
		if msg == "" {
			msg = "task failed"
		}
		if ctx.Err() != nil && taskCtx.Err() != nil {
			msg = "interrupted: worker shutting down: " + msg
		}
		patch.Status = domain.StatusPtr(domain.StatusFailed)
		patch.ErrorMessage = &msg
	}

	var took time.Duration
	if rec.StartedAt != nil {
		took = done.Sub(*rec.StartedAt)
	}

	_, err := p.store.Update(wctx, rec.ID, patch)
	switch {
	case err == nil && herr == nil:
		logger.Info().Dur("took", took).Msg("task succeeded")
	case err == nil:
		logger.Warn().Str("error", *patch.ErrorMessage).Msg("task failed")
	case errors.Is(err, domain.ErrInvalidState):
		logger.Info().Msg("task was cancelled while running; outcome discarded")
	default:
		logger.Error().Err(err).Str("outcome", string(*patch.Status)).Msg("record task outcome")
	}
}

