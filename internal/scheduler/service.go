package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"localqueue/internal/domain"
)

// Submitter is the part of the submission API a schedule fires into.
type Submitter interface {
	Submit(ctx context.Context, taskType string, params map[string]any) (domain.TaskRecord, error)
	TaskTypes() []string
}

// Service submits a task every time one of its schedules comes due.
type Service struct {
	submitter Submitter
	cron      *cron.Cron
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	schedules []domain.Schedule
	entries   map[string]cron.EntryID
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService validates schedules against the submitter's task types and
// their cron expressions. Disabled schedules are kept for listing only.
func NewService(sub Submitter, schedules []domain.Schedule, opts ...Option) (*Service, error) {
	s := &Service{
		submitter: sub,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		log:       zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
		entries:   make(map[string]cron.EntryID),
	}
	for _, o := range opts {
		o(s)
	}

	types := sub.TaskTypes()
	seen := make(map[string]bool, len(schedules))
	var errs []error
	for _, sc := range schedules {
		switch {
		case sc.Name == "":
			errs = append(errs, errors.New("schedule name is required"))
			continue
		case seen[sc.Name]:
			errs = append(errs, fmt.Errorf("schedule %q: duplicate name", sc.Name))
			continue
		}
		seen[sc.Name] = true
		if err := ValidateCronExpression(sc.CronExpr); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: invalid cron expression %q: %w", sc.Name, sc.CronExpr, err))
		}
		if !slices.Contains(types, sc.TaskType) {
			errs = append(errs, fmt.Errorf("schedule %q: %w: %q", sc.Name, domain.ErrUnknownTaskType, sc.TaskType))
		}
		s.schedules = append(s.schedules, sc)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Start registers the enabled schedules and blocks until ctx is done. Runs
// already in progress are waited for before it returns.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	for _, sc := range s.schedules {
		if !sc.Enabled {
			continue
		}
		name := sc.Name
		id, err := s.cron.AddFunc(sc.CronExpr, func() { s.fire(ctx, name) })
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("register schedule %q: %w", name, err)
		}
		s.entries[name] = id
	}
	registered := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Int("schedules", registered).Msg("schedule service started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("schedule service stopped")
	return nil
}

func (s *Service) fire(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	i := slices.IndexFunc(s.schedules, func(sc domain.Schedule) bool { return sc.Name == name })
	if i < 0 {
		s.mu.Unlock()
		return
	}
	sc := s.schedules[i]
	s.mu.Unlock()

	rec, err := s.submitter.Submit(ctx, sc.TaskType, cloneParams(sc.Parameters))
	if err != nil {
		s.log.Error().Err(err).Str("schedule", name).Msg("failed to submit scheduled task")
		return
	}

	now := s.now()
	s.mu.Lock()
	s.schedules[i].LastRun = &now
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", name).
		Str("task_id", rec.ID).
		Str("task_type", rec.TaskType).
		Msg("scheduled task submitted")
}

// Schedules lists every configured schedule with its last and next run.
// Disabled schedules have no next run.
func (s *Service) Schedules() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]domain.Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		sc.Parameters = cloneParams(sc.Parameters)
		if sc.LastRun != nil {
			t := *sc.LastRun
			sc.LastRun = &t
		}
		sc.NextRun = nil
		if sc.Enabled {
			next := time.Time{}
			if id, ok := s.entries[sc.Name]; ok {
				next = s.cron.Entry(id).Next
			}
			if next.IsZero() {
				next, _ = NextRunTime(sc.CronExpr, now)
			}
			next = next.UTC()
			sc.NextRun = &next
		}
		out = append(out, sc)
	}
	return out
}

func cloneParams(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ValidateCronExpression validates a standard five-field cron expression or
// descriptor such as "@hourly" or "@every 30s".
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
