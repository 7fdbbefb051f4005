package domain

import (
	"fmt"
	"time"
)

// Patch is a partial update of a TaskRecord. Nil fields are left unchanged.
//
// Apply holds the task state machine, so every store backend enforces the
// same rules by running it inside its own atomic read-modify-write:
// terminal records are frozen, only legal transitions are accepted, progress
// only moves while RUNNING and never backwards.
type Patch struct {
	Status       *Status
	Progress     *int
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ResultData   map[string]any
	ErrorMessage *string
}

// Apply merges p into rec. On error rec is left untouched.
func (p Patch) Apply(rec *TaskRecord) error {
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: task %s is already %s", ErrInvalidState, rec.ID, rec.Status)
	}

	next := rec.Clone()
	if p.Status != nil {
		if !CanTransition(rec.Status, *p.Status) {
			return fmt.Errorf("%w: task %s cannot move from %s to %s", ErrInvalidState, rec.ID, rec.Status, *p.Status)
		}
		next.Status = *p.Status
	} else if p.Progress != nil && rec.Status != StatusRunning {
		return fmt.Errorf("%w: progress of task %s can only change while %s", ErrInvalidState, rec.ID, StatusRunning)
	}

	if p.StartedAt != nil {
		t := *p.StartedAt
		next.StartedAt = &t
	}
	if p.Progress != nil {
		next.Progress = max(next.Progress, ClampProgress(*p.Progress))
	}
	if next.Status == StatusSuccess {
		next.Progress = 100
		if p.ResultData != nil {
			next.ResultData = cloneMap(p.ResultData)
		} else if next.ResultData == nil {
			next.ResultData = map[string]any{}
		}
	}
	if next.Status == StatusFailed && p.ErrorMessage != nil {
		msg := *p.ErrorMessage
		next.ErrorMessage = &msg
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		if next.StartedAt != nil && t.Before(*next.StartedAt) {
			t = *next.StartedAt
		}
		next.CompletedAt = &t
	}

	*rec = next
	return nil
}

// ClampProgress bounds v to [0, 100].
func ClampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// StatusPtr is a convenience for building patches.
func StatusPtr(s Status) *Status { return &s }
