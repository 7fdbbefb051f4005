package domain

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled}

// Terminal reports whether no further transitions are allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// ParseStatus accepts any letter case.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range Statuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", v)
}

// CanTransition reports whether a record in status from may move to status to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusSuccess || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

type TaskRecord struct {
	ID           string         `json:"id"`
	TaskType     string         `json:"task_type"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
	Progress     int            `json:"progress"`
	Parameters   map[string]any `json:"parameters"`
	ResultData   map[string]any `json:"result_data"`
	ErrorMessage *string        `json:"error_message"`
	RetryOf      *string        `json:"retry_of,omitempty"`
}

// Clone returns a copy that shares no top-level maps or pointers with r.
func (r TaskRecord) Clone() TaskRecord {
	out := r
	out.Parameters = cloneMap(r.Parameters)
	out.ResultData = cloneMap(r.ResultData)
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.ErrorMessage = cloneString(r.ErrorMessage)
	out.RetryOf = cloneString(r.RetryOf)
	return out
}

// Filter narrows a listing. Zero values match everything; Limit <= 0 means no limit.
type Filter struct {
	Status   *Status
	TaskType string
	Limit    int
}

// Match reports whether r passes the status and task type constraints.
func (f Filter) Match(r TaskRecord) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.TaskType != "" && r.TaskType != f.TaskType {
		return false
	}
	return true
}

// Schedule is a periodic submission of one task type.
type Schedule struct {
	Name       string         `json:"name"`
	CronExpr   string         `json:"cron_expr"`
	TaskType   string         `json:"task_type"`
	Parameters map[string]any `json:"parameters"`
	Enabled    bool           `json:"enabled"`
	LastRun    *time.Time     `json:"last_run,omitempty"`
	NextRun    *time.Time     `json:"next_run,omitempty"`
}

// cloneMap copies m and every nested map or slice it holds.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		if v == nil {
			return v
		}
		return append([]string(nil), v...)
	case []int:
		if v == nil {
			return v
		}
		return append([]int(nil), v...)
	case []float64:
		if v == nil {
			return v
		}
		return append([]float64(nil), v...)
	case map[string]string:
		if v == nil {
			return v
		}
		out := make(map[string]string, len(v))
		for k, e := range v {
			out[k] = e
		}
		return out
	default:
		return v
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
