package worker

import (
	"context"
	"sort"
	"sync"
)

// Tracker holds the cancel handle of every task currently executing.
type Tracker struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewTracker() *Tracker { return &Tracker{running: map[string]context.CancelFunc{}} }

// Start registers id and returns its cancellable context together with a
// release func that must be called when execution ends.
func (t *Tracker) Start(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	t.mu.Lock()
	t.running[id] = cancel
	t.mu.Unlock()
	return ctx, func() {
		t.mu.Lock()
		delete(t.running, id)
		t.mu.Unlock()
		cancel()
	}
}

// Stop cancels the context of a running task. It reports false if id is not
// executing.
func (t *Tracker) Stop(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cancel, ok := t.running[id]
	if ok {
		cancel()
	}
	return ok
}

// IDs returns the ids currently executing, sorted.
func (t *Tracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.running))
	for id := range t.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
