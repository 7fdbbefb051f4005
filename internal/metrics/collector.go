package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"localqueue/internal/domain"
)

// System is a best-effort sample of host and process resources. Fields the
// platform cannot report stay zero.
type System struct {
	CPULoad1      float64
	CPUs          int
	MemTotalBytes uint64
	ProcRSSBytes  uint64
	Goroutines    int
}

// CollectSystem samples load average, memory and this process's RSS.
func CollectSystem(ctx context.Context) System {
	out := System{CPUs: runtime.NumCPU(), Goroutines: runtime.NumGoroutine()}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.CPULoad1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.MemTotalBytes = vm.Total
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if pm, err := p.MemoryInfoWithContext(ctx); err == nil && pm != nil {
			out.ProcRSSBytes = pm.RSS
		}
	}
	return out
}

// Lister is the read side of a task store.
type Lister interface {
	List(ctx context.Context, f domain.Filter) ([]domain.TaskRecord, error)
}

// Pool reports the live state of the worker pool.
type Pool interface {
	Running() []string
	Size() int
}

type Snapshot struct {
	Tasks      map[domain.Status]int
	QueueDepth int
	Busy       int
	Workers    int
	System     System
}

type Collector struct {
	tasks Lister
	depth func() int
	pool  Pool
}

func NewCollector(tasks Lister, depth func() int, pool Pool) *Collector {
	return &Collector{tasks: tasks, depth: depth, pool: pool}
}

func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	recs, err := c.tasks.List(ctx, domain.Filter{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("count tasks: %w", err)
	}
	snap := Snapshot{
		Tasks:      make(map[domain.Status]int, len(domain.Statuses)),
		QueueDepth: c.depth(),
		Busy:       len(c.pool.Running()),
		Workers:    c.pool.Size(),
		System:     CollectSystem(ctx),
	}
	for _, s := range domain.Statuses {
		snap.Tasks[s] = 0
	}
	for _, r := range recs {
		snap.Tasks[r.Status]++
	}
	return snap, nil
}

// WriteText renders s in the Prometheus text exposition format.
func (s Snapshot) WriteText(w io.Writer) error {
	ew := &errWriter{w: w}
	ew.printf("# HELP localqueue_tasks Tasks by current status.\n# TYPE localqueue_tasks gauge\n")
	for _, st := range domain.Statuses {
		ew.printf("localqueue_tasks{status=%q} %d\n", string(st), s.Tasks[st])
	}
	gauge := func(name, help string, v any) {
		ew.printf("# HELP %s %s\n# TYPE %s gauge\n%s %v\n", name, help, name, name, v)
	}
	gauge("localqueue_queue_depth", "Task ids waiting for a worker.", s.QueueDepth)
	gauge("localqueue_workers_busy", "Workers executing a task.", s.Busy)
	gauge("localqueue_workers", "Configured worker count.", s.Workers)
	gauge("localqueue_system_load1", "One minute load average.", s.System.CPULoad1)
	gauge("localqueue_system_cpus", "Logical CPUs.", s.System.CPUs)
	gauge("localqueue_system_memory_bytes", "Total system memory.", s.System.MemTotalBytes)
	gauge("localqueue_process_resident_memory_bytes", "Resident memory of this process.", s.System.ProcRSSBytes)
	gauge("localqueue_goroutines", "Live goroutines.", s.System.Goroutines)
	ew.printf("localqueue_up 1\n")
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
