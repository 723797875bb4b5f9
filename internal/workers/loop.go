// Package workers runs periodic housekeeping jobs.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thrillee/smppengine/internal/logging"
)

// DefaultRunTimeout bounds a single run of a job.
const DefaultRunTimeout = time.Minute

// WorkerFunc performs one run of a job and returns how many items it handled.
type WorkerFunc func(ctx context.Context) (int, error)

// Run calls fn every interval until ctx is done.
func Run(ctx context.Context, name string, interval time.Duration, fn WorkerFunc) {
	ctx = logging.ContextWithWorker(ctx, name)
	slog.InfoContext(ctx, "Worker starting", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopping")
			return
		case <-ticker.C:
			runWork(ctx, fn)
		}
	}
}

// runWork executes a single run with a timeout.
func runWork(ctx context.Context, fn WorkerFunc) {
	runCtx, cancel := context.WithTimeout(ctx, DefaultRunTimeout)
	defer cancel()

	n, err := fn(runCtx)
	if err != nil {
		slog.ErrorContext(ctx, "Worker run failed", slog.Any("error", err))
	} else if n > 0 {
		slog.InfoContext(ctx, "Worker processed items", slog.Int("count", n))
	}
}

type job struct {
	name     string
	interval time.Duration
	fn       WorkerFunc
}

// Manager starts a set of jobs and waits for them to stop.
type Manager struct {
	jobs []job
	wg   sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{}
}

// Add registers a job. Jobs with a non-positive interval are skipped.
func (m *Manager) Add(name string, interval time.Duration, fn WorkerFunc) {
	if interval <= 0 {
		slog.Warn("Worker disabled", slog.String(string(logging.WorkerKey), name))
		return
	}
	m.jobs = append(m.jobs, job{name: name, interval: interval, fn: fn})
}

// Run starts every job and blocks until ctx is done and all have returned.
func (m *Manager) Run(ctx context.Context) error {
	for _, j := range m.jobs {
		m.wg.Add(1)
		go func(j job) {
			defer m.wg.Done()
			Run(ctx, j.name, j.interval, j.fn)
		}(j)
	}
	m.wg.Wait()
	return nil
}
