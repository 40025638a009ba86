package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnknownWorker is returned when a tick names a worker that is not
// registered.
var ErrUnknownWorker = errors.New("unknown worker")

// WorkerStatus is the last observed tick outcome for one worker.
type WorkerStatus struct {
	Worker     string      `json:"worker"`
	Interval   string      `json:"interval"`
	LastTickAt time.Time   `json:"last_tick_at,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
	LastReport *TickReport `json:"last_report,omitempty"`
}

// Scheduler runs the watchdog workers on their own cadences. Each worker
// loops in its own goroutine; a slow tick delays only that worker.
type Scheduler struct {
	workers []Worker
	logger  *slog.Logger

	mu     sync.Mutex
	status map[string]*WorkerStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler over the given workers.
func NewScheduler(logger *slog.Logger, workers ...Worker) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		workers: workers,
		logger:  logger,
		status:  make(map[string]*WorkerStatus, len(workers)),
	}
	for _, w := range workers {
		s.status[w.Name()] = &WorkerStatus{Worker: w.Name(), Interval: w.Interval().String()}
	}
	return s
}

// Start launches the worker loops. Call Stop to shut them down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, w := range s.workers {
		s.wg.Add(1)
		go s.loop(ctx, w)
	}
	s.logger.Info("Watchdog scheduler started", "workers", len(s.workers))
}

// Stop cancels the loops and waits for in-flight ticks.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, w Worker) {
	defer s.wg.Done()
	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, w, TickOptions{})
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, w Worker, opts TickOptions) (*TickReport, error) {
	report, err := w.Tick(ctx, opts)

	s.mu.Lock()
	st := s.status[w.Name()]
	st.LastTickAt = time.Now().UTC()
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
		st.LastReport = report
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Watchdog tick failed", "worker", w.Name(), "error", err)
		return nil, err
	}
	if len(report.Actions) > 0 {
		s.logger.Info("Watchdog tick", "worker", w.Name(),
			"actions", len(report.Actions), "capped", report.Capped)
	}
	return report, nil
}

// TriggerTick runs one worker's tick on demand.
func (s *Scheduler) TriggerTick(ctx context.Context, name string, opts TickOptions) (*TickReport, error) {
	for _, w := range s.workers {
		if w.Name() == name {
			return s.tick(ctx, w, opts)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, name)
}

// Status returns the last outcome per worker, sorted by name at the caller.
func (s *Scheduler) Status() []*WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		st := *s.status[w.Name()]
		out = append(out, &st)
	}
	return out
}
