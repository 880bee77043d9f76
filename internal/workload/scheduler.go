package workload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = eris.New("workload: scheduler already started")
	// ErrNotStarted is returned when waiting on a scheduler that was never started.
	ErrNotStarted = eris.New("workload: scheduler not started")
)

// Task executes one iteration. Iterations are numbered from 1.
type Task func(ctx context.Context, iteration int) error

// Stats counts a scheduler's iterations.
type Stats struct {
	Iterations int
	Completed  int
	Failed     int
}

// Scheduler divides a unit of work into independent iterations and runs them
// on a pool. A failing iteration never cancels its siblings; the first
// failure is reported by Wait.
type Scheduler struct {
	pool       *Pool
	iterations int
	label      string
	task       Task
	log        *zap.Logger

	startOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
	err       error

	completed atomic.Int64
	failed    atomic.Int64
}

// NewScheduler creates a scheduler that runs task for iterations 1..n on pool.
func NewScheduler(pool *Pool, n int, label string, task Task) *Scheduler {
	return &Scheduler{
		pool:       pool,
		iterations: n,
		label:      label,
		task:       task,
		done:       make(chan struct{}),
		log:        zap.L().With(zap.String("component", "workload"), zap.String("label", label)),
	}
}

// Label returns the scheduler's label.
func (s *Scheduler) Label() string { return s.label }

// Start submits every iteration and returns immediately. Each task receives
// ctx with its cancellation detached, so values carried by ctx reach the
// task while the task itself always runs to completion.
func (s *Scheduler) Start(ctx context.Context) error {
	first := false
	s.startOnce.Do(func() { first = true })
	if !first {
		return ErrAlreadyStarted
	}
	s.started.Store(true)

	taskCtx := context.WithoutCancel(ctx)
	var g errgroup.Group

	g.Go(func() error {
		for i := 1; i <= s.iterations; i++ {
			if err := s.pool.acquire(taskCtx); err != nil {
				remaining := int64(s.iterations - i + 1)
				s.failed.Add(remaining)
				return eris.Wrapf(err, "workload: %s could not submit iterations %d-%d", s.label, i, s.iterations)
			}
			iteration := i
			g.Go(func() error {
				defer s.pool.release()
				return s.run(taskCtx, iteration)
			})
		}
		return nil
	})

	go func() {
		s.err = g.Wait()
		s.summarize()
		close(s.done)
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context, iteration int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("workload: %s iteration %d panicked: %v", s.label, iteration, r)
		}
		if err != nil {
			s.failed.Add(1)
			s.log.Debug("workload: iteration failed", zap.Int("iteration", iteration), zap.Error(err))
			return
		}
		s.completed.Add(1)
	}()

	if err := s.task(ctx, iteration); err != nil {
		return eris.Wrapf(err, "workload: %s iteration %d", s.label, iteration)
	}
	return nil
}

func (s *Scheduler) summarize() {
	st := s.Stats()
	if st.Failed == 0 {
		s.log.Debug("workload: complete", zap.Int("iterations", st.Iterations))
		return
	}
	s.log.Error(fmt.Sprintf("workload: %d of %d iterations failed", st.Failed, st.Iterations),
		zap.Int("completed", st.Completed),
		zap.Error(s.err),
	)
}

// Wait blocks until every iteration has finished and returns the first
// failure. Cancelling ctx abandons the wait, not the iterations.
func (s *Scheduler) Wait(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "workload: wait for %s", s.label)
	}
}

// Stats returns the iteration counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Iterations: s.iterations,
		Completed:  int(s.completed.Load()),
		Failed:     int(s.failed.Load()),
	}
}
