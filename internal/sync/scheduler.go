package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the queue: a single goroutine that, on a fixed interval,
// takes one batch of ordinary items plus every due client-class item, runs
// the two classes concurrently, and feeds the outcomes back into the queue.
// Going offline pauses the loop; coming back online starts a fresh pass over
// everything still queued.
type Scheduler struct {
	queue    *Queue
	executor *Executor
	logger   *zap.Logger

	batchSize int
	interval  time.Duration

	mu      stdsync.Mutex
	online  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	kick chan struct{}
}

// SchedulerOptions customizes a Scheduler.
type SchedulerOptions struct {
	BatchSize     int
	CycleInterval time.Duration
	Logger        *zap.Logger
}

// NewScheduler creates a scheduler over the given queue and executor. The
// scheduler starts in the online state.
func NewScheduler(queue *Queue, executor *Executor, opts *SchedulerOptions) *Scheduler {
	if opts == nil {
		opts = &SchedulerOptions{}
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	interval := opts.CycleInterval
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:     queue,
		executor:  executor,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		online:    true,
		kick:      make(chan struct{}, 1),
	}
}

// Start launches the scheduling loop. It returns immediately; Stop shuts
// the loop down and waits for the in-flight cycle to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop terminates the loop and blocks until it has exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.started = false
	s.mu.Unlock()

	cancel()
	<-done
}

// SetOnline flips connectivity. The loop idles while offline; regaining
// connectivity triggers an immediate cycle so queued work resumes without
// waiting out the interval.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()

	if online && !was {
		s.logger.Info("connectivity restored, resuming sync")
		s.Kick()
	}
	if !online && was {
		s.logger.Warn("connectivity lost, sync paused")
	}
}

// Online reports current connectivity.
func (s *Scheduler) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Kick requests an immediate cycle, collapsing with any pending request.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if s.Online() && s.queue.Len() > 0 {
			s.cycle(ctx)
		}
		timer.Reset(s.interval)
	}
}

// cycle executes one batch of each class and applies the outcomes. The two
// classes run concurrently; the cycle completes only when both have.
func (s *Scheduler) cycle(ctx context.Context) {
	ordinary, client := s.queue.Take(s.batchSize)
	if len(ordinary) == 0 && len(client) == 0 {
		return
	}

	var (
		wg             stdsync.WaitGroup
		ordOut, cliOut []Outcome
	)
	if len(ordinary) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ordOut = s.executor.ExecuteOrdinary(ctx, ordinary)
		}()
	}
	if len(client) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cliOut = s.executor.ExecuteClient(ctx, client)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	s.queue.ApplyOutcomes(append(ordOut, cliOut...))
}
