package replication

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"docreplicator/internal/metrics"
)

// Scheduler is the single owning loop of the replication engine. It wakes
// on either a data-driven trigger (a document or attachment was just
// written) or an idle timeout, then launches one Worker per destination not
// already busy from a prior cycle still in flight.
type Scheduler struct {
	registry *Registry
	worker   *Worker
	failures *FailureTracker
	log      *logrus.Entry

	// DataWaitTimeout debounces a burst of writes into one cycle; once a
	// trigger fires, the scheduler waits this long for further triggers
	// before actually running. IdleWaitTimeout is the ceiling: even with no
	// writes at all, a cycle runs periodically so backed-off destinations
	// still get serviced.
	DataWaitTimeout time.Duration
	IdleWaitTimeout time.Duration

	trigger chan struct{}

	busyMu sync.Mutex
	busy   map[string]bool
	wg     sync.WaitGroup

	attempt uint64
}

// NewScheduler creates a Scheduler with a 30s debounce and 5 minute idle
// ceiling as the default timeouts.
func NewScheduler(registry *Registry, worker *Worker, failures *FailureTracker, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		registry:        registry,
		worker:          worker,
		failures:        failures,
		log:             log,
		DataWaitTimeout: 30 * time.Second,
		IdleWaitTimeout: 5 * time.Minute,
		trigger:         make(chan struct{}, 1),
		busy:            make(map[string]bool),
	}
}

// Notify signals that new data may be available to replicate. It never
// blocks: a pending, undrained trigger already means the next cycle will
// pick up whatever was written, so a second Notify before that cycle starts
// is redundant.
func (s *Scheduler) Notify() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run drives the scheduler loop until ctx is canceled. It returns once the
// current wait or cycle observes cancellation; in-flight workers are
// drained by Wait.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		dataDriven, ok := s.waitForWork(ctx)
		if !ok {
			return
		}
		reason := "idle"
		if dataDriven {
			reason = "data"
		}
		metrics.SchedulerCycles.WithLabelValues(reason).Inc()
		s.runCycle(ctx, dataDriven)
	}
}

// Wait blocks until every worker launched by the most recent cycle(s) has
// cleared its busy flag. Used during graceful shutdown after Run returns.
func (s *Scheduler) Wait() { s.wg.Wait() }

// waitForWork blocks until either a trigger (debounced) or the idle
// timeout fires, and reports which kind of wake it was. ok is false only
// when ctx was canceled first.
func (s *Scheduler) waitForWork(ctx context.Context) (dataDriven bool, ok bool) {
	select {
	case <-ctx.Done():
		return false, false
	case <-s.trigger:
		s.debounce(ctx)
		return true, true
	case <-time.After(s.IdleWaitTimeout):
		return false, true
	}
}

// debounce absorbs further triggers for up to DataWaitTimeout, coalescing a
// burst of writes into the cycle that is about to run.
func (s *Scheduler) debounce(ctx context.Context) {
	timer := time.NewTimer(s.DataWaitTimeout)
	defer timer.Stop()
	for {
		select {
		case <-s.trigger:
			continue
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runCycle loads the current destination list and launches a Worker for
// every destination not already busy. On a data-driven cycle, destinations
// with an elevated persisted failure count are throttled by shouldSkip; a
// time-driven (idle) cycle always attempts every destination, since that
// is the mechanism by which a backed-off destination eventually recovers.
func (s *Scheduler) runCycle(ctx context.Context, dataDriven bool) {
	destinations := s.registry.LoadDestinations(ctx)
	if len(destinations) == 0 {
		return
	}
	// The attempt counter only advances on cycles with at least one
	// destination; it gates the skip-ratio throttle below.
	s.attempt++

	for _, dest := range destinations {
		dest := dest
		if !s.tryAcquire(dest.Key()) {
			continue
		}

		if dataDriven {
			failCount := s.failures.PersistedFailureCount(ctx, dest.Key())
			if shouldSkip(failCount, s.attempt) {
				s.releaseBusy(dest.Key())
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			replicated := s.worker.Run(ctx, dest, func() { s.releaseBusy(dest.Key()) })
			if replicated {
				// Drain-mode: more may be waiting right behind what was just
				// shipped, so re-evaluate immediately instead of waiting out
				// the debounce/idle timeout.
				s.Notify()
			}
		}()
	}
}

func (s *Scheduler) tryAcquire(key string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.busy[key] {
		return false
	}
	s.busy[key] = true
	return true
}

func (s *Scheduler) releaseBusy(key string) {
	s.busyMu.Lock()
	delete(s.busy, key)
	s.busyMu.Unlock()
}
