package replication

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docreplicator/internal/storage"
)

func newTestScheduler(t *testing.T, s *storage.Store) (*Scheduler, *Registry, *FailureTracker) {
	log := testLogger()
	registry := NewRegistry(s, log)
	failures := NewFailureTracker(s, log)
	worker, _ := newTestWorker(t, s)
	sched := NewScheduler(registry, worker, failures, log)
	sched.DataWaitTimeout = 5 * time.Millisecond
	sched.IdleWaitTimeout = 20 * time.Millisecond
	return sched, registry, failures
}

// TestScheduler_EmptyDestinationsNoHTTPCalls: with zero destinations the
// scheduler must make no outbound calls and must not grow its attempt
// counter.
func TestScheduler_EmptyDestinationsNoHTTPCalls(t *testing.T) {
	s := openTestStore(t)
	sched, _, _ := newTestScheduler(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	sched.Run(ctx)
	sched.Wait()

	assert.EqualValues(t, 0, sched.attempt)
}

// TestScheduler_MutualExclusionOneWorkerPerDestination: while a
// destination's worker is in flight, further scheduler cycles must not
// spawn a second worker for the same destination.
func TestScheduler_MutualExclusionOneWorkerPerDestination(t *testing.T) {
	var inFlight int32
	var maxConcurrent int32
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/replication/lastEtag" && r.Method == http.MethodGet {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			w.Write([]byte(`{"lastDocumentEtag":"0000000000000000-0000000000000000","lastAttachmentEtag":"0000000000000000-0000000000000000","serverInstanceId":"s"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := openTestStore(t)
	require.NoError(t, s.PutReplicationConfig(context.Background(), storage.ReplicationConfig{
		Destinations: []storage.Destination{{URL: srv.URL}},
	}))
	sched, _, _ := newTestScheduler(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	sched.Notify()
	time.Sleep(20 * time.Millisecond) // let the first worker enter fetchRemoteCursor and block
	sched.Notify()
	sched.Notify()
	time.Sleep(20 * time.Millisecond)

	close(release)
	cancel()
	sched.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(1),
		"at most one worker for this destination may be in flight at any instant")
}

// TestScheduler_IdleCycleIgnoresThrottle: a time-driven (idle) cycle
// replicates every destination regardless of persisted failure count.
func TestScheduler_IdleCycleIgnoresThrottle(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/replication/lastEtag" {
			atomic.AddInt32(&calls, 1)
		}
		w.Write([]byte(`{"lastDocumentEtag":"0000000000000000-0000000000000000","lastAttachmentEtag":"0000000000000000-0000000000000000","serverInstanceId":"s"}`))
	}))
	defer srv.Close()

	s := openTestStore(t)
	require.NoError(t, s.PutReplicationConfig(context.Background(), storage.ReplicationConfig{
		Destinations: []storage.Destination{{URL: srv.URL}},
	}))
	require.NoError(t, s.PutFailure(context.Background(), Destination{EffectiveURL: srv.URL}.Key(),
		storage.DestinationFailureInfo{Destination: srv.URL, FailureCount: 5000}))

	sched, _, _ := newTestScheduler(t, s)
	sched.runCycle(context.Background(), false) // time-driven: dataDriven=false
	sched.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "an idle cycle must replicate even a heavily backed-off destination")
}

// TestScheduler_DataDrivenCycleThrottlesByFailureCount exercises the
// skip-ratio table directly against runCycle: at failureCount=150 (k=5),
// only cycles where attempt%5==0 should dispatch a worker. The peer keeps
// returning 503 so the persisted count is never reset mid-test — a
// lastEtag fetch failure is not counted against the destination either,
// leaving the count pinned at 150 throughout.
func TestScheduler_DataDrivenCycleThrottlesByFailureCount(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := openTestStore(t)
	require.NoError(t, s.PutReplicationConfig(context.Background(), storage.ReplicationConfig{
		Destinations: []storage.Destination{{URL: srv.URL}},
	}))
	require.NoError(t, s.PutFailure(context.Background(), Destination{EffectiveURL: srv.URL}.Key(),
		storage.DestinationFailureInfo{Destination: srv.URL, FailureCount: 150}))

	sched, _, _ := newTestScheduler(t, s)

	for i := 0; i < 10; i++ {
		sched.runCycle(context.Background(), true)
		sched.Wait() // each cycle's single worker (if any) completes before the next
	}

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "k=5 means 2 of 10 data-driven attempts should run")
}
