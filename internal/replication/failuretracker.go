package replication

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"docreplicator/internal/metrics"
	"docreplicator/internal/storage"
)

// FailureTracker is the in-memory + persisted map of destination URL ->
// {count, last-error, timestamp}. In-memory counts are mutated under a
// single mutex (the map is small and contention is never the bottleneck
// here — network I/O is); persisted mutations go through the FailureStore,
// which is responsible for its own durability.
type FailureTracker struct {
	mu      sync.Mutex
	inMem   map[string]storage.FailureCount
	persist storage.FailureStore
	log     *logrus.Entry
}

// NewFailureTracker creates a tracker backed by persist.
func NewFailureTracker(persist storage.FailureStore, log *logrus.Entry) *FailureTracker {
	return &FailureTracker{
		inMem:   make(map[string]storage.FailureCount),
		persist: persist,
		log:     log,
	}
}

// IsFirstFailure reports whether destKey's prior in-memory state was
// healthy (count == 0 or no record at all). Called before a worker retries
// a failed ship once.
func (t *FailureTracker) IsFirstFailure(destKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	fc, ok := t.inMem[destKey]
	return !ok || fc.Count == 0
}

// Increment records a failed attempt: bumps the in-memory count, stamps the
// error and time, and bumps the persisted failure document's count by 1.
// The persisted count is read-modify-written independently of the in-memory
// one: after a restart the in-memory map starts empty while the persisted
// count still carries the destination's full streak, and it is the
// persisted count that drives the scheduler's back-off.
func (t *FailureTracker) Increment(ctx context.Context, destKey string, errText string) {
	t.mu.Lock()
	fc := t.inMem[destKey]
	fc.Count++
	fc.Timestamp = time.Now().UTC()
	fc.LastError = errText
	t.inMem[destKey] = fc
	count := fc.Count
	t.mu.Unlock()

	metrics.DestinationFailureCount.WithLabelValues(destKey).Set(float64(count))

	persisted := 1
	if info, ok, err := t.persist.GetFailure(ctx, destKey); err != nil {
		t.log.WithError(err).WithField("destination", destKey).Error("failed to read persisted failure count")
	} else if ok {
		persisted = info.FailureCount + 1
	}
	if err := t.persist.PutFailure(ctx, destKey, storage.DestinationFailureInfo{
		Destination:  destKey,
		FailureCount: persisted,
	}); err != nil {
		t.log.WithError(err).WithField("destination", destKey).Error("failed to persist failure count")
	}
}

// Reset clears a destination's failure state on success: zeros the
// in-memory count and deletes the persisted failure document.
func (t *FailureTracker) Reset(ctx context.Context, destKey string) {
	t.mu.Lock()
	t.inMem[destKey] = storage.FailureCount{Timestamp: time.Now().UTC()}
	t.mu.Unlock()

	metrics.DestinationFailureCount.WithLabelValues(destKey).Set(0)

	if err := t.persist.DeleteFailure(ctx, destKey); err != nil {
		t.log.WithError(err).WithField("destination", destKey).Error("failed to delete persisted failure doc")
	}
}

// PersistedFailureCount reads the persisted failure count, used by the
// scheduler's throttling policy. Absence of a persisted document means 0.
func (t *FailureTracker) PersistedFailureCount(ctx context.Context, destKey string) int {
	info, ok, err := t.persist.GetFailure(ctx, destKey)
	if err != nil {
		t.log.WithError(err).WithField("destination", destKey).Error("failed to read persisted failure count")
		return 0
	}
	if !ok {
		return 0
	}
	return info.FailureCount
}

// Snapshot returns an immutable copy of the in-memory failure map for
// observability.
func (t *FailureTracker) Snapshot() map[string]FailureStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]FailureStats, len(t.inMem))
	for url, fc := range t.inMem {
		out[url] = FailureStats{Count: fc.Count, Timestamp: fc.Timestamp, LastError: fc.LastError}
	}
	return out
}
