package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"docreplicator/internal/metrics"
	"docreplicator/internal/storage"
)

// outcome classifies what happened in one Worker.attempt call, so Run can
// apply the right failure policy per cause: a local storage error during
// batch build is logged but never counted against the destination, since
// the destination never even saw a request; a peer that won't answer
// fetchRemoteCursor is skipped outright, with no retry and no failure
// accounting, since there's nothing to retry against; only a rejected ship
// counts as a destination failure and earns the first-failure retry.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeNoRemote
	outcomeLocalError
	outcomeShipFailure
)

// Worker is C6: the per-destination-per-cycle unit of work. A Scheduler
// launches one Worker.Run per destination it decides to replicate this
// cycle, gated by the destination's busy flag.
type Worker struct {
	cursor   *CursorClient
	ship     *Shipper
	failures *FailureTracker
	src      storage.BatchSource
	log      *logrus.Entry
}

// NewWorker creates a Worker bound to a single local store.
func NewWorker(cursor *CursorClient, ship *Shipper, failures *FailureTracker, src storage.BatchSource, log *logrus.Entry) *Worker {
	return &Worker{cursor: cursor, ship: ship, failures: failures, src: src, log: log}
}

// Run executes one replication attempt against dest, applying the
// first-failure-retry-once policy to ship failures only, then
// unconditionally clears the destination's busy flag via clearBusy —
// including when a panic unwinds through this call. It reports whether
// anything was actually shipped; the scheduler re-notifies itself on true,
// since more may be waiting immediately behind what was just sent.
func (w *Worker) Run(ctx context.Context, dest Destination, clearBusy func()) (replicated bool) {
	defer clearBusy()
	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("destination", dest.Key()).Errorf("replication worker panic recovered: %v", r)
		}
	}()

	result, shipped, err := w.attempt(ctx, dest)
	if result == outcomeShipFailure && w.failures.IsFirstFailure(dest.Key()) {
		w.log.WithError(err).WithField("destination", dest.Key()).Debug("first failure, retrying once")
		result, shipped, err = w.attempt(ctx, dest)
	}

	switch result {
	case outcomeSuccess:
		metrics.WorkerAttempts.WithLabelValues(dest.Key(), "success").Inc()
		w.failures.Reset(ctx, dest.Key())
		return shipped
	case outcomeShipFailure:
		w.failures.Increment(ctx, dest.Key(), err.Error())
		metrics.WorkerAttempts.WithLabelValues(dest.Key(), "failure").Inc()
		w.log.WithError(err).WithField("destination", dest.Key()).Warn("replication attempt failed")
		return false
	case outcomeLocalError:
		w.log.WithError(err).WithField("destination", dest.Key()).Error("local storage error building batch, not counted against destination")
		return false
	default: // outcomeNoRemote
		return false
	}
}

// attempt runs one end-to-end replication pass: fetch remote cursor, build
// and ship the document batch, then the attachment batch. It never returns
// a bare error for the scheduler to interpret — the outcome tag carries
// which policy applies.
func (w *Worker) attempt(ctx context.Context, dest Destination) (outcome, bool, error) {
	currentEtag, err := w.src.MostRecentDocumentEtag(ctx)
	if err != nil {
		return outcomeLocalError, false, fmt.Errorf("reading local cursor: %w", err)
	}

	remote := w.cursor.FetchRemoteCursor(ctx, dest, currentEtag)
	if remote == nil {
		return outcomeNoRemote, false, nil
	}

	docsShipped, result, err := w.replicateDocs(ctx, dest, remote)
	if result != outcomeSuccess {
		return result, false, err
	}

	attsShipped, result, err := w.replicateAttachments(ctx, dest, remote)
	if result != outcomeSuccess {
		return result, false, err
	}

	return outcomeSuccess, docsShipped || attsShipped, nil
}

func (w *Worker) replicateDocs(ctx context.Context, dest Destination, remote *SourceReplicationInfo) (bool, outcome, error) {
	batch, err := BuildDocBatch(ctx, w.src, remote.LastDocumentEtag, dest.Filter, remote.ServerInstanceID)
	if err != nil {
		return false, outcomeLocalError, fmt.Errorf("building document batch: %w", err)
	}
	if len(batch.Records) == 0 {
		if batch.LastEtag.Compare(remote.LastDocumentEtag) > 0 {
			w.cursor.PushCursor(ctx, dest, &batch.LastEtag, nil)
		}
		return false, outcomeSuccess, nil
	}

	start := time.Now()
	err = w.ship.ShipDocs(ctx, dest, batch.Records, batch.LastEtag)
	metrics.ShipLatency.WithLabelValues("documents").Observe(time.Since(start).Seconds())
	if err != nil {
		return false, outcomeShipFailure, fmt.Errorf("shipping documents: %w", err)
	}
	return true, outcomeSuccess, nil
}

func (w *Worker) replicateAttachments(ctx context.Context, dest Destination, remote *SourceReplicationInfo) (bool, outcome, error) {
	batch, err := BuildAttachmentBatch(ctx, w.src, remote.LastAttachmentEtag, dest.Filter, remote.ServerInstanceID)
	if err != nil {
		return false, outcomeLocalError, fmt.Errorf("building attachment batch: %w", err)
	}
	if len(batch.Records) == 0 {
		if batch.LastEtag.Compare(remote.LastAttachmentEtag) > 0 {
			w.cursor.PushCursor(ctx, dest, nil, &batch.LastEtag)
		}
		return false, outcomeSuccess, nil
	}

	start := time.Now()
	err = w.ship.ShipAttachments(ctx, dest, batch.Records, batch.LastEtag)
	metrics.ShipLatency.WithLabelValues("attachments").Observe(time.Since(start).Seconds())
	if err != nil {
		return false, outcomeShipFailure, fmt.Errorf("shipping attachments: %w", err)
	}
	return true, outcomeSuccess, nil
}
