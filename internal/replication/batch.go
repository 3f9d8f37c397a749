package replication

import (
	"context"
	"sort"

	"docreplicator/internal/storage"
)

// Batch size limits shared by documents and attachments.
const (
	maxBatchRecords = 100
	maxBatchBytes   = 10 * 1024 * 1024

	// maxRebatchRounds bounds the "everything filtered out" loop: a
	// destination whose filter rejects every record in round after round
	// still must not spin the scheduler forever on one cycle. Once the
	// bound is hit the batch comes back empty, the worker ships nothing and
	// pushes the cursor it reached, picking up the rest next cycle.
	maxRebatchRounds = 25
)

// DocBatch is the result of merging live documents and tombstones from one
// consistent snapshot, applying a destination's filter, and (if the filter
// rejected everything) re-batching forward until either something survives
// or the round budget is exhausted.
type DocBatch struct {
	Records  []storage.DocRecord
	LastEtag storage.Etag
	HasMore  bool
}

// AttachmentBatch is the attachment-stream analogue of DocBatch.
type AttachmentBatch struct {
	Records  []storage.AttachmentRecord
	LastEtag storage.Etag
	HasMore  bool
}

// BuildDocBatch builds the next document batch for a destination starting
// strictly after `after`. destServerInstanceID is passed to the filter as
// reported by the peer's SourceReplicationInfo.
func BuildDocBatch(ctx context.Context, src storage.BatchSource, after storage.Etag, filter Filter, destServerInstanceID string) (DocBatch, error) {
	cursor := after
	for round := 0; round < maxRebatchRounds; round++ {
		var merged []storage.DocRecord
		var hasMore bool
		err := src.WithSnapshot(ctx, func(snap storage.Snapshot) error {
			live, err := snap.DocumentsAfter(ctx, cursor, maxBatchRecords, maxBatchBytes)
			if err != nil {
				return err
			}
			tomb, err := snap.DocTombstonesAfter(ctx, cursor, maxBatchRecords)
			if err != nil {
				return err
			}
			merged = mergeDocRecords(live, tomb, maxBatchRecords)
			hasMore = len(live) >= maxBatchRecords || len(tomb) >= maxBatchRecords
			return nil
		})
		if err != nil {
			return DocBatch{}, err
		}
		if len(merged) == 0 {
			return DocBatch{LastEtag: cursor, HasMore: false}, nil
		}

		kept := merged[:0:0]
		for _, rec := range merged {
			if filter(destServerInstanceID, rec.Metadata.Key, rec.Metadata) {
				kept = append(kept, rec)
			}
		}
		cursor = merged[len(merged)-1].Etag

		if len(kept) > 0 || !hasMore {
			return DocBatch{Records: kept, LastEtag: cursor, HasMore: hasMore}, nil
		}
		// Everything in this round was filtered out but more records may
		// remain beyond it: advance the cursor and try the next round.
	}
	return DocBatch{LastEtag: cursor, HasMore: true}, nil
}

// BuildAttachmentBatch is the attachment-stream analogue of BuildDocBatch.
func BuildAttachmentBatch(ctx context.Context, src storage.BatchSource, after storage.Etag, filter Filter, destServerInstanceID string) (AttachmentBatch, error) {
	cursor := after
	for round := 0; round < maxRebatchRounds; round++ {
		var merged []storage.AttachmentRecord
		var hasMore bool
		err := src.WithSnapshot(ctx, func(snap storage.Snapshot) error {
			live, err := snap.AttachmentsAfter(ctx, cursor, maxBatchRecords, maxBatchBytes)
			if err != nil {
				return err
			}
			tomb, err := snap.AttachmentTombstonesAfter(ctx, cursor, maxBatchRecords)
			if err != nil {
				return err
			}
			merged = mergeAttachmentRecords(live, tomb, maxBatchRecords)
			hasMore = len(live) >= maxBatchRecords || len(tomb) >= maxBatchRecords
			return nil
		})
		if err != nil {
			return AttachmentBatch{}, err
		}
		if len(merged) == 0 {
			return AttachmentBatch{LastEtag: cursor, HasMore: false}, nil
		}

		kept := merged[:0:0]
		for _, rec := range merged {
			if filter(destServerInstanceID, rec.Metadata.Key, rec.Metadata) {
				kept = append(kept, rec)
			}
		}
		cursor = merged[len(merged)-1].Etag

		if len(kept) > 0 || !hasMore {
			return AttachmentBatch{Records: kept, LastEtag: cursor, HasMore: hasMore}, nil
		}
	}
	return AttachmentBatch{LastEtag: cursor, HasMore: true}, nil
}

// mergeDocRecords interleaves two etag-ordered slices (live writes and
// tombstones) into one ascending stream and caps it at maxCount.
func mergeDocRecords(live, tomb []storage.DocRecord, maxCount int) []storage.DocRecord {
	out := make([]storage.DocRecord, 0, len(live)+len(tomb))
	out = append(out, live...)
	out = append(out, tomb...)
	sort.Slice(out, func(i, j int) bool { return out[i].Etag.Less(out[j].Etag) })
	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

func mergeAttachmentRecords(live, tomb []storage.AttachmentRecord, maxCount int) []storage.AttachmentRecord {
	out := make([]storage.AttachmentRecord, 0, len(live)+len(tomb))
	out = append(out, live...)
	out = append(out, tomb...)
	sort.Slice(out, func(i, j int) bool { return out[i].Etag.Less(out[j].Etag) })
	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}
