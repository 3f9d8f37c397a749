package storage

import "context"

// DocumentReader reads live documents and document tombstones in etag order.
// Implementations must honor maxCount and maxBytes (cumulative body size) and
// must never return a record with Etag <= after.
type DocumentReader interface {
	DocumentsAfter(ctx context.Context, after Etag, maxCount int, maxBytes int64) ([]DocRecord, error)
	DocTombstonesAfter(ctx context.Context, after Etag, maxCount int) ([]DocRecord, error)
}

// AttachmentReader is the attachment-stream analogue of DocumentReader.
type AttachmentReader interface {
	AttachmentsAfter(ctx context.Context, after Etag, maxCount int, maxBytes int64) ([]AttachmentRecord, error)
	AttachmentTombstonesAfter(ctx context.Context, after Etag, maxCount int) ([]AttachmentRecord, error)
}

// Snapshot hands the replication engine one bbolt read transaction's worth of
// consistency: a document deleted between a live read and a tombstone read
// must not appear in both.
type Snapshot interface {
	DocumentReader
	AttachmentReader
}

// BatchSource opens one consistent Snapshot per batch build, so live
// records and tombstones are read inside one transactional snapshot and a
// concurrent delete can't produce duplicates.
type BatchSource interface {
	WithSnapshot(ctx context.Context, fn func(Snapshot) error) error
	MostRecentDocumentEtag(ctx context.Context) (Etag, error)
}

// FailureStore persists DestinationFailureInfo documents, one per
// destination URL.
type FailureStore interface {
	PutFailure(ctx context.Context, destURL string, info DestinationFailureInfo) error
	DeleteFailure(ctx context.Context, destURL string) error
	GetFailure(ctx context.Context, destURL string) (DestinationFailureInfo, bool, error)
}

// ConfigStore reads the hot-reloadable replication configuration document.
type ConfigStore interface {
	LoadReplicationConfig(ctx context.Context) (ReplicationConfig, error)
}

// SourcePeerStore persists and pages through previously-seen source peers.
type SourcePeerStore interface {
	PutSourcePeer(ctx context.Context, record SourcePeerRecord) error
	ListSourcePeers(ctx context.Context, pageSize int, fn func([]SourcePeerRecord) error) error
}

// ReceivedCursorStore tracks, per source peer, the most recently accepted
// etag (in that peer's own stream, not ours) — what GET
// /replication/lastEtag reports back to a sender so it knows where to
// resume.
type ReceivedCursorStore interface {
	GetReceivedCursor(ctx context.Context, source string) (ReceivedCursor, error)
	PutReceivedCursor(ctx context.Context, source string, docEtag, attachmentEtag *Etag) error
}

// ReceivedCursor is the persisted counterpart of a source's progress.
type ReceivedCursor struct {
	LastDocumentEtag   Etag `json:"lastDocumentEtag"`
	LastAttachmentEtag Etag `json:"lastAttachmentEtag"`
}
