package storage

import "time"

// RecordKind distinguishes a live document/attachment write from a tombstone
// marking a deletion. Tombstones share the same etag-ordered stream as live
// writes.
type RecordKind int

const (
	KindLive RecordKind = iota
	KindTombstone
)

// Metadata carries the bookkeeping fields every record has regardless of
// kind: its key and content type. It is deliberately small; on the wire it
// is serialized as the record's @metadata field, next to the record's Etag.
type Metadata struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType,omitempty"`
}

// DocRecord is one element of a document batch: either a live document body
// or a tombstone (Kind == KindTombstone, Body nil).
type DocRecord struct {
	Etag     Etag       `json:"etag"`
	Metadata Metadata   `json:"@metadata"`
	Kind     RecordKind `json:"-"`
	Body     []byte     `json:"body,omitempty"`
	Deleted  bool       `json:"deleted,omitempty"`
	StoredAt time.Time  `json:"storedAt"`
}

// AttachmentRecord is one element of an attachment batch. Live attachments
// with nonzero size carry their binary payload; tombstones carry none.
type AttachmentRecord struct {
	Etag     Etag       `json:"@etag"`
	ID       string     `json:"@id"`
	Metadata Metadata   `json:"@metadata"`
	Kind     RecordKind `json:"-"`
	Size     int64      `json:"size"`
	Data     []byte     `json:"data,omitempty"`
}

// Destination is a peer node this node replicates to. Equality is
// case-insensitive on URL.
type Destination struct {
	URL                   string       `json:"url"`
	Database              string       `json:"database,omitempty"`
	Username              string       `json:"username,omitempty"`
	Password              string       `json:"password,omitempty"`
	Domain                string       `json:"domain,omitempty"`
	APIKey                string       `json:"apiKey,omitempty"`
	TransitiveReplication bool         `json:"transitiveReplicationBehavior,omitempty"`
	FilterRules           []FilterRule `json:"filterRules,omitempty"`
}

// FilterRule is one destination-specific rule used to decide whether a
// record should be shipped. Collection is matched against Metadata.Key's
// collection segment; an empty Collection matches every record.
type FilterRule struct {
	Collection string `json:"collection,omitempty"`
	Exclude    bool   `json:"exclude,omitempty"`
}

// ReplicationConfig is the local configuration document read fresh on every
// scheduler cycle.
type ReplicationConfig struct {
	Destinations []Destination `json:"destinations"`
}

// FailureCount is the in-memory, per-destination failure record.
type FailureCount struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
	LastError string    `json:"lastError"`
}

// DestinationFailureInfo is the persisted counterpart of FailureCount. Its
// presence means the destination has accumulated at least one unreset
// failure.
type DestinationFailureInfo struct {
	Destination  string `json:"destination"`
	FailureCount int    `json:"failureCount"`
}

// SourcePeerRecord is a previously-seen source peer, consumed on startup by
// the Sibling Notifier.
type SourcePeerRecord struct {
	Source string `json:"source"`
}
