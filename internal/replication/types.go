// Package replication is the hard core of the node: a background scheduler
// that drives one worker per configured destination, pushing newly written
// documents and attachments to peers and tracking per-destination failure
// state. This file holds the shapes shared across the package.
package replication

import (
	"time"

	"docreplicator/internal/storage"
)

// SourceReplicationInfo is a peer's reply describing its view of our
// progress.
type SourceReplicationInfo struct {
	LastDocumentEtag   storage.Etag `json:"lastDocumentEtag"`
	LastAttachmentEtag storage.Etag `json:"lastAttachmentEtag"`
	ServerInstanceID   string       `json:"serverInstanceId"`
}

// Filter decides whether a record should be shipped to a destination.
// Filtered-out records still advance the cursor. destServerInstanceID is
// the value fetched from the peer's SourceReplicationInfo, letting the
// predicate hold per-destination filter state if it needs to.
type Filter func(destServerInstanceID string, key string, metadata storage.Metadata) bool

// AllowAll is the default filter: nothing is excluded.
func AllowAll(string, string, storage.Metadata) bool { return true }

// FailureStats is the read-only, observability-facing snapshot of the
// in-memory failure map.
type FailureStats struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
	LastError string    `json:"lastError"`
}
