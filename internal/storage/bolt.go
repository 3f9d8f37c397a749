package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names. Every "-latest" bucket maps a string key to the etag of its
// current record in the paired "-by-etag" bucket, so Put/Delete can find and
// retire the previous entry
// for that key the way a real document database's storage engine does: a
// document occupies exactly one slot in the etag-ordered stream at a time,
// at the etag of its most recent mutation.
var (
	bucketDocs           = []byte("docs-by-etag")
	bucketDocsLatest     = []byte("docs-latest")
	bucketDocTombstones  = []byte("doc-tombstones-by-etag")
	bucketDocTombLatest  = []byte("doc-tombstones-latest")
	bucketAtts           = []byte("attachments-by-etag")
	bucketAttsLatest     = []byte("attachments-latest")
	bucketAttTombstones  = []byte("attachment-tombstones-by-etag")
	bucketAttTombLatest  = []byte("attachment-tombstones-latest")
	bucketReplConfig     = []byte("replication-config")
	bucketReplFailures   = []byte("replication-failures")
	bucketReplSources    = []byte("replication-sources")
	bucketReplReceived   = []byte("replication-received-cursors")

	keyReplConfig = []byte("config")
)

var allBuckets = [][]byte{
	bucketDocs, bucketDocsLatest, bucketDocTombstones, bucketDocTombLatest,
	bucketAtts, bucketAttsLatest, bucketAttTombstones, bucketAttTombLatest,
	bucketReplConfig, bucketReplFailures, bucketReplSources, bucketReplReceived,
}

// Store is the bbolt-backed implementation of every interface in
// interfaces.go. It is the concrete local store collaborator the
// replication engine is built against.
type Store struct {
	db         *bbolt.DB
	nodeID     string
	docStream  *EtagGenerator
	attStream  *EtagGenerator
}

// Open opens (creating if necessary) a bbolt database at path and ensures
// every bucket this package uses exists.
func Open(path, nodeID string, epoch uint64) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}

	s := &Store{
		db:        db,
		nodeID:    nodeID,
		docStream: NewEtagGenerator(epoch),
		attStream: NewEtagGenerator(epoch),
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// lastEtagIn returns the greatest etag stored in bucket, or ZeroEtag if
// empty. bbolt keeps keys sorted lexicographically, which matches Etag's
// byte-wise comparison, so the last cursor entry is the maximum.
func lastEtagIn(tx *bbolt.Tx, bucket []byte) Etag {
	c := tx.Bucket(bucket).Cursor()
	k, _ := c.Last()
	if k == nil {
		return ZeroEtag
	}
	var e Etag
	copy(e[:], k)
	return e
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// NodeID returns this store's owning node id, used as the storage instance
// id the replication engine reports to peers as dbid.
func (s *Store) NodeID() string { return s.nodeID }

// ─── Public KV surface (writes) ────────────────────────────────────────────

// PutDocument stores or overwrites a document, retiring its previous etag
// slot (if any) and any tombstone left by a prior delete.
func (s *Store) PutDocument(ctx context.Context, key string, body []byte, contentType string) (DocRecord, error) {
	var rec DocRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := retireExisting(tx, bucketDocs, bucketDocsLatest, key); err != nil {
			return err
		}
		if err := retireExisting(tx, bucketDocTombstones, bucketDocTombLatest, key); err != nil {
			return err
		}
		rec = DocRecord{
			Etag:     s.docStream.Next(),
			Metadata: Metadata{Key: key, ContentType: contentType},
			Kind:     KindLive,
			Body:     body,
			StoredAt: time.Now().UTC(),
		}
		return putRecord(tx, bucketDocs, bucketDocsLatest, key, rec.Etag, rec)
	})
	return rec, err
}

// DeleteDocument replaces a document with a tombstone in the same stream.
func (s *Store) DeleteDocument(ctx context.Context, key string) (DocRecord, error) {
	var rec DocRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := retireExisting(tx, bucketDocs, bucketDocsLatest, key); err != nil {
			return err
		}
		if err := retireExisting(tx, bucketDocTombstones, bucketDocTombLatest, key); err != nil {
			return err
		}
		rec = DocRecord{
			Etag:     s.docStream.Next(),
			Metadata: Metadata{Key: key},
			Kind:     KindTombstone,
			Deleted:  true,
			StoredAt: time.Now().UTC(),
		}
		return putRecord(tx, bucketDocTombstones, bucketDocTombLatest, key, rec.Etag, rec)
	})
	return rec, err
}

// GetDocument returns the live document for key, or ok=false if it is
// missing or tombstoned.
func (s *Store) GetDocument(ctx context.Context, key string) (DocRecord, bool, error) {
	var rec DocRecord
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		etag, found := latestEtag(tx, bucketDocsLatest, key)
		if !found {
			return nil
		}
		data := tx.Bucket(bucketDocs).Get(etag[:])
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return rec, ok, err
}

// PutAttachment stores or overwrites an attachment's binary payload.
func (s *Store) PutAttachment(ctx context.Context, id string, data []byte, contentType string) (AttachmentRecord, error) {
	var rec AttachmentRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := retireExisting(tx, bucketAtts, bucketAttsLatest, id); err != nil {
			return err
		}
		if err := retireExisting(tx, bucketAttTombstones, bucketAttTombLatest, id); err != nil {
			return err
		}
		rec = AttachmentRecord{
			Etag:     s.attStream.Next(),
			ID:       id,
			Metadata: Metadata{Key: id, ContentType: contentType},
			Kind:     KindLive,
			Size:     int64(len(data)),
			Data:     data,
		}
		return putRecord(tx, bucketAtts, bucketAttsLatest, id, rec.Etag, rec)
	})
	return rec, err
}

// DeleteAttachment replaces an attachment with a zero-size tombstone.
func (s *Store) DeleteAttachment(ctx context.Context, id string) (AttachmentRecord, error) {
	var rec AttachmentRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := retireExisting(tx, bucketAtts, bucketAttsLatest, id); err != nil {
			return err
		}
		if err := retireExisting(tx, bucketAttTombstones, bucketAttTombLatest, id); err != nil {
			return err
		}
		rec = AttachmentRecord{
			Etag:     s.attStream.Next(),
			ID:       id,
			Metadata: Metadata{Key: id},
			Kind:     KindTombstone,
			Size:     0,
		}
		return putRecord(tx, bucketAttTombstones, bucketAttTombLatest, id, rec.Etag, rec)
	})
	return rec, err
}

// GetAttachment returns the live attachment for id, or ok=false if it is
// missing or tombstoned.
func (s *Store) GetAttachment(ctx context.Context, id string) (AttachmentRecord, bool, error) {
	var rec AttachmentRecord
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		etag, found := latestEtag(tx, bucketAttsLatest, id)
		if !found {
			return nil
		}
		data := tx.Bucket(bucketAtts).Get(etag[:])
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return rec, ok, err
}

// retireExisting removes whatever record `key` currently occupies in
// `latestBucket`/`dataBucket`, if any — called before inserting a new
// version so a document occupies exactly one etag slot at a time.
func retireExisting(tx *bbolt.Tx, dataBucket, latestBucket []byte, key string) error {
	lb := tx.Bucket(latestBucket)
	prev := lb.Get([]byte(key))
	if prev == nil {
		return nil
	}
	if err := tx.Bucket(dataBucket).Delete(prev); err != nil {
		return err
	}
	return lb.Delete([]byte(key))
}

func putRecord(tx *bbolt.Tx, dataBucket, latestBucket []byte, key string, etag Etag, rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := tx.Bucket(dataBucket).Put(etag[:], data); err != nil {
		return err
	}
	return tx.Bucket(latestBucket).Put([]byte(key), etag[:])
}

func latestEtag(tx *bbolt.Tx, latestBucket []byte, key string) (Etag, bool) {
	v := tx.Bucket(latestBucket).Get([]byte(key))
	if v == nil {
		return ZeroEtag, false
	}
	var e Etag
	copy(e[:], v)
	return e, true
}
