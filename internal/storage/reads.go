package storage

import (
	"bytes"
	"context"
	"encoding/json"

	"go.etcd.io/bbolt"
)

// txSnapshot is a Snapshot bound to a single bbolt read transaction. All of
// its methods see the exact same point-in-time view, which is what lets
// BatchSource.WithSnapshot guarantee that a document deleted between a
// live read and a tombstone read never appears twice in one batch.
type txSnapshot struct {
	tx *bbolt.Tx
}

// seekAfter positions c just past the `after` key: if `after` itself is
// present it is skipped, since every *After query is strictly-greater-than.
func seekAfter(c *bbolt.Cursor, after Etag) ([]byte, []byte) {
	k, v := c.Seek(after[:])
	if k != nil && bytes.Equal(k, after[:]) {
		k, v = c.Next()
	}
	return k, v
}

func (t *txSnapshot) DocumentsAfter(ctx context.Context, after Etag, maxCount int, maxBytes int64) ([]DocRecord, error) {
	var out []DocRecord
	var total int64
	c := t.tx.Bucket(bucketDocs).Cursor()
	for k, v := seekAfter(c, after); k != nil && len(out) < maxCount; k, v = c.Next() {
		var rec DocRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, err
		}
		if len(out) > 0 && total+int64(len(rec.Body)) > maxBytes {
			break
		}
		rec.Kind = KindLive
		total += int64(len(rec.Body))
		out = append(out, rec)
	}
	return out, nil
}

func (t *txSnapshot) DocTombstonesAfter(ctx context.Context, after Etag, maxCount int) ([]DocRecord, error) {
	var out []DocRecord
	c := t.tx.Bucket(bucketDocTombstones).Cursor()
	for k, v := seekAfter(c, after); k != nil && len(out) < maxCount; k, v = c.Next() {
		var rec DocRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, err
		}
		rec.Kind = KindTombstone
		out = append(out, rec)
	}
	return out, nil
}

func (t *txSnapshot) AttachmentsAfter(ctx context.Context, after Etag, maxCount int, maxBytes int64) ([]AttachmentRecord, error) {
	var out []AttachmentRecord
	var total int64
	c := t.tx.Bucket(bucketAtts).Cursor()
	for k, v := seekAfter(c, after); k != nil && len(out) < maxCount; k, v = c.Next() {
		var rec AttachmentRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, err
		}
		if len(out) > 0 && total+rec.Size > maxBytes {
			break
		}
		rec.Kind = KindLive
		total += rec.Size
		out = append(out, rec)
	}
	return out, nil
}

func (t *txSnapshot) AttachmentTombstonesAfter(ctx context.Context, after Etag, maxCount int) ([]AttachmentRecord, error) {
	var out []AttachmentRecord
	c := t.tx.Bucket(bucketAttTombstones).Cursor()
	for k, v := seekAfter(c, after); k != nil && len(out) < maxCount; k, v = c.Next() {
		var rec AttachmentRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, err
		}
		rec.Kind = KindTombstone
		out = append(out, rec)
	}
	return out, nil
}

// WithSnapshot runs fn against one bbolt read transaction.
func (s *Store) WithSnapshot(ctx context.Context, fn func(Snapshot) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&txSnapshot{tx: tx})
	})
}

// MostRecentDocumentEtag is the informational "currentEtag" the Cursor
// Client reports to peers.
func (s *Store) MostRecentDocumentEtag(ctx context.Context) (Etag, error) {
	var max Etag
	err := s.db.View(func(tx *bbolt.Tx) error {
		max = lastEtagIn(tx, bucketDocs)
		if t := lastEtagIn(tx, bucketDocTombstones); t.Compare(max) > 0 {
			max = t
		}
		return nil
	})
	return max, err
}

// ─── Failure tracking persistence ──────────────────────────────────────────

func (s *Store) PutFailure(ctx context.Context, destURL string, info DestinationFailureInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReplFailures).Put([]byte(EscapeDestinationURL(destURL)), data)
	})
}

func (s *Store) DeleteFailure(ctx context.Context, destURL string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReplFailures).Delete([]byte(EscapeDestinationURL(destURL)))
	})
}

func (s *Store) GetFailure(ctx context.Context, destURL string) (DestinationFailureInfo, bool, error) {
	var info DestinationFailureInfo
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketReplFailures).Get([]byte(EscapeDestinationURL(destURL)))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &info)
	})
	return info, ok, err
}

// ─── Replication config ────────────────────────────────────────────────────

func (s *Store) LoadReplicationConfig(ctx context.Context) (ReplicationConfig, error) {
	var cfg ReplicationConfig
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketReplConfig).Get(keyReplConfig)
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &cfg)
	})
	return cfg, err
}

// PutReplicationConfig overwrites the replication configuration document.
// Config loading itself lives outside the replication engine; this exists
// so tests and the bootstrap flag in cmd/server can seed it.
func (s *Store) PutReplicationConfig(ctx context.Context, cfg ReplicationConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReplConfig).Put(keyReplConfig, data)
	})
}

// ─── Source peers ───────────────────────────────────────────────────────────

func (s *Store) PutSourcePeer(ctx context.Context, record SourcePeerRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReplSources).Put([]byte(record.Source), data)
	})
}

// ─── Received cursors (per-source progress, server side of the wire contract) ────────────

func (s *Store) GetReceivedCursor(ctx context.Context, source string) (ReceivedCursor, error) {
	var cur ReceivedCursor
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketReplReceived).Get([]byte(EscapeDestinationURL(source)))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &cur)
	})
	return cur, err
}

func (s *Store) PutReceivedCursor(ctx context.Context, source string, docEtag, attachmentEtag *Etag) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReplReceived)
		key := []byte(EscapeDestinationURL(source))

		var cur ReceivedCursor
		if v := b.Get(key); v != nil {
			if err := json.Unmarshal(v, &cur); err != nil {
				return err
			}
		}
		if docEtag != nil {
			cur.LastDocumentEtag = *docEtag
		}
		if attachmentEtag != nil {
			cur.LastAttachmentEtag = *attachmentEtag
		}
		data, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Store) ListSourcePeers(ctx context.Context, pageSize int, fn func([]SourcePeerRecord) error) error {
	if pageSize <= 0 {
		pageSize = 128
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketReplSources).Cursor()
		page := make([]SourcePeerRecord, 0, pageSize)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec SourcePeerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			page = append(page, rec)
			if len(page) == pageSize {
				if err := fn(page); err != nil {
					return err
				}
				page = page[:0]
			}
		}
		if len(page) > 0 {
			return fn(page)
		}
		return nil
	})
}
