package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Open(path, "test-node", 1)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec, err := s.PutDocument(ctx, "widgets/1", []byte(`{"a":1}`), "application/json")
	require.NoError(t, err)
	assert.False(t, rec.Etag.IsZero())

	got, ok, err := s.GetDocument(ctx, "widgets/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), got.Body)
}

func TestStore_DeleteDocumentLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.PutDocument(ctx, "widgets/1", []byte("body"), "")
	require.NoError(t, err)

	tomb, err := s.DeleteDocument(ctx, "widgets/1")
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)

	_, ok, err := s.GetDocument(ctx, "widgets/1")
	require.NoError(t, err)
	assert.False(t, ok, "deleted document must not be visible via GetDocument")

	var tombstones []DocRecord
	require.NoError(t, s.WithSnapshot(ctx, func(snap Snapshot) error {
		var err error
		tombstones, err = snap.DocTombstonesAfter(ctx, ZeroEtag, 100)
		return err
	}))
	require.Len(t, tombstones, 1)
	assert.Equal(t, "widgets/1", tombstones[0].Metadata.Key)
}

func TestStore_PutAfterDeleteRetiresTombstone(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.PutDocument(ctx, "k", []byte("v1"), "")
	require.NoError(t, err)
	_, err = s.DeleteDocument(ctx, "k")
	require.NoError(t, err)
	_, err = s.PutDocument(ctx, "k", []byte("v2"), "")
	require.NoError(t, err)

	var live, tomb []DocRecord
	require.NoError(t, s.WithSnapshot(ctx, func(snap Snapshot) error {
		var err error
		live, err = snap.DocumentsAfter(ctx, ZeroEtag, 100, 1<<20)
		if err != nil {
			return err
		}
		tomb, err = snap.DocTombstonesAfter(ctx, ZeroEtag, 100)
		return err
	}))
	assert.Len(t, live, 1, "only the latest live version should remain")
	assert.Empty(t, tomb, "the stale tombstone must be retired when the key is re-written")
}

func TestStore_DocumentsAfter_StrictlyGreater(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var first Etag
	for i := 0; i < 5; i++ {
		rec, err := s.PutDocument(ctx, string(rune('a'+i)), []byte("x"), "")
		require.NoError(t, err)
		if i == 0 {
			first = rec.Etag
		}
	}

	var after []DocRecord
	require.NoError(t, s.WithSnapshot(ctx, func(snap Snapshot) error {
		var err error
		after, err = snap.DocumentsAfter(ctx, first, 100, 1<<20)
		return err
	}))
	assert.Len(t, after, 4)
	for _, rec := range after {
		assert.True(t, first.Less(rec.Etag))
	}
}

func TestStore_DocumentsAfter_RespectsMaxBytes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.PutDocument(ctx, string(rune('a'+i)), make([]byte, 1000), "")
		require.NoError(t, err)
	}

	var out []DocRecord
	require.NoError(t, s.WithSnapshot(ctx, func(snap Snapshot) error {
		var err error
		// Budget for ~2.5 records; at least one record must always be
		// returned even if it alone exceeds the budget.
		out, err = snap.DocumentsAfter(ctx, ZeroEtag, 100, 2500)
		return err
	}))
	assert.LessOrEqual(t, len(out), 3)
	assert.GreaterOrEqual(t, len(out), 1)
}

func TestStore_FailureRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.GetFailure(ctx, "http://peer")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutFailure(ctx, "http://peer", DestinationFailureInfo{Destination: "http://peer", FailureCount: 3}))
	info, ok, err := s.GetFailure(ctx, "http://peer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, info.FailureCount)

	require.NoError(t, s.DeleteFailure(ctx, "http://peer"))
	_, ok, err = s.GetFailure(ctx, "http://peer")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ReplicationConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	cfg, err := s.LoadReplicationConfig(ctx)
	require.NoError(t, err)
	assert.Empty(t, cfg.Destinations)

	want := ReplicationConfig{Destinations: []Destination{{URL: "http://peer1"}}}
	require.NoError(t, s.PutReplicationConfig(ctx, want))

	got, err := s.LoadReplicationConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_SourcePeers_PagedListing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PutSourcePeer(ctx, SourcePeerRecord{Source: string(rune('a' + i))}))
	}

	var seen int
	require.NoError(t, s.ListSourcePeers(ctx, 2, func(page []SourcePeerRecord) error {
		seen += len(page)
		assert.LessOrEqual(t, len(page), 2)
		return nil
	}))
	assert.Equal(t, 5, seen)
}

func TestEscapeDestinationURL(t *testing.T) {
	assert.Equal(t, "peer.example.com8080db", EscapeDestinationURL("http://peer.example.com:8080/db"))
	assert.Equal(t, "peer.example.com8080db", EscapeDestinationURL("HTTPS://Peer.Example.Com:8080/db"),
		"escaping is case-insensitive, matching destination URL equality")
}
