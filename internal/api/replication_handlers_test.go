package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"docreplicator/internal/storage"
)

func newReplicationRouter(t *testing.T) (*gin.Engine, *storage.Store, *int) {
	s := openTestStore(t)
	notifyCount := 0
	r := gin.New()
	NewReplicationHandler(s, "self-instance", testLogger(), func() { notifyCount++ }).Register(r)
	return r, s, &notifyCount
}

func TestReplicationHandler_GetLastEtag_DefaultsToZero(t *testing.T) {
	r, _, _ := newReplicationRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/replication/lastEtag?from=peer-a", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "self-instance", body["serverInstanceId"])
	assert.Equal(t, storage.ZeroEtag.String(), body["lastDocumentEtag"])
	assert.Equal(t, storage.ZeroEtag.String(), body["lastAttachmentEtag"])
}

func TestReplicationHandler_GetLastEtag_MissingFromIs400(t *testing.T) {
	r, _, _ := newReplicationRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/replication/lastEtag", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplicationHandler_ReplicateDocs_AppliesAndAdvancesCursor(t *testing.T) {
	r, s, notifyCount := newReplicationRouter(t)

	docEtag := storage.NewEtagGenerator(9).Next()
	records := []storage.DocRecord{{Etag: docEtag, Metadata: storage.Metadata{Key: "k1"}, Body: []byte("v1")}}
	body, err := json.Marshal(records)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/replication/replicateDocs?from=peer-a&lastEtag="+docEtag.String(), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, *notifyCount)

	got, ok, err := s.GetDocument(req.Context(), "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", string(got.Body))

	cur, err := s.GetReceivedCursor(req.Context(), "peer-a")
	require.NoError(t, err)
	assert.Equal(t, docEtag, cur.LastDocumentEtag)
}

func TestReplicationHandler_ReplicateDocs_DeletedRecordTombstones(t *testing.T) {
	r, s, _ := newReplicationRouter(t)
	_, err := s.PutDocument(context.Background(), "k1", []byte("v1"), "")
	require.NoError(t, err)

	docEtag := storage.NewEtagGenerator(9).Next()
	records := []storage.DocRecord{{Etag: docEtag, Metadata: storage.Metadata{Key: "k1"}, Deleted: true}}
	body, err := json.Marshal(records)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/replication/replicateDocs?from=peer-a&lastEtag="+docEtag.String(), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, ok, err := s.GetDocument(req.Context(), "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplicationHandler_ReplicateAttachments_BSONPayload(t *testing.T) {
	r, s, _ := newReplicationRouter(t)

	attEtag := storage.NewEtagGenerator(3).Next()
	payload := struct {
		Attachments []storage.AttachmentRecord `bson:"attachments"`
	}{
		Attachments: []storage.AttachmentRecord{{ID: "att-1", Data: []byte("bin"), Size: 3}},
	}
	raw, err := bson.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/replication/replicateAttachments?from=peer-a&lastEtag="+attEtag.String(), bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/bson")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, ok, err := s.GetAttachment(req.Context(), "att-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bin", string(got.Data))
}

func TestReplicationHandler_Heartbeat_RegistersSource(t *testing.T) {
	r, s, _ := newReplicationRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/replication/heartbeat?from=peer-b", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var seen []string
	require.NoError(t, s.ListSourcePeers(req.Context(), 0, func(page []storage.SourcePeerRecord) error {
		for _, p := range page {
			seen = append(seen, p.Source)
		}
		return nil
	}))
	assert.Contains(t, seen, "peer-b")
}
