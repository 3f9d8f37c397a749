package replication

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"docreplicator/internal/storage"
)

func TestShipper_ShipDocs_HappyPath(t *testing.T) {
	var gotRecords []storage.DocRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/replication/replicateDocs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRecords))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewShipper(srv.Client(), "our-url", "our-id", testLogger())
	records := []storage.DocRecord{{Metadata: storage.Metadata{Key: "a"}, Body: []byte("x")}}
	err := s.ShipDocs(context.Background(), Destination{EffectiveURL: srv.URL}, records, storage.ZeroEtag)
	require.NoError(t, err)
	require.Len(t, gotRecords, 1)
	assert.Equal(t, "a", gotRecords[0].Metadata.Key)
}

func TestShipper_ShipDocs_EmptyIsNoOp(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s := NewShipper(srv.Client(), "our-url", "our-id", testLogger())
	err := s.ShipDocs(context.Background(), Destination{EffectiveURL: srv.URL}, nil, storage.ZeroEtag)
	require.NoError(t, err)
	assert.False(t, called, "an empty batch must never be shipped; callers use PushCursor instead")
}

func TestShipper_ShipDocs_ExtractsErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"Error":"conflict with existing document"}`))
	}))
	defer srv.Close()

	s := NewShipper(srv.Client(), "our-url", "our-id", testLogger())
	records := []storage.DocRecord{{Metadata: storage.Metadata{Key: "a"}}}
	err := s.ShipDocs(context.Background(), Destination{EffectiveURL: srv.URL}, records, storage.ZeroEtag)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict with existing document")
}

func TestShipper_ShipAttachments_SetsIDsHeaderAndBSON(t *testing.T) {
	var gotHeader string
	var decoded struct {
		Attachments []storage.AttachmentRecord `bson:"attachments"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Attachment-Ids")
		assert.Equal(t, "application/bson", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, bson.Unmarshal(body, &decoded))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewShipper(srv.Client(), "our-url", "our-id", testLogger())
	records := []storage.AttachmentRecord{{ID: "att-1", Data: []byte("x")}, {ID: "att-2", Data: []byte("y")}}
	err := s.ShipAttachments(context.Background(), Destination{EffectiveURL: srv.URL}, records, storage.ZeroEtag)
	require.NoError(t, err)
	assert.Equal(t, "att-1,att-2", gotHeader)
	require.Len(t, decoded.Attachments, 2)
}
