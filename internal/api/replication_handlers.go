package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"docreplicator/internal/storage"
)

// ReplicationHandler is the server (receiving) side of the replication
// wire contract: the endpoints a *peer* calls on this node when this node
// is the replication destination. It is distinct from the Cursor
// Client/Shipper in internal/replication, which are the client side this
// node uses against its own configured destinations.
type ReplicationHandler struct {
	store   *storage.Store
	selfID  string
	log     *logrus.Entry
	onWrite func()
}

// NewReplicationHandler creates a ReplicationHandler. selfID is reported as
// ServerInstanceID in lastEtag responses.
func NewReplicationHandler(store *storage.Store, selfID string, log *logrus.Entry, onWrite func()) *ReplicationHandler {
	return &ReplicationHandler{store: store, selfID: selfID, log: log, onWrite: onWrite}
}

// Register mounts the peer-facing replication endpoints on r.
func (h *ReplicationHandler) Register(r *gin.Engine) {
	repl := r.Group("/replication")
	repl.GET("/lastEtag", h.GetLastEtag)
	repl.PUT("/lastEtag", h.PutLastEtag)
	repl.POST("/replicateDocs", h.ReplicateDocs)
	repl.POST("/replicateAttachments", h.ReplicateAttachments)
	repl.POST("/heartbeat", h.Heartbeat)
}

// GetLastEtag handles GET /replication/lastEtag?from=&currentEtag=&dbid=. It
// answers with this node's view of how far it has accepted records from
// `from`, so the caller (a Cursor Client) knows where to resume.
func (h *ReplicationHandler) GetLastEtag(c *gin.Context) {
	from := c.Query("from")
	if from == "" {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "missing from parameter"})
		return
	}

	cur, err := h.store.GetReceivedCursor(c.Request.Context(), from)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lastDocumentEtag":   cur.LastDocumentEtag,
		"lastAttachmentEtag": cur.LastAttachmentEtag,
		"serverInstanceId":   h.selfID,
	})
}

// PutLastEtag handles PUT /replication/lastEtag?from=&dbid=&docEtag=&attachmentEtag=.
// A sender calls this instead of replicateDocs/replicateAttachments when an
// entire batch was filtered out, so this node's recorded cursor still
// advances.
func (h *ReplicationHandler) PutLastEtag(c *gin.Context) {
	from := c.Query("from")
	if from == "" {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "missing from parameter"})
		return
	}

	docEtag, err := parseOptionalEtag(c.Query("docEtag"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
		return
	}
	attEtag, err := parseOptionalEtag(c.Query("attachmentEtag"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
		return
	}

	if err := h.store.PutReceivedCursor(c.Request.Context(), from, docEtag, attEtag); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ReplicateDocs handles POST /replication/replicateDocs?from=&dbid=&lastEtag=.
// The body is the JSON document batch produced by a Shipper.
func (h *ReplicationHandler) ReplicateDocs(c *gin.Context) {
	from := c.Query("from")
	if from == "" {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "missing from parameter"})
		return
	}
	lastEtag, err := parseRequiredEtag(c.Query("lastEtag"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
		return
	}

	var records []storage.DocRecord
	if err := json.NewDecoder(c.Request.Body).Decode(&records); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "decoding document batch: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	for _, rec := range records {
		var applyErr error
		if rec.Deleted {
			_, applyErr = h.store.DeleteDocument(ctx, rec.Metadata.Key)
		} else {
			_, applyErr = h.store.PutDocument(ctx, rec.Metadata.Key, rec.Body, rec.Metadata.ContentType)
		}
		if applyErr != nil {
			h.log.WithError(applyErr).WithField("key", rec.Metadata.Key).Error("applying replicated document failed")
			c.JSON(http.StatusInternalServerError, gin.H{"Error": applyErr.Error()})
			return
		}
	}

	if err := h.store.PutReceivedCursor(ctx, from, &lastEtag, nil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}
	h.registerSource(ctx, from)
	h.notify()
	c.Status(http.StatusNoContent)
}

// ReplicateAttachments handles
// POST /replication/replicateAttachments?from=&dbid=&lastEtag=. The body is
// BSON-encoded; Attachment-Ids carries the ids in order for diagnostics.
func (h *ReplicationHandler) ReplicateAttachments(c *gin.Context) {
	from := c.Query("from")
	if from == "" {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "missing from parameter"})
		return
	}
	lastEtag, err := parseRequiredEtag(c.Query("lastEtag"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
		return
	}

	var payload struct {
		Attachments []storage.AttachmentRecord `bson:"attachments"`
	}
	if err := bson.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "decoding attachment batch: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	for _, rec := range payload.Attachments {
		var applyErr error
		if rec.Kind == storage.KindTombstone {
			_, applyErr = h.store.DeleteAttachment(ctx, rec.ID)
		} else {
			_, applyErr = h.store.PutAttachment(ctx, rec.ID, rec.Data, rec.Metadata.ContentType)
		}
		if applyErr != nil {
			h.log.WithError(applyErr).WithField("id", rec.ID).Error("applying replicated attachment failed")
			c.JSON(http.StatusInternalServerError, gin.H{"Error": applyErr.Error()})
			return
		}
	}

	if err := h.store.PutReceivedCursor(ctx, from, nil, &lastEtag); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}
	h.registerSource(ctx, from)
	h.notify()
	c.Status(http.StatusNoContent)
}

// Heartbeat handles POST /replication/heartbeat?from=. It is how a node
// learns of a sibling without ever having replicated data from it yet,
// feeding the Sibling Notifier's peer list on the next restart.
func (h *ReplicationHandler) Heartbeat(c *gin.Context) {
	from := c.Query("from")
	if from == "" {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "missing from parameter"})
		return
	}
	h.registerSource(c.Request.Context(), from)
	c.Status(http.StatusNoContent)
}

// registerSource records that `source` has sent us data (or a heartbeat),
// best-effort — failure here must not fail the replication call itself.
func (h *ReplicationHandler) registerSource(ctx context.Context, source string) {
	if err := h.store.PutSourcePeer(ctx, storage.SourcePeerRecord{Source: source}); err != nil {
		h.log.WithError(err).WithField("source", source).Warn("recording source peer failed")
	}
}

func (h *ReplicationHandler) notify() {
	if h.onWrite != nil {
		h.onWrite()
	}
}

func parseOptionalEtag(raw string) (*storage.Etag, error) {
	if raw == "" {
		return nil, nil
	}
	e, err := storage.ParseEtag(raw)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func parseRequiredEtag(raw string) (storage.Etag, error) {
	if raw == "" {
		return storage.ZeroEtag, nil
	}
	return storage.ParseEtag(raw)
}
