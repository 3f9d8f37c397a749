package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"docreplicator/internal/storage"
)

// KVHandler exposes the document/attachment CRUD surface a client talks to.
// It is the supplemental counterpart to the replication engine: the engine
// has nothing to replicate until something writes through here. Every
// mutation stamps a fresh Etag on the affected key.
type KVHandler struct {
	store   *storage.Store
	log     *logrus.Entry
	onWrite func() // notifies the scheduler a new write is available
}

// NewKVHandler creates a KVHandler. onWrite is called after every successful
// mutation so the replication scheduler wakes promptly instead of waiting
// out its idle timeout.
func NewKVHandler(store *storage.Store, log *logrus.Entry, onWrite func()) *KVHandler {
	return &KVHandler{store: store, log: log, onWrite: onWrite}
}

// Register mounts the document and attachment routes on r. Keys and ids are
// wildcard segments, since document keys routinely carry a collection prefix
// ("widgets/1") that a single-segment route parameter would not match.
func (h *KVHandler) Register(r *gin.Engine) {
	docs := r.Group("/kv")
	docs.GET("/*key", h.GetDocument)
	docs.PUT("/*key", h.PutDocument)
	docs.DELETE("/*key", h.DeleteDocument)

	atts := r.Group("/attachments")
	atts.GET("/*id", h.GetAttachment)
	atts.PUT("/*id", h.PutAttachment)
	atts.DELETE("/*id", h.DeleteAttachment)
}

// param returns the named wildcard parameter without the leading slash gin
// includes in wildcard matches.
func param(c *gin.Context, name string) string {
	return strings.TrimPrefix(c.Param(name), "/")
}

// PutDocument handles PUT /kv/*key. The request body is stored verbatim as
// the document body; Content-Type is recorded as metadata.
func (h *KVHandler) PutDocument(c *gin.Context) {
	key := param(c, "key")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
		return
	}

	rec, err := h.store.PutDocument(c.Request.Context(), key, body, c.ContentType())
	if err != nil {
		h.log.WithError(err).WithField("key", key).Error("put document failed")
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}
	h.notify()
	c.JSON(http.StatusOK, gin.H{"key": key, "etag": rec.Etag.String()})
}

// GetDocument handles GET /kv/*key.
func (h *KVHandler) GetDocument(c *gin.Context) {
	key := param(c, "key")
	rec, ok, err := h.store.GetDocument(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"Error": "key not found"})
		return
	}
	c.Data(http.StatusOK, rec.Metadata.ContentType, rec.Body)
}

// DeleteDocument handles DELETE /kv/*key.
func (h *KVHandler) DeleteDocument(c *gin.Context) {
	key := param(c, "key")
	if _, err := h.store.DeleteDocument(c.Request.Context(), key); err != nil {
		h.log.WithError(err).WithField("key", key).Error("delete document failed")
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}
	h.notify()
	c.JSON(http.StatusOK, gin.H{"deleted": key})
}

// PutAttachment handles PUT /attachments/*id.
func (h *KVHandler) PutAttachment(c *gin.Context) {
	id := param(c, "id")
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
		return
	}

	rec, err := h.store.PutAttachment(c.Request.Context(), id, data, c.ContentType())
	if err != nil {
		h.log.WithError(err).WithField("id", id).Error("put attachment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}
	h.notify()
	c.JSON(http.StatusOK, gin.H{"id": id, "etag": rec.Etag.String(), "size": rec.Size})
}

// GetAttachment handles GET /attachments/*id.
func (h *KVHandler) GetAttachment(c *gin.Context) {
	id := param(c, "id")
	rec, ok, err := h.store.GetAttachment(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"Error": "attachment not found"})
		return
	}
	c.Data(http.StatusOK, rec.Metadata.ContentType, rec.Data)
}

// DeleteAttachment handles DELETE /attachments/*id.
func (h *KVHandler) DeleteAttachment(c *gin.Context) {
	id := param(c, "id")
	if _, err := h.store.DeleteAttachment(c.Request.Context(), id); err != nil {
		h.log.WithError(err).WithField("id", id).Error("delete attachment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"Error": err.Error()})
		return
	}
	h.notify()
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *KVHandler) notify() {
	if h.onWrite != nil {
		h.onWrite()
	}
}
