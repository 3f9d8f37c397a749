package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"docreplicator/internal/storage"
)

// DefaultShipTimeout bounds a single replicateDocs/replicateAttachments call.
const DefaultShipTimeout = 60 * time.Second

// Shipper POSTs a built batch to a destination's wire endpoints. Documents
// travel as JSON (matching the rest of the public API); attachment
// payloads travel as BSON, since they carry arbitrary binary bodies that
// the JSON envelope would have to base64-inflate.
type Shipper struct {
	httpClient *http.Client
	selfURL    string
	storageID  string
	log        *logrus.Entry
}

// NewShipper creates a Shipper. httpClient's Timeout should be
// DefaultShipTimeout or a configured override.
func NewShipper(httpClient *http.Client, selfURL, storageID string, log *logrus.Entry) *Shipper {
	return &Shipper{httpClient: httpClient, selfURL: selfURL, storageID: storageID, log: log}
}

type wireErrorBody struct {
	Error string `json:"Error"`
}

// ShipDocs POSTs a document batch to dest's replicateDocs endpoint. An empty
// records slice is not shipped — the caller uses PushCursor instead.
func (s *Shipper) ShipDocs(ctx context.Context, dest Destination, records []storage.DocRecord, lastEtag storage.Etag) error {
	if len(records) == 0 {
		return nil
	}
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal document batch: %w", err)
	}

	u := fmt.Sprintf("%s/replication/replicateDocs?%s", dest.EffectiveURL, s.query(lastEtag))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building replicateDocs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	dest.ApplyAuth(req)

	return s.do(req, dest)
}

// ShipAttachments POSTs an attachment batch to dest's replicateAttachments
// endpoint, BSON-encoded, with an Attachment-Ids header listing every
// attachment id in the batch in order.
func (s *Shipper) ShipAttachments(ctx context.Context, dest Destination, records []storage.AttachmentRecord, lastEtag storage.Etag) error {
	if len(records) == 0 {
		return nil
	}
	body, err := bson.Marshal(struct {
		Attachments []storage.AttachmentRecord `bson:"attachments"`
	}{Attachments: records})
	if err != nil {
		return fmt.Errorf("marshal attachment batch: %w", err)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	u := fmt.Sprintf("%s/replication/replicateAttachments?%s", dest.EffectiveURL, s.query(lastEtag))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building replicateAttachments request: %w", err)
	}
	req.Header.Set("Content-Type", "application/bson")
	req.Header.Set("Attachment-Ids", strings.Join(ids, ","))
	dest.ApplyAuth(req)

	return s.do(req, dest)
}

func (s *Shipper) query(lastEtag storage.Etag) string {
	q := url.Values{}
	q.Set("from", s.selfURL)
	q.Set("dbid", s.storageID)
	q.Set("lastEtag", lastEtag.String())
	return q.Encode()
}

func (s *Shipper) do(req *http.Request, dest Destination) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shipping to %s: %w", dest.Key(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var wireErr wireErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if jsonErr := json.Unmarshal(data, &wireErr); jsonErr == nil && wireErr.Error != "" {
		return fmt.Errorf("%s rejected batch (%d): %s", dest.Key(), resp.StatusCode, wireErr.Error)
	}
	return fmt.Errorf("%s rejected batch: status %d", dest.Key(), resp.StatusCode)
}
