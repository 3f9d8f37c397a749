package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"docreplicator/internal/storage"
)

// CursorClient fetches a peer's view of our replication progress, and
// pushes our cursor forward explicitly when records were filtered out
// rather than shipped.
type CursorClient struct {
	httpClient *http.Client
	selfURL    string
	storageID  string
	log        *logrus.Entry
}

// NewCursorClient creates a CursorClient. selfURL and storageID are this
// node's own server URL and storage instance id, sent as `from`/`dbid` on
// every outbound call.
func NewCursorClient(httpClient *http.Client, selfURL, storageID string, log *logrus.Entry) *CursorClient {
	return &CursorClient{httpClient: httpClient, selfURL: selfURL, storageID: storageID, log: log}
}

// FetchRemoteCursor performs GET {destination}/replication/lastEtag. It
// returns nil (not an error) on any failure — the caller treats nil as
// "skip this destination this cycle".
func (c *CursorClient) FetchRemoteCursor(ctx context.Context, dest Destination, currentEtag storage.Etag) *SourceReplicationInfo {
	u := fmt.Sprintf("%s/replication/lastEtag?from=%s&currentEtag=%s&dbid=%s",
		dest.EffectiveURL, url.QueryEscape(c.selfURL), currentEtag.String(), url.QueryEscape(c.storageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.log.WithError(err).WithField("destination", dest.Key()).Error("building lastEtag request")
		return nil
	}
	dest.ApplyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("destination", dest.Key()).Warn("fetching remote cursor failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		c.log.WithField("destination", dest.Key()).Warn("replication not enabled on peer")
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.WithField("destination", dest.Key()).WithField("status", resp.StatusCode).Warn("fetching remote cursor failed")
		return nil
	}

	var info SourceReplicationInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		c.log.WithError(err).WithField("destination", dest.Key()).Warn("decoding remote cursor response failed")
		return nil
	}
	return &info
}

// PushCursor performs PUT {destination}/replication/lastEtag. It is used
// when records were entirely filtered out: the peer must still learn that
// our cursor advanced, or it would re-request the same filtered window
// forever. Errors are logged, not retried — the next cycle will reissue.
func (c *CursorClient) PushCursor(ctx context.Context, dest Destination, docEtag, attachmentEtag *storage.Etag) {
	q := url.Values{}
	q.Set("from", c.selfURL)
	q.Set("dbid", c.storageID)
	if docEtag != nil {
		q.Set("docEtag", docEtag.String())
	}
	if attachmentEtag != nil {
		q.Set("attachmentEtag", attachmentEtag.String())
	}
	u := fmt.Sprintf("%s/replication/lastEtag?%s", dest.EffectiveURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, nil)
	if err != nil {
		c.log.WithError(err).WithField("destination", dest.Key()).Error("building pushCursor request")
		return
	}
	dest.ApplyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("destination", dest.Key()).Warn("pushing cursor failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.WithField("destination", dest.Key()).WithField("status", resp.StatusCode).Warn("pushing cursor rejected by peer")
	}
}
