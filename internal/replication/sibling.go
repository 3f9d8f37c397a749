package replication

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"docreplicator/internal/storage"
)

// siblingQueueSize bounds how many pending heartbeat notifications can be
// buffered; when the queue is full, further peers are skipped (with a
// warning) for this startup pass rather than blocking startup.
const siblingQueueSize = 256

// SiblingNotifier runs on startup, walking every peer this node has ever
// received a replicated write or a heartbeat from and sending each a best-effort
// heartbeat so that side of the relationship can re-establish its own
// cursor promptly instead of waiting out its own idle timeout.
type SiblingNotifier struct {
	peers      storage.SourcePeerStore
	httpClient *http.Client
	selfURL    string
	log        *logrus.Entry

	queue chan string
}

// NewSiblingNotifier creates a SiblingNotifier.
func NewSiblingNotifier(peers storage.SourcePeerStore, httpClient *http.Client, selfURL string, log *logrus.Entry) *SiblingNotifier {
	return &SiblingNotifier{
		peers:      peers,
		httpClient: httpClient,
		selfURL:    selfURL,
		log:        log,
		queue:      make(chan string, siblingQueueSize),
	}
}

// Run pages once through known source peers and feeds them to the drain
// loop, then returns; the drain loop keeps sending heartbeats until ctx is
// canceled. Call it once at startup in its own goroutine.
func (n *SiblingNotifier) Run(ctx context.Context) {
	go n.drain(ctx)

	err := n.peers.ListSourcePeers(ctx, 0, func(page []storage.SourcePeerRecord) error {
		for _, rec := range page {
			select {
			case n.queue <- rec.Source:
			case <-ctx.Done():
				return ctx.Err()
			default:
				n.log.WithField("peer", rec.Source).Warn("sibling notification queue full, dropping for this startup pass")
			}
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		n.log.WithError(err).Error("listing source peers for sibling notification")
	}
}

// drain sends a best-effort heartbeat to each queued peer in turn. Failures
// are logged, not retried — a peer that is actually reachable will send us
// its own writes and our regular scheduler cycle will pick it up anyway.
func (n *SiblingNotifier) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case peer := <-n.queue:
			n.notify(ctx, peer)
		}
	}
}

func (n *SiblingNotifier) notify(ctx context.Context, peerURL string) {
	u := fmt.Sprintf("%s/replication/heartbeat?from=%s", peerURL, url.QueryEscape(n.selfURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		n.log.WithError(err).WithField("peer", peerURL).Error("building heartbeat request")
		return
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.WithError(err).WithField("peer", peerURL).Debug("sibling heartbeat failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.log.WithField("peer", peerURL).WithField("status", resp.StatusCode).Debug("sibling heartbeat rejected")
	}
}

// DefaultHeartbeatClientTimeout bounds a single heartbeat call.
const DefaultHeartbeatClientTimeout = 10 * time.Second
