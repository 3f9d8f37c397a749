// cmd/server is the main entrypoint for a replication node: it wires the
// bbolt-backed local store, the replication engine (scheduler, worker,
// sibling notifier), and the gin HTTP server together into one running
// process.
//
// Example — two nodes replicating to each other:
//
//	./server --id nodeA --addr :8080 --data-dir /tmp/a --self-url http://localhost:8080
//	./server --id nodeB --addr :8081 --data-dir /tmp/b --self-url http://localhost:8081 \
//	         --bootstrap-config nodeB-destinations.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"docreplicator/internal/api"
	"docreplicator/internal/logging"
	"docreplicator/internal/metrics"
	"docreplicator/internal/replication"
	"docreplicator/internal/storage"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	nodeID := flag.String("id", "node1", "Unique node identifier, reported to peers as dbid")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/docreplicator", "Directory for the bbolt database file")
	selfURL := flag.String("self-url", "http://localhost:8080", "This node's own externally-reachable URL, reported to peers as `from`")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	bootstrapConfig := flag.String("bootstrap-config", "", "Path to a JSON ReplicationConfig to seed on startup if none is persisted yet")
	dataWait := flag.Duration("data-wait", 30*time.Second, "How long the scheduler debounces a burst of writes before running a data-driven cycle")
	idleWait := flag.Duration("idle-wait", 5*time.Minute, "Ceiling between scheduler cycles when no writes occur")
	shipTimeout := flag.Duration("ship-timeout", replication.DefaultShipTimeout, "HTTP timeout for replicateDocs/replicateAttachments calls")
	backupInterval := flag.Duration("backup-interval", 60*time.Second, "How often to write a consistent backup copy of the database")
	backupPath := flag.String("backup-path", "", "Path to write periodic backups to (disabled if empty)")
	flag.Parse()

	log := logging.New(*logLevel)
	serverLog := logging.Component(log, "server")

	// ── Storage ────────────────────────────────────────────────────────────
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		serverLog.WithError(err).Fatal("creating data directory")
	}
	store, err := storage.Open(*dataDir+"/node.db", *nodeID, uint64(time.Now().UnixNano()))
	if err != nil {
		serverLog.WithError(err).Fatal("opening store")
	}
	defer store.Close()

	if *bootstrapConfig != "" {
		bootstrapReplicationConfig(store, *bootstrapConfig, serverLog)
	}

	// ── Replication engine ───────────────────────────────────────────────────
	httpClient := &http.Client{Timeout: *shipTimeout}
	heartbeatClient := &http.Client{Timeout: replication.DefaultHeartbeatClientTimeout}

	registry := replication.NewRegistry(store, logging.Component(log, "registry"))
	failures := replication.NewFailureTracker(store, logging.Component(log, "failuretracker"))
	cursor := replication.NewCursorClient(httpClient, *selfURL, store.NodeID(), logging.Component(log, "cursor"))
	shipper := replication.NewShipper(httpClient, *selfURL, store.NodeID(), logging.Component(log, "shipper"))
	worker := replication.NewWorker(cursor, shipper, failures, store, logging.Component(log, "worker"))

	scheduler := replication.NewScheduler(registry, worker, failures, logging.Component(log, "scheduler"))
	scheduler.DataWaitTimeout = *dataWait
	scheduler.IdleWaitTimeout = *idleWait

	sibling := replication.NewSiblingNotifier(store, heartbeatClient, *selfURL, logging.Component(log, "sibling"))

	ctx, cancelEngine := context.WithCancel(context.Background())
	go sibling.Run(ctx)
	go scheduler.Run(ctx)

	// ── HTTP server ────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	apiLog := logging.Component(log, "api")
	router.Use(api.Logger(apiLog), api.Recovery(apiLog))

	kvHandler := api.NewKVHandler(store, apiLog, scheduler.Notify)
	kvHandler.Register(router)

	replHandler := api.NewReplicationHandler(store, *nodeID, apiLog, scheduler.Notify)
	replHandler.Register(router)

	adminHandler := api.NewAdminHandler(registry, failures)
	adminHandler.Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"node": *nodeID, "status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		serverLog.WithField("addr", *addr).WithField("node", *nodeID).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverLog.WithError(err).Fatal("server error")
		}
	}()

	// Periodic backup: bbolt handles its own durability, so this exists for
	// off-box backup/restore only.
	if *backupPath != "" {
		go func() {
			ticker := time.NewTicker(*backupInterval)
			defer ticker.Stop()
			for range ticker.C {
				if err := store.Backup(*backupPath); err != nil {
					serverLog.WithError(err).Warn("periodic backup failed")
				}
			}
		}()
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serverLog.WithField("node", *nodeID).Info("shutting down")
	cancelEngine()
	scheduler.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serverLog.WithError(err).Warn("server shutdown error")
	}
}

// bootstrapReplicationConfig seeds the replication-config document from a
// local JSON file the first time this node starts. Destination
// configuration is hot-reloadable storage state, not a flag, so this only
// runs when nothing is persisted yet.
func bootstrapReplicationConfig(store *storage.Store, path string, log *logrus.Entry) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Warn("reading bootstrap replication config")
		return
	}
	var cfg storage.ReplicationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.WithError(err).Warn("parsing bootstrap replication config")
		return
	}
	existing, err := store.LoadReplicationConfig(context.Background())
	if err == nil && len(existing.Destinations) > 0 {
		return
	}
	if err := store.PutReplicationConfig(context.Background(), cfg); err != nil {
		log.WithError(err).Warn("seeding bootstrap replication config")
		return
	}
	fmt.Printf("seeded replication config from %s with %d destination(s)\n", path, len(cfg.Destinations))
}
