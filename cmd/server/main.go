package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"gametable.ai/internal/config"
	"gametable.ai/internal/host"
	"gametable.ai/internal/persistence/indexdb"
	persistlog "gametable.ai/internal/persistence/log"
	"gametable.ai/internal/persistence/snapshot"
	"gametable.ai/internal/protocol"
	"gametable.ai/internal/transport/ws"
)

func main() {
	var (
		cfgPath    = flag.String("config", "", "path to config.yaml (optional)")
		addr       = flag.String("addr", "", "listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		actorID    = flag.String("actor", "", "actor id (overrides config; default: random)")
		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *actorID != "" {
		cfg.ActorID = *actorID
	}
	if *disableDB {
		cfg.IndexDB = false
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)

	var idx *indexdb.SQLiteIndex
	if cfg.IndexDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	}

	batchLog := persistlog.NewBatchLogger(cfg.DataDir)
	defer batchLog.Close()

	snapSink := make(chan host.SnapshotData, 4)

	h := host.New(host.Config{
		Logger:        logger,
		RequestBuffer: cfg.RequestBuffer,
		EventBuffer:   cfg.EventBuffer,
		ActionLog:     teeBatchLog{batchLog, idx},
		SnapshotEvery: cfg.SnapshotEveryBatches,
		SnapshotSink:  snapSink,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	// Snapshot writer: drains the sink off the boundary goroutine.
	go func() {
		for data := range snapSink {
			path := filepath.Join(cfg.DataDir, "snapshots",
				fmt.Sprintf("%s-%d.snap.zst", data.Actor, time.Now().UnixMilli()))
			hdr := snapshot.Header{
				Actor:       data.Actor,
				ChangeCount: data.ChangeCount,
				Digest:      data.Digest,
				SavedAtMs:   time.Now().UnixMilli(),
			}
			if err := snapshot.Write(path, snapshot.FileV1{Header: hdr, Doc: data.Doc}); err != nil {
				logger.Printf("write snapshot: %v", err)
				continue
			}
			idx.RecordSnapshot(path, hdr)
			logger.Printf("snapshot written path=%s changes=%d digest=%s", path, data.ChangeCount, short(data.Digest))
		}
	}()

	client := host.NewClient(h,
		host.WithLogger(logger),
		host.WithTimeout(cfg.CallTimeout()),
		host.WithBatchWindow(cfg.BatchWindow()),
	)

	var snapBytes []byte
	toLoad := strings.TrimSpace(*snapPath)
	if toLoad == "" && *loadLatest {
		toLoad = latestSnapshot(filepath.Join(cfg.DataDir, "snapshots"))
	}
	if toLoad != "" {
		snap, err := snapshot.Read(toLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		snapBytes = snap.Doc
		logger.Printf("resuming from %s actor=%s changes=%d", toLoad, snap.Header.Actor, snap.Header.ChangeCount)
	}

	info, err := client.Init(ctx, protocol.InitParams{
		ActorID:   cfg.ActorID,
		StackName: cfg.StackName,
		Snapshot:  snapBytes,
	})
	if err != nil {
		logger.Fatalf("init: %v", err)
	}
	logger.Printf("ready actor=%s changes=%d digest=%s", info.ActorID, info.ChangeCount, short(info.Digest))

	server := ws.NewServer(client, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", server.Handler())
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http: %v", err)
		}
	}()

	if len(cfg.Peers) > 0 {
		syncer := ws.NewSyncer(client, cfg.Peers, cfg.SyncInterval(), logger)
		go syncer.Run(ctx)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Printf("signal %v, shutting down", s)
	case err := <-runErr:
		logger.Printf("boundary exited: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = client.Shutdown(shutdownCtx, 3*time.Second)
	close(snapSink)
}

// teeBatchLog fans each batch entry to the JSONL log and the sqlite index.
type teeBatchLog struct {
	jsonl *persistlog.BatchLogger
	idx   *indexdb.SQLiteIndex
}

func (t teeBatchLog) LogBatch(entry host.BatchLogEntry) error {
	_ = t.idx.WriteBatch(entry)
	return t.jsonl.LogBatch(entry)
}

func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
