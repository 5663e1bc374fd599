// Package indexdb maintains a queryable sqlite index of applied batches and
// written snapshots. Writes go through a single goroutine; a full queue
// drops entries, the JSONL logs stay the source of truth.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gametable.ai/internal/host"
	"gametable.ai/internal/persistence/snapshot"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqBatch reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	batch    host.BatchLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Digest      string
	Path        string
	Actor       string
	ChangeCount int
	SavedAtMs   int64
	RecordedAt  string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS batches (
			seq INTEGER PRIMARY KEY,
			ts INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			digest TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batches_digest ON batches(digest);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			digest TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			actor TEXT NOT NULL,
			change_count INTEGER NOT NULL,
			saved_at_ms INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_actor ON snapshots(actor, saved_at_ms);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteBatch(entry host.BatchLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqBatch, batch: entry}:
	default:
		// Drop if the indexer falls behind.
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, hdr snapshot.Header) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Digest:      hdr.Digest,
		Path:        path,
		Actor:       hdr.Actor,
		ChangeCount: hdr.ChangeCount,
		SavedAtMs:   hdr.SavedAtMs,
		RecordedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	insertBatch, _ := s.db.Prepare(`INSERT OR REPLACE INTO batches(seq,ts,actions,digest,raw_json) VALUES(?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(digest,path,actor,change_count,saved_at_ms,recorded_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertBatch != nil {
			_ = insertBatch.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	for r := range s.ch {
		switch r.kind {
		case reqBatch:
			if insertBatch == nil {
				continue
			}
			raw, err := json.Marshal(r.batch)
			if err != nil {
				continue
			}
			_, _ = insertBatch.Exec(r.batch.Seq, r.batch.TS, len(r.batch.Actions), r.batch.Digest, string(raw))
		case reqSnapshot:
			if insertSnapshot == nil {
				continue
			}
			_, _ = insertSnapshot.Exec(r.snapshot.Digest, r.snapshot.Path, r.snapshot.Actor,
				r.snapshot.ChangeCount, r.snapshot.SavedAtMs, r.snapshot.RecordedAt)
		}
	}
}

// LatestSnapshot returns the most recently saved snapshot row for the actor,
// or ok=false when none is indexed.
func (s *SQLiteIndex) LatestSnapshot(actor string) (path string, digest string, ok bool, err error) {
	row := s.db.QueryRow(
		`SELECT path, digest FROM snapshots WHERE actor = ? ORDER BY saved_at_ms DESC LIMIT 1`, actor)
	if err := row.Scan(&path, &digest); err != nil {
		if err == sql.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	return path, digest, true, nil
}

// BatchCount reports indexed batch rows.
func (s *SQLiteIndex) BatchCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM batches`).Scan(&n)
	return n, err
}
