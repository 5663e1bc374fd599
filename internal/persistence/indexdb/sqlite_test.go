package indexdb

import (
	"path/filepath"
	"testing"
	"time"

	"gametable.ai/internal/host"
	"gametable.ai/internal/persistence/snapshot"
)

func TestBatchAndSnapshotIndexing(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	for i := 1; i <= 3; i++ {
		if err := idx.WriteBatch(host.BatchLogEntry{Seq: uint64(i), TS: int64(i), Digest: "d"}); err != nil {
			t.Fatalf("write batch: %v", err)
		}
	}
	idx.RecordSnapshot("/data/snapshots/t-1.snap.zst", snapshot.Header{
		Actor:       "t",
		ChangeCount: 9,
		Digest:      "snapdigest",
		SavedAtMs:   100,
	})
	idx.RecordSnapshot("/data/snapshots/t-2.snap.zst", snapshot.Header{
		Actor:       "t",
		ChangeCount: 14,
		Digest:      "newerdigest",
		SavedAtMs:   200,
	})

	// The writer is asynchronous; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := idx.BatchCount()
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		path, digest, ok, err := idx.LatestSnapshot("t")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if n == 3 && ok {
			if path != "/data/snapshots/t-2.snap.zst" || digest != "newerdigest" {
				t.Fatalf("latest = %s %s", path, digest)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("index never caught up: batches=%d snapshot_ok=%v", n, ok)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, _, ok, err := idx.LatestSnapshot("other"); err != nil || ok {
		t.Fatalf("unexpected snapshot for other actor: ok=%v err=%v", ok, err)
	}
}

func TestWritesAfterCloseAreNoOps(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := idx.WriteBatch(host.BatchLogEntry{Seq: 1}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	idx.RecordSnapshot("p", snapshot.Header{})
	if err := idx.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}
