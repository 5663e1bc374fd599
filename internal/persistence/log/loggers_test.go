package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gametable.ai/internal/host"
	"gametable.ai/internal/protocol"
)

func TestBatchLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewBatchLogger(dir)

	for i := 1; i <= 3; i++ {
		entry := host.BatchLogEntry{
			Seq: uint64(i),
			TS:  1724990000000 + int64(i),
			Actions: []protocol.ActionRequest{
				{Action: "STACK_DRAW", Payload: json.RawMessage(`{"count":1}`)},
			},
			Digest: "d",
		}
		if err := l.LogBatch(entry); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := os.ReadDir(filepath.Join(dir, "batches"))
	if err != nil || len(files) != 1 {
		t.Fatalf("batch files = %v, err %v", files, err)
	}
	name := files[0].Name()
	if !strings.HasPrefix(name, "batches-") || !strings.HasSuffix(name, ".jsonl.zst") {
		t.Fatalf("file name = %s", name)
	}

	entries, err := ReadBatches(filepath.Join(dir, "batches", name))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			t.Fatalf("entry %d seq = %d", i, e.Seq)
		}
		if len(e.Actions) != 1 || e.Actions[0].Action != "STACK_DRAW" {
			t.Fatalf("entry %d actions = %+v", i, e.Actions)
		}
	}
}
