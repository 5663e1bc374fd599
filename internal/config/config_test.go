package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingPathUsesDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ListenAddr != ":8765" || c.StackName != "main" {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestLoadPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("listen_addr: \":9000\"\npeers:\n  - ws://peer-1:8765/v1/ws\nsnapshot_every_batches: 50\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ListenAddr != ":9000" {
		t.Fatalf("listen = %s", c.ListenAddr)
	}
	if len(c.Peers) != 1 || c.Peers[0] != "ws://peer-1:8765/v1/ws" {
		t.Fatalf("peers = %v", c.Peers)
	}
	if c.SnapshotEveryBatches != 50 {
		t.Fatalf("snapshot interval = %d", c.SnapshotEveryBatches)
	}
	// Unset fields keep their defaults.
	if c.RequestBuffer != 64 || c.BatchWindowMs != 20 {
		t.Fatalf("normalized = %+v", c)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := Default()
	c.SnapshotEveryBatches = -1
	if err := c.Validate(); err == nil {
		t.Fatalf("negative snapshot interval accepted")
	}
	c = Default()
	c.Peers = []string{""}
	if err := c.Validate(); err == nil {
		t.Fatalf("empty peer accepted")
	}
}
