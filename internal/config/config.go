// Package config loads the server's yaml configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	ActorID   string `yaml:"actor_id"`
	StackName string `yaml:"stack_name"`

	RequestBuffer int `yaml:"request_buffer"`
	EventBuffer   int `yaml:"event_buffer"`

	// Autosave a snapshot every N applied batches; 0 disables.
	SnapshotEveryBatches int `yaml:"snapshot_every_batches"`

	BatchWindowMs   int `yaml:"batch_window_ms"`
	CallTimeoutMs   int `yaml:"call_timeout_ms"`
	SyncIntervalSec int `yaml:"sync_interval_sec"`

	// Peer boundary websocket URLs to pull deltas from.
	Peers []string `yaml:"peers"`

	IndexDB bool `yaml:"index_db"`
}

func Default() Config {
	return Config{
		ListenAddr:           ":8765",
		DataDir:              "data",
		StackName:            "main",
		RequestBuffer:        64,
		EventBuffer:          256,
		SnapshotEveryBatches: 0,
		BatchWindowMs:        20,
		CallTimeoutMs:        5000,
		SyncIntervalSec:      5,
		IndexDB:              true,
	}
}

func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	c.Normalize()
	return c, c.Validate()
}

// Normalize fills zero values with defaults so a partial file works.
func (c *Config) Normalize() {
	d := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.StackName == "" {
		c.StackName = d.StackName
	}
	if c.RequestBuffer <= 0 {
		c.RequestBuffer = d.RequestBuffer
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.BatchWindowMs <= 0 {
		c.BatchWindowMs = d.BatchWindowMs
	}
	if c.CallTimeoutMs <= 0 {
		c.CallTimeoutMs = d.CallTimeoutMs
	}
	if c.SyncIntervalSec <= 0 {
		c.SyncIntervalSec = d.SyncIntervalSec
	}
}

func (c *Config) Validate() error {
	if c.SnapshotEveryBatches < 0 {
		return fmt.Errorf("snapshot_every_batches %d", c.SnapshotEveryBatches)
	}
	for _, p := range c.Peers {
		if p == "" {
			return fmt.Errorf("empty peer url")
		}
	}
	return nil
}

func (c Config) BatchWindow() time.Duration  { return time.Duration(c.BatchWindowMs) * time.Millisecond }
func (c Config) CallTimeout() time.Duration  { return time.Duration(c.CallTimeoutMs) * time.Millisecond }
func (c Config) SyncInterval() time.Duration { return time.Duration(c.SyncIntervalSec) * time.Second }
