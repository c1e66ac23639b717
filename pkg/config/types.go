package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Identity  IdentityConfig  `yaml:"identity"`
	Logging   LoggingConfig   `yaml:"logging"`
	Policy    PolicyConfig    `yaml:"policy"`
	Coalescer CoalescerConfig `yaml:"coalescer"`
	Remote    RemoteConfig    `yaml:"remote"`
	Sweep     SweepConfig     `yaml:"sweep"`
}

// ServerConfig holds the localhost API listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StorageConfig holds the device-local database settings.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
	// CacheSize is the block cache size for the local database, e.g.
	// "32MB". Zero keeps the engine default.
	CacheSize SizeBytes `yaml:"cache_size"`
}

// IdentityConfig identifies the viewing user and this device. The device
// id scopes local tombstones; they are never synced across devices.
type IdentityConfig struct {
	UserID   string `yaml:"user_id"`
	DeviceID string `yaml:"device_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// PolicyConfig holds the deletion/edit policy windows.
type PolicyConfig struct {
	RecallWindow Duration `yaml:"recall_window"`
	EditWindow   Duration `yaml:"edit_window"`
}

// CoalescerConfig controls update coalescing and the event pipeline.
type CoalescerConfig struct {
	MinInterval   Duration `yaml:"min_interval"`
	QueueCapacity int      `yaml:"queue_capacity"`
	Workers       int      `yaml:"workers"`
}

// RemoteConfig holds the remote document-store connection settings.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	RPS     float64  `yaml:"rps"`
	Burst   int      `yaml:"burst"`
	Timeout Duration `yaml:"timeout"`
	// PollInterval is how often the feed endpoint is polled for new
	// summary events.
	PollInterval Duration `yaml:"poll_interval"`
	// Standalone replaces the remote client with an in-process store,
	// for development and tests.
	Standalone bool `yaml:"standalone"`
}

// SweepConfig holds configuration for the local-store sweep runner.
type SweepConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// MaxAge is how long cleared-chat message tombstones and stale cached
	// summaries are kept before pruning.
	MaxAge Duration `yaml:"max_age"`
	DryRun bool     `yaml:"dry_run"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
