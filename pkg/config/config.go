package config

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/jeeves/pkg/chat"
)

// Config is the layered runtime configuration: code defaults, overridden by
// the YAML config file, overridden by a persisted JSON overrides file that
// the application writes at runtime. Each layer only touches the keys it
// actually contains.
type Config struct {
	Logging LoggingConfig     `yaml:"logging" json:"logging"`
	Cache   CacheConfig       `yaml:"cache" json:"cache"`
	Worker  WorkerConfig      `yaml:"worker" json:"worker"`
	Storage StorageConfig     `yaml:"storage" json:"storage"`
	Mongo   chat.MongoConfig  `yaml:"mongo" json:"mongo"`
	SQLite  chat.SQLiteConfig `yaml:"sqlite" json:"sqlite"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type CacheConfig struct {
	MaxMessagesPerSession int    `yaml:"max_messages_per_session" json:"max_messages_per_session"`
	DiskPath              string `yaml:"disk_path" json:"disk_path"`
	FlushEnabled          bool   `yaml:"flush_enabled" json:"flush_enabled"`
}

type WorkerConfig struct {
	FlushIntervalSeconds float64 `yaml:"flush_interval_seconds" json:"flush_interval_seconds"`
	BatchSize            int     `yaml:"batch_size" json:"batch_size"`
}

// StorageConfig selects the durable sink backend: "mongo", "sqlite" or
// "none".
type StorageConfig struct {
	Backend string `yaml:"backend" json:"backend"`
}

func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Cache: CacheConfig{
			MaxMessagesPerSession: 75,
			DiskPath:              filepath.Join("data", "cache", "chat_sessions"),
			FlushEnabled:          true,
		},
		Worker: WorkerConfig{
			FlushIntervalSeconds: 1.0,
			BatchSize:            100,
		},
		Storage: StorageConfig{
			Backend: "none",
		},
		Mongo: chat.MongoConfig{
			ChatCollection: "chat_messages",
			TTLDays:        30,
		},
		SQLite: chat.SQLiteConfig{
			TTLDays: 30,
		},
	}
}

// OverridesPath returns the JSON overrides path that accompanies a config
// file: the same path with the extension replaced by ".overrides.json".
func OverridesPath(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + ".overrides.json"
}

// Load builds the layered configuration. A missing config or overrides file
// is not an error (the earlier layers apply); a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults apply
	case err != nil:
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", path)
		}
	}

	overridesPath := OverridesPath(path)
	raw, err = os.ReadFile(overridesPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, errors.Wrapf(err, "config: read %s", overridesPath)
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", overridesPath)
		}
	}

	return cfg, nil
}

func (c Config) CacheOptions() chat.CacheOptions {
	return chat.CacheOptions{
		MaxMessagesPerSession: c.Cache.MaxMessagesPerSession,
		DiskPath:              c.Cache.DiskPath,
		FlushEnabled:          c.Cache.FlushEnabled,
	}
}

func (c Config) WorkerOptions() chat.WorkerOptions {
	return chat.WorkerOptions{
		FlushInterval: time.Duration(c.Worker.FlushIntervalSeconds * float64(time.Second)),
		BatchSize:     c.Worker.BatchSize,
	}
}

// OpenSink constructs the configured durable sink.
func (c Config) OpenSink(ctx context.Context) (chat.Sink, error) {
	switch c.Storage.Backend {
	case "mongo":
		return chat.NewMongoSink(ctx, c.Mongo)
	case "sqlite":
		return chat.NewSQLiteSink(c.SQLite)
	case "", "none":
		return chat.NewDisabledSink(), nil
	default:
		return nil, errors.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
}
