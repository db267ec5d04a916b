package session

import (
	"context"
	"fmt"
	"time"
)

// Config holds persistence configuration from YAML.
type Config struct {
	// Store specifies the storage backend type.
	// Options: "file", "redis", "firestore", "none"
	// Default: "file"
	Store string `yaml:"store" validate:"omitempty,oneof=file redis firestore none"`

	// BaseDir is the base directory for file-based storage.
	// Default: ~/.recall/sessions
	BaseDir string `yaml:"base_dir"`

	// Redis contains Redis settings for store "redis".
	Redis RedisConfig `yaml:"redis,omitempty"`

	// Firestore contains Firestore settings for store "firestore".
	Firestore FirestoreConfig `yaml:"firestore,omitempty"`

	// AutosaveSpec is a cron spec for periodic saves of live memories
	// (e.g. "@every 5m"). Empty disables autosave.
	AutosaveSpec string `yaml:"autosave"`
}

// DefaultConfig returns the default persistence configuration.
func DefaultConfig() Config {
	return Config{
		Store:        "file",
		AutosaveSpec: "@every 5m",
		Redis: RedisConfig{
			Prefix:     defaultRedisPrefix,
			SessionTTL: 7 * 24 * time.Hour,
		},
		Firestore: FirestoreConfig{
			Collection: defaultFirestoreCollection,
		},
	}
}

// NewBackend creates the backend selected by cfg.Store.
func NewBackend(ctx context.Context, cfg Config) (StorageBackend, error) {
	switch cfg.Store {
	case "", "file":
		return NewFileBackend(cfg.BaseDir)
	case "redis":
		return NewRedisBackend(ctx, cfg.Redis)
	case "firestore":
		return NewFirestoreBackend(ctx, cfg.Firestore)
	case "none":
		return NopBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}
