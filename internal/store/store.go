// Package store persists loan snapshots under caller-chosen keys.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iwvelando/loan-amortization/pkg/codec"
	"github.com/iwvelando/loan-amortization/pkg/constants"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no snapshot is stored under a key.
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalidKey is returned for keys that are empty, too long or contain
	// characters outside [A-Za-z0-9._-].
	ErrInvalidKey = errors.New("invalid snapshot key")
)

// Store saves and loads snapshots.
type Store interface {
	Save(ctx context.Context, key string, snapshot codec.Snapshot) error
	Load(ctx context.Context, key string) (codec.Snapshot, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a storage backend.
type Config struct {
	Backend       string        `yaml:"backend,omitempty"` // memory, sqlite, redis
	SQLitePath    string        `yaml:"sqlitePath,omitempty"`
	RedisAddr     string        `yaml:"redisAddr,omitempty"`
	RedisPassword string        `yaml:"redisPassword,omitempty"`
	RedisDB       int           `yaml:"redisDB,omitempty"`
	TTL           time.Duration `yaml:"ttl,omitempty"` // redis only; zero keeps snapshots forever
}

// New opens the backend named by cfg.Backend. An empty backend selects the
// in-memory store.
func New(ctx context.Context, logger *zap.Logger, cfg Config) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = constants.StorageBackendMemory
	}

	logger.Debug("opening snapshot store",
		zap.String("op", "store.New"),
		zap.String("backend", backend),
	)

	switch backend {
	case constants.StorageBackendMemory:
		return NewMemoryStore(), nil
	case constants.StorageBackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = constants.DefaultSQLitePath
		}
		return NewSQLiteStore(ctx, logger, path)
	case constants.StorageBackendRedis:
		return NewRedisStore(ctx, logger, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q: expected %s, %s or %s", cfg.Backend,
			constants.StorageBackendMemory, constants.StorageBackendSQLite, constants.StorageBackendRedis)
	}
}

// ValidateKey checks that key can be used with every backend.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	if len(key) > constants.MaxSnapshotKeyLength {
		return fmt.Errorf("%w: key exceeds %d characters", ErrInvalidKey, constants.MaxSnapshotKeyLength)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidKey, r)
		}
	}
	return nil
}
