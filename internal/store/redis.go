package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/iwvelando/loan-amortization/pkg/codec"
	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps snapshots as JSON strings in Redis.
type RedisStore struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
}

// NewRedisStore connects to cfg.RedisAddr and verifies the connection.
func NewRedisStore(ctx context.Context, logger *zap.Logger, cfg Config) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = constants.DefaultRedisAddr
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("connected to redis snapshot store",
		zap.String("op", "store.NewRedisStore"),
		zap.String("addr", cfg.RedisAddr),
		zap.Int("db", cfg.RedisDB),
		zap.Duration("ttl", cfg.TTL),
	)

	return &RedisStore{client: client, cfg: cfg, logger: logger}, nil
}

// redisKey namespaces key so snapshots do not collide with other data.
func redisKey(key string) string {
	return constants.RedisKeyPrefix + key
}

// Save writes snapshot under key with the configured TTL.
func (r *RedisStore) Save(ctx context.Context, key string, snapshot codec.Snapshot) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	payload, err := codec.MarshalSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKey(key), payload, r.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}

	r.logger.Debug("saved snapshot",
		zap.String("op", "store.RedisStore.Save"),
		zap.String("key", key),
	)
	return nil
}

// Load reads the snapshot stored under key.
func (r *RedisStore) Load(ctx context.Context, key string) (codec.Snapshot, error) {
	if err := ValidateKey(key); err != nil {
		return codec.Snapshot{}, err
	}

	payload, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return codec.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return codec.Snapshot{}, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	return codec.UnmarshalSnapshot(payload)
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	removed, err := r.client.Del(ctx, redisKey(key)).Result()
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
