package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iwvelando/loan-amortization/pkg/codec"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots in a single-file SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteStore(ctx context.Context, logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("opened sqlite snapshot store",
		zap.String("op", "store.NewSQLiteStore"),
		zap.String("path", dbPath),
	)

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Save upserts snapshot under key.
func (s *SQLiteStore) Save(ctx context.Context, key string, snapshot codec.Snapshot) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	payload, err := codec.MarshalSnapshot(snapshot)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (key, payload, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		key, string(payload), snapshot.SavedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}

	s.logger.Debug("saved snapshot",
		zap.String("op", "store.SQLiteStore.Save"),
		zap.String("key", key),
		zap.Int("periods", len(snapshot.Schedule)),
	)
	return nil
}

// Load reads the snapshot stored under key.
func (s *SQLiteStore) Load(ctx context.Context, key string) (codec.Snapshot, error) {
	if err := ValidateKey(key); err != nil {
		return codec.Snapshot{}, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return codec.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return codec.Snapshot{}, fmt.Errorf("load snapshot %s: %w", key, err)
	}

	return codec.UnmarshalSnapshot([]byte(payload))
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
