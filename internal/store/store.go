package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"chainwatch/internal/config"
	"chainwatch/internal/core"
)

// Open returns the sample store selected by the history configuration.
func Open(ctx context.Context, cfg config.HistoryConfig) (core.ISampleStore, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		return NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		// Keep keys around for twice the retention so a restart can restore them.
		ttl := 2 * cfg.HistoryOptions().Retention
		st, err := NewRedisStore(ctx, cfg.RedisURL.Reveal(), cfg.KeyPrefix, ttl)
		if err != nil {
			return nil, fmt.Errorf("redis at %s: %w", cfg.RedisURL.Location(), err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown history store %q", cfg.Store)
	}
}
