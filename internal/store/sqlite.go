package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"chainwatch/internal/chain"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS volume_samples (
	target     TEXT    NOT NULL,
	taken_at   INTEGER NOT NULL,
	data       BLOB    NOT NULL,
	checksum   BLOB    NOT NULL,
	PRIMARY KEY (target, taken_at)
)`

// SQLiteStore keeps samples in a local SQLite database
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, target string, sample chain.VolumeSample) error {
	blob, err := encodeSample(sample)
	if err != nil {
		return err
	}
	query := `INSERT OR REPLACE INTO volume_samples (target, taken_at, data, checksum) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, target, sample.TakenAt.UnixNano(), blob, checksum(blob)); err != nil {
		return fmt.Errorf("failed to write sample to db: %w", err)
	}
	return nil
}

// Load skips rows whose checksum does not match instead of failing the whole
// restore.
func (s *SQLiteStore) Load(ctx context.Context, target string, since time.Time) ([]chain.VolumeSample, error) {
	query := `SELECT data, checksum FROM volume_samples WHERE target = ? AND taken_at >= ? ORDER BY taken_at`
	rows, err := s.db.QueryContext(ctx, query, target, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to read samples from db: %w", err)
	}
	defer rows.Close()

	var out []chain.VolumeSample
	for rows.Next() {
		var blob, stored []byte
		if err := rows.Scan(&blob, &stored); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if !bytes.Equal(stored, checksum(blob)) {
			continue
		}
		sample, err := decodeSample(blob)
		if err != nil {
			continue
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate samples: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Prune(ctx context.Context, target string, before time.Time) error {
	query := `DELETE FROM volume_samples WHERE target = ? AND taken_at < ?`
	if _, err := s.db.ExecContext(ctx, query, target, before.UnixNano()); err != nil {
		return fmt.Errorf("failed to prune samples: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
