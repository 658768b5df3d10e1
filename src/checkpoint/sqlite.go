package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func newSQLiteStore(path string, logger *slog.Logger) (*sqliteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS gateway_checkpoints (
			key TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			resume_gateway_url TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite checkpoint store initialized", "path", path)
	return &sqliteStore{
		db:     db,
		logger: logger,
	}, nil
}

func (s *sqliteStore) Save(ctx context.Context, key string, cp Checkpoint) error {
	if key == "" {
		return ErrInvalidKey
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_checkpoints (key, session_id, resume_gateway_url, sequence, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			session_id = excluded.session_id,
			resume_gateway_url = excluded.resume_gateway_url,
			sequence = excluded.sequence,
			updated_at = excluded.updated_at`,
		key, cp.SessionID, cp.ResumeGatewayURL, int64(cp.Sequence), cp.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (s *sqliteStore) Load(ctx context.Context, key string) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		sequence  int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, resume_gateway_url, sequence, updated_at
		FROM gateway_checkpoints WHERE key = ?`, key).
		Scan(&cp.SessionID, &cp.ResumeGatewayURL, &sequence, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	cp.Sequence = uint64(sequence)
	cp.UpdatedAt = time.UnixMilli(updatedAt)
	return &cp, nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM gateway_checkpoints WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
