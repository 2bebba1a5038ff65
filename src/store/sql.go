package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// dialect captures the few differences between the supported SQL engines.
type dialect struct {
	name        string
	driver      string
	blobType    string
	placeholder func(n int) string
}

// SQLStore is a database/sql implementation of Store.
// Expiry is stored as Unix milliseconds so the same queries work on every dialect.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func openSQLStore(d dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", d.name, err)
	}

	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

// Dialect returns the engine name, "postgres" or "sqlite".
func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

// Migrate creates the staging table and its expiry index if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS staged_payloads (
			staging_key TEXT PRIMARY KEY,
			payload     %s NOT NULL,
			expires_at  BIGINT NOT NULL
		)`, s.dialect.blobType),
		`CREATE INDEX IF NOT EXISTS staged_payloads_expires_at_idx ON staged_payloads (expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate staging schema: %w", err)
		}
	}
	return nil
}

// Put upserts value under key.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := fmt.Sprintf(`
		INSERT INTO staged_payloads (staging_key, payload, expires_at)
		VALUES (%s, %s, %s)
		ON CONFLICT (staging_key) DO UPDATE
		SET payload = excluded.payload, expires_at = excluded.expires_at
	`, s.ph(1), s.ph(2), s.ph(3))

	expiresAt := s.now().Add(ttl).UnixMilli()
	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to stage payload: %w", err)
	}

	return nil
}

// Get returns the unexpired value under key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`
		SELECT payload
		FROM staged_payloads
		WHERE staging_key = %s AND expires_at > %s
	`, s.ph(1), s.ph(2))

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staged payload: %w", err)
	}

	return value, nil
}

// Delete removes key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM staged_payloads WHERE staging_key = %s`, s.ph(1))

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete staged payload: %w", err)
	}
	return nil
}

// Purge deletes expired rows.
func (s *SQLStore) Purge(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM staged_payloads WHERE expires_at <= %s`, s.ph(1))

	result, err := s.db.ExecContext(ctx, query, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge staged payloads: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) ph(n int) string {
	return s.dialect.placeholder(n)
}
