// Package sqlite provides a SQLite-backed connection store. It is the
// default backend for single-instance deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"token-refresher/internal/common/errors"
	"token-refresher/internal/connections"
)

// Store implements connections.Store on top of database/sql with the
// go-sqlite3 driver.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path and runs migrations.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_provider ON connections(provider)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_expires_at ON connections(expires_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_project_provider ON connections(project_id, provider)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// Create persists a new connection, assigning an ID when absent.
func (s *Store) Create(ctx context.Context, conn *connections.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}

	query := `INSERT INTO connections (id, project_id, provider, access_token, refresh_token, expires_at)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, conn.ID, conn.ProjectID, conn.Provider,
		conn.AccessToken, conn.RefreshToken, conn.ExpiresAt)
	if err != nil {
		return errors.StorageError("failed to create connection", err)
	}

	return nil
}

// Get retrieves a connection by ID.
func (s *Store) Get(ctx context.Context, id string) (*connections.Connection, error) {
	query := `SELECT id, project_id, provider, access_token, refresh_token, expires_at, created_at, updated_at
			  FROM connections WHERE id = ?`

	conn, err := scanConnection(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("connection " + id)
	}
	if err != nil {
		return nil, errors.StorageError("failed to get connection", err)
	}

	return conn, nil
}

// FindExpiring returns connections for the provider with a non-empty refresh
// token whose expiry is unknown or at/before the cutoff.
func (s *Store) FindExpiring(ctx context.Context, provider string, cutoff time.Time) ([]*connections.Connection, error) {
	query := `SELECT id, project_id, provider, access_token, refresh_token, expires_at, created_at, updated_at
			  FROM connections
			  WHERE provider = ? AND refresh_token <> '' AND (expires_at IS NULL OR expires_at <= ?)
			  ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, provider, cutoff)
	if err != nil {
		return nil, errors.StorageError("failed to query expiring connections", err)
	}
	defer rows.Close()

	var due []*connections.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, errors.StorageError("failed to scan connection", err)
		}
		due = append(due, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("failed to iterate connections", err)
	}

	return due, nil
}

// UpdateToken overwrites the access token and expiry in a single UPDATE so
// the pair is never persisted half-written.
func (s *Store) UpdateToken(ctx context.Context, id string, accessToken string, expiresAt time.Time) error {
	query := `UPDATE connections SET access_token = ?, expires_at = ?, updated_at = CURRENT_TIMESTAMP
			  WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, accessToken, expiresAt, id)
	if err != nil {
		return errors.StorageError("failed to update token", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.StorageError("failed to read update result", err)
	}
	if affected == 0 {
		return errors.NotFoundError("connection " + id)
	}

	return nil
}

// Delete removes a connection.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id); err != nil {
		return errors.StorageError("failed to delete connection", err)
	}
	return nil
}

// Health reports whether the database is reachable.
func (s *Store) Health() error {
	return s.db.Ping()
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*connections.Connection, error) {
	conn := &connections.Connection{}
	var expiresAt sql.NullTime

	err := row.Scan(&conn.ID, &conn.ProjectID, &conn.Provider, &conn.AccessToken,
		&conn.RefreshToken, &expiresAt, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		conn.ExpiresAt = &expiresAt.Time
	}

	return conn, nil
}
