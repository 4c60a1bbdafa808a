// Package postgres provides a PostgreSQL-backed connection store using pgx.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"token-refresher/internal/common/errors"
	"token-refresher/internal/connections"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
}

// ConnString builds a pgx connection string from the config.
func (c *Config) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Store implements connections.Store on top of a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to PostgreSQL and runs migrations.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id UUID PRIMARY KEY,
			project_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_provider ON connections(provider)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_expires_at ON connections(expires_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_project_provider ON connections(project_id, provider)`,
	}

	for _, query := range queries {
		if _, err := s.pool.Exec(ctx, query); err != nil {
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
			  VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query, conn.ID, conn.ProjectID, conn.Provider,
		conn.AccessToken, conn.RefreshToken, conn.ExpiresAt)
	if err != nil {
		return errors.StorageError("failed to create connection", err)
	}

	return nil
}

// Get retrieves a connection by ID.
func (s *Store) Get(ctx context.Context, id string) (*connections.Connection, error) {
	query := `SELECT id, project_id, provider, access_token, refresh_token, expires_at, created_at, updated_at
			  FROM connections WHERE id = $1`

	conn, err := scanConnection(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
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
			  WHERE provider = $1 AND refresh_token <> '' AND (expires_at IS NULL OR expires_at <= $2)
			  ORDER BY id`

	rows, err := s.pool.Query(ctx, query, provider, cutoff)
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
	query := `UPDATE connections SET access_token = $1, expires_at = $2, updated_at = now()
			  WHERE id = $3`

	tag, err := s.pool.Exec(ctx, query, accessToken, expiresAt, id)
	if err != nil {
		return errors.StorageError("failed to update token", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError("connection " + id)
	}

	return nil
}

// Delete removes a connection.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id); err != nil {
		return errors.StorageError("failed to delete connection", err)
	}
	return nil
}

// Health reports whether the database is reachable.
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*connections.Connection, error) {
	conn := &connections.Connection{}
	var expiresAt *time.Time

	err := row.Scan(&conn.ID, &conn.ProjectID, &conn.Provider, &conn.AccessToken,
		&conn.RefreshToken, &expiresAt, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}

	conn.ExpiresAt = expiresAt
	return conn, nil
}
