// Package redis provides a Redis-backed connection store. Connections are
// stored as JSON values and indexed per provider in a sorted set keyed by
// expiry time, so the expiring-connections query is a single ZRANGEBYSCORE.
package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"token-refresher/internal/common/errors"
	"token-refresher/internal/connections"
)

const (
	connKeyPrefix   = "connection:"
	expiryKeyPrefix = "connections:expiry:"

	// unknownExpiryScore indexes connections with no known expiry so they
	// sort before every real timestamp and are always selected.
	unknownExpiryScore = float64(0)
)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
}

// Store implements connections.Store backed by Redis.
type Store struct {
	rdb *goredis.Client
}

// NewStore connects to Redis and verifies the connection.
func NewStore(cfg *Config) (*Store, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.StorageError("failed to connect to Redis", err)
	}

	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient wraps an existing Redis client, used in tests.
func NewStoreWithClient(rdb *goredis.Client) *Store {
	return &Store{rdb: rdb}
}

// Create persists a new connection and indexes it for expiry tracking.
func (s *Store) Create(ctx context.Context, conn *connections.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}

	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	return s.save(ctx, conn)
}

// Get retrieves a connection by ID.
func (s *Store) Get(ctx context.Context, id string) (*connections.Connection, error) {
	data, err := s.rdb.Get(ctx, connKeyPrefix+id).Result()
	if err == goredis.Nil {
		return nil, errors.NotFoundError("connection " + id)
	}
	if err != nil {
		return nil, errors.StorageError("failed to get connection", err)
	}

	var conn connections.Connection
	if err := json.Unmarshal([]byte(data), &conn); err != nil {
		return nil, errors.StorageError("failed to deserialize connection", err)
	}

	return &conn, nil
}

// FindExpiring reads the provider's expiry index up to the cutoff and loads
// each indexed connection. Index entries whose record has vanished are
// pruned lazily; records without a refresh token are skipped.
func (s *Store) FindExpiring(ctx context.Context, provider string, cutoff time.Time) ([]*connections.Connection, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, expiryKeyPrefix+provider, &goredis.ZRangeBy{
		Min: "0",
		Max: formatScore(float64(cutoff.UnixMilli())),
	}).Result()
	if err != nil {
		return nil, errors.StorageError("failed to query expiry index", err)
	}

	var due []*connections.Connection
	for _, id := range ids {
		conn, err := s.Get(ctx, id)
		if errors.IsType(err, errors.ErrTypeNotFound) {
			s.rdb.ZRem(ctx, expiryKeyPrefix+provider, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if conn.RefreshToken == "" {
			continue
		}
		due = append(due, conn)
	}

	return due, nil
}

// UpdateToken overwrites the access token and expiry. The record write and
// the index update run in one transactional pipeline.
func (s *Store) UpdateToken(ctx context.Context, id string, accessToken string, expiresAt time.Time) error {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	expiry := expiresAt
	conn.AccessToken = accessToken
	conn.ExpiresAt = &expiry
	conn.UpdatedAt = time.Now()

	return s.save(ctx, conn)
}

// Delete removes a connection and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	conn, err := s.Get(ctx, id)
	if errors.IsType(err, errors.ErrTypeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, connKeyPrefix+id)
	pipe.ZRem(ctx, expiryKeyPrefix+conn.Provider, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.StorageError("failed to delete connection", err)
	}

	return nil
}

// Health reports whether Redis is reachable.
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) save(ctx context.Context, conn *connections.Connection) error {
	data, err := json.Marshal(conn)
	if err != nil {
		return errors.StorageError("failed to serialize connection", err)
	}

	score := unknownExpiryScore
	if conn.ExpiresAt != nil {
		score = float64(conn.ExpiresAt.UnixMilli())
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, connKeyPrefix+conn.ID, string(data), 0)
	pipe.ZAdd(ctx, expiryKeyPrefix+conn.Provider, &goredis.Z{Score: score, Member: conn.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.StorageError("failed to save connection", err)
	}

	return nil
}

// formatScore renders a zset score for ZRANGEBYSCORE. The max bound is
// inclusive, matching the "expires_at <= cutoff" selection predicate.
func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
