// Package store provides the durable key-value backing for room records.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/qiju-live/gameroom/internal/v1/metrics"
)

// Store is the narrow persistence contract the room actors consume.
// Load returns (nil, nil) when the key has never been written so callers
// can fall back to a default record.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisStore persists room records in Redis behind a circuit breaker.
type RedisStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Key builds the storage key for one room record.
// Schema: "gameroom:room:{kind}:{roomId}".
func Key(kind, roomID string) string {
	return fmt.Sprintf("gameroom:room:%s:%s", kind, roomID)
}

// NewRedisStore creates a Redis connection and verifies it with a ping.
func NewRedisStore(addr, password string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis room store", "addr", addr)
	return NewRedisStoreFromClient(rdb), nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests with miniredis.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	return &RedisStore{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Load fetches the raw record bytes for key. A missing key is not an error.
func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, nil // In-memory mode, every room starts from defaults
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return []byte(nil), nil
		}
		return data, err
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: serving default record", "key", key)
			return nil, nil // Graceful degradation: room runs from defaults
		}
		slog.Error("Redis Load failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return res.([]byte), nil
}

// Save writes the raw record bytes for key. The core sets no TTL; eviction
// of cold records is the storage layer's business.
func (s *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	if s == nil || s.client == nil {
		return nil // In-memory mode
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, data, 0).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: dropping save", "key", key)
			return nil // Graceful degradation: keep serving from memory
		}
		slog.Error("Redis Save failed", "key", key, "error", err)
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity. Used by readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
