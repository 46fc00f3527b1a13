// Package cache provides Redis-based caching for market data lookups.
// When Redis is unavailable, operations return errors that callers handle
// by falling through to the upstream data source.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrMiss is returned when a key is absent. A miss is not a failure and
// never trips the circuit breaker.
var ErrMiss = errors.New("cache: miss")

// Key formats per cached concern
const (
	KeyBars     = "bars:%s:%d:%d"    // ticker, from unix, to unix
	KeySnapshot = "indicators:%s:%d" // ticker, at unix
	KeyQuote    = "quote:%s"         // ticker
)

// Default TTLs. Historical bars are immutable and live long; quotes go
// stale in seconds.
const (
	BarsTTL     = 12 * time.Hour
	SnapshotTTL = 5 * time.Minute
	QuoteTTL    = 10 * time.Second
)

// Config holds Redis connection settings
type Config struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Service wraps a Redis client with a small circuit breaker so a dead
// Redis degrades to pass-through instead of slowing every request.
type Service struct {
	client *redis.Client
	log    zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewService creates a cache service and verifies connectivity. A failed
// initial connection returns the service in degraded mode, not an error.
func NewService(cfg Config, logger zerolog.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("cache: redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Service{
		client:        client,
		log:           logger.With().Str("component", "cache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		s.log.Warn().Err(err).Msg("initial Redis connection failed, running degraded")
		return s, nil
	}

	s.healthy = true
	s.lastCheck = time.Now()
	s.log.Info().Str("address", cfg.Address).Msg("Redis connected")
	return s, nil
}

// IsHealthy returns whether Redis is currently available
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

// Close releases the underlying client
func (s *Service) Close() error {
	return s.client.Close()
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failureCount++
	if s.failureCount >= s.maxFailures {
		if s.healthy {
			s.log.Warn().Int("failures", s.failureCount).Msg("circuit breaker open, Redis marked unhealthy")
		}
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.healthy {
		s.log.Info().Msg("circuit breaker closed, Redis recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

// checkHealth probes Redis in the background once the breaker is open and
// the retry interval has passed.
func (s *Service) checkHealth() {
	s.mu.RLock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	s.mu.RUnlock()

	if !shouldCheck {
		return
	}

	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Ping(ctx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

// GetJSON retrieves a key and unmarshals it into dest
func (s *Service) GetJSON(ctx context.Context, key string, dest any) error {
	s.checkHealth()

	if !s.IsHealthy() {
		return fmt.Errorf("cache: redis unavailable (circuit breaker open)")
	}

	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		s.recordFailure()
		return fmt.Errorf("cache: get %s: %w", key, err)
	}

	s.recordSuccess()
	return json.Unmarshal([]byte(raw), dest)
}

// SetJSON marshals a value and stores it under key with the given TTL
func (s *Service) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.checkHealth()

	if !s.IsHealthy() {
		return fmt.Errorf("cache: redis unavailable (circuit breaker open)")
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshaling %s: %w", key, err)
	}

	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("cache: set %s: %w", key, err)
	}

	s.recordSuccess()
	return nil
}

// Delete removes a key
func (s *Service) Delete(ctx context.Context, key string) error {
	s.checkHealth()

	if !s.IsHealthy() {
		return fmt.Errorf("cache: redis unavailable (circuit breaker open)")
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}

	s.recordSuccess()
	return nil
}

// InvalidateTicker drops all cached entries for one ticker
func (s *Service) InvalidateTicker(ctx context.Context, ticker string) error {
	s.checkHealth()

	if !s.IsHealthy() {
		return fmt.Errorf("cache: redis unavailable (circuit breaker open)")
	}

	for _, pattern := range []string{"bars:" + ticker + ":*", "indicators:" + ticker + ":*", "quote:" + ticker} {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				s.recordFailure()
				return fmt.Errorf("cache: invalidating %s: %w", ticker, err)
			}
		}
		if err := iter.Err(); err != nil {
			s.recordFailure()
			return fmt.Errorf("cache: scanning %s: %w", pattern, err)
		}
	}

	s.recordSuccess()
	return nil
}
