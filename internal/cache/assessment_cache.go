// Package cache provides a two-tier read cache for computed risk responses.
// Tier 1 is an in-process LRU for hot patients; tier 2 is an optional Redis
// instance shared across replicas. Entries are invalidated whenever new data
// arrives for a patient, so a cached response is never older than the last
// ingested reading.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/domain"
)

// Stats tracks cache performance counters.
type Stats struct {
	MemoryHits   int64     `json:"memory_hits"`
	MemoryMisses int64     `json:"memory_misses"`
	RedisHits    int64     `json:"redis_hits"`
	RedisMisses  int64     `json:"redis_misses"`
	ErrorCount   int64     `json:"error_count"`
	LastReset    time.Time `json:"last_reset"`
}

// AssessmentCache stores the latest computed RiskResponse per patient.
type AssessmentCache struct {
	memory *expirable.LRU[string, *domain.RiskResponse]
	redis  *redis.Client // nil when Redis is not configured
	ttl    time.Duration

	logger  *logrus.Logger
	stats   Stats
	statsMu sync.Mutex
}

// New creates an assessment cache from cache configuration. When RedisURL is
// empty the cache runs memory-only, which is the single-replica default.
func New(config domain.CacheConfig, logger *logrus.Logger) (*AssessmentCache, error) {
	if config.MemorySize <= 0 {
		config.MemorySize = 1024
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 15 * time.Minute
	}

	cache := &AssessmentCache{
		memory: expirable.NewLRU[string, *domain.RiskResponse](config.MemorySize, nil, config.DefaultTTL),
		ttl:    config.DefaultTTL,
		logger: logger,
		stats:  Stats{LastReset: time.Now()},
	}

	if config.RedisURL != "" {
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		if config.PoolSize > 0 {
			opts.PoolSize = config.PoolSize
		}
		if config.PoolTimeout > 0 {
			opts.PoolTimeout = config.PoolTimeout
		}
		if config.MaxRetries > 0 {
			opts.MaxRetries = config.MaxRetries
		}

		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cache.redis = client
	}

	return cache, nil
}

// cachedResponse wraps a response with expiry metadata for the Redis tier.
type cachedResponse struct {
	Response  *domain.RiskResponse `json:"response"`
	CachedAt  time.Time            `json:"cached_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// Get returns the cached response for a patient, checking memory first and
// falling back to Redis. A Redis hit is promoted into the memory tier.
func (c *AssessmentCache) Get(ctx context.Context, patientID string) (*domain.RiskResponse, bool) {
	if response, ok := c.memory.Get(patientID); ok {
		c.bump(func(s *Stats) { s.MemoryHits++ })
		return response, true
	}
	c.bump(func(s *Stats) { s.MemoryMisses++ })

	if c.redis == nil {
		return nil, false
	}

	key := c.key(patientID)
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		c.bump(func(s *Stats) { s.RedisMisses++ })
		return nil, false
	}
	if err != nil {
		c.bump(func(s *Stats) { s.ErrorCount++ })
		c.logger.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err.Error(),
		}).Warn("Redis cache read failed")
		return nil, false
	}

	var cached cachedResponse
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		c.bump(func(s *Stats) { s.RedisMisses++ })
		return nil, false
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		c.bump(func(s *Stats) { s.RedisMisses++ })
		return nil, false
	}

	c.bump(func(s *Stats) { s.RedisHits++ })
	c.memory.Add(patientID, cached.Response)
	return cached.Response, true
}

// Set stores a freshly computed response in both tiers.
func (c *AssessmentCache) Set(ctx context.Context, patientID string, response *domain.RiskResponse) {
	c.memory.Add(patientID, response)

	if c.redis == nil {
		return
	}

	now := time.Now()
	cached := cachedResponse{
		Response:  response,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	data, err := json.Marshal(cached)
	if err != nil {
		c.bump(func(s *Stats) { s.ErrorCount++ })
		return
	}
	if err := c.redis.Set(ctx, c.key(patientID), data, c.ttl).Err(); err != nil {
		c.bump(func(s *Stats) { s.ErrorCount++ })
		c.logger.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err.Error(),
		}).Warn("Redis cache write failed")
	}
}

// Invalidate drops the cached response for a patient from both tiers. Called
// whenever new readings, interventions, or alert changes land for the patient.
func (c *AssessmentCache) Invalidate(ctx context.Context, patientID string) {
	c.memory.Remove(patientID)
	if c.redis != nil {
		if err := c.redis.Del(ctx, c.key(patientID)).Err(); err != nil {
			c.bump(func(s *Stats) { s.ErrorCount++ })
		}
	}
}

// GetStats returns a snapshot of cache performance counters.
func (c *AssessmentCache) GetStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close releases the Redis connection if one exists.
func (c *AssessmentCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func (c *AssessmentCache) key(patientID string) string {
	sum := sha256.Sum256([]byte(patientID))
	return fmt.Sprintf("risk:assessment:%x", sum[:8])
}

func (c *AssessmentCache) bump(update func(*Stats)) {
	c.statsMu.Lock()
	update(&c.stats)
	c.statsMu.Unlock()
}
