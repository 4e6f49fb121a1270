package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetDecision retrieves a cached analysis result.
	GetDecision(ctx context.Context, key string) (*CachedDecision, error)

	// SetDecision caches an analysis result.
	SetDecision(ctx context.Context, key string, decision *CachedDecision, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for feedback tallies per pattern within a time window.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CachedDecision is the deterministic part of a Decision, reusable for
// identical features against the same bundle.
type CachedDecision struct {
	Explanation *Explanation `json:"explanation"`
	Narrative   *Narrative   `json:"narrative"`
	Escalations []Escalation `json:"escalations,omitempty"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "none"
	Type string `yaml:"type" json:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int `yaml:"local_max_size" json:"localMaxSize"`
	LocalTTL     int `yaml:"local_ttl" json:"localTtl"` // seconds

	// Redis settings (Pro tier)
	RedisAddr     string `yaml:"redis_addr" json:"redisAddr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enable_two_phase" json:"enableTwoPhase"` // If true, check local first, then Redis
}
