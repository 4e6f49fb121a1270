// Package cache stores deterministic analysis results so repeated requests
// for the same features against the same bundle skip attribution.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/opensource-finance/heron/internal/domain"
)

// New creates a new cache based on configuration.
// "memory" returns an LRU cache, "redis" a Redis cache or, with two-phase
// enabled, an LRU in front of Redis. "none" disables caching and returns nil.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// DecisionKey identifies an analysis by artifact fingerprint and feature values.
// Feature order does not matter; values are compared exactly.
func DecisionKey(fingerprint string, features domain.FeatureSet) string {
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxhash.New()
	for _, name := range names {
		h.WriteString(name)
		h.WriteString("=")
		h.WriteString(strconv.FormatUint(math.Float64bits(features[name]), 16))
		h.WriteString(";")
	}
	return "decision:" + fingerprint + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// FeedbackCounterKey names the tally of one verdict for one pattern.
func FeedbackCounterKey(patternID string, label domain.FeedbackLabel) string {
	return "feedback:" + strings.ToLower(string(label)) + ":" + patternID
}

func encodeDecision(d *domain.CachedDecision) ([]byte, error) {
	return json.Marshal(d)
}

func decodeDecision(data []byte) (*domain.CachedDecision, error) {
	if data == nil {
		return nil, nil
	}
	var d domain.CachedDecision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis shared across API replicas
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, time.Duration(cfg.LocalTTL)*time.Second), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// L1 never outlives L2.
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// GetDecision retrieves a cached analysis.
func (c *TwoPhaseCache) GetDecision(ctx context.Context, key string) (*domain.CachedDecision, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeDecision(data)
}

// SetDecision caches an analysis in both tiers.
func (c *TwoPhaseCache) SetDecision(ctx context.Context, key string, d *domain.CachedDecision, ttl time.Duration) error {
	data, err := encodeDecision(d)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// IncrementCounter uses Redis so tallies agree across replicas.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, key, window)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
