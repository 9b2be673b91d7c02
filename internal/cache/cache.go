// Package cache implements the two-tier lookup cache: a bounded in-process
// TTL map in front of Redis. The local tier absorbs hot repeated reads; the
// distributed tier is shared across worker processes. Invalidation always
// clears both tiers so a stale local hit cannot mask a distributed delete.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"voxnote/internal/common/logger"
)

var gzipMagic = []byte{0x1f, 0x8b}

type localEntry struct {
	data      []byte
	expiresAt time.Time
}

type localStore struct {
	mu         sync.Mutex
	entries    map[string]localEntry
	maxEntries int
}

func newLocalStore(maxEntries int) *localStore {
	return &localStore{
		entries:    make(map[string]localEntry),
		maxEntries: maxEntries,
	}
}

func (s *localStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.data, true
}

func (s *localStore) set(key string, data []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.maxEntries {
		s.evictLocked()
	}
	s.entries[key] = localEntry{data: data, expiresAt: time.Now().Add(ttl)}
}

// evictLocked drops expired entries first; if nothing expired it drops one
// arbitrary entry so the store stays bounded.
func (s *localStore) evictLocked() {
	now := time.Now()
	removed := false
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
			removed = true
		}
	}
	if removed {
		return
	}
	for k := range s.entries {
		delete(s.entries, k)
		return
	}
}

func (s *localStore) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *localStore) deletePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
}

// Cache is the two-tier cache.
type Cache struct {
	local       *localStore
	rdb         *redis.Client
	log         logger.Logger
	compressMin int
}

func New(rdb *redis.Client, log logger.Logger, localMaxEntries, compressMin int) *Cache {
	if localMaxEntries <= 0 {
		localMaxEntries = 1024
	}
	if compressMin <= 0 {
		compressMin = 4096
	}
	return &Cache{
		local:       newLocalStore(localMaxEntries),
		rdb:         rdb,
		log:         log.WithFields(map[string]interface{}{"component": "cache"}),
		compressMin: compressMin,
	}
}

// Get looks up key under the strategy, local tier first. On a distributed
// hit the local tier is backfilled. Returns false when neither tier has it.
func (c *Cache) Get(ctx context.Context, strat Strategy, key string, dest interface{}) (bool, error) {
	full := strat.fullKey(key)

	if data, ok := c.local.get(full); ok {
		return true, json.Unmarshal(data, dest)
	}

	raw, err := c.rdb.Get(ctx, full).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("cache get %s: %w", full, err)
	}

	data, err := maybeDecompress(raw)
	if err != nil {
		return false, fmt.Errorf("cache decompress %s: %w", full, err)
	}

	c.local.set(full, data, strat.LocalTTL)
	return true, json.Unmarshal(data, dest)
}

// Set writes the value to both tiers. Values above the compression
// threshold are gzipped before the Redis write.
func (c *Cache) Set(ctx context.Context, strat Strategy, key string, value interface{}) error {
	full := strat.fullKey(key)

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", full, err)
	}

	c.local.set(full, data, strat.LocalTTL)

	wire := data
	if len(data) >= c.compressMin {
		wire, err = compress(data)
		if err != nil {
			return fmt.Errorf("cache compress %s: %w", full, err)
		}
	}

	if err := c.rdb.Set(ctx, full, wire, strat.DistributedTTL).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", full, err)
	}
	return nil
}

// Invalidate removes one exact key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, strat Strategy, key string) error {
	full := strat.fullKey(key)
	c.local.delete(full)
	if err := c.rdb.Del(ctx, full).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", full, err)
	}
	return nil
}

// InvalidatePrefix removes every key under prefix from both tiers. The
// distributed sweep SCANs in batches rather than using KEYS.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.local.deletePrefix(prefix)

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache del %s: %w", prefix, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func maybeDecompress(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, gzipMagic) {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
