package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryEntry pairs entry metadata with the stored answer bytes
type memoryEntry struct {
	entry Entry
	data  []byte
}

// MemoryCache implements the Cache interface in process memory. It mirrors
// FileCache semantics so the two backends are interchangeable.
type MemoryCache struct {
	maxSizeBytes int64
	defaultTTL   time.Duration
	cleanupFreq  time.Duration
	mu           sync.RWMutex
	entries      map[string]*memoryEntry
	stats        Stats
	stopCleanup  chan struct{}
	cleanupOnce  sync.Once
}

// NewMemoryCache creates a new in-memory answer cache
func NewMemoryCache(maxSizeMB int, defaultTTL, cleanupFreq time.Duration) *MemoryCache {
	cache := &MemoryCache{
		maxSizeBytes: int64(maxSizeMB) * 1024 * 1024,
		defaultTTL:   defaultTTL,
		cleanupFreq:  cleanupFreq,
		entries:      make(map[string]*memoryEntry),
		stopCleanup:  make(chan struct{}),
	}

	go cache.backgroundCleanup()

	return cache
}

// Get retrieves a cached answer
func (c *MemoryCache) Get(ctx context.Context, key Key) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	stored, ok := c.entries[key.Fingerprint()]
	if !ok {
		c.stats.Misses++
		return nil, fmt.Errorf("%w: key not found", ErrMiss)
	}

	if time.Now().After(stored.entry.ExpiresAt) {
		c.stats.Misses++
		delete(c.entries, key.Fingerprint())

		return nil, fmt.Errorf("%w: entry expired", ErrMiss)
	}

	c.stats.Hits++

	return stored.data, nil
}

// Set stores an answer in cache with TTL
func (c *MemoryCache) Set(ctx context.Context, key Key, data []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	entry := Entry{
		Fingerprint:   key.Fingerprint(),
		Question:      NormalizeQuestion(key.Question),
		SchemaVersion: key.SchemaVersion,
		Scope:         key.Scope,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(ttl),
		Size:          int64(len(data)),
	}

	c.enforceSize(entry.Size)

	c.entries[entry.Fingerprint] = &memoryEntry{entry: entry, data: data}

	return nil
}

// Delete removes an entry from cache
func (c *MemoryCache) Delete(ctx context.Context, key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	delete(c.entries, key.Fingerprint())

	return nil
}

// Clear removes all entries from cache
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.entries = make(map[string]*memoryEntry)
	c.stats = Stats{}

	return nil
}

// Size returns the total size of cached data
func (c *MemoryCache) Size(ctx context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	return c.calculateSize(), nil
}

// Cleanup removes expired entries
func (c *MemoryCache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	now := time.Now()

	for fingerprint, stored := range c.entries {
		if now.After(stored.entry.ExpiresAt) {
			delete(c.entries, fingerprint)
		}
	}

	return nil
}

// InvalidateVersion removes every entry recorded under the given schema
// version and reports how many were dropped.
func (c *MemoryCache) InvalidateVersion(ctx context.Context, schemaVersion string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	removed := 0

	for fingerprint, stored := range c.entries {
		if stored.entry.SchemaVersion == schemaVersion {
			delete(c.entries, fingerprint)

			removed++
		}
	}

	return removed, nil
}

// GetStats returns cache statistics
func (c *MemoryCache) GetStats(ctx context.Context) (*Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	stats := c.stats
	stats.TotalEntries = int64(len(c.entries))
	stats.TotalSize = c.calculateSize()

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
		stats.MissRate = float64(stats.Misses) / float64(total)
	}

	return &stats, nil
}

// Close stops the background cleanup goroutine
func (c *MemoryCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})

	return nil
}

// enforceSize evicts oldest entries until the new entry fits. Caller must
// hold the write lock.
func (c *MemoryCache) enforceSize(newEntrySize int64) {
	currentSize := c.calculateSize()
	if currentSize+newEntrySize <= c.maxSizeBytes {
		return
	}

	type entryInfo struct {
		fingerprint string
		createdAt   time.Time
		size        int64
	}

	var entryInfos []entryInfo

	for fingerprint, stored := range c.entries {
		entryInfos = append(entryInfos, entryInfo{
			fingerprint: fingerprint,
			createdAt:   stored.entry.CreatedAt,
			size:        stored.entry.Size,
		})
	}

	// Sort by creation time (oldest first)
	for i := range len(entryInfos) - 1 {
		for j := i + 1; j < len(entryInfos); j++ {
			if entryInfos[i].createdAt.After(entryInfos[j].createdAt) {
				entryInfos[i], entryInfos[j] = entryInfos[j], entryInfos[i]
			}
		}
	}

	spaceNeeded := (currentSize + newEntrySize) - c.maxSizeBytes

	var spaceFreed int64

	for _, info := range entryInfos {
		if spaceFreed >= spaceNeeded {
			break
		}

		delete(c.entries, info.fingerprint)

		spaceFreed += info.size
	}
}

// calculateSize sums stored data sizes. Caller must hold at least a read lock.
func (c *MemoryCache) calculateSize() int64 {
	var totalSize int64

	for _, stored := range c.entries {
		totalSize += stored.entry.Size
	}

	return totalSize
}

// backgroundCleanup runs periodic cleanup of expired entries
func (c *MemoryCache) backgroundCleanup() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Cleanup(context.Background())
		case <-c.stopCleanup:
			return
		}
	}
}
