// Package pii — cache.go
//
// ValueCache memoizes the confidence assigned to a low-confidence PII
// candidate, keyed by (rule name, original value), so a recurring string
// within a process lifetime is not re-scored by the heuristic rules on
// every call. It is bbolt-backed with a Get/Set/Close interface shape,
// falling back to an in-memory map when no path is configured.
//
// Concurrent lookups for the same (rule, value) pair are collapsed with
// singleflight so N goroutines racing on a cache miss compute the memo
// only once.
package pii

import (
	"fmt"
	"strconv"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"
)

// ValueCache is a cross-request memo for low-confidence PII detection
// confidence scores; it has no size bound and never evicts. All methods are safe for concurrent use.
type ValueCache struct {
	db    *bolt.DB // nil => in-memory only
	mem   map[string]float64
	group singleflight.Group
}

const valueCacheBucket = "pii_value_cache"

// NewValueCache opens (or creates) a bbolt database at path. An empty path
// uses an in-memory-only cache, suitable for tests and stateless runs.
func NewValueCache(path string) (*ValueCache, error) {
	if path == "" {
		return &ValueCache{mem: make(map[string]float64)}, nil
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open pii value cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(valueCacheBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create pii value cache bucket: %w", err)
	}
	return &ValueCache{db: db}, nil
}

// Close releases any file handle held by the cache.
func (c *ValueCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func cacheKey(rule, value string) string { return rule + "\x00" + value }

// Get returns the memoized confidence for (rule, value), if present.
func (c *ValueCache) Get(rule, value string) (float64, bool) {
	key := cacheKey(rule, value)
	if c.db == nil {
		v, ok := c.mem[key]
		return v, ok
	}
	var raw []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(valueCacheBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if raw == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Set stores the confidence for (rule, value), overwriting any prior entry.
func (c *ValueCache) Set(rule, value string, confidence float64) {
	key := cacheKey(rule, value)
	if c.db == nil {
		if c.mem == nil {
			c.mem = make(map[string]float64)
		}
		c.mem[key] = confidence
		return
	}
	raw := []byte(strconv.FormatFloat(confidence, 'f', -1, 64))
	_ = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(valueCacheBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", valueCacheBucket)
		}
		return b.Put([]byte(key), raw)
	})
}

// GetOrCompute returns the memoized confidence for (rule, value), computing
// it via fn on a miss. Concurrent calls for the same key are collapsed so
// fn runs at most once per key at a time.
func (c *ValueCache) GetOrCompute(rule, value string, fn func() float64) float64 {
	if v, ok := c.Get(rule, value); ok {
		return v
	}
	key := cacheKey(rule, value)
	v, _, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(rule, value); ok {
			return v, nil
		}
		computed := fn()
		c.Set(rule, value, computed)
		return computed, nil
	})
	return v.(float64)
}
