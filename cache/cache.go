// SPDX-License-Identifier: EPL-2.0

package cache

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/waveform"
)

// ErrTooLarge indicates an entry bigger than the whole cache.
var ErrTooLarge = errors.New("entry exceeds cache capacity")

// minEntryBytes is the smallest entry SizeBytes can report; it bounds the
// number of entries the LRU list may hold.
const minEntryBytes = 256 + 8

// Entry is one cached waveform.
type Entry struct {
	Fingerprint  Fingerprint
	Data         *waveform.Data
	SizeBytes    int64
	LastAccessed time.Time
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	SizeBytes int64  `json:"currentSizeBytes"`
	MaxBytes  int64  `json:"maxBytes"`
	Entries   int    `json:"entryCount"`
}

// HitRate is Hits over all lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache maps fingerprints to waveforms, evicting the least recently used
// entries to stay within a byte ceiling. Entries accessed at the same
// instant are evicted in insertion order, since recency is list order.
type Cache struct {
	lru *simplelru.LRU
	max int64

	size      int64
	hits      uint64
	misses    uint64
	evictions uint64

	now     func() time.Time
	metrics *metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithRegisterer exports the cache metrics through reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Cache) { c.metrics = newMetrics(reg) }
}

// WithClock replaces time.Now for access times.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache holding at most maxBytes of estimated waveform size.
func New(maxBytes int64, opts ...Option) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, audio.NewError(audio.KindConfiguration, "cache.new", "max bytes must be positive, got %d", maxBytes)
	}
	c := &Cache{max: maxBytes, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = newMetrics(nil)
	}

	entries := min(maxBytes/minEntryBytes+1, math.MaxInt32)
	lru, err := simplelru.NewLRU(int(entries), c.onRemove)
	if err != nil {
		return nil, fmt.Errorf("lru: %w", err)
	}
	c.lru = lru
	return c, nil
}

// onRemove runs for every entry leaving the LRU list, whatever the reason.
func (c *Cache) onRemove(_, value any) {
	c.size -= value.(*Entry).SizeBytes
	c.sync()
}

func (c *Cache) sync() {
	c.metrics.bytes.Set(float64(c.size))
	c.metrics.entries.Set(float64(c.lru.Len()))
}

// Get returns the waveform for fp and marks it most recently used.
func (c *Cache) Get(fp Fingerprint) (*waveform.Data, bool) {
	v, ok := c.lru.Get(fp)
	if !ok {
		c.misses++
		c.metrics.misses.Inc()
		return nil, false
	}
	e := v.(*Entry)
	e.LastAccessed = c.now()
	c.hits++
	c.metrics.hits.Inc()
	return e.Data, true
}

// Peek returns the entry for fp without touching recency or statistics.
func (c *Cache) Peek(fp Fingerprint) (Entry, bool) {
	v, ok := c.lru.Peek(fp)
	if !ok {
		return Entry{}, false
	}
	return *v.(*Entry), true
}

// Put stores data under fp, replacing any previous entry, and evicts least
// recently used entries until the total fits the ceiling. Data larger than
// the ceiling is not stored and ErrTooLarge is returned. data must not be
// modified afterwards: Get hands the same value to every caller.
func (c *Cache) Put(fp Fingerprint, data *waveform.Data) error {
	size := data.SizeBytes()
	c.lru.Remove(fp)
	if size > c.max {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrTooLarge, size, c.max)
	}
	c.evictTo(c.max - size)

	c.size += size
	if c.lru.Add(fp, &Entry{Fingerprint: fp, Data: data, SizeBytes: size, LastAccessed: c.now()}) {
		c.countEvictions(1)
	}
	c.sync()
	return nil
}

// Invalidate drops fp and reports whether it was present.
func (c *Cache) Invalidate(fp Fingerprint) bool {
	return c.lru.Remove(fp)
}

// Shrink evicts least recently used entries until at most target bytes
// remain and returns how many were evicted.
func (c *Cache) Shrink(target int64) int {
	return c.evictTo(max(target, 0))
}

func (c *Cache) evictTo(target int64) int {
	n := 0
	for c.size > target {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		n++
	}
	c.countEvictions(n)
	return n
}

func (c *Cache) countEvictions(n int) {
	if n == 0 {
		return
	}
	c.evictions += uint64(n)
	c.metrics.evictions.Add(float64(n))
}

// Purge drops every entry. Statistics counters are kept.
func (c *Cache) Purge() {
	c.lru.Purge()
	c.size = 0
	c.sync()
}

// Len is the number of entries.
func (c *Cache) Len() int { return c.lru.Len() }

// SizeBytes is the estimated size of all entries.
func (c *Cache) SizeBytes() int64 { return c.size }

// MaxBytes is the byte ceiling.
func (c *Cache) MaxBytes() int64 { return c.max }

// Statistics returns a snapshot of the counters.
func (c *Cache) Statistics() Stats {
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		SizeBytes: c.size,
		MaxBytes:  c.max,
		Entries:   c.lru.Len(),
	}
}

// Fingerprints lists the cached keys from least to most recently used.
func (c *Cache) Fingerprints() []Fingerprint {
	keys := c.lru.Keys()
	out := make([]Fingerprint, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(Fingerprint))
	}
	return out
}
