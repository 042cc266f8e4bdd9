// Package decaymap implements a concurrent map whose entries expire after a
// per-entry time to live.
//
// The map is split into shards selected by an xxhash of the key. Every shard
// has its own lock, so operations on one key are atomic with respect to each
// other while keys living in different shards never wait on one another.
package decaymap

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when New is not given WithShards.
const DefaultShards = 32

// Outcome describes what Consume did with a key.
type Outcome int

const (
	// Missing means there was no entry for the key.
	Missing Outcome = iota
	// Expired means the entry was past its expiry and has been removed.
	Expired
	// Mismatch means the entry was live but the match function rejected it. The
	// entry is left in place.
	Mismatch
	// Consumed means the entry was live, matched and has been removed.
	Consumed
)

func (o Outcome) String() string {
	switch o {
	case Missing:
		return "missing"
	case Expired:
		return "expired"
	case Mismatch:
		return "mismatch"
	case Consumed:
		return "consumed"
	default:
		return "unknown"
	}
}

type entry[V any] struct {
	value  V
	expiry time.Time
}

type shard[K ~string, V any] struct {
	lock sync.Mutex
	data map[K]entry[V]
}

// Impl is a sharded expiring map. Create one with New; the zero value is not
// usable.
type Impl[K ~string, V any] struct {
	shards []*shard[K, V]
	now    func() time.Time
}

type config struct {
	shards int
	now    func() time.Time
}

// Option customizes a map created by New.
type Option func(*config)

// WithShards sets the number of lock shards. Values below one are ignored.
func WithShards(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.shards = n
		}
	}
}

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty map.
func New[K ~string, V any](opts ...Option) *Impl[K, V] {
	cfg := config{
		shards: DefaultShards,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	result := &Impl[K, V]{
		shards: make([]*shard[K, V], cfg.shards),
		now:    cfg.now,
	}
	for i := range result.shards {
		result.shards[i] = &shard[K, V]{data: map[K]entry[V]{}}
	}

	return result
}

func (m *Impl[K, V]) shardFor(key K) *shard[K, V] {
	return m.shards[xxhash.Sum64String(string(key))%uint64(len(m.shards))]
}

func (e entry[V]) expired(now time.Time) bool {
	return now.After(e.expiry)
}

// Set stores value under key for ttl, replacing any previous entry.
func (m *Impl[K, V]) Set(key K, value V, ttl time.Duration) {
	s := m.shardFor(key)
	expiry := m.now().Add(ttl)

	s.lock.Lock()
	defer s.lock.Unlock()

	s.data[key] = entry[V]{value: value, expiry: expiry}
}

// Now returns the current time according to the map's clock.
func (m *Impl[K, V]) Now() time.Time {
	return m.now()
}

// Consume looks up key and, while holding its shard lock, hands the live
// value to match. The entry is removed if it has expired or if match returns
// true. Two concurrent calls can never both observe Consumed for the same
// stored entry.
func (m *Impl[K, V]) Consume(key K, match func(V) bool) Outcome {
	s := m.shardFor(key)
	now := m.now()

	s.lock.Lock()
	defer s.lock.Unlock()

	e, ok := s.data[key]
	if !ok {
		return Missing
	}

	if e.expired(now) {
		delete(s.data, key)
		return Expired
	}

	if !match(e.value) {
		return Mismatch
	}

	delete(s.data, key)
	return Consumed
}

// Cleanup removes every expired entry and returns how many were removed.
// Shards are swept one at a time so request traffic on other shards is not
// held up.
func (m *Impl[K, V]) Cleanup() int {
	removed := 0
	for _, s := range m.shards {
		now := m.now()

		s.lock.Lock()
		for key, e := range s.data {
			if e.expired(now) {
				delete(s.data, key)
				removed++
			}
		}
		s.lock.Unlock()
	}

	return removed
}

// Len returns the number of stored entries, including expired entries that
// have not been cleaned up yet.
func (m *Impl[K, V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.lock.Lock()
		total += len(s.data)
		s.lock.Unlock()
	}

	return total
}
