// Package cache implements the in-memory response cache for the Numera
// backend: a TTL store with separate staleness tracking, plus a
// stale-while-revalidate fetch orchestrator on top of it.
package cache

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long an entry may be served at all.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxAge is how long an entry is served without triggering a
	// background refresh.
	DefaultMaxAge = 30 * time.Minute
)

var (
	// ErrInvalidKey is returned for an empty cache key.
	ErrInvalidKey = errors.New("cache: empty key")

	// ErrInvalidTTL is returned for a negative TTL.
	ErrInvalidTTL = errors.New("cache: negative ttl")
)

type entry struct {
	data      any
	timestamp time.Time
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Options control a single Set or Fetch call. Zero durations mean the
// store defaults.
type Options struct {
	// TTL bounds how long the entry may be served at all.
	TTL time.Duration

	// MaxAge bounds how long the entry is served without being
	// considered stale.
	MaxAge time.Duration

	// NoRevalidate disables the background refresh of stale entries in
	// Fetch; a stale entry then forces a synchronous fetch.
	NoRevalidate bool
}

// Store is an in-memory TTL cache keyed by string. It is safe for
// concurrent use. Entries are never persisted; a restart starts empty.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	defaultTTL    time.Duration
	defaultMaxAge time.Duration

	sf singleflight.Group
}

// New creates an empty store with DefaultTTL and DefaultMaxAge.
func New() *Store {
	return NewWithDefaults(DefaultTTL, DefaultMaxAge)
}

// NewWithDefaults creates an empty store with custom default TTL and
// staleness thresholds. Non-positive values fall back to the package
// defaults.
func NewWithDefaults(ttl, maxAge time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		entries:       make(map[string]*entry),
		defaultTTL:    ttl,
		defaultMaxAge: maxAge,
	}
}

// Set stores data under key, unconditionally replacing any previous entry.
func (s *Store) Set(key string, data any, opts Options) error {
	if key == "" {
		return ErrInvalidKey
	}
	if opts.TTL < 0 {
		return ErrInvalidTTL
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	now := time.Now()
	s.mu.Lock()
	s.entries[key] = &entry{
		data:      data,
		timestamp: now,
		expiresAt: now.Add(ttl),
	}
	s.mu.Unlock()
	return nil
}

// Get returns the cached data for key, or false when the key is absent or
// expired. Reading an expired entry removes it.
func (s *Store) Get(key string) (any, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if ent.expired(now) {
		delete(s.entries, key)
		logrus.Debugf("Evicted expired cache entry: %s", key)
		return nil, false
	}
	return ent.data, true
}

// IsStale reports whether key is absent or older than maxAge. A zero
// maxAge means the store default. Staleness is independent of expiry: an
// entry can still be served by Get while IsStale reports true.
func (s *Store) IsStale(key string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = s.defaultMaxAge
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entries[key]
	if !ok {
		return true
	}
	return time.Since(ent.timestamp) > maxAge
}

// Invalidate removes key. Removing an absent key is a no-op.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// InvalidatePattern removes every key matching re.
func (s *Store) InvalidatePattern(re *regexp.Regexp) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		if re.MatchString(k) {
			delete(s.entries, k)
		}
	}
}

// InvalidatePrefix removes every key starting with prefix. The prefix is
// taken literally, regex metacharacters included.
func (s *Store) InvalidatePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
}

// Size returns the number of entries currently held, expired or not.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// lookState is a non-evicting snapshot of one entry, taken under the read
// lock so expiry and staleness are judged against the same instant.
type lookState struct {
	data    any
	found   bool
	expired bool
	stale   bool
}

// lookup returns the raw entry state without the eviction side effect of
// Get. Fetch reads through it so the failure fallback can still see
// entries Get would have removed.
func (s *Store) lookup(key string, maxAge time.Duration) lookState {
	if maxAge <= 0 {
		maxAge = s.defaultMaxAge
	}
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entries[key]
	if !ok {
		return lookState{}
	}
	return lookState{
		data:    ent.data,
		found:   true,
		expired: ent.expired(now),
		stale:   now.Sub(ent.timestamp) > maxAge,
	}
}
