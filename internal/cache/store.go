// Package cache holds the client-side copy of remote collections.
//
// A Store keeps one Collection per key. Every write is atomic with respect
// to readers, and subscribers of a key are notified after each write with
// an independent copy of the collection, in the order the writes happened.
package cache

import (
	"slices"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Status is the fetch lifecycle state of a collection.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Collection is a point-in-time copy of one cached collection.
type Collection[T any] struct {
	Key       string
	Data      []T
	FetchedAt time.Time
	Status    Status
	// Stale is set by Invalidate and cleared by the next successful replace.
	Stale bool
	// Fetching reports a fetch started by BeginFetch that has not settled.
	Fetching bool
	// Err is the last fetch error, kept alongside whatever data survived it.
	Err        error
	Generation uint64
}

// Listener receives the collection after every write to its key.
// Listeners run synchronously on the writer's goroutine and must not
// write to the Store.
type Listener[T any] func(Collection[T])

type entry[T any] struct {
	data      []T
	fetchedAt time.Time
	status    Status
	stale     bool
	fetching  bool
	err       error
	gen       uint64
}

// Store is a concurrency-safe map of keyed collections.
type Store[T any] struct {
	clock clock.PassiveClock

	// writeMu serializes writers across mutate and notify so listeners
	// observe writes in order. mu guards the maps and is held only briefly.
	writeMu sync.Mutex
	mu      sync.RWMutex
	entries map[string]*entry[T]
	subs    map[string]map[uint64]Listener[T]
	nextSub uint64
	closed  bool
}

// New creates an empty Store. A nil clock uses the wall clock.
func New[T any](clk clock.PassiveClock) *Store[T] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store[T]{
		clock:   clk,
		entries: make(map[string]*entry[T]),
		subs:    make(map[string]map[uint64]Listener[T]),
	}
}

// Read returns a copy of the collection stored under key.
func (s *Store[T]) Read(key string) (Collection[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Collection[T]{Key: key, Status: StatusIdle}, false
	}
	return e.snapshot(key), true
}

// Keys returns every key that has an entry, sorted.
func (s *Store[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Replace overwrites the data under key and marks it freshly fetched.
func (s *Store[T]) Replace(key string, data []T) {
	s.write(key, func(e *entry[T]) bool {
		e.setFetched(data, s.clock.Now())
		return true
	})
}

// Patch applies fn to the current data under key. ok is false when the key
// has never held data. Returning nil for an absent key leaves the store
// untouched. fn receives a private copy and must not retain it.
func (s *Store[T]) Patch(key string, fn func(data []T, ok bool) []T) {
	s.write(key, func(e *entry[T]) bool {
		present := e.data != nil
		next := fn(slices.Clone(e.data), present)
		if next == nil && !present {
			return false
		}
		if next == nil {
			next = []T{}
		}
		e.data = next
		if e.status == StatusIdle || e.status == StatusLoading {
			e.status = StatusSuccess
		}
		return true
	})
}

// Restore writes data back verbatim, including a nil slice for a key that
// had no data when it was captured. Status and fetch bookkeeping are kept.
func (s *Store[T]) Restore(key string, data []T) {
	s.write(key, func(e *entry[T]) bool {
		e.data = slices.Clone(data)
		return true
	})
}

// Invalidate marks key stale without discarding its data. It reports
// whether the key had an entry.
func (s *Store[T]) Invalidate(key string) bool {
	found := false
	s.write(key, func(e *entry[T]) bool {
		found = e.status != StatusIdle || e.data != nil
		e.stale = true
		return true
	})
	return found
}

// BeginFetch starts a new fetch generation for key and returns it. Only
// the result of the most recent generation may be written back.
func (s *Store[T]) BeginFetch(key string) uint64 {
	var gen uint64
	s.write(key, func(e *entry[T]) bool {
		e.gen++
		gen = e.gen
		e.fetching = true
		if e.data == nil {
			e.status = StatusLoading
		}
		return true
	})
	return gen
}

// Cancel supersedes any in-flight fetch for key. A result for an earlier
// generation arriving later is discarded by ReplaceIfCurrent.
func (s *Store[T]) Cancel(key string) uint64 {
	var gen uint64
	s.write(key, func(e *entry[T]) bool {
		e.gen++
		gen = e.gen
		e.fetching = false
		if e.status == StatusLoading {
			e.status = StatusIdle
		}
		return true
	})
	return gen
}

// ReplaceIfCurrent stores data only if gen is still the current generation.
func (s *Store[T]) ReplaceIfCurrent(key string, gen uint64, data []T) bool {
	applied := false
	s.write(key, func(e *entry[T]) bool {
		if e.gen != gen {
			return false
		}
		e.setFetched(data, s.clock.Now())
		applied = true
		return true
	})
	return applied
}

// FailIfCurrent records a fetch failure for gen, keeping prior data.
func (s *Store[T]) FailIfCurrent(key string, gen uint64, err error) bool {
	applied := false
	s.write(key, func(e *entry[T]) bool {
		if e.gen != gen {
			return false
		}
		e.err = err
		e.status = StatusError
		e.fetching = false
		applied = true
		return true
	})
	return applied
}

// Subscribe registers fn for writes to key. The returned func removes it.
func (s *Store[T]) Subscribe(key string, fn Listener[T]) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	if s.subs[key] == nil {
		s.subs[key] = make(map[uint64]Listener[T])
	}
	s.subs[key][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
		if len(s.subs[key]) == 0 {
			delete(s.subs, key)
		}
	}
}

// Observed reports whether key has at least one subscriber.
func (s *Store[T]) Observed(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[key]) > 0
}

// Close drops every subscriber. Later writes still apply but notify no one.
func (s *Store[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[string]map[uint64]Listener[T])
}

// write applies fn to key's entry and, if fn reports a change, notifies
// the key's subscribers with the post-write collection.
func (s *Store[T]) write(key string, fn func(*entry[T]) bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry[T]{status: StatusIdle}
	}
	changed := fn(e)
	if !ok && changed {
		s.entries[key] = e
	}
	var (
		snap      Collection[T]
		listeners []Listener[T]
	)
	if changed {
		snap = e.snapshot(key)
		for _, l := range s.subs[key] {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		c := snap
		c.Data = slices.Clone(snap.Data)
		l(c)
	}
}

func (e *entry[T]) setFetched(data []T, now time.Time) {
	e.data = slices.Clone(data)
	if e.data == nil {
		e.data = []T{}
	}
	e.fetchedAt = now
	e.status = StatusSuccess
	e.stale = false
	e.fetching = false
	e.err = nil
}

func (e *entry[T]) snapshot(key string) Collection[T] {
	return Collection[T]{
		Key:        key,
		Data:       slices.Clone(e.data),
		FetchedAt:  e.fetchedAt,
		Status:     e.status,
		Stale:      e.stale,
		Fetching:   e.fetching,
		Err:        e.err,
		Generation: e.gen,
	}
}
