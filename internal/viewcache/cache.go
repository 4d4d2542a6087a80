// Package viewcache keeps client-local views of remote tables consistent with
// the stream of row changes the store delivers.
package viewcache

import (
	"errors"
	"sort"
	"sync"

	"github.com/nfrund/quickchat/internal/store"
)

// ErrAlreadyAttached is returned by Attach when the cache is already
// registered with a table.
var ErrAlreadyAttached = errors.New("view cache already attached")

type entry[T any] struct {
	value T
	seq   uint64
}

// Snapshot is an immutable view of a cache at one point in time.
type Snapshot[K comparable, T any] struct {
	entries map[K]entry[T]
}

// Get returns the value stored under k.
func (s Snapshot[K, T]) Get(k K) (T, bool) {
	e, ok := s.entries[k]
	return e.value, ok
}

// Len returns the number of entries.
func (s Snapshot[K, T]) Len() int { return len(s.entries) }

// Map copies the snapshot into a plain map.
func (s Snapshot[K, T]) Map() map[K]T {
	m := make(map[K]T, len(s.entries))
	for k, e := range s.entries {
		m[k] = e.value
	}
	return m
}

// Values returns the values ordered by less, ties broken by arrival.
// A nil less orders purely by arrival.
func (s Snapshot[K, T]) Values(less func(a, b T) bool) []T {
	es := make([]entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool {
		if less != nil {
			if less(es[i].value, es[j].value) {
				return true
			}
			if less(es[j].value, es[i].value) {
				return false
			}
		}
		return es[i].seq < es[j].seq
	})
	out := make([]T, len(es))
	for i, e := range es {
		out[i] = e.value
	}
	return out
}

// Option configures a Cache.
type Option[K comparable, T any] func(*Cache[K, T])

// WithTransform rewrites values on insert and update before they are stored.
func WithTransform[K comparable, T any](fn func(T) T) Option[K, T] {
	return func(c *Cache[K, T]) { c.transform = fn }
}

// WithOnChange registers a function called after every applied event.
func WithOnChange[K comparable, T any](fn func()) Option[K, T] {
	return func(c *Cache[K, T]) { c.onChange = fn }
}

// Cache maps identity keys to the latest known value of each entity.
//
// Apply methods are called from a single goroutine (the client's event loop)
// and change the entries in place. Snapshot may be called from anywhere: it
// copies the entries the first time it is called after a change, under the
// same lock the apply methods hold, so readers never observe a half-applied
// change.
type Cache[K comparable, T any] struct {
	name      string
	key       func(T) K
	transform func(T) T
	onChange  func()

	dataMu  sync.Mutex
	seq     uint64
	entries map[K]entry[T]
	// snap is the copy handed to readers; nil when entries changed since.
	snap *Snapshot[K, T]

	mu       sync.Mutex
	attached *attachment
}

type attachment struct {
	detach func()
}

// New creates an empty cache keyed by key.
func New[K comparable, T any](name string, key func(T) K, opts ...Option[K, T]) *Cache[K, T] {
	c := &Cache[K, T]{name: name, key: key}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = make(map[K]entry[T])
	return c
}

// Name returns the cache's name.
func (c *Cache[K, T]) Name() string { return c.name }

// Snapshot returns the view as of the most recently applied event.
func (c *Cache[K, T]) Snapshot() Snapshot[K, T] {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.snap == nil {
		copied := make(map[K]entry[T], len(c.entries))
		for k, e := range c.entries {
			copied[k] = e
		}
		c.snap = &Snapshot[K, T]{entries: copied}
	}
	return *c.snap
}

// ApplyInsert stores v under its key. A value already present under that key
// is replaced, so redelivered inserts are harmless.
func (c *Cache[K, T]) ApplyInsert(v T) {
	c.mutate(func(m map[K]entry[T]) {
		c.put(m, v)
	})
}

// ApplyUpdate removes the entry for oldV's key and stores newV under its own
// key. The two keys may differ.
func (c *Cache[K, T]) ApplyUpdate(oldV, newV T) {
	c.mutate(func(m map[K]entry[T]) {
		delete(m, c.key(oldV))
		c.put(m, newV)
	})
}

// ApplyDelete removes the entry whose key equals v's key, whatever the other
// fields of the stored value are. Unknown keys are ignored.
func (c *Cache[K, T]) ApplyDelete(v T) {
	c.mutate(func(m map[K]entry[T]) {
		delete(m, c.key(v))
	})
}

// Clear drops every entry.
func (c *Cache[K, T]) Clear() {
	c.mutate(func(m map[K]entry[T]) {
		clear(m)
	})
}

func (c *Cache[K, T]) put(m map[K]entry[T], v T) {
	if c.transform != nil {
		v = c.transform(v)
	}
	c.seq++
	m[c.key(v)] = entry[T]{value: v, seq: c.seq}
}

// mutate applies fn to the live entries and invalidates the reader copy.
func (c *Cache[K, T]) mutate(fn func(map[K]entry[T])) {
	c.dataMu.Lock()
	fn(c.entries)
	c.snap = nil
	c.dataMu.Unlock()
	if c.onChange != nil {
		c.onChange()
	}
}

// Attach registers the cache's insert, update and delete handlers on table.
func (c *Cache[K, T]) Attach(table store.Table[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached != nil {
		return ErrAlreadyAttached
	}

	ins := table.OnInsert(c.ApplyInsert)
	upd := table.OnUpdate(c.ApplyUpdate)
	del := table.OnDelete(c.ApplyDelete)
	c.attached = &attachment{detach: func() {
		table.RemoveOnInsert(ins)
		table.RemoveOnUpdate(upd)
		table.RemoveOnDelete(del)
	}}
	return nil
}

// Detach removes the handlers registered by Attach. It must run on the
// goroutine that fires the table's events (the client's event loop); then no
// handler of this cache runs after Detach returns, until the next Attach.
// Detaching a detached cache is a no-op.
func (c *Cache[K, T]) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached == nil {
		return
	}
	c.attached.detach()
	c.attached = nil
}

// Attached reports whether the cache is registered with a table.
func (c *Cache[K, T]) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached != nil
}
