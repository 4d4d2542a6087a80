package store

import (
	"sort"
	"sync"

	"github.com/nfrund/quickchat/internal/domain"
)

// registry holds callbacks of one kind in registration order.
type registry[F any] struct {
	mu  sync.Mutex
	fns map[CallbackID]F
}

func (r *registry[F]) add(seq *CallbackID, fn F) CallbackID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fns == nil {
		r.fns = make(map[CallbackID]F)
	}
	*seq++
	r.fns[*seq] = fn
	return *seq
}

func (r *registry[F]) remove(id CallbackID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fns, id)
}

func (r *registry[F]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fns)
}

// snapshot returns the callbacks registered right now, oldest first.
func (r *registry[F]) snapshot() []F {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]CallbackID, 0, len(r.fns))
	for id := range r.fns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]F, len(ids))
	for i, id := range ids {
		out[i] = r.fns[id]
	}
	return out
}

// Callbacks is the callback registry behind a Table. Fire methods must be
// called on the dispatcher; they invoke whatever is registered at that moment,
// so a callback removed before an event is fired never sees it.
type Callbacks[T any] struct {
	mu      sync.Mutex
	seq     CallbackID
	inserts registry[func(T)]
	updates registry[func(T, T)]
	deletes registry[func(T)]
}

// NewCallbacks returns an empty registry.
func NewCallbacks[T any]() *Callbacks[T] {
	return &Callbacks[T]{}
}

func (c *Callbacks[T]) OnInsert(fn func(row T)) CallbackID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inserts.add(&c.seq, fn)
}

func (c *Callbacks[T]) RemoveOnInsert(id CallbackID) { c.inserts.remove(id) }

func (c *Callbacks[T]) OnUpdate(fn func(oldRow, newRow T)) CallbackID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates.add(&c.seq, fn)
}

func (c *Callbacks[T]) RemoveOnUpdate(id CallbackID) { c.updates.remove(id) }

func (c *Callbacks[T]) OnDelete(fn func(row T)) CallbackID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes.add(&c.seq, fn)
}

func (c *Callbacks[T]) RemoveOnDelete(id CallbackID) { c.deletes.remove(id) }

// Len returns the total number of registered callbacks.
func (c *Callbacks[T]) Len() int {
	return c.inserts.len() + c.updates.len() + c.deletes.len()
}

func (c *Callbacks[T]) FireInsert(row T) {
	for _, fn := range c.inserts.snapshot() {
		fn(row)
	}
}

func (c *Callbacks[T]) FireUpdate(oldRow, newRow T) {
	for _, fn := range c.updates.snapshot() {
		fn(oldRow, newRow)
	}
}

func (c *Callbacks[T]) FireDelete(row T) {
	for _, fn := range c.deletes.snapshot() {
		fn(row)
	}
}

// ResultCallbacks is the registry behind Reducers.OnResult.
type ResultCallbacks struct {
	mu  sync.Mutex
	seq CallbackID
	fns registry[func(ReducerEvent)]
}

func (r *ResultCallbacks) OnResult(fn func(ev ReducerEvent)) CallbackID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fns.add(&r.seq, fn)
}

func (r *ResultCallbacks) RemoveOnResult(id CallbackID) { r.fns.remove(id) }

func (r *ResultCallbacks) Fire(ev ReducerEvent) {
	for _, fn := range r.fns.snapshot() {
		fn(ev)
	}
}

// Tables bundles the callback registries of the four chat tables.
type Tables struct {
	Users    *Callbacks[domain.User]
	Rooms    *Callbacks[domain.Room]
	Messages *Callbacks[domain.Message]
	Pointers *Callbacks[domain.Pointer]
}

// NewTables returns empty registries for every table.
func NewTables() *Tables {
	return &Tables{
		Users:    NewCallbacks[domain.User](),
		Rooms:    NewCallbacks[domain.Room](),
		Messages: NewCallbacks[domain.Message](),
		Pointers: NewCallbacks[domain.Pointer](),
	}
}

// Fire routes a row event to the registry of its table.
func (t *Tables) Fire(ev RowEvent) {
	switch ev.Table {
	case domain.TableUser:
		fire(t.Users, ev)
	case domain.TableRoom:
		fire(t.Rooms, ev)
	case domain.TableMessage:
		fire(t.Messages, ev)
	case domain.TablePointer:
		fire(t.Pointers, ev)
	}
}

func fire[T any](c *Callbacks[T], ev RowEvent) {
	switch ev.Kind {
	case RowInsert:
		if row, ok := ev.New.(T); ok {
			c.FireInsert(row)
		}
	case RowUpdate:
		oldRow, okOld := ev.Old.(T)
		newRow, okNew := ev.New.(T)
		if okOld && okNew {
			c.FireUpdate(oldRow, newRow)
		}
	case RowDelete:
		if row, ok := ev.Old.(T); ok {
			c.FireDelete(row)
		}
	}
}
