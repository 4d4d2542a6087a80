package store

import (
	"reflect"

	"github.com/nfrund/quickchat/internal/domain"
)

// SubID identifies a subscription within one connection.
type SubID uint64

// RowEventKind is the kind of change delivered to table callbacks.
type RowEventKind int

const (
	RowInsert RowEventKind = iota
	RowUpdate
	RowDelete
)

func (k RowEventKind) String() string {
	switch k {
	case RowInsert:
		return "insert"
	case RowUpdate:
		return "update"
	case RowDelete:
		return "delete"
	}
	return "unknown"
}

// RowEvent is one change of the client's view of a table. Old is set for
// updates and deletes, New for inserts and updates.
type RowEvent struct {
	Table string
	Kind  RowEventKind
	Old   any
	New   any
}

type cachedRow struct {
	row     any
	holders map[SubID]struct{}
}

// ClientCache tracks which subscriptions hold which rows, so that a row
// matched by several subscriptions is inserted once and deleted only when the
// last of them lets go of it.
type ClientCache struct {
	tables map[string]map[string]*cachedRow
}

// NewClientCache returns an empty cache.
func NewClientCache() *ClientCache {
	return &ClientCache{tables: make(map[string]map[string]*cachedRow)}
}

// Put records that sub holds row under key with its current value.
func (c *ClientCache) Put(sub SubID, table, key string, row any) (RowEvent, bool) {
	rows := c.tables[table]
	if rows == nil {
		rows = make(map[string]*cachedRow)
		c.tables[table] = rows
	}

	entry, ok := rows[key]
	if !ok {
		rows[key] = &cachedRow{row: row, holders: map[SubID]struct{}{sub: {}}}
		return RowEvent{Table: table, Kind: RowInsert, New: row}, true
	}

	entry.holders[sub] = struct{}{}
	if reflect.DeepEqual(entry.row, row) {
		return RowEvent{}, false
	}
	old := entry.row
	entry.row = row
	return RowEvent{Table: table, Kind: RowUpdate, Old: old, New: row}, true
}

// Drop releases sub's hold on key.
func (c *ClientCache) Drop(sub SubID, table, key string) (RowEvent, bool) {
	entry, ok := c.tables[table][key]
	if !ok {
		return RowEvent{}, false
	}
	if _, held := entry.holders[sub]; !held {
		return RowEvent{}, false
	}
	delete(entry.holders, sub)
	if len(entry.holders) > 0 {
		return RowEvent{}, false
	}
	delete(c.tables[table], key)
	return RowEvent{Table: table, Kind: RowDelete, Old: entry.row}, true
}

// Release drops every hold of sub, returning deletes for orphaned rows.
func (c *ClientCache) Release(sub SubID) []RowEvent {
	var events []RowEvent
	for table, rows := range c.tables {
		for key, entry := range rows {
			if _, held := entry.holders[sub]; !held {
				continue
			}
			delete(entry.holders, sub)
			if len(entry.holders) == 0 {
				delete(rows, key)
				events = append(events, RowEvent{Table: table, Kind: RowDelete, Old: entry.row})
			}
		}
	}
	return events
}

// Get returns the cached value of key.
func (c *ClientCache) Get(table, key string) (any, bool) {
	entry, ok := c.tables[table][key]
	if !ok {
		return nil, false
	}
	return entry.row, true
}

// Len returns the number of rows cached for table.
func (c *ClientCache) Len(table string) int {
	return len(c.tables[table])
}

// Apply brings the cache in line with a committed change of one row. row is
// nil when the row was deleted; matching lists the subscriptions whose query
// the new row satisfies and others the remaining subscriptions on the table.
func (c *ClientCache) Apply(table string, key string, row any, matching, others []SubID) []RowEvent {
	var events []RowEvent
	if row != nil {
		for _, sub := range matching {
			if ev, ok := c.Put(sub, table, key, row); ok {
				events = append(events, ev)
			}
		}
	} else {
		others = append(others, matching...)
	}
	for _, sub := range others {
		if ev, ok := c.Drop(sub, table, key); ok {
			events = append(events, ev)
		}
	}
	return events
}

// KeyOf is a convenience wrapper around domain.RowKey for cache callers.
func KeyOf(row any) string {
	key, _ := domain.RowKey(row)
	return key
}
