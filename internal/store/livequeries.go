package store

import (
	"fmt"
	"sync"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/store/query"
)

// Tables known to every store, each with a zero row to probe columns on.
var knownTables = map[string]query.Row{
	domain.TableUser:    domain.User{},
	domain.TableRoom:    domain.Room{},
	domain.TableMessage: domain.Message{},
	domain.TablePointer: domain.Pointer{},
}

// ParseQuery parses src and checks the table and the filtered column exist.
func ParseQuery(src string) (query.Query, error) {
	q, err := query.Parse(src)
	if err != nil {
		return query.Query{}, err
	}
	probe, ok := knownTables[q.Table]
	if !ok {
		return query.Query{}, fmt.Errorf("%w: %s", ErrUnknownTable, q.Table)
	}
	if q.Where != nil {
		if _, ok := probe.Column(q.Where.Column); !ok {
			return query.Query{}, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, q.Table, q.Where.Column)
		}
	}
	return q, nil
}

// LiveQueries is the set of subscriptions of one connection that have not
// been unsubscribed. It is consulted at delivery time so that events queued
// before an unsubscribe never reach table callbacks afterwards.
type LiveQueries struct {
	mu   sync.Mutex
	next SubID
	subs map[SubID]query.Query
}

// NewLiveQueries returns an empty set.
func NewLiveQueries() *LiveQueries {
	return &LiveQueries{subs: make(map[SubID]query.Query)}
}

// Add registers q and returns its id.
func (l *LiveQueries) Add(q query.Query) SubID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.subs[l.next] = q
	return l.next
}

// Put registers q under a caller chosen id.
func (l *LiveQueries) Put(id SubID, q query.Query) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[id] = q
}

// Remove forgets id and reports whether it was live.
func (l *LiveQueries) Remove(id SubID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.subs[id]
	delete(l.subs, id)
	return ok
}

// Clear forgets every subscription.
func (l *LiveQueries) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = make(map[SubID]query.Query)
}

// Live reports whether id is registered.
func (l *LiveQueries) Live(id SubID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.subs[id]
	return ok
}

// Len returns the number of live subscriptions.
func (l *LiveQueries) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Partition splits the live subscriptions on table into those whose query
// row satisfies and the rest. row may be nil, in which case every
// subscription on the table lands in others.
func (l *LiveQueries) Partition(table string, row query.Row) (matching, others []SubID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, q := range l.subs {
		if q.Table != table {
			continue
		}
		if row != nil && q.Match(row) {
			matching = append(matching, id)
		} else {
			others = append(others, id)
		}
	}
	return matching, others
}

// Admits reports whether ev may still be delivered: deletes always are,
// inserts and updates only while a live subscription matches the new row.
func (l *LiveQueries) Admits(ev RowEvent) bool {
	if ev.Kind == RowDelete {
		return true
	}
	row, ok := ev.New.(query.Row)
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, q := range l.subs {
		if q.Table == ev.Table && q.Match(row) {
			return true
		}
	}
	return false
}
