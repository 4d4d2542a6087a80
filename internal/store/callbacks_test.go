package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nfrund/quickchat/internal/domain"
)

func TestCallbacksFireInRegistrationOrder(t *testing.T) {
	c := NewCallbacks[domain.Room]()
	var calls []string
	c.OnInsert(func(domain.Room) { calls = append(calls, "a") })
	c.OnInsert(func(domain.Room) { calls = append(calls, "b") })

	c.FireInsert(domain.Room{ID: 1})
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestCallbacksRemoved(t *testing.T) {
	c := NewCallbacks[domain.Room]()
	n := 0
	ins := c.OnInsert(func(domain.Room) { n++ })
	upd := c.OnUpdate(func(_, _ domain.Room) { n++ })
	del := c.OnDelete(func(domain.Room) { n++ })
	assert.Equal(t, 3, c.Len())

	c.RemoveOnInsert(ins)
	c.RemoveOnUpdate(upd)
	c.RemoveOnDelete(del)
	c.RemoveOnDelete(del)
	assert.Equal(t, 0, c.Len())

	c.FireInsert(domain.Room{})
	c.FireUpdate(domain.Room{}, domain.Room{})
	c.FireDelete(domain.Room{})
	assert.Zero(t, n)
}

func TestTablesFireRoutesByTable(t *testing.T) {
	tables := NewTables()
	var got []domain.Message
	var updated []domain.Room
	tables.Messages.OnInsert(func(m domain.Message) { got = append(got, m) })
	tables.Rooms.OnUpdate(func(_, r domain.Room) { updated = append(updated, r) })

	tables.Fire(RowEvent{Table: domain.TableMessage, Kind: RowInsert, New: domain.Message{ID: 4}})
	tables.Fire(RowEvent{Table: domain.TableRoom, Kind: RowUpdate, Old: domain.Room{ID: 1}, New: domain.Room{ID: 1, Name: "x"}})
	tables.Fire(RowEvent{Table: domain.TableRoom, Kind: RowInsert, New: domain.Message{}})

	assert.Equal(t, []domain.Message{{ID: 4}}, got)
	assert.Equal(t, []domain.Room{{ID: 1, Name: "x"}}, updated)
}

func TestResultCallbacks(t *testing.T) {
	var r ResultCallbacks
	var got []ReducerEvent
	id := r.OnResult(func(ev ReducerEvent) { got = append(got, ev) })

	r.Fire(ReducerEvent{Reducer: ReducerSetName, Status: StatusFailed, Message: "Names must not be empty"})
	r.RemoveOnResult(id)
	r.Fire(ReducerEvent{Reducer: ReducerSetName})

	assert.Len(t, got, 1)
	assert.Equal(t, "failed", got[0].Status.String())
}
