package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/quickchat/internal/domain"
)

func TestClientCacheInsertsOnceForOverlappingSubscriptions(t *testing.T) {
	c := NewClientCache()
	room := domain.Room{ID: 1, Name: "general"}

	ev, ok := c.Put(1, domain.TableRoom, "1", room)
	require.True(t, ok)
	assert.Equal(t, RowInsert, ev.Kind)

	_, ok = c.Put(2, domain.TableRoom, "1", room)
	assert.False(t, ok, "second holder of an identical row emits nothing")

	_, ok = c.Drop(1, domain.TableRoom, "1")
	assert.False(t, ok, "row still held by subscription 2")

	ev, ok = c.Drop(2, domain.TableRoom, "1")
	require.True(t, ok)
	assert.Equal(t, RowDelete, ev.Kind)
	assert.Equal(t, room, ev.Old)
	assert.Equal(t, 0, c.Len(domain.TableRoom))
}

func TestClientCacheUpdateCarriesOldValue(t *testing.T) {
	c := NewClientCache()
	c.Put(1, domain.TableRoom, "1", domain.Room{ID: 1, Name: "general"})

	ev, ok := c.Put(1, domain.TableRoom, "1", domain.Room{ID: 1, Name: "lobby"})
	require.True(t, ok)
	assert.Equal(t, RowUpdate, ev.Kind)
	assert.Equal(t, domain.Room{ID: 1, Name: "general"}, ev.Old)
	assert.Equal(t, domain.Room{ID: 1, Name: "lobby"}, ev.New)
}

func TestClientCacheRelease(t *testing.T) {
	c := NewClientCache()
	c.Put(1, domain.TableMessage, "1", domain.Message{ID: 1, Room: 1})
	c.Put(1, domain.TableMessage, "2", domain.Message{ID: 2, Room: 1})
	c.Put(2, domain.TableRoom, "1", domain.Room{ID: 1})

	events := c.Release(1)
	assert.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, RowDelete, ev.Kind)
		assert.Equal(t, domain.TableMessage, ev.Table)
	}
	assert.Equal(t, 1, c.Len(domain.TableRoom))
	assert.Empty(t, c.Release(1))
}

func TestClientCacheApply(t *testing.T) {
	c := NewClientCache()

	events := c.Apply(domain.TableMessage, "1", domain.Message{ID: 1, Room: 1}, []SubID{1}, []SubID{2})
	require.Len(t, events, 1)
	assert.Equal(t, RowInsert, events[0].Kind)

	// Moving the row to the other subscription's filter is an update.
	events = c.Apply(domain.TableMessage, "1", domain.Message{ID: 1, Room: 2}, []SubID{2}, []SubID{1})
	require.Len(t, events, 1)
	assert.Equal(t, RowUpdate, events[0].Kind)

	events = c.Apply(domain.TableMessage, "1", nil, nil, []SubID{1, 2})
	require.Len(t, events, 1)
	assert.Equal(t, RowDelete, events[0].Kind)
	assert.Equal(t, domain.Message{ID: 1, Room: 2}, events[0].Old)

	assert.Empty(t, c.Apply(domain.TableMessage, "9", nil, nil, []SubID{1}), "deleting an unknown row is a no-op")
}

func TestLiveQueriesAdmits(t *testing.T) {
	l := NewLiveQueries()
	q, err := ParseQuery("SELECT * FROM message WHERE room = 1")
	require.NoError(t, err)
	id := l.Add(q)

	inRoom := RowEvent{Table: domain.TableMessage, Kind: RowInsert, New: domain.Message{ID: 1, Room: 1}}
	otherRoom := RowEvent{Table: domain.TableMessage, Kind: RowInsert, New: domain.Message{ID: 2, Room: 2}}
	del := RowEvent{Table: domain.TableMessage, Kind: RowDelete, Old: domain.Message{ID: 1, Room: 1}}

	assert.True(t, l.Admits(inRoom))
	assert.False(t, l.Admits(otherRoom))
	assert.True(t, l.Admits(del))

	require.True(t, l.Remove(id))
	assert.False(t, l.Admits(inRoom))
	assert.True(t, l.Admits(del))
	assert.False(t, l.Remove(id))
}

func TestParseQueryUnknownTable(t *testing.T) {
	_, err := ParseQuery("SELECT * FROM secrets")
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = ParseQuery("SELECT * FROM message WHERE colour = 'red'")
	assert.ErrorIs(t, err, ErrUnknownColumn)

	q, err := ParseQuery("SELECT * FROM pointer WHERE owner != 'abc'")
	require.NoError(t, err)
	assert.Equal(t, "pointer", q.Table)
}

func TestIdentityFromToken(t *testing.T) {
	token := MintToken()
	a, err := IdentityFromToken(token)
	require.NoError(t, err)
	b, err := IdentityFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := IdentityFromToken(MintToken())
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	_, err = IdentityFromToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
