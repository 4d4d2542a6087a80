package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row map[string]string

func (r row) Column(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}

func TestParse(t *testing.T) {
	tests := []struct {
		src  string
		want Query
	}{
		{"SELECT * FROM room", Query{Table: "room"}},
		{"select * from USER", Query{Table: "user"}},
		{"SELECT * FROM message WHERE room = 1", Query{Table: "message", Where: &Condition{"room", OpEq, "1"}}},
		{"SELECT * FROM pointer where owner != 'abc'", Query{Table: "pointer", Where: &Condition{"owner", OpNe, "abc"}}},
		{"SELECT * FROM pointer WHERE owner <> 'abc'", Query{Table: "pointer", Where: &Condition{"owner", OpNe, "abc"}}},
		{"SELECT * FROM message WHERE room = 007", Query{Table: "message", Where: &Condition{"room", OpEq, "7"}}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"SELECT name FROM room",
		"SELECT * room",
		"SELECT * FROM room WHERE",
		"SELECT * FROM room WHERE id > 1",
		"SELECT * FROM room WHERE id = 'open",
		"SELECT * FROM room WHERE id = 1 AND name = 'x'",
		"SELECT * FROM room;",
		"SELECT * FROM message WHERE room = ١",
		"SELECT * FROM message WHERE room = 1٢",
	} {
		_, err := Parse(src)
		assert.ErrorIs(t, err, ErrSyntax, src)
	}
}

func TestMatch(t *testing.T) {
	all, err := Parse("SELECT * FROM message")
	require.NoError(t, err)
	assert.True(t, all.Match(row{"room": "2"}))

	inRoom, err := Parse("SELECT * FROM message WHERE room = 1")
	require.NoError(t, err)
	assert.True(t, inRoom.Match(row{"room": "1"}))
	assert.False(t, inRoom.Match(row{"room": "2"}))
	assert.False(t, inRoom.Match(row{}))

	padded, err := Parse("SELECT * FROM message WHERE room = 01")
	require.NoError(t, err)
	assert.True(t, padded.Match(row{"room": "1"}))

	notMe, err := Parse("SELECT * FROM pointer WHERE owner != 'me'")
	require.NoError(t, err)
	assert.True(t, notMe.Match(row{"owner": "you"}))
	assert.False(t, notMe.Match(row{"owner": "me"}))
}

func TestStringRoundTrips(t *testing.T) {
	q, err := Parse("SELECT * FROM message WHERE room = 3")
	require.NoError(t, err)

	again, err := Parse(q.String())
	require.NoError(t, err)
	assert.Equal(t, q, again)
}
