package subscription

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/store"
)

type mockSub struct {
	query        string
	onApplied    func()
	onError      func(error)
	unsubscribed int
}

func (s *mockSub) Query() string  { return s.query }
func (s *mockSub) IsActive() bool { return s.unsubscribed == 0 }
func (s *mockSub) Unsubscribe() error {
	s.unsubscribed++
	return nil
}

// mockConn records subscriptions; tests acknowledge them by hand.
type mockConn struct {
	subs      []*mockSub
	rejectAll error
	log       []string
}

func (c *mockConn) Subscribe(q string, onApplied func(), onError func(error)) (store.Subscription, error) {
	if c.rejectAll != nil {
		return nil, c.rejectAll
	}
	s := &mockSub{query: q, onApplied: onApplied, onError: onError}
	c.subs = append(c.subs, s)
	c.log = append(c.log, "subscribe "+q)
	return &loggingSub{mockSub: s, conn: c}, nil
}

type loggingSub struct {
	*mockSub
	conn *mockConn
}

func (s *loggingSub) Unsubscribe() error {
	s.conn.log = append(s.conn.log, "unsubscribe "+s.query)
	return s.mockSub.Unsubscribe()
}

func (c *mockConn) live() []*mockSub {
	var out []*mockSub
	for _, s := range c.subs {
		if s.unsubscribed == 0 {
			out = append(out, s)
		}
	}
	return out
}

func (c *mockConn) find(prefix string) *mockSub {
	for i := len(c.subs) - 1; i >= 0; i-- {
		if strings.HasPrefix(c.subs[i].query, prefix) {
			return c.subs[i]
		}
	}
	return nil
}

func (c *mockConn) IsActive() bool                        { return true }
func (c *mockConn) Users() store.Table[domain.User]       { return store.NewCallbacks[domain.User]() }
func (c *mockConn) Rooms() store.Table[domain.Room]       { return store.NewCallbacks[domain.Room]() }
func (c *mockConn) Messages() store.Table[domain.Message] { return store.NewCallbacks[domain.Message]() }
func (c *mockConn) Pointers() store.Table[domain.Pointer] { return store.NewCallbacks[domain.Pointer]() }
func (c *mockConn) Reducers() store.Reducers              { return nil }
func (c *mockConn) Disconnect() error                     { return nil }

var self = domain.MustParseIdentity(strings.Repeat("ab", domain.IdentitySize))

func TestStartIssuesBaselineAndLatchesWarm(t *testing.T) {
	conn := &mockConn{}
	var warmed int
	c := New(WithOnWarm(func() { warmed++ }))

	require.NoError(t, c.Start(conn, self))
	require.Len(t, conn.subs, 3)
	assert.Equal(t, "SELECT * FROM room", conn.subs[0].query)
	assert.Equal(t, "SELECT * FROM user", conn.subs[1].query)
	assert.Equal(t, "SELECT * FROM pointer WHERE owner != '"+self.String()+"'", conn.subs[2].query)
	for _, name := range []string{FilterRooms, FilterUsers, FilterPointers} {
		assert.Equal(t, Pending, c.State(name), name)
	}
	assert.Equal(t, Inactive, c.State(FilterMessages))

	for i, s := range conn.subs {
		assert.False(t, c.Warm())
		s.onApplied()
		assert.Equal(t, i+1, c.AppliedCount())
	}
	assert.True(t, c.Warm())
	assert.Equal(t, 1, warmed)
	assert.Equal(t, Active, c.State(FilterUsers))

	// A duplicate acknowledgment does not move the latch.
	conn.subs[0].onApplied()
	assert.Equal(t, 3, c.AppliedCount())
	assert.Equal(t, 1, warmed)
}

func TestStartTwiceDoesNotDuplicate(t *testing.T) {
	conn := &mockConn{}
	c := New()
	require.NoError(t, c.Start(conn, self))
	require.NoError(t, c.SetRoom(1))
	require.NoError(t, c.Start(conn, self))

	assert.Len(t, conn.subs, 4)
	assert.Len(t, conn.live(), 4)
}

func TestRoomSelectedBeforeStartIsIssuedOnStart(t *testing.T) {
	conn := &mockConn{}
	c := New()
	require.NoError(t, c.SetRoom(7))
	assert.Empty(t, conn.subs)

	require.NoError(t, c.Start(conn, self))
	assert.Equal(t, "SELECT * FROM message WHERE room = 7", conn.find("SELECT * FROM message").query)
	assert.Equal(t, Pending, c.State(FilterMessages))
	room, ok := c.Room()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), room)
}

func TestSetRoomSwitchUnsubscribesFirst(t *testing.T) {
	conn := &mockConn{}
	c := New()
	require.NoError(t, c.Start(conn, self))
	require.NoError(t, c.SetRoom(1))
	first := conn.find("SELECT * FROM message")
	first.onApplied()
	assert.Equal(t, Active, c.State(FilterMessages))

	conn.log = nil
	require.NoError(t, c.SetRoom(2))
	assert.Equal(t, []string{
		"unsubscribe SELECT * FROM message WHERE room = 1",
		"subscribe SELECT * FROM message WHERE room = 2",
	}, conn.log)
	assert.Equal(t, Pending, c.State(FilterMessages))
	assert.Equal(t, "SELECT * FROM message WHERE room = 2", c.Query(FilterMessages))

	// A late acknowledgment of the replaced instance is ignored.
	first.onApplied()
	assert.Equal(t, Pending, c.State(FilterMessages))

	// Selecting the same room again is a no-op.
	conn.log = nil
	require.NoError(t, c.SetRoom(2))
	assert.Empty(t, conn.log)

	messages := 0
	for _, s := range conn.live() {
		if strings.HasPrefix(s.query, "SELECT * FROM message") {
			messages++
		}
	}
	assert.Equal(t, 1, messages)
}

func TestTeardownUnsubscribesActiveAndPending(t *testing.T) {
	conn := &mockConn{}
	c := New()
	require.NoError(t, c.Start(conn, self))
	require.NoError(t, c.SetRoom(3))
	conn.subs[0].onApplied()

	c.Teardown()
	assert.Empty(t, conn.live())
	for _, s := range conn.subs {
		assert.Equal(t, 1, s.unsubscribed, s.query)
	}
	for _, name := range []string{FilterRooms, FilterUsers, FilterPointers, FilterMessages} {
		assert.Equal(t, Inactive, c.State(name))
	}
	assert.False(t, c.Warm())

	c.Teardown()
	for _, s := range conn.subs {
		assert.Equal(t, 1, s.unsubscribed, s.query)
	}
}

func TestConnectionLossResetsAndRestartResubscribes(t *testing.T) {
	first := &mockConn{}
	c := New()
	require.NoError(t, c.Start(first, self))
	require.NoError(t, c.SetRoom(1))
	for _, s := range first.subs {
		s.onApplied()
	}
	require.True(t, c.Warm())

	c.ConnectionChanged(false)
	assert.False(t, c.Warm())
	assert.Equal(t, 0, c.AppliedCount())
	assert.Equal(t, Inactive, c.State(FilterMessages))
	for _, s := range first.subs {
		assert.Zero(t, s.unsubscribed)
	}

	// Stale acknowledgments from the dead connection change nothing.
	first.subs[0].onApplied()
	assert.Equal(t, 0, c.AppliedCount())

	second := &mockConn{}
	require.NoError(t, c.Start(second, self))
	assert.Len(t, second.subs, 4)
	assert.NotNil(t, second.find("SELECT * FROM message WHERE room = 1"))
}

func TestStartOnNewConnectionTearsDownOld(t *testing.T) {
	first := &mockConn{}
	c := New()
	require.NoError(t, c.Start(first, self))

	second := &mockConn{}
	require.NoError(t, c.Start(second, self))
	assert.Empty(t, first.live())
	assert.Len(t, second.live(), 3)
}

func TestSubscriptionErrors(t *testing.T) {
	c := New()
	assert.NoError(t, c.SetRoom(1))

	boom := errors.New("boom")
	err := c.Start(&mockConn{rejectAll: boom}, self)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Inactive, c.State(FilterRooms))

	conn := &mockConn{}
	c = New()
	require.NoError(t, c.Start(conn, self))
	conn.subs[1].onError(errors.New("rejected"))
	assert.Equal(t, Inactive, c.State(FilterUsers))
	assert.Equal(t, Pending, c.State(FilterRooms))
	assert.Equal(t, Inactive, c.State("unknown"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "inactive", Inactive.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "unknown", State(9).String())
}
