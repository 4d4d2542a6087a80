package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/viewcache"
)

var (
	alice = domain.MustParseIdentity(strings.Repeat("ab", domain.IdentitySize))
	bob   = domain.MustParseIdentity(strings.Repeat("cd", domain.IdentitySize))
)

type fakeClient struct {
	room      uint64
	connected bool
	warm      bool
	messages  []domain.Message
	users     *viewcache.Users
	rooms     *viewcache.Rooms

	sent    []string
	names   []string
	points  [][2]float64
	sendErr error
}

func newFakeClient() *fakeClient {
	f := &fakeClient{room: 1, connected: true, warm: true, users: viewcache.NewUsers(), rooms: viewcache.NewRooms()}
	f.rooms.ApplyInsert(domain.Room{ID: 1, Name: "General"})
	f.rooms.ApplyInsert(domain.Room{ID: 2, Name: "Fun Links"})
	name := "alice"
	f.users.ApplyInsert(domain.User{Identity: alice, Name: &name, Online: true})
	f.users.ApplyInsert(domain.User{Identity: bob})
	return f
}

func (f *fakeClient) SelectRoom(room uint64)                         { f.room = room }
func (f *fakeClient) SendMessage(text string) error                  { f.sent = append(f.sent, text); return f.sendErr }
func (f *fakeClient) SetName(name string) error                      { f.names = append(f.names, name); return nil }
func (f *fakeClient) MovePointer(x, y float64) error                 { f.points = append(f.points, [2]float64{x, y}); return nil }
func (f *fakeClient) Messages() []domain.Message                     { return f.messages }
func (f *fakeClient) Connected() bool                                { return f.connected }
func (f *fakeClient) Warm() bool                                     { return f.warm }
func (f *fakeClient) Room() uint64                                   { return f.room }
func (f *fakeClient) Users() viewcache.Snapshot[string, domain.User] { return f.users.Snapshot() }
func (f *fakeClient) Rooms() viewcache.Snapshot[uint64, domain.Room] { return f.rooms.Snapshot() }

func TestTerminalCommands(t *testing.T) {
	f := newFakeClient()
	var out bytes.Buffer
	term := newTerminal(f, &out)

	require.NoError(t, term.handle("hello there"))
	require.NoError(t, term.handle("/room 2"))
	require.NoError(t, term.handle("/name  carol "))
	require.NoError(t, term.handle("/point 480 270"))

	assert.Equal(t, []string{"hello there"}, f.sent)
	assert.Equal(t, uint64(2), f.room)
	assert.Equal(t, []string{"carol"}, f.names)
	assert.Equal(t, [][2]float64{{480, 270}}, f.points)
	assert.ErrorIs(t, term.handle("/quit"), errQuit)
}

func TestTerminalRejectsBadInput(t *testing.T) {
	term := newTerminal(newFakeClient(), &bytes.Buffer{})

	for _, line := range []string{"/room", "/room zero", "/room 0", "/point 1", "/point a b", "/dance"} {
		assert.Error(t, term.handle(line), line)
	}
}

func TestTerminalListings(t *testing.T) {
	f := newFakeClient()
	var out bytes.Buffer
	term := newTerminal(f, &out)

	require.NoError(t, term.handle("/rooms"))
	assert.Equal(t, "* 1 General\n  2 Fun Links\n", out.String())

	out.Reset()
	require.NoError(t, term.handle("/users"))
	assert.Equal(t, "  alice (online)\n  cdcdcdcd (offline)\n", out.String())
}

func TestTerminalRenderPrintsEachMessageOnce(t *testing.T) {
	f := newFakeClient()
	var out bytes.Buffer
	term := newTerminal(f, &out)

	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	f.messages = []domain.Message{{ID: 1, Sender: alice, Room: 1, Text: "hi", Sent: sent}}
	term.render()
	term.render()
	assert.Equal(t, "* connected\n* room General\n[12:00] alice: hi\n", out.String())

	out.Reset()
	f.messages = append(f.messages, domain.Message{ID: 2, Sender: bob, Room: 1, Text: "yo", Sent: sent})
	term.render()
	assert.Equal(t, "[12:00] cdcdcdcd: yo\n", out.String())
}

func TestTerminalRenderWaitsForWarmAndReportsLoss(t *testing.T) {
	f := newFakeClient()
	f.warm = false
	f.messages = []domain.Message{{ID: 1, Sender: alice, Room: 1, Text: "hi"}}
	var out bytes.Buffer
	term := newTerminal(f, &out)

	term.render()
	assert.NotContains(t, out.String(), "hi")

	f.connected = false
	term.render()
	assert.Contains(t, out.String(), "* connection lost")
}

func TestTerminalRunReportsErrorsAndStopsOnQuit(t *testing.T) {
	f := newFakeClient()
	f.sendErr = errors.New("not connected")
	var out bytes.Buffer
	term := newTerminal(f, &out)

	lines := make(chan string, 3)
	lines <- "hi"
	lines <- "/quit"
	lines <- "never"
	term.run(context.Background(), lines)

	assert.Equal(t, "! not connected\n", out.String())
	assert.Equal(t, []string{"hi"}, f.sent)
}
