package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/viewcache"
)

// chatClient is the part of app.Client the terminal drives.
type chatClient interface {
	SelectRoom(room uint64)
	SendMessage(text string) error
	SetName(name string) error
	MovePointer(x, y float64) error
	Messages() []domain.Message
	Users() viewcache.Snapshot[string, domain.User]
	Rooms() viewcache.Snapshot[uint64, domain.Room]
	Connected() bool
	Warm() bool
	Room() uint64
}

var errQuit = errors.New("quit")

// terminal prints the current room and turns input lines into client calls.
type terminal struct {
	client chatClient
	out    io.Writer

	mu        sync.Mutex
	room      uint64
	printed   map[uint64]struct{}
	connected bool
}

func newTerminal(client chatClient, out io.Writer) *terminal {
	return &terminal{client: client, out: out, printed: make(map[uint64]struct{})}
}

func (t *terminal) run(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			err := t.handle(line)
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				fmt.Fprintf(t.out, "! %v\n", err)
			}
		}
	}
}

// handle runs one input line.
func (t *terminal) handle(line string) error {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return t.client.SendMessage(line)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit":
		return errQuit
	case "/room":
		room, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || room == 0 {
			return fmt.Errorf("usage: /room N")
		}
		t.client.SelectRoom(room)
		return nil
	case "/rooms":
		t.listRooms()
		return nil
	case "/users":
		t.listUsers()
		return nil
	case "/name":
		return t.client.SetName(arg)
	case "/point":
		fields := strings.Fields(arg)
		if len(fields) != 2 {
			return fmt.Errorf("usage: /point X Y")
		}
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			return fmt.Errorf("usage: /point X Y")
		}
		return t.client.MovePointer(x, y)
	}
	return fmt.Errorf("unknown command %s", name)
}

func (t *terminal) listRooms() {
	rooms := t.client.Rooms().Values(func(a, b domain.Room) bool { return a.ID < b.ID })
	current := t.client.Room()
	for _, r := range rooms {
		marker := " "
		if r.ID == current {
			marker = "*"
		}
		fmt.Fprintf(t.out, "%s %d %s\n", marker, r.ID, r.Name)
	}
}

func (t *terminal) listUsers() {
	users := t.client.Users().Values(func(a, b domain.User) bool {
		return a.Identity.String() < b.Identity.String()
	})
	for _, u := range users {
		status := "offline"
		if u.Online {
			status = "online"
		}
		fmt.Fprintf(t.out, "  %s (%s)\n", u.DisplayName(u.Identity.String()[:8]), status)
	}
}

// render prints connection changes and the messages of the current room not
// printed yet. It runs on the event loop after every cache change.
func (t *terminal) render() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if connected := t.client.Connected(); connected != t.connected {
		t.connected = connected
		if connected {
			fmt.Fprintln(t.out, "* connected")
		} else {
			fmt.Fprintln(t.out, "* connection lost")
		}
	}

	room := t.client.Room()
	if room != t.room {
		t.room = room
		t.printed = make(map[uint64]struct{})
		name := strconv.FormatUint(room, 10)
		if r, ok := t.client.Rooms().Get(room); ok {
			name = r.Name
		}
		fmt.Fprintf(t.out, "* room %s\n", name)
	}
	if !t.client.Warm() {
		return
	}

	users := t.client.Users()
	for _, m := range t.client.Messages() {
		if m.Room != room {
			continue
		}
		if _, done := t.printed[m.ID]; done {
			continue
		}
		t.printed[m.ID] = struct{}{}
		sender := m.Sender.String()[:8]
		if u, ok := users.Get(domain.UserKey(domain.User{Identity: m.Sender})); ok {
			sender = u.DisplayName(sender)
		}
		fmt.Fprintf(t.out, "[%s] %s: %s\n", m.Sent.Local().Format("15:04"), sender, m.Text)
	}
}
