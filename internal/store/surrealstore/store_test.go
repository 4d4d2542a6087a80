package surrealstore

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/nfrund/quickchat/internal/config"
	"github.com/nfrund/quickchat/internal/database"
	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/logging"
	"github.com/nfrund/quickchat/internal/store"
	"github.com/nfrund/quickchat/internal/store/query"
)

func TestMain(m *testing.M) {
	if err := godotenv.Load("../../../.env.test"); err != nil {
		log.Println("Warning: .env.test file not found, relying on environment variables.")
	}
	os.Exit(m.Run())
}

// recorder collects what a connection reports. It is its own dispatcher and
// runs callbacks inline, serialized by mu.
type recorder struct {
	mu       sync.Mutex
	identity domain.Identity
	token    string
	ready    bool
	applied  int
	subErr   error
	rooms    map[uint64]domain.Room
	messages map[uint64]domain.Message
	pointers map[string]domain.Pointer
	results  []store.ReducerEvent
}

func newRecorder() *recorder {
	return &recorder{
		rooms:    make(map[uint64]domain.Room),
		messages: make(map[uint64]domain.Message),
		pointers: make(map[string]domain.Pointer),
	}
}

func (r *recorder) Post(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

func (r *recorder) snapshot(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

func (r *recorder) options(token string) store.ConnectOptions {
	return store.ConnectOptions{
		Token:      token,
		Dispatcher: r,
		OnConnect: func(_ store.Conn, id domain.Identity, token string) {
			r.identity, r.token, r.ready = id, token, true
		},
	}
}

func (r *recorder) watch(c store.Conn) {
	c.Rooms().OnInsert(func(row domain.Room) { r.rooms[row.ID] = row })
	c.Rooms().OnDelete(func(row domain.Room) { delete(r.rooms, row.ID) })
	c.Messages().OnInsert(func(row domain.Message) { r.messages[row.ID] = row })
	c.Messages().OnDelete(func(row domain.Message) { delete(r.messages, row.ID) })
	c.Pointers().OnInsert(func(row domain.Pointer) { r.pointers[domain.PointerKey(row)] = row })
	c.Pointers().OnUpdate(func(_, row domain.Pointer) { r.pointers[domain.PointerKey(row)] = row })
	c.Pointers().OnDelete(func(row domain.Pointer) { delete(r.pointers, domain.PointerKey(row)) })
	c.Reducers().OnResult(func(ev store.ReducerEvent) { r.results = append(r.results, ev) })
}

type StoreSuite struct {
	suite.Suite
	db    *database.Connection
	live  *database.SurrealLiveQueryService
	store *Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("SURREAL_URL") == "" {
		t.Skip("SURREAL_URL not set")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.T().Setenv("QUICKCHAT_STORE", config.StoreSurreal)
	cfg, err := config.FromEnv()
	s.Require().NoError(err)

	ctx := context.Background()
	s.db = database.NewConnection(cfg)
	s.Require().NoError(s.db.Connect(ctx))
	s.live = database.NewSurrealLiveQueryService(s.db, logging.Discard())
	s.store = New(s.db, s.live, WithLogger(logging.Discard()))
}

func (s *StoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.store.exec(ctx, "DELETE user; DELETE room; DELETE message; DELETE pointer; DELETE counter;", nil))
	s.Require().NoError(s.store.Init(ctx))
}

func (s *StoreSuite) TearDownSuite() {
	if s.live != nil {
		s.live.Close()
	}
	if s.db != nil {
		_ = s.db.Close(context.Background())
	}
}

func (s *StoreSuite) connect(r *recorder, token string) store.Conn {
	c, err := s.store.Connect(context.Background(), r.options(token))
	s.Require().NoError(err)
	s.eventually(r, func() bool { return r.ready })
	s.T().Cleanup(func() { _ = c.Disconnect() })
	return c
}

func (s *StoreSuite) eventually(r *recorder, cond func() bool) {
	s.T().Helper()
	s.Require().Eventually(func() bool {
		ok := false
		r.snapshot(func() { ok = cond() })
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func (s *StoreSuite) TestInitIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(s.store.Init(ctx))

	rows, err := s.store.selectRows(ctx, mustQuery(s.T(), "SELECT * FROM room"))
	s.Require().NoError(err)
	s.Require().Len(rows, len(domain.SeedRooms))
	for i, row := range rows {
		s.Equal(domain.Room{ID: uint64(i + 1), Name: domain.SeedRooms[i]}, row)
	}
}

func (s *StoreSuite) TestSubscribeDeliversInitialRowsThenApplied() {
	r := newRecorder()
	c := s.connect(r, "")
	r.watch(c)

	_, err := c.Subscribe("SELECT * FROM room", func() { r.applied++ }, func(err error) { r.subErr = err })
	s.Require().NoError(err)
	s.eventually(r, func() bool { return r.applied == 1 })
	r.snapshot(func() {
		s.Len(r.rooms, len(domain.SeedRooms))
		s.Equal("General", r.rooms[1].Name)
		s.NoError(r.subErr)
	})
}

func (s *StoreSuite) TestMessagesFlowToOtherClients() {
	alice, bob := newRecorder(), newRecorder()
	ac := s.connect(alice, "")
	bc := s.connect(bob, "")
	alice.watch(ac)
	bob.watch(bc)

	_, err := bc.Subscribe("SELECT * FROM message WHERE room = 1", func() { bob.applied++ }, nil)
	s.Require().NoError(err)
	s.eventually(bob, func() bool { return bob.applied == 1 })

	s.Require().NoError(ac.Reducers().SendMessage("hi", 1))
	s.Require().NoError(ac.Reducers().SendMessage("elsewhere", 2))
	s.eventually(bob, func() bool { return len(bob.messages) == 1 })
	bob.snapshot(func() {
		msg := bob.messages[1]
		s.Equal("hi", msg.Text)
		s.Equal(alice.identity, msg.Sender)
	})
	alice.snapshot(func() {
		s.Len(alice.results, 2)
		for _, ev := range alice.results {
			s.Equal(store.StatusCommitted, ev.Status)
		}
	})
}

func (s *StoreSuite) TestReducerRejections() {
	r := newRecorder()
	c := s.connect(r, "")
	r.watch(c)

	s.Require().NoError(c.Reducers().SendMessage("hi", 99))
	s.Require().NoError(c.Reducers().SendMessage("what a shit day", 1))
	s.Require().NoError(c.Reducers().SetName(""))
	s.Require().NoError(c.Reducers().SetPointerPosition(101, 5))

	s.eventually(r, func() bool { return len(r.results) == 4 })
	r.snapshot(func() {
		want := []string{domain.MsgRoomNotFound, domain.MsgInappropriate, domain.MsgEmptyName, domain.MsgInvalidPoint}
		for i, ev := range r.results {
			s.Equal(store.StatusFailed, ev.Status)
			s.Equal(want[i], ev.Message)
		}
	})
}

func (s *StoreSuite) TestReconnectKeepsName() {
	first := newRecorder()
	c := s.connect(first, "")
	s.Require().NoError(c.Reducers().SetName("alice"))
	s.Require().NoError(c.Disconnect())

	second := newRecorder()
	s.connect(second, first.token)
	s.Equal(first.identity, second.identity)

	rows, err := s.store.selectRows(context.Background(), mustQuery(s.T(), "SELECT * FROM user"))
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	user := rows[0].(domain.User)
	s.Equal("alice", user.DisplayName(""))
	s.True(user.Online)
}

func (s *StoreSuite) TestDisconnectRemovesPointer() {
	alice, bob := newRecorder(), newRecorder()
	ac := s.connect(alice, "")
	bc := s.connect(bob, "")
	bob.watch(bc)

	_, err := bc.Subscribe("SELECT * FROM pointer", func() { bob.applied++ }, nil)
	s.Require().NoError(err)
	s.eventually(bob, func() bool { return bob.applied == 1 })

	s.Require().NoError(ac.Reducers().SetPointerPosition(25, 50))
	s.eventually(bob, func() bool { return len(bob.pointers) == 1 })

	s.Require().NoError(ac.Disconnect())
	s.eventually(bob, func() bool { return len(bob.pointers) == 0 })
}

func (s *StoreSuite) TestUnsubscribeReleasesRows() {
	r := newRecorder()
	c := s.connect(r, "")
	r.watch(c)

	sub, err := c.Subscribe("SELECT * FROM room WHERE id = 2", func() { r.applied++ }, nil)
	s.Require().NoError(err)
	s.eventually(r, func() bool { return r.applied == 1 })
	s.True(sub.IsActive())

	s.Require().NoError(sub.Unsubscribe())
	s.False(sub.IsActive())
	r.snapshot(func() { s.Empty(r.rooms) })
}

func (s *StoreSuite) TestInvalidToken() {
	r := newRecorder()
	var connectErr error
	opts := r.options("not-a-token")
	opts.OnConnectError = func(err error) { connectErr = err }

	_, err := s.store.Connect(context.Background(), opts)
	s.Require().NoError(err)
	s.eventually(r, func() bool { return connectErr != nil })
	s.ErrorIs(connectErr, store.ErrInvalidToken)
}

func mustQuery(t *testing.T, src string) query.Query {
	t.Helper()
	q, err := store.ParseQuery(src)
	require.NoError(t, err)
	return q
}
