// Package session owns the client's connection to the store: the handle,
// the identity assigned at handshake and the connected flag.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nfrund/quickchat/internal/credentials"
	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/store"
)

// ErrAlreadyOpen is returned by Open on a session that was opened before.
var ErrAlreadyOpen = errors.New("session already open")

// Options wires a Session. Connector, Credentials and Dispatcher are required.
type Options struct {
	Connector   store.Connector
	Credentials credentials.Store
	Dispatcher  store.Dispatcher
	Logger      *slog.Logger

	// OnReady runs on the dispatcher once the handshake completed.
	OnReady func(conn store.Conn, identity domain.Identity)
	// OnDisconnect runs on the dispatcher when an established connection ends.
	OnDisconnect func(err error)
	// OnError receives connection errors. Defaults to logging them.
	OnError func(err error)
}

// Session is a single connection attempt and its outcome. Lifecycle
// callbacks run on the dispatcher; the accessors are safe from any goroutine.
type Session struct {
	opts   Options
	logger *slog.Logger

	connected atomic.Bool

	mu          sync.RWMutex
	opened      bool
	conn        store.Conn
	identity    domain.Identity
	hasIdentity bool
}

// New creates a session. Nothing happens until Open.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{opts: opts, logger: logger.With("component", "session")}
	if s.opts.OnError == nil {
		s.opts.OnError = func(err error) {
			s.logger.Error("Connection error", "event", "connect_error", "error", err)
		}
	}
	return s
}

// Open reads the stored credential and starts connecting. The handshake
// completes asynchronously.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return ErrAlreadyOpen
	}

	token, _, err := s.opts.Credentials.Get(credentials.TokenKey)
	if err != nil {
		// A broken credential store only costs us the previous identity.
		s.logger.Warn("Could not read stored credential", "event", "credential_read_error", "error", err)
		token = ""
	}

	conn, err := s.opts.Connector.Connect(ctx, store.ConnectOptions{
		Token:          token,
		Dispatcher:     s.opts.Dispatcher,
		OnConnect:      s.handleConnect,
		OnDisconnect:   s.handleDisconnect,
		OnConnectError: s.handleConnectError,
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.opened = true
	s.conn = conn
	return nil
}

func (s *Session) handleConnect(conn store.Conn, identity domain.Identity, token string) {
	s.mu.Lock()
	s.conn = conn
	s.identity = identity
	s.hasIdentity = true
	s.mu.Unlock()
	s.connected.Store(true)

	s.logger.Info("Connected", "event", "session_connected", "identity", identity.String())
	if err := s.opts.Credentials.Set(credentials.TokenKey, token); err != nil {
		s.opts.OnError(fmt.Errorf("persist credential: %w", err))
	}
	if s.opts.OnReady != nil {
		s.opts.OnReady(conn, identity)
	}
}

func (s *Session) handleDisconnect(_ store.Conn, err error) {
	s.connected.Store(false)
	s.logger.Info("Disconnected", "event", "session_disconnected", "error", err)
	if err != nil {
		s.opts.OnError(err)
	}
	if s.opts.OnDisconnect != nil {
		s.opts.OnDisconnect(err)
	}
}

func (s *Session) handleConnectError(err error) {
	s.opts.OnError(err)
}

// Connected reports whether the handshake completed and the connection has
// not ended since.
func (s *Session) Connected() bool { return s.connected.Load() }

// Identity returns the identity assigned at handshake. It survives a
// disconnect.
func (s *Session) Identity() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.hasIdentity
}

// Conn returns the connection handle, or nil before Open.
func (s *Session) Conn() store.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Close disconnects.
func (s *Session) Close() error {
	conn := s.Conn()
	if conn == nil {
		return nil
	}
	return conn.Disconnect()
}
