package wsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/nfrund/quickchat/internal/domain"
	"github.com/nfrund/quickchat/internal/eventloop"
	"github.com/nfrund/quickchat/internal/store"
)

const (
	sendBuffer       = 256
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Handler serves the store protocol, relaying every socket to its own
// connection on the wrapped Connector.
type Handler struct {
	connector     store.Connector
	logger        *slog.Logger
	acceptOptions *websocket.AcceptOptions
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithAcceptOptions replaces the options used to upgrade requests.
func WithAcceptOptions(opts *websocket.AcceptOptions) HandlerOption {
	return func(h *Handler) { h.acceptOptions = opts }
}

// NewHandler returns a Handler relaying to connector.
func NewHandler(connector store.Connector, opts ...HandlerOption) *Handler {
	h := &Handler{
		connector: connector,
		logger:    slog.Default(),
		// Terminal clients send no Origin header.
		acceptOptions: &websocket.AcceptOptions{InsecureSkipVerify: true},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "wsstore")
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, h.acceptOptions)
	if err != nil {
		h.logger.Error("Failed to upgrade connection to WebSocket", "event", "ws_upgrade_error", "error", err)
		return
	}
	p := &peer{
		handler: h,
		ws:      ws,
		logger:  h.logger.With("peer", uuid.NewString()),
		send:    make(chan outgoing, sendBuffer),
		subs:    make(map[store.SubID]store.Subscription),
	}
	p.serve(r.Context())
}

type outgoing struct {
	frame Frame
	// close ends the socket once frame was written.
	close  bool
	status websocket.StatusCode
	reason string
}

// peer is the server side of one socket.
type peer struct {
	handler *Handler
	ws      *websocket.Conn
	logger  *slog.Logger
	send    chan outgoing
	ctx     context.Context

	mu       sync.Mutex
	upstream store.Conn
	subs     map[store.SubID]store.Subscription
}

func (p *peer) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer p.ws.CloseNow()
	p.ctx = ctx

	hctx, hcancel := context.WithTimeout(ctx, handshakeTimeout)
	var hello Frame
	err := wsjson.Read(hctx, p.ws, &hello)
	hcancel()
	if err != nil || hello.Type != TypeHello {
		p.logger.Warn("Handshake did not start with hello", "event", "ws_bad_hello", "type", hello.Type, "error", err)
		p.ws.Close(websocket.StatusPolicyViolation, "expected hello")
		return
	}

	loop := eventloop.New(p.logger)
	go func() { _ = loop.Run(ctx) }()
	go p.writePump(ctx, cancel)

	up, err := p.handler.connector.Connect(ctx, store.ConnectOptions{
		Token:          hello.Token,
		Dispatcher:     loop,
		OnConnect:      p.handleConnect,
		OnDisconnect:   p.handleDisconnect,
		OnConnectError: p.handleConnectError,
	})
	if err != nil {
		p.handleConnectError(err)
		<-ctx.Done()
		return
	}
	p.mu.Lock()
	p.upstream = up
	p.mu.Unlock()

	forward(p, domain.TableUser, up.Users())
	forward(p, domain.TableRoom, up.Rooms())
	forward(p, domain.TableMessage, up.Messages())
	forward(p, domain.TablePointer, up.Pointers())
	up.Reducers().OnResult(func(ev store.ReducerEvent) {
		p.queue(Frame{Type: TypeResult, Reducer: ev.Reducer, Status: ev.Status.String(), Message: ev.Message})
	})

	p.readPump(ctx)
	if err := up.Disconnect(); err != nil {
		p.logger.Warn("Upstream disconnect failed", "event", "ws_upstream_disconnect", "error", err)
	}
}

func forward[T any](p *peer, table string, t store.Table[T]) {
	t.OnInsert(func(row T) {
		p.queueRow(store.RowEvent{Table: table, Kind: store.RowInsert, New: row})
	})
	t.OnUpdate(func(oldRow, newRow T) {
		p.queueRow(store.RowEvent{Table: table, Kind: store.RowUpdate, Old: oldRow, New: newRow})
	})
	t.OnDelete(func(row T) {
		p.queueRow(store.RowEvent{Table: table, Kind: store.RowDelete, Old: row})
	})
}

func (p *peer) handleConnect(_ store.Conn, id domain.Identity, token string) {
	p.queue(Frame{Type: TypeIdentity, Identity: id.String(), Token: token})
}

func (p *peer) handleConnectError(err error) {
	code := CodeUnavailable
	if errors.Is(err, store.ErrInvalidToken) {
		code = CodeInvalidToken
	}
	p.enqueue(outgoing{
		frame:  Frame{Type: TypeConnectError, Code: code, Error: err.Error()},
		close:  true,
		status: websocket.StatusPolicyViolation,
		reason: "handshake failed",
	})
}

func (p *peer) handleDisconnect(_ store.Conn, err error) {
	if err == nil {
		return
	}
	p.logger.Info("Upstream connection lost", "event", "ws_upstream_lost", "error", err)
	p.enqueue(outgoing{close: true, status: websocket.StatusGoingAway, reason: "connection lost"})
}

func (p *peer) queueRow(ev store.RowEvent) {
	f, err := rowFrame(ev)
	if err != nil {
		p.logger.Error("Failed to encode row", "event", "ws_encode_error", "table", ev.Table, "error", err)
		return
	}
	p.queue(f)
}

func (p *peer) queue(f Frame) { p.enqueue(outgoing{frame: f}) }

// enqueue blocks while the send buffer is full; row events must not be lost.
func (p *peer) enqueue(o outgoing) {
	select {
	case p.send <- o:
	case <-p.ctx.Done():
	}
}

// readPump handles client frames until the socket closes.
func (p *peer) readPump(ctx context.Context) {
	for {
		var f Frame
		if err := wsjson.Read(ctx, p.ws, &f); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				p.logger.Info("WebSocket closed normally by client", "event", "ws_closed")
			} else if ctx.Err() == nil {
				p.logger.Warn("WebSocket read error", "event", "ws_read_error", "error", err)
			}
			return
		}

		switch f.Type {
		case TypeSubscribe:
			p.subscribe(f.ID, f.Query)
		case TypeUnsubscribe:
			p.unsubscribe(f.ID)
		case TypeCall:
			p.call(f.Reducer, f.Args)
		default:
			p.logger.Warn("Unexpected frame", "event", "ws_unexpected_frame", "type", f.Type)
		}
	}
}

// writePump writes queued frames in order.
func (p *peer) writePump(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-p.send:
			if o.frame.Type != "" {
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(wctx, p.ws, o.frame)
				wcancel()
				if err != nil {
					p.logger.Warn("WebSocket write error", "event", "ws_write_error", "error", err)
					cancel()
					return
				}
			}
			if o.close {
				p.ws.Close(o.status, o.reason)
				cancel()
				return
			}
		}
	}
}

func (p *peer) subscribe(id store.SubID, src string) {
	p.mu.Lock()
	up := p.upstream
	_, dup := p.subs[id]
	p.mu.Unlock()
	if dup {
		p.queue(Frame{Type: TypeSubscriptionError, ID: id, Error: fmt.Sprintf("subscription %d already exists", id)})
		return
	}

	sub, err := up.Subscribe(src,
		func() { p.queue(Frame{Type: TypeApplied, ID: id}) },
		func(err error) { p.queue(Frame{Type: TypeSubscriptionError, ID: id, Error: err.Error()}) },
	)
	if err != nil {
		p.queue(Frame{Type: TypeSubscriptionError, ID: id, Error: err.Error()})
		return
	}
	p.mu.Lock()
	p.subs[id] = sub
	p.mu.Unlock()
}

func (p *peer) unsubscribe(id store.SubID) {
	p.mu.Lock()
	sub, ok := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		p.logger.Warn("Unsubscribe failed", "event", "ws_unsubscribe_error", "id", id, "error", err)
	}
}

func (p *peer) call(reducer string, raw json.RawMessage) {
	p.mu.Lock()
	r := p.upstream.Reducers()
	p.mu.Unlock()

	var err error
	switch reducer {
	case store.ReducerSendMessage:
		var args sendMessageArgs
		if err = json.Unmarshal(raw, &args); err == nil {
			err = r.SendMessage(args.Text, args.Room)
		} else {
			err = domain.Reject(domain.MsgMalformedArgument)
		}
	case store.ReducerSetName:
		var args setNameArgs
		if err = json.Unmarshal(raw, &args); err == nil {
			err = r.SetName(args.Name)
		} else {
			err = domain.Reject(domain.MsgMalformedArgument)
		}
	case store.ReducerSetPointerPosition:
		var args pointerArgs
		if err = json.Unmarshal(raw, &args); err == nil {
			err = r.SetPointerPosition(args.X, args.Y)
		} else {
			err = domain.Reject(domain.MsgMalformedArgument)
		}
	default:
		err = domain.Reject(domain.MsgUnknownReducer)
	}
	if err != nil {
		p.queue(Frame{
			Type:    TypeResult,
			Reducer: reducer,
			Status:  store.StatusFailed.String(),
			Message: domain.RejectionMessage(err),
		})
	}
}
