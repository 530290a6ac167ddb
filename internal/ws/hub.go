package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/leagueofcoding/arena/internal/obslog"
	"github.com/leagueofcoding/arena/internal/presence"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// InboundType tags the lifecycle frames clients send. The transport decodes
// wire messages into these typed events; nothing else reaches the core.
type InboundType string

const (
	InboundConnect    InboundType = "user.connect"
	InboundDisconnect InboundType = "user.disconnect"
)

// InboundEvent is a decoded client frame.
type InboundEvent struct {
	Type     InboundType `json:"type"`
	Username string      `json:"username"`
}

const sendBuffer = 64

var errSendFull = errors.New("client send buffer full")

type client struct {
	username string
	conn     *websocket.Conn
	send     chan any
	done     chan struct{}
}

// Hub keeps one connection per username and fans events out to them. It
// implements the notification transport: delivery is fire-and-forget, a
// disconnected user simply misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	tracker      *presence.Tracker
	onConnect    func(username string)
	onDisconnect func(username string)
}

func NewHub(tracker *presence.Tracker) *Hub {
	return &Hub{clients: make(map[string]*client), tracker: tracker}
}

// SetPresenceHooks wires the callbacks fired after presence changes, after
// the tracker has been updated.
func (h *Hub) SetPresenceHooks(onConnect, onDisconnect func(username string)) {
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

// SendToUser queues an event for one user. Unknown recipients are skipped.
func (h *Hub) SendToUser(userID string, payload any) error {
	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendFull
	}
}

// Broadcast queues an event for every connected user.
func (h *Hub) Broadcast(payload any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var firstErr error
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			if firstErr == nil {
				firstErr = errSendFull
			}
		}
	}
	return firstErr
}

// ServeHTTP upgrades the connection and runs it until the client leaves.
// The first frame must be a user.connect event carrying the username.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	ctx := r.Context()
	hello, err := readEvent(ctx, conn)
	if err != nil || hello.Type != InboundConnect || hello.Username == "" {
		_ = conn.Close(websocket.StatusPolicyViolation, "expected user.connect")
		return
	}
	username := hello.Username

	c := &client{
		username: username,
		conn:     conn,
		send:     make(chan any, sendBuffer),
		done:     make(chan struct{}),
	}
	h.register(c)
	h.tracker.Connect(username)
	if h.onConnect != nil {
		h.onConnect(username)
	}

	go c.writeLoop()
	h.readLoop(ctx, c)

	h.unregister(c)
	h.tracker.Disconnect(username)
	if h.onDisconnect != nil {
		h.onDisconnect(username)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		ev, err := readEvent(ctx, c.conn)
		if err != nil {
			return
		}
		if ev.Type == InboundDisconnect {
			return
		}
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case payload := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := wsjson.Write(ctx, c.conn, payload)
			cancel()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, exists := h.clients[c.username]; exists {
		close(old.done)
		_ = old.conn.Close(websocket.StatusNormalClosure, "replaced by new connection")
		obslog.L().Info("ws_replace", zap.String("username", c.username))
	}
	h.clients[c.username] = c
	obslog.L().Info("ws_register", zap.String("username", c.username), zap.Int("clients", len(h.clients)))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, exists := h.clients[c.username]; exists && cur == c {
		delete(h.clients, c.username)
		close(c.done)
		obslog.L().Info("ws_unregister", zap.String("username", c.username), zap.Int("clients", len(h.clients)))
	}
}

func readEvent(ctx context.Context, conn *websocket.Conn) (*InboundEvent, error) {
	var ev InboundEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
