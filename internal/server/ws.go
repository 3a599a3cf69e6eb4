package server

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/talkingavatar/internal/bridge"
	"github.com/normanking/talkingavatar/internal/bus"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// SocketMessage is one frame on /ws/avatar.
type SocketMessage struct {
	Type  string              `json:"type"`
	State *bridge.AvatarState `json:"state,omitempty"`
	Event string              `json:"event,omitempty"`
	Data  map[string]any      `json:"data,omitempty"`
}

// pointerMessage is what browsers send: the cursor relative to the canvas
// centre, each axis in [-1, 1].
type pointerMessage struct {
	Pointer *struct {
		X float32 `json:"x"`
		Y float32 `json:"y"`
	} `json:"pointer"`
}

type client struct {
	conn *websocket.Conn
	send chan SocketMessage
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast drops the message for clients whose buffer is full.
func (h *hub) broadcast(m SocketMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

var forwarded = []bus.EventType{
	bus.EventTypeMessageSent,
	bus.EventTypeReply,
	bus.EventTypeChatError,
	bus.EventTypeHistoryReset,
	bus.EventTypeTTSStarted,
	bus.EventTypeTTSStopped,
	bus.EventTypeTTSFallback,
	bus.EventTypeLoadState,
	bus.EventTypeEmotionChanged,
	bus.EventTypeAvatarSelected,
	bus.EventTypeConfigChanged,
}

func (s *Server) forwardEvents() {
	if s.bus == nil {
		return
	}
	s.detach = s.bus.SubscribeMultiple(forwarded, func(e bus.Event) {
		s.hub.broadcast(SocketMessage{Type: "event", Event: string(e.Type), Data: e.Data})
	})
}

func (s *Server) handleAvatarSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &client{
		conn: conn,
		send: make(chan SocketMessage, sendBuffer),
		done: make(chan struct{}),
	}
	s.hub.add(c)
	s.log.Debug().Str("remote", r.RemoteAddr).Int("clients", s.hub.count()).Msg("Avatar client connected")

	go s.readPump(c)
	s.writePump(c)

	s.hub.remove(c)
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("Avatar client disconnected")
}

func (s *Server) readPump(c *client) {
	defer c.close()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg pointerMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("WebSocket read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Pointer != nil {
			s.deps.Avatar.SetPointer(msg.Pointer.X, msg.Pointer.Y)
		}
	}
}

// writePump sends the avatar state at StateHz plus any forwarded events.
func (s *Server) writePump(c *client) {
	defer c.close()
	state := time.NewTicker(time.Second / time.Duration(s.cfg.StateHz))
	ping := time.NewTicker(pingPeriod)
	defer state.Stop()
	defer ping.Stop()

	write := func(m SocketMessage) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteJSON(m) == nil
	}

	st := s.deps.Avatar.State()
	if !write(SocketMessage{Type: "state", State: &st}) {
		return
	}
	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			if !write(m) {
				return
			}
		case <-state.C:
			st := s.deps.Avatar.State()
			if !write(SocketMessage{Type: "state", State: &st}) {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// parseOrigin returns the host of an Origin header.
func parseOrigin(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
