package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/relayooor/ibcpulse/internal/clearing"
	"github.com/relayooor/ibcpulse/internal/export"
)

// WSMessage is the envelope for both directions of the websocket.
type WSMessage struct {
	Type    string `json:"type"`              // subscribe, unsubscribe, clearing_update, error
	Token   string `json:"token,omitempty"`   // clearing token the message refers to
	Payload any    `json:"payload,omitempty"` // clearing.Status on clearing_update
}

// wsSendBuffer bounds each connection's outbound queue.
const wsSendBuffer = 32

const (
	// wsWriteWait bounds a single write to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a connection may go without a pong
	// before it is considered dead.
	wsPongWait = 60 * time.Second

	// wsPingPeriod must be shorter than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10
)

// Hub pushes clearing status transitions to websocket clients. Each
// client subscribes to tokens explicitly; updates for a token are
// delivered in transition order.
type Hub struct {
	log      logrus.FieldLogger
	engine   *clearing.Engine
	health   *export.Health
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage

	mu   sync.Mutex
	subs map[string]clearing.Unsubscribe
}

// NewHub creates the websocket hub. health may be nil.
func NewHub(log logrus.FieldLogger, engine *clearing.Engine, health *export.Health) *Hub {
	return &Hub{
		log:    log.WithField("component", "ws_hub"),
		engine: engine,
		health: health,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleWS upgrades the connection and serves it until it drops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("Websocket upgrade failed")

		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan WSMessage, wsSendBuffer),
		subs: make(map[string]clearing.Unsubscribe),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()

		return
	}

	h.clients[client] = struct{}{}
	h.mu.Unlock()

	if h.health != nil {
		h.health.WSClients.Inc()
	}

	h.log.WithField("remote", conn.RemoteAddr().String()).Debug("Websocket client connected")

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Close drops every client connection.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true

	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}
}

func (h *Hub) readLoop(client *wsClient) {
	defer h.drop(client)

	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg WSMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "subscribe":
			h.subscribe(client, msg.Token)
		case "unsubscribe":
			client.unsubscribe(msg.Token)
		default:
			client.trySend(WSMessage{
				Type:    "error",
				Payload: "unknown message type",
			})
		}
	}
}

func (h *Hub) writeLoop(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, nil)

				return
			}

			if err := client.conn.WriteJSON(msg); err != nil {
				client.conn.Close()

				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.conn.Close()

				return
			}
		}
	}
}

func (h *Hub) subscribe(client *wsClient, tokenID string) {
	if tokenID == "" {
		client.trySend(WSMessage{Type: "error", Payload: "token required"})

		return
	}

	client.mu.Lock()
	_, already := client.subs[tokenID]
	client.mu.Unlock()

	if already {
		return
	}

	unsubscribe, err := h.engine.Subscribe(tokenID, func(status clearing.Status) {
		client.trySend(WSMessage{
			Type:    "clearing_update",
			Token:   status.Token,
			Payload: status,
		})
	})
	if err != nil {
		client.trySend(WSMessage{Type: "error", Token: tokenID, Payload: err.Error()})

		return
	}

	client.mu.Lock()
	client.subs[tokenID] = unsubscribe
	client.mu.Unlock()

	// Send the current status immediately so the client does not have
	// to wait for the next transition.
	if status, err := h.engine.GetStatus(tokenID); err == nil {
		client.trySend(WSMessage{
			Type:    "clearing_update",
			Token:   tokenID,
			Payload: *status,
		})
	}
}

func (h *Hub) drop(client *wsClient) {
	client.conn.Close()

	client.mu.Lock()
	for _, unsubscribe := range client.subs {
		unsubscribe()
	}

	client.subs = make(map[string]clearing.Unsubscribe)
	client.mu.Unlock()

	h.mu.Lock()
	_, tracked := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if tracked && h.health != nil {
		h.health.WSClients.Dec()
	}

	close(client.send)

	h.log.Debug("Websocket client disconnected")
}

func (c *wsClient) unsubscribe(tokenID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if unsubscribe, ok := c.subs[tokenID]; ok {
		unsubscribe()
		delete(c.subs, tokenID)
	}
}

// trySend queues a message without blocking; a slow consumer loses
// messages rather than stalling delivery.
func (c *wsClient) trySend(msg WSMessage) {
	defer func() {
		// The send channel closes when the client drops; a racing
		// engine callback must not panic the process.
		_ = recover()
	}()

	select {
	case c.send <- msg:
	default:
	}
}
