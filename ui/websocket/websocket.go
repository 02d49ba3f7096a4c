package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/AzielCF/az-restyle/infrastructure/valkey"
	"github.com/AzielCF/az-restyle/pipeline/domain"
	sessionApp "github.com/AzielCF/az-restyle/session/application"
)

const (
	eventBuffer = 256
	// writeWait bounds one write so a stalled client cannot hold up the hub.
	writeWait = 5 * time.Second
)

// sink is the write side of a connection. *websocket.Conn satisfies it.
type sink interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type subscription struct {
	sessionID string
	conn      sink
}

// relayedEvent carries an event between nodes. SessionID is not part of the
// client payload, so it travels next to it.
type relayedEvent struct {
	Sender    string               `json:"sender"`
	SessionID string               `json:"session_id"`
	Event     domain.ProgressEvent `json:"event"`
}

// Hub streams pipeline progress to the websocket clients of each session.
// All connection writes happen on the Run goroutine.
type Hub struct {
	register   chan subscription
	unregister chan sink
	broadcast  chan domain.ProgressEvent
	remote     chan domain.ProgressEvent
	done       chan struct{}

	sessions map[string]map[sink]struct{}
	owners   map[sink]string

	vk        *valkey.Client
	channel   string
	nodeID    string
	writeWait time.Duration
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan subscription),
		unregister: make(chan sink),
		broadcast:  make(chan domain.ProgressEvent, eventBuffer),
		remote:     make(chan domain.ProgressEvent, eventBuffer),
		done:       make(chan struct{}),
		sessions:   make(map[string]map[sink]struct{}),
		owners:     make(map[sink]string),
		writeWait:  writeWait,
	}
}

// WithValkey relays events through Valkey pub/sub so a client connected to
// one node sees progress of requests served by another.
func (h *Hub) WithValkey(client *valkey.Client, nodeID string) *Hub {
	h.vk = client
	h.channel = client.Key("progress")
	h.nodeID = nodeID
	return h
}

// Publish queues an event without blocking. Events are dropped when the hub
// is saturated; progress is advisory.
func (h *Hub) Publish(event domain.ProgressEvent) {
	if event.SessionID == "" {
		return
	}
	select {
	case h.broadcast <- event:
	default:
		logrus.Debugf("[WS] Dropped %s event for %s", event.State, event.RequestID)
	}
}

// Run serves the hub until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.vk != nil {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			for conn := range h.owners {
				h.drop(conn)
			}
			return

		case sub := <-h.register:
			conns, ok := h.sessions[sub.sessionID]
			if !ok {
				conns = make(map[sink]struct{})
				h.sessions[sub.sessionID] = conns
			}
			conns[sub.conn] = struct{}{}
			h.owners[sub.conn] = sub.sessionID
			logrus.Debugf("[WS] Client subscribed to %s", sub.sessionID)

		case conn := <-h.unregister:
			h.forget(conn)

		case event := <-h.broadcast:
			h.deliver(event)
			if h.vk != nil {
				h.relay(ctx, event)
			}

		case event := <-h.remote:
			h.deliver(event)
		}
	}
}

// attach subscribes conn to sessionID. It reports false once the hub has
// stopped.
func (h *Hub) attach(sessionID string, conn sink) bool {
	select {
	case h.register <- subscription{sessionID: sessionID, conn: conn}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(conn sink) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

func (h *Hub) deliver(event domain.ProgressEvent) {
	conns := h.sessions[event.SessionID]
	if len(conns) == 0 {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}
	for conn := range conns {
		if err := h.write(conn, websocket.TextMessage, payload); err != nil {
			logrus.Debugf("[WS] Write error: %v", err)
			h.drop(conn)
		}
	}
}

func (h *Hub) forget(conn sink) {
	sessionID, ok := h.owners[conn]
	if !ok {
		return
	}
	delete(h.owners, conn)
	if conns := h.sessions[sessionID]; conns != nil {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

func (h *Hub) write(conn sink, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

func (h *Hub) drop(conn sink) {
	_ = h.write(conn, websocket.CloseMessage, []byte{})
	_ = conn.Close()
	h.forget(conn)
}

func (h *Hub) relay(ctx context.Context, event domain.ProgressEvent) {
	data, err := json.Marshal(relayedEvent{Sender: h.nodeID, SessionID: event.SessionID, Event: event})
	if err != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	inner := h.vk.Inner()
	if err := inner.Do(pubCtx, inner.B().Publish().Channel(h.channel).Message(string(data)).Build()).Error(); err != nil {
		logrus.Errorf("[WS] Failed to publish to Valkey: %v", err)
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	logrus.Infof("[WS] Relaying progress through Valkey channel %s", h.channel)

	inner := h.vk.Inner()
	err := inner.Receive(ctx, inner.B().Subscribe().Channel(h.channel).Build(), func(msg valkeylib.PubSubMessage) {
		var relayed relayedEvent
		if err := json.Unmarshal([]byte(msg.Message), &relayed); err != nil {
			return
		}
		if relayed.Sender == h.nodeID {
			return
		}
		relayed.Event.SessionID = relayed.SessionID
		select {
		case h.remote <- relayed.Event:
		default:
		}
	})
	if err != nil && ctx.Err() == nil {
		logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
	}
}

// RegisterRoutes mounts GET /ws/progress?session_id=. The session must be
// usable when the socket opens.
func RegisterRoutes(app fiber.Router, hub *Hub, ledger *sessionApp.Ledger) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws/progress", websocket.New(func(conn *websocket.Conn) {
		sessionID := conn.Query("session_id")
		sess, err := ledger.Peek(context.Background(), sessionID)
		if err != nil || sess == nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session"))
			_ = conn.Close()
			return
		}

		if !hub.attach(sessionID, conn) {
			_ = conn.Close()
			return
		}
		defer func() {
			hub.detach(conn)
			_ = conn.Close()
		}()

		// The stream is one-way; reads only detect the client going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.Debugf("[WS] read error: %v", err)
				}
				return
			}
		}
	}))
}
