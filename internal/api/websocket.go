package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/solar-controller-core/internal/auth"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/config"
	"github.com/nerrad567/solar-controller-core/internal/infrastructure/logging"
	"github.com/nerrad567/solar-controller-core/internal/livestatus"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// EventDeviceStatus carries a device's live status after every change.
	EventDeviceStatus = "device.status"

	// EventDeviceRevoked tells a client it no longer watches a device it
	// gave up access to.
	EventDeviceRevoked = "device.revoked"

	// wsSendBufferSize bounds queued frames per client; a full queue drops.
	wsSendBufferSize = 256
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the external device ids to watch or drop.
type WSSubscribePayload struct {
	Devices []string `json:"devices"`
}

// DeviceStatusEvent is the payload of a device.status event.
type DeviceStatusEvent struct {
	DeviceID string            `json:"deviceId"`
	Status   livestatus.Status `json:"status"`
}

// DeviceRevokedEvent is the payload of a device.revoked event.
type DeviceRevokedEvent struct {
	DeviceID string `json:"deviceId"`
}

// Hub manages WebSocket connections and fans live status out to the
// clients watching each device.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client. Subscriptions are
// keyed by external device id.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex

	identity auth.Identity
	// canWatch reports whether the client may subscribe to a device.
	canWatch func(deviceID string) (bool, error)
	// snapshot returns the current status sent right after subscribing.
	snapshot func(deviceID string) livestatus.Status
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The token query parameter authenticates the upgrade, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsTimings holds the keepalive settings shared by both pumps.
type wsTimings struct {
	ping time.Duration
	pong time.Duration
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	return wsTimings{
		ping: time.Duration(cfg.PingInterval) * time.Second,
		pong: time.Duration(cfg.PongTimeout) * time.Second,
	}
}

// readDeadline is when a silent client is considered gone.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.pong)
}

func (t wsTimings) writeDeadline() time.Time {
	return time.Now().Add(t.pong)
}

// NewHub returns an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register starts delivering events to client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", client.identity.UserID, "clients", h.ClientCount())
}

// Unregister drops client. The send channel is closed only by whoever
// removed the map entry, so a racing closeAll cannot close it twice.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// BroadcastStatus sends a device.status event to every client subscribed to
// deviceID. Its signature matches livestatus.ChangeFunc so it can be
// registered with Cache.SetOnChange.
func (h *Hub) BroadcastStatus(deviceID string, status livestatus.Status) {
	h.broadcast(deviceID, EventDeviceStatus, DeviceStatusEvent{DeviceID: deviceID, Status: status})
}

// broadcast sends an event to all clients subscribed to deviceID. The hub
// lock is never held while a client lock is taken.
func (h *Hub) broadcast(deviceID, eventType string, payload any) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.logger.Error("encoding device event", "device_id", deviceID, "error", err)
		return
	}

	recipients := 0
	for _, c := range h.snapshotClients() {
		if c.isSubscribed(deviceID) {
			c.trySend(data)
			recipients++
		}
	}
	if recipients > 0 {
		h.logger.Debug("broadcast sent", "device_id", deviceID, "event", eventType, "recipients", recipients)
	}
}

// RevokeDevice drops deviceID from every subscription held by userID's
// connections. Call it once the user's access to the device is gone.
func (h *Hub) RevokeDevice(userID, deviceID string) {
	data, err := encodeEvent(EventDeviceRevoked, DeviceRevokedEvent{DeviceID: deviceID})
	if err != nil {
		h.logger.Error("encoding device event", "device_id", deviceID, "error", err)
		return
	}

	for _, c := range h.snapshotClients() {
		if c.identity.UserID != userID {
			continue
		}
		if c.unsubscribe(deviceID) {
			c.trySend(data)
		}
	}
	h.logger.Debug("websocket subscriptions revoked", "user_id", userID, "device_id", deviceID)
}

func (h *Hub) snapshotClients() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll drops every client. Closing send lets each writePump exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

func encodeEvent(eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
}

func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// handleWebSocket serves GET /api/ws.
// Browsers cannot set headers on the upgrade request, so the access token
// travels in the token query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authenticate(w, r, r.URL.Query().Get("token"))
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "user_id", id.UserID, "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		identity:      id,
		canWatch: func(deviceID string) (bool, error) {
			return s.coord.HasAccess(context.Background(), id, deviceID)
		},
		snapshot: s.coord.Status,
	}

	s.hub.Register(client)

	timings := newWSTimings(s.wsCfg)
	go client.writePump(timings)
	go client.readPump(timings, int64(s.wsCfg.MaxMessageSize))
}

// readPump owns all reads on the connection and unregisters the client
// when the peer goes away.
func (c *WSClient) readPump(t wsTimings, maxSize int64) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxSize)
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user_id", c.identity.UserID, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "user_id", c.identity.UserID, "error", err)
			}
			return
		}
		// Application pings count as liveness too.
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(t.readDeadline())
		c.handleMessage(frame)
	}
}

// writePump owns all writes on the connection, including keepalive pings.
func (c *WSClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var err error
		select {
		case frame, ok := <-c.send:
			if !ok {
				//nolint:errcheck // connection is closing anyway
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			err = c.write(t, websocket.TextMessage, frame)
		case <-ticker.C:
			err = c.write(t, websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *WSClient) write(t wsTimings, messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(t.writeDeadline()); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// handleMessage dispatches one client frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "malformed message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe starts watching each requested device the client has
// access to. Denied ids are reported back, and every accepted device gets
// its current status straight away.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	sub, ok := c.decodeSubscription(msg)
	if !ok {
		return
	}

	subscribed := make([]string, 0, len(sub.Devices))
	denied := make([]string, 0)
	for _, deviceID := range sub.Devices {
		allowed, err := c.canWatch(deviceID)
		if err != nil {
			c.hub.logger.Error("websocket access check failed", "device_id", deviceID, "error", err)
		}
		if !allowed {
			denied = append(denied, deviceID)
			continue
		}
		subscribed = append(subscribed, deviceID)
	}

	c.mu.Lock()
	for _, deviceID := range subscribed {
		c.subscriptions[deviceID] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed",
		"user_id", c.identity.UserID,
		"devices", subscribed,
		"denied", denied,
	)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": subscribed,
		"denied":     denied,
	})

	for _, deviceID := range subscribed {
		data, err := encodeEvent(EventDeviceStatus, DeviceStatusEvent{DeviceID: deviceID, Status: c.snapshot(deviceID)})
		if err != nil {
			continue
		}
		c.trySend(data)
	}
}

// handleUnsubscribe stops watching the given devices.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	sub, ok := c.decodeSubscription(msg)
	if !ok {
		return
	}

	c.mu.Lock()
	for _, deviceID := range sub.Devices {
		delete(c.subscriptions, deviceID)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Devices,
	})
}

func (c *WSClient) decodeSubscription(msg WSMessage) (WSSubscribePayload, bool) {
	var sub WSSubscribePayload

	// Payload arrives as a generic map; round-trip it into the typed form.
	raw, err := json.Marshal(msg.Payload)
	if err == nil {
		err = json.Unmarshal(raw, &sub)
	}
	if err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return sub, false
	}
	return sub, true
}

// trySend queues data without blocking. Frames for a slow client are
// dropped, and a send racing Unregister is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by Unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}

// isSubscribed checks if the client is watching a device.
func (c *WSClient) isSubscribed(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[deviceID]
	return ok
}

// unsubscribe stops watching a device and reports whether it was watched.
func (c *WSClient) unsubscribe(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[deviceID]
	delete(c.subscriptions, deviceID)
	return ok
}

// sendResponse replies to the frame with the given id.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
