package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Maximum subscriptions per connection
	maxSubscriptions = 100
)

// Client represents a WebSocket client connection
type Client struct {
	id            string
	tenantID      string
	actor         string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]*Subscription // channel -> subscription
	mu            sync.RWMutex
	closeOnce     sync.Once
	logger        *logger.Logger
	ctx           context.Context
	cancel        context.CancelFunc
}

// Subscription represents a channel subscription with filters
type Subscription struct {
	Channel string
	Filters Filters
}

// NewClient creates a new WebSocket client scoped to a tenant
func NewClient(hub *Hub, conn *websocket.Conn, tenantID, actor string, log *logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	return &Client{
		id:            id,
		tenantID:      tenantID,
		actor:         actor,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]*Subscription),
		logger: log.WithTenant(tenantID).With(
			logger.String("client_id", id),
			logger.String("actor", actor),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the client's read and write goroutines
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
	})
}

// Subscribe adds a subscription for the client
func (c *Client) Subscribe(channel string, filters Filters) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subscriptions[channel]; !exists && len(c.subscriptions) >= maxSubscriptions {
		return false
	}
	c.subscriptions[channel] = &Subscription{
		Channel: channel,
		Filters: filters,
	}

	c.logger.Debug("client subscribed to channel",
		logger.String("channel", channel),
		logger.Any("filters", filters),
	)
	return true
}

// Unsubscribe removes a subscription for the client
func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subscriptions, channel)

	c.logger.Debug("client unsubscribed from channel", logger.String("channel", channel))
}

// IsSubscribed checks if the client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.subscriptions[channel]
	return exists
}

// Matches reports whether a broadcast is for this client's tenant and passes its filters
func (c *Client) Matches(bm *BroadcastMessage) bool {
	if bm.TenantID != c.tenantID {
		return false
	}
	return c.MatchesFilters(bm.Channel, bm.Action, bm.EntityID, bm.Status)
}

// MatchesFilters checks if an event matches the client's subscription filters
func (c *Client) MatchesFilters(channel, action, entityID, status string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sub, exists := c.subscriptions[channel]
	if !exists {
		return false
	}

	if len(sub.Filters.Actions) > 0 && !contains(sub.Filters.Actions, action) {
		return false
	}
	if len(sub.Filters.EntityIDs) > 0 && !contains(sub.Filters.EntityIDs, entityID) {
		return false
	}
	if len(sub.Filters.Statuses) > 0 && !contains(sub.Filters.Statuses, status) {
		return false
	}
	return true
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageData, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", logger.Err(err))
			}
			return
		}

		c.handleMessage(messageData)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per message so clients can parse each as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.sendError("PARSE_ERROR", "Invalid message format")
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.enqueue(MessageTypePong, nil)

	case MessageTypeSubscribe:
		var subData SubscriptionData
		if err := json.Unmarshal(msg.Data, &subData); err != nil {
			c.sendError("INVALID_SUBSCRIPTION", "Invalid subscription data")
			return
		}
		if !validChannel(subData.Channel) {
			c.sendError("INVALID_CHANNEL", "Unknown channel "+subData.Channel)
			return
		}
		if !c.Subscribe(subData.Channel, subData.Filters) {
			c.sendError("TOO_MANY_SUBSCRIPTIONS", "Subscription limit reached")
			return
		}
		c.enqueue(MessageTypeSubscribed, map[string]string{"channel": subData.Channel})

	case MessageTypeUnsubscribe:
		var subData SubscriptionData
		if err := json.Unmarshal(msg.Data, &subData); err != nil {
			c.sendError("INVALID_SUBSCRIPTION", "Invalid subscription data")
			return
		}
		c.Unsubscribe(subData.Channel)
		c.enqueue(MessageTypeUnsubscribed, map[string]string{"channel": subData.Channel})

	default:
		c.sendError("UNKNOWN_TYPE", "Unknown message type "+string(msg.Type))
	}
}

func (c *Client) sendError(code, message string) {
	c.enqueue(MessageTypeError, ErrorData{Code: code, Message: message})
}

// enqueue queues a control message, dropping it when the send buffer is full
func (c *Client) enqueue(msgType MessageType, payload interface{}) {
	if c.ctx.Err() != nil {
		return
	}
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		c.logger.Error("failed to build message", logger.Err(err))
		return
	}
	data, err := msg.ToJSON()
	if err != nil {
		c.logger.Error("failed to encode message", logger.Err(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send channel full, dropping message", logger.String("type", string(msgType)))
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
