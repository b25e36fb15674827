package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// Redis pub/sub channel shared by every API instance
const redisChannelAll = "aiq:ws:broadcast"

// PubSub fans broadcasts out across instances
type PubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// QueueEvents is the subscription side of the queue
type QueueEvents interface {
	Subscribe(listener func(models.QueueEvent)) func()
}

// SchedulerEvents is the subscription side of the scheduler
type SchedulerEvents interface {
	Subscribe(listener func(models.SchedulerEvent)) func()
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients by tenant
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	// pubsub is nil on single-instance deployments
	pubsub      PubSub
	redisPubSub *redis.PubSub
	instanceID  string

	logger *logger.Logger

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// BroadcastMessage represents a message to broadcast to one tenant's clients
type BroadcastMessage struct {
	Channel  string   `json:"channel"`
	Message  *Message `json:"message"`
	TenantID string   `json:"tenant_id"`
	Action   string   `json:"action,omitempty"`
	EntityID string   `json:"entity_id,omitempty"`
	Status   string   `json:"status,omitempty"`

	// Origin is the instance that published the message over Redis
	Origin string `json:"origin,omitempty"`
}

// NewHub creates a new Hub. pubsub may be nil.
func NewHub(pubsub PubSub, log *logger.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		pubsub:     pubsub,
		instanceID: uuid.New().String(),
		logger:     log.Named("websocket"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start starts the hub
func (h *Hub) Start() {
	if h.pubsub != nil {
		h.redisPubSub = h.pubsub.Subscribe(h.ctx, redisChannelAll)
		go h.handleRedisPubSub()
	}

	go h.run()

	h.logger.Info("WebSocket hub started")
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.cancel()
	<-h.done

	if h.redisPubSub != nil {
		h.redisPubSub.Close()
	}

	h.mu.Lock()
	for tenantID, clients := range h.clients {
		for client := range clients {
			client.cancel()
			close(client.send)
		}
		delete(h.clients, tenantID)
	}
	h.mu.Unlock()

	h.logger.Info("WebSocket hub stopped")
}

// Attach relays queue and scheduler events to subscribed clients. The returned func detaches.
func (h *Hub) Attach(queue QueueEvents, scheduler SchedulerEvents) func() {
	var detach []func()
	if queue != nil {
		detach = append(detach, queue.Subscribe(h.BroadcastQueueEvent))
	}
	if scheduler != nil {
		detach = append(detach, scheduler.Subscribe(h.BroadcastSchedulerEvent))
	}
	return func() {
		for _, fn := range detach {
			fn()
		}
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.tenantID] == nil {
		h.clients[client.tenantID] = make(map[*Client]bool)
	}
	h.clients[client.tenantID][client] = true

	h.logger.Info("Client registered",
		logger.String("client_id", client.id),
		logger.String("tenant_id", client.tenantID),
		logger.Int("total_clients", h.getTotalClients()),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.tenantID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			close(client.send)

			if len(clients) == 0 {
				delete(h.clients, client.tenantID)
			}

			h.logger.Info("Client unregistered",
				logger.String("client_id", client.id),
				logger.String("tenant_id", client.tenantID),
				logger.Int("total_clients", h.getTotalClients()),
			)
		}
	}
}

// broadcastMessage delivers a message to the tenant's subscribed clients
func (h *Hub) broadcastMessage(bm *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	messageData, err := bm.Message.ToJSON()
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", logger.Err(err))
		return
	}

	sentCount := 0
	for client := range h.clients[bm.TenantID] {
		if client.Matches(bm) {
			h.sendToClient(client, messageData)
			sentCount++
		}
	}

	h.logger.Debug("Broadcast message sent",
		logger.String("channel", bm.Channel),
		logger.String("type", string(bm.Message.Type)),
		logger.Int("recipients", sentCount),
	)
}

func (h *Hub) sendToClient(client *Client, messageData []byte) {
	select {
	case client.send <- messageData:
	default:
		h.logger.Warn("Client send channel full, closing connection",
			logger.String("client_id", client.id),
			logger.String("tenant_id", client.tenantID),
		)
		go client.Close()
	}
}

// Broadcast sends a message to local clients and, when configured, to other instances
func (h *Hub) Broadcast(bm *BroadcastMessage) {
	select {
	case h.broadcast <- bm:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}

	if h.pubsub != nil {
		h.publishToRedis(bm)
	}
}

func (h *Hub) publishToRedis(bm *BroadcastMessage) {
	out := *bm
	out.Origin = h.instanceID
	data, err := json.Marshal(&out)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message for Redis", logger.Err(err))
		return
	}

	if err := h.pubsub.Publish(h.ctx, redisChannelAll, data); err != nil {
		h.logger.Error("Failed to publish to Redis", logger.Err(err))
	}
}

func (h *Hub) handleRedisPubSub() {
	ch := h.redisPubSub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.relay([]byte(msg.Payload))
		}
	}
}

// relay delivers a message received from another instance to local clients only
func (h *Hub) relay(payload []byte) {
	var bm BroadcastMessage
	if err := json.Unmarshal(payload, &bm); err != nil {
		h.logger.Error("Failed to unmarshal Redis message", logger.Err(err))
		return
	}
	if bm.Origin == h.instanceID || bm.Message == nil {
		return
	}

	select {
	case h.broadcast <- &bm:
	default:
		h.logger.Warn("Broadcast channel full, dropping Redis message")
	}
}

// BroadcastQueueEvent broadcasts a queue item transition to "queue" and "queue:<id>"
func (h *Hub) BroadcastQueueEvent(event models.QueueEvent) {
	item := event.Item
	data := &QueueEventData{
		ItemID:            item.ID,
		ScheduledActionID: item.ScheduledActionID,
		Action:            item.Action,
		EntityType:        item.EntityType,
		EntityID:          item.EntityID,
		Priority:          item.Priority,
		Status:            item.Status,
		Attempts:          item.Attempts,
		MaxAttempts:       item.MaxAttempts,
		Error:             event.Error,
	}

	message, err := NewMessage(QueueMessageType(event.Type), data)
	if err != nil {
		h.logger.Error("Failed to create queue event message", logger.Err(err))
		return
	}
	if !event.Timestamp.IsZero() {
		message.Timestamp = event.Timestamp
	}

	for _, channel := range []string{ChannelQueue, ChannelQueue + ":" + item.ID} {
		h.Broadcast(&BroadcastMessage{
			Channel:  channel,
			Message:  message,
			TenantID: item.TenantID,
			Action:   string(item.Action),
			EntityID: item.EntityID,
			Status:   string(event.Type),
		})
	}
}

// BroadcastSchedulerEvent broadcasts a scheduled action transition to "schedules" and "schedules:<id>"
func (h *Hub) BroadcastSchedulerEvent(event models.SchedulerEvent) {
	action := event.Action
	data := &ScheduleEventData{
		ScheduleID:     action.ID,
		Action:         action.Action,
		EntityType:     action.EntityType,
		EntityID:       action.EntityID,
		Status:         action.Status,
		ExecutionCount: action.ExecutionCount,
		NextRunAt:      action.NextRunAt,
		Error:          event.Error,
	}

	message, err := NewMessage(ScheduleMessageType(event.Type), data)
	if err != nil {
		h.logger.Error("Failed to create schedule event message", logger.Err(err))
		return
	}
	if !event.Timestamp.IsZero() {
		message.Timestamp = event.Timestamp
	}

	for _, channel := range []string{ChannelSchedules, ChannelSchedules + ":" + action.ID} {
		h.Broadcast(&BroadcastMessage{
			Channel:  channel,
			Message:  message,
			TenantID: action.TenantID,
			Action:   string(action.Action),
			EntityID: action.EntityID,
			Status:   string(event.Type),
		})
	}
}

// GetClientCount returns the total number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.getTotalClients()
}

// getTotalClients must be called with the lock held
func (h *Hub) getTotalClients() int {
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

// GetTenantClientCount returns the number of clients for a tenant
func (h *Hub) GetTenantClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tenantID])
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"total_clients": h.getTotalClients(),
		"total_tenants": len(h.clients),
		"pending":       len(h.broadcast),
	}
}

// ParseChannel splits "queue:<id>" into its resource type and ID
func ParseChannel(channel string) (resourceType, resourceID string) {
	parts := strings.SplitN(channel, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return channel, ""
}

// validChannel reports whether clients may subscribe to channel
func validChannel(channel string) bool {
	resource, id := ParseChannel(channel)
	switch resource {
	case ChannelQueue, ChannelSchedules:
		return !strings.Contains(channel, ":") || id != ""
	}
	return false
}
