package websocket

import (
	"encoding/json"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Queue events are "queue.<event>", e.g. queue.enqueued or queue.dead_lettered
	queueMessagePrefix = "queue."

	// Schedule events are "schedule.<event>", e.g. schedule.fired or schedule.paused
	scheduleMessagePrefix = "schedule."

	// Connection management
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
	MessageTypeError        MessageType = "error"
	MessageTypeSubscribe    MessageType = "subscribe"
	MessageTypeUnsubscribe  MessageType = "unsubscribe"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
)

// Channels clients can subscribe to. Per-resource channels append ":<id>".
const (
	ChannelQueue     = "queue"
	ChannelSchedules = "schedules"
)

// QueueMessageType returns the message type for a queue event
func QueueMessageType(t models.QueueEventType) MessageType {
	return MessageType(queueMessagePrefix + string(t))
}

// ScheduleMessageType returns the message type for a scheduler event
func ScheduleMessageType(t models.SchedulerEventType) MessageType {
	return MessageType(scheduleMessagePrefix + string(t))
}

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// QueueEventData is the payload of queue.* messages
type QueueEventData struct {
	ItemID            string                 `json:"item_id"`
	ScheduledActionID *string                `json:"scheduled_action_id,omitempty"`
	Action            models.ActionType      `json:"action"`
	EntityType        models.EntityType      `json:"entity_type"`
	EntityID          string                 `json:"entity_id"`
	Priority          models.Priority        `json:"priority"`
	Status            models.QueueItemStatus `json:"status"`
	Attempts          int                    `json:"attempts"`
	MaxAttempts       int                    `json:"max_attempts"`
	Error             string                 `json:"error,omitempty"`
}

// ScheduleEventData is the payload of schedule.* messages
type ScheduleEventData struct {
	ScheduleID     string                `json:"schedule_id"`
	Action         models.ActionType     `json:"action"`
	EntityType     models.EntityType     `json:"entity_type"`
	EntityID       string                `json:"entity_id"`
	Status         models.ScheduleStatus `json:"status"`
	ExecutionCount int                   `json:"execution_count"`
	NextRunAt      *time.Time            `json:"next_run_at,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// ErrorData contains error details
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubscriptionData contains subscription request details
type SubscriptionData struct {
	Channel string  `json:"channel"` // e.g. "queue", "queue:{id}", "schedules:{id}"
	Filters Filters `json:"filters,omitempty"`
}

// Filters for subscription. Empty lists match everything.
type Filters struct {
	Actions   []string `json:"actions,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
	Statuses  []string `json:"statuses,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		rawData = jsonData
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      rawData,
	}, nil
}

// ToJSON converts a message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
