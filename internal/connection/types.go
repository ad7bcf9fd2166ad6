package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/orderfeed/internal/model"
)

// Errors
var (
	ErrNotConnected        = errors.New("not connected")
	ErrAlreadyClosed       = errors.New("already closed")
	ErrActionTimeout       = errors.New("action acknowledgement timeout")
	ErrDisconnected        = errors.New("channel disconnected")
	ErrAuthFailure         = errors.New("authentication failure")
	ErrTransient           = errors.New("transient connection failure")
	ErrReconnectLimit      = errors.New("reconnect attempts exhausted")
	ErrReconnectInProgress = errors.New("reconnect already in progress")
	ErrInvalidStatus       = errors.New("invalid order status")
)

// ActionError is returned when the server acknowledges a status update with
// success=false.
type ActionError struct {
	OrderID string
	Status  model.OrderStatus
	Message string
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("update order %s to %s rejected", e.OrderID, e.Status)
	}
	return fmt.Sprintf("update order %s to %s rejected: %s", e.OrderID, e.Status, e.Message)
}

// DialError wraps a failed websocket handshake.
type DialError struct {
	StatusCode int // HTTP status of the handshake response, 0 if none
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dial: %v (HTTP %d)", e.Err, e.StatusCode)
	}
	return fmt.Sprintf("dial: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// ServerError is an error message pushed by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// RawMessage is an event message from the Connection Manager to the Event Router.
type RawMessage struct {
	Event      string          // Wire event name
	Data       json.RawMessage // Event payload
	ReceivedAt time.Time
}

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client→server event names.
const (
	EventJoinStore         = "join_store"
	EventRequestOrders     = "request_orders"
	EventUpdateOrderStatus = "update_order_status"
	EventPing              = "ping"
)

// Server→client control event names. Order and snapshot events are
// forwarded as RawMessage.
const (
	EventConnected          = "connected"
	EventJoinedStore        = "joined_store"
	EventOrderStatusUpdated = "order_status_updated"
	EventPong               = "pong"
	EventError              = "error"
)

// JoinStorePayload subscribes the channel to a store's room.
type JoinStorePayload struct {
	TenantID string `json:"tenantId"`
}

// RequestOrdersPayload asks for a page of current orders.
type RequestOrdersPayload struct {
	TenantID string `json:"tenantId"`
	Page     int    `json:"page"`
	Limit    int    `json:"limit"`
	Status   string `json:"status,omitempty"`
}

// UpdateOrderStatusPayload requests an order status change.
type UpdateOrderStatusPayload struct {
	OrderID   string            `json:"orderId"`
	Status    model.OrderStatus `json:"status"`
	TenantID  string            `json:"tenantId"`
	RequestID string            `json:"requestId"`
}

// PingPayload is the heartbeat request.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"` // Unix milliseconds
}

// PongPayload is the heartbeat acknowledgement.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// ErrorPayload is the body of a server error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ActionAck is the acknowledgement of an order status update.
type ActionAck struct {
	OrderID   string       `json:"orderId"`
	RequestID string       `json:"requestId,omitempty"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	Order     *model.Order `json:"order,omitempty"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL including the token query parameter
	HandshakeTimeout time.Duration // Dial handshake bound
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                  string        // Primary channel URL (ws:// or wss://)
	TenantID             string        // Store slug joined after connect
	MaxReconnectAttempts int           // Automatic reconnects before giving up
	ReconnectDelay       time.Duration // Fixed wait before each reconnect
	HeartbeatInterval    time.Duration // Ping interval while connected
	ActionTimeout        time.Duration // Bound on waiting for an action ack
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	InitialOrdersLimit   int // Page size of the initial request_orders
	MessageBufferSize    int // Buffer size for output message channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       3 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		ActionTimeout:        10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		InitialOrdersLimit:   50,
		MessageBufferSize:    1000,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State          State
	Attempts       int
	LastPong       time.Time
	PendingActions int
	LastError      string
}
