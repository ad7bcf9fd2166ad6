package router

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/orderfeed/internal/model"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMissingOrderID = errors.New("order event without order id")
)

// Source identifies the transport an event arrived on.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// RawEvent is an undecoded event from either transport.
type RawEvent struct {
	Source     Source
	Type       string          // Wire event name
	Data       json.RawMessage // Event payload
	ReceivedAt time.Time
}

// Delivery is handed to subscribers for every delivered event.
type Delivery struct {
	Event      model.Event
	Source     Source
	ReceivedAt time.Time
}

// Handler receives deliveries. Handlers run synchronously on the routing
// path and must not call Route.
type Handler func(Delivery)

// CounterSink receives counter snapshots derived from snapshot events.
type CounterSink interface {
	Update(model.Counters) model.Counters
}

// KeyFunc derives the dedup identity of an order event.
type KeyFunc func(model.OrderEvent) string

// Config holds configuration for the Event Router.
type Config struct {
	QueueSize int           // Initial inbound queue capacity
	DedupSize int           // Identities remembered
	DedupTTL  time.Duration // Identity lifetime, 0 = until evicted
	DedupKey  KeyFunc       // Defaults to RevisionKey
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize: 256,
		DedupSize: 256,
		DedupTTL:  2 * time.Minute,
		DedupKey:  RevisionKey,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Received    int64
	Routed      int64
	Duplicates  int64
	ParseErrors int64
	Unknown     int64
	Queue       QueueStats
}

// Wire payload shapes. The primary channel wraps the subject in a named
// field; the fallback stream may send it bare.

type newOrderWire struct {
	Order        *model.Order     `json:"order"`
	OrderNumber  string           `json:"orderNumber"`
	CustomerName string           `json:"customerName"`
	Total        *decimal.Decimal `json:"total"`
	ItemsCount   *int             `json:"itemsCount"`
}

type orderWire struct {
	Order *model.Order `json:"order"`
}

type statsWire struct {
	Stats *model.Stats `json:"stats"`
}

type countersWire struct {
	Counters *model.Counters `json:"counters"`
}
