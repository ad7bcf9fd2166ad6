package model

import "github.com/shopspring/decimal"

// Kind tags the variants of Event. Values match the wire event names.
type Kind string

const (
	KindNewOrder        Kind = "new_order"
	KindOrderUpdated    Kind = "order_updated"
	KindOrderCancelled  Kind = "order_cancelled"
	KindStatsUpdated    Kind = "stats_updated"
	KindCountersUpdated Kind = "order_counters_updated"
)

// Kinds lists every event kind.
var Kinds = []Kind{KindNewOrder, KindOrderUpdated, KindOrderCancelled, KindStatsUpdated, KindCountersUpdated}

// IsOrderEvent reports whether events of kind k carry an order.
func (k Kind) IsOrderEvent() bool {
	return k == KindNewOrder || k == KindOrderUpdated || k == KindOrderCancelled
}

// Event is the closed set of notifications delivered to dashboard subscribers.
// Only the types in this package implement it.
type Event interface {
	Kind() Kind
	sealed()
}

// OrderEvent is an Event about a single order.
type OrderEvent interface {
	Event
	OrderRef() Order
}

// NewOrder announces a freshly placed order.
type NewOrder struct {
	Order        Order
	OrderNumber  string
	CustomerName string
	Total        decimal.Decimal
	ItemsCount   int
}

// OrderUpdated announces a change to an existing order.
type OrderUpdated struct {
	Order Order
}

// OrderCancelled announces a cancelled order.
type OrderCancelled struct {
	Order Order
}

// StatsUpdated carries a full statistics snapshot.
type StatsUpdated struct {
	Stats Stats
}

// CountersUpdated carries a counters snapshot.
type CountersUpdated struct {
	Counters Counters
}

func (NewOrder) Kind() Kind        { return KindNewOrder }
func (OrderUpdated) Kind() Kind    { return KindOrderUpdated }
func (OrderCancelled) Kind() Kind  { return KindOrderCancelled }
func (StatsUpdated) Kind() Kind    { return KindStatsUpdated }
func (CountersUpdated) Kind() Kind { return KindCountersUpdated }

func (NewOrder) sealed()        {}
func (OrderUpdated) sealed()    {}
func (OrderCancelled) sealed()  {}
func (StatsUpdated) sealed()    {}
func (CountersUpdated) sealed() {}

func (e NewOrder) OrderRef() Order       { return e.Order }
func (e OrderUpdated) OrderRef() Order   { return e.Order }
func (e OrderCancelled) OrderRef() Order { return e.Order }
