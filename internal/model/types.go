package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusPreparing OrderStatus = "PREPARING"
	StatusReady     OrderStatus = "READY"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Order is a customer order placed against a store.
type Order struct {
	ID            string          `json:"id"`
	OrderNumber   string          `json:"orderNumber,omitempty"`
	StoreID       string          `json:"storeId,omitempty"`
	Status        OrderStatus     `json:"status"`
	CustomerName  string          `json:"customerName,omitempty"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Items         []OrderItem     `json:"items,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// OrderItem is a single line of an order.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// ItemsCount returns the number of units across all lines.
func (o Order) ItemsCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Stats is the full dashboard statistics snapshot pushed by the backend.
type Stats struct {
	TotalOrders     int             `json:"totalOrders"`
	PendingOrders   int             `json:"pendingOrders"`
	NewOrders       int             `json:"newOrders"`
	CompletedOrders int             `json:"completedOrders"`
	CancelledOrders int             `json:"cancelledOrders"`
	TodayOrders     int             `json:"todayOrders"`
	TodayRevenue    decimal.Decimal `json:"todayRevenue"`
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
}

// Counters is the compact counter payload of order_counters_updated.
type Counters struct {
	NewOrders     int `json:"newOrders"`
	TotalOrders   int `json:"totalOrders"`
	PendingOrders int `json:"pendingOrders"`
}
