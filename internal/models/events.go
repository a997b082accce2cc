package models

import "time"

// Event types
const (
	EventTypeOrderPlaced    = "ORDER_PLACED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderShipped   = "ORDER_SHIPPED"
	EventTypeOrderDelivered = "ORDER_DELIVERED"
	EventTypeCashIn         = "CASH_IN_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEventItem represents item data in order events
type OrderEventItem struct {
	ProductID       int64 `json:"product_id"`
	Quantity        int   `json:"quantity"`
	PriceAtPurchase int64 `json:"price_at_purchase"`
}

// OrderPlacedEvent published after a checkout commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64            `json:"order_id"`
	UserID      int64            `json:"user_id"`
	MerchantID  int64            `json:"merchant_id"`
	PaymentID   int64            `json:"payment_id"`
	TotalAmount int64            `json:"total_amount"`
	Items       []OrderEventItem `json:"items"`
}

// OrderCancelledEvent published after a cancel/refund commits
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     int64            `json:"order_id"`
	UserID      int64            `json:"user_id"`
	MerchantID  int64            `json:"merchant_id"`
	RefundID    int64            `json:"refund_id"`
	TotalAmount int64            `json:"total_amount"`
	Items       []OrderEventItem `json:"items"`
	Reason      string           `json:"reason"`
}

// OrderShippedEvent published when a merchant ships an order
type OrderShippedEvent struct {
	BaseEvent
	OrderID    int64 `json:"order_id"`
	UserID     int64 `json:"user_id"`
	MerchantID int64 `json:"merchant_id"`
}

// OrderDeliveredEvent published when the buyer confirms delivery
type OrderDeliveredEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}

// CashInEvent published after an external top-up commits
type CashInEvent struct {
	BaseEvent
	CardID    int64 `json:"card_id"`
	PaymentID int64 `json:"payment_id"`
	Amount    int64 `json:"amount"`
}
