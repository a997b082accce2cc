package models

import "time"

// Owner types for virtual cards.
const (
	OwnerTypeUser     = "USER"
	OwnerTypeMerchant = "MERCHANT"
)

// Party types on a payment record. PartyTypeSystem marks external fund
// injection (cash-in), which is exempt from the conservation invariant.
const (
	PartyTypeCard   = "CARD"
	PartyTypeSystem = "SYSTEM"
)

// Payment types.
const (
	PaymentTypeOrder  = "ORDER_PAYMENT"
	PaymentTypeRefund = "REFUND"
	PaymentTypeCashIn = "CASH_IN"
)

// SystemCardID is the pseudo-sender for cash-in payments.
const SystemCardID int64 = 0

// Product is the read-only catalog side of the storefront. sold_count is the
// only field this service mutates, as order metadata.
type Product struct {
	ID         int64     `db:"id" json:"id"`
	MerchantID int64     `db:"merchant_id" json:"merchant_id"`
	SKU        string    `db:"sku" json:"sku"`
	Name       string    `db:"name" json:"name"`
	Price      int64     `db:"price" json:"price"`
	SoldCount  int       `db:"sold_count" json:"sold_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Inventory holds per-product stock counts. Mutated only through the guarded
// AdjustQuantity store operation; available never goes negative.
type Inventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Available int       `db:"available" json:"available"`
	Reserved  int       `db:"reserved" json:"reserved"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// VirtualCard is an account's ledger entry. One card per owner; balances are
// financial records and are never deleted or set directly.
type VirtualCard struct {
	ID        int64     `db:"id" json:"id"`
	OwnerType string    `db:"owner_type" json:"owner_type"`
	OwnerID   int64     `db:"owner_id" json:"owner_id"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Payment is an append-only record of a fund movement between cards. Only the
// status field ever changes after creation; voiding a payment means setting
// its status, never deleting the row.
type Payment struct {
	ID           int64     `db:"id" json:"id"`
	SenderID     int64     `db:"sender_id" json:"sender_id"`
	SenderType   string    `db:"sender_type" json:"sender_type"`
	ReceiverID   int64     `db:"receiver_id" json:"receiver_id"`
	ReceiverType string    `db:"receiver_type" json:"receiver_type"`
	Type         string    `db:"type" json:"type"`
	Amount       int64     `db:"amount" json:"amount"`
	Status       Status    `db:"status" json:"status"`
	Reference    string    `db:"reference" json:"reference"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Cart is a user's active cart. Created lazily, one per user.
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartItem is one line of a cart. UnitPrice is snapshotted when the product
// is first added so later catalog price changes do not rewrite the cart.
type CartItem struct {
	ID        int64     `db:"id" json:"id"`
	CartID    int64     `db:"cart_id" json:"cart_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	UnitPrice int64     `db:"unit_price" json:"unit_price"`
	AddedAt   time.Time `db:"added_at" json:"added_at"`
}

// CartLine is the read model for cart display: the cart item plus joined
// catalog fields. Built explicitly instead of bolting display fields onto
// CartItem.
type CartLine struct {
	ItemID      int64     `db:"item_id" json:"item_id"`
	ProductID   int64     `db:"product_id" json:"product_id"`
	ProductName string    `db:"product_name" json:"product_name"`
	MerchantID  int64     `db:"merchant_id" json:"merchant_id"`
	Quantity    int       `db:"quantity" json:"quantity"`
	UnitPrice   int64     `db:"unit_price" json:"unit_price"`
	TotalPrice  int64     `db:"total_price" json:"total_price"`
	AddedAt     time.Time `db:"added_at" json:"added_at"`
}

// Order is a checkout result. The header and its items are written as one
// atomic unit by the order orchestrator; after that only Status may change.
type Order struct {
	ID                int64     `db:"id" json:"id"`
	UserID            int64     `db:"user_id" json:"user_id"`
	MerchantID        int64     `db:"merchant_id" json:"merchant_id"`
	Status            Status    `db:"status" json:"status"`
	OrderDate         time.Time `db:"order_date" json:"order_date"`
	TotalAmount       int64     `db:"total_amount" json:"total_amount"`
	ShippingAddressID int64     `db:"shipping_address_id" json:"shipping_address_id"`
	BillingAddressID  int64     `db:"billing_address_id" json:"billing_address_id"`

	Items []OrderItem `db:"-" json:"items,omitempty"`

	// PaymentID carries the checkout payment alongside a freshly created
	// order; it is derivable from the payments table and not persisted here.
	PaymentID int64 `db:"-" json:"payment_id,omitempty"`
}

// OrderItem is an immutable snapshot of what was bought at what price.
type OrderItem struct {
	ID              int64 `db:"id" json:"id"`
	OrderID         int64 `db:"order_id" json:"order_id"`
	ProductID       int64 `db:"product_id" json:"product_id"`
	Quantity        int   `db:"quantity" json:"quantity"`
	PriceAtPurchase int64 `db:"price_at_purchase" json:"price_at_purchase"`
	TotalPrice      int64 `db:"total_price" json:"total_price"`
}

// Invoice accompanies every order, created in the same transaction.
type Invoice struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        int64     `db:"order_id" json:"order_id"`
	AddressID      int64     `db:"address_id" json:"address_id"`
	IssueDate      time.Time `db:"issue_date" json:"issue_date"`
	Status         Status    `db:"status" json:"status"`
	PaymentSummary string    `db:"payment_summary" json:"payment_summary"`
}

// ProcessedEvent keeps worker event handling idempotent.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
