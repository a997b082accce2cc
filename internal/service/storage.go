package service

import (
	"context"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// Storage is everything the orchestrators need from persistence. store.Store
// implements it against Postgres; memstore.Store implements it in memory for
// tests and local development. Methods taking a sqlx.ExtContext participate
// in the transaction the orchestrator opened with WithTx; the in-memory
// implementation ignores the querier and journals its own rollbacks.
type Storage interface {
	DB() sqlx.ExtContext
	WithTx(ctx context.Context, fn func(q sqlx.ExtContext) error) error

	// Catalog (read-only collaborator, plus the sold-count metadata counter).
	GetProductByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Product, error)
	IncrementSoldCount(ctx context.Context, q sqlx.ExtContext, productID int64, delta int) error

	// Inventory, guarded.
	GetInventory(ctx context.Context, q sqlx.ExtContext, productID int64) (*models.Inventory, error)
	AdjustQuantity(ctx context.Context, q sqlx.ExtContext, productID int64, delta int) (bool, error)

	// Ledger, guarded.
	CreateCard(ctx context.Context, q sqlx.ExtContext, ownerType string, ownerID int64) (*models.VirtualCard, error)
	GetCardByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.VirtualCard, error)
	GetCardByOwner(ctx context.Context, q sqlx.ExtContext, ownerType string, ownerID int64) (*models.VirtualCard, error)
	AdjustBalance(ctx context.Context, q sqlx.ExtContext, cardID int64, delta int64) (bool, error)

	// Payments, append-only.
	CreatePayment(ctx context.Context, q sqlx.ExtContext, payment *models.Payment) error
	UpdatePaymentStatus(ctx context.Context, q sqlx.ExtContext, paymentID int64, status models.Status) error
	GetPaymentByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Payment, error)
	ListPaymentsForCard(ctx context.Context, q sqlx.ExtContext, cardID int64) ([]models.Payment, error)

	// Carts.
	GetOrCreateCart(ctx context.Context, userID int64) (int64, error)
	UpsertCartItem(ctx context.Context, userID, productID int64, quantity int, unitPrice int64) error
	UpdateCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) error
	RemoveCartItem(ctx context.Context, userID, itemID int64) error
	ClearCart(ctx context.Context, q sqlx.ExtContext, userID int64) error
	GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error)

	// Orders and invoices.
	CreateOrder(ctx context.Context, q sqlx.ExtContext, order *models.Order) error
	GetOrderByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, q sqlx.ExtContext, orderID int64, from, to models.Status) (bool, error)
	ListOrdersByUser(ctx context.Context, q sqlx.ExtContext, userID int64) ([]models.Order, error)
	ListOrdersByMerchant(ctx context.Context, q sqlx.ExtContext, merchantID int64) ([]models.Order, error)
	CreateInvoice(ctx context.Context, q sqlx.ExtContext, invoice *models.Invoice) error
	GetInvoiceByOrderID(ctx context.Context, q sqlx.ExtContext, orderID int64) (*models.Invoice, error)
}
