package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder persists an order header and its item snapshots as one unit on
// the caller's transaction. Items are never written through any other path
// and never updated afterwards.
func (s *Store) CreateOrder(ctx context.Context, q sqlx.ExtContext, order *models.Order) error {
	err := q.QueryRowxContext(ctx,
		`INSERT INTO orders (user_id, merchant_id, status, total_amount, shipping_address_id, billing_address_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, order_date`,
		order.UserID, order.MerchantID, order.Status, order.TotalAmount,
		order.ShippingAddressID, order.BillingAddressID,
	).Scan(&order.ID, &order.OrderDate)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		item.TotalPrice = item.PriceAtPurchase * int64(item.Quantity)
		err := q.QueryRowxContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, price_at_purchase, total_price)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			item.OrderID, item.ProductID, item.Quantity, item.PriceAtPurchase, item.TotalPrice,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

// GetOrderByID retrieves an order with its items.
func (s *Store) GetOrderByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	err = sqlx.SelectContext(ctx, q, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus transitions an order from one status to another. The
// transition is conditional on the current status so that two concurrent
// updates cannot both apply; returns false when the order was not in the
// expected status.
func (s *Store) UpdateOrderStatus(ctx context.Context, q sqlx.ExtContext, orderID int64, from, to models.Status) (bool, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2 AND status = $3",
		to, orderID, from)
	if err != nil {
		return false, fmt.Errorf("failed to update order %d status: %w", orderID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListOrdersByUser retrieves a user's order headers, most recent first.
func (s *Store) ListOrdersByUser(ctx context.Context, q sqlx.ExtContext, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, q, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY order_date DESC", userID)
	return orders, err
}

// ListOrdersByMerchant retrieves a merchant's order headers, most recent first.
func (s *Store) ListOrdersByMerchant(ctx context.Context, q sqlx.ExtContext, merchantID int64) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, q, &orders,
		"SELECT * FROM orders WHERE merchant_id = $1 ORDER BY order_date DESC", merchantID)
	return orders, err
}

// CreateInvoice persists the invoice issued with an order.
func (s *Store) CreateInvoice(ctx context.Context, q sqlx.ExtContext, invoice *models.Invoice) error {
	err := q.QueryRowxContext(ctx,
		`INSERT INTO invoices (order_id, address_id, status, payment_summary)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, issue_date`,
		invoice.OrderID, invoice.AddressID, invoice.Status, invoice.PaymentSummary,
	).Scan(&invoice.ID, &invoice.IssueDate)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetInvoiceByOrderID retrieves the invoice for an order.
func (s *Store) GetInvoiceByOrderID(ctx context.Context, q sqlx.ExtContext, orderID int64) (*models.Invoice, error) {
	var invoice models.Invoice
	err := sqlx.GetContext(ctx, q, &invoice,
		"SELECT * FROM invoices WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}
