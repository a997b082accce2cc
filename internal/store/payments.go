package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreatePayment appends a fund-movement record. The caller sets status
// (normally PENDING); id and timestamps are filled in from the insert.
func (s *Store) CreatePayment(ctx context.Context, q sqlx.ExtContext, payment *models.Payment) error {
	if payment.Amount <= 0 {
		return models.ErrInvalidAmount
	}

	return q.QueryRowxContext(ctx,
		`INSERT INTO payments (sender_id, sender_type, receiver_id, receiver_type, type, amount, status, reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		payment.SenderID, payment.SenderType, payment.ReceiverID, payment.ReceiverType,
		payment.Type, payment.Amount, payment.Status, payment.Reference,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// UpdatePaymentStatus is the only mutation payments support.
func (s *Store) UpdatePaymentStatus(ctx context.Context, q sqlx.ExtContext, paymentID int64, status models.Status) error {
	res, err := q.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2",
		status, paymentID)
	if err != nil {
		return fmt.Errorf("failed to update payment %d status: %w", paymentID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrPaymentNotFound
	}
	return nil
}

// GetPaymentByID retrieves a payment by ID
func (s *Store) GetPaymentByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPaymentsForCard returns every payment where the card is sender or
// receiver, most recent first.
func (s *Store) ListPaymentsForCard(ctx context.Context, q sqlx.ExtContext, cardID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := sqlx.SelectContext(ctx, q, &payments,
		`SELECT * FROM payments
		 WHERE sender_id = $1 OR receiver_id = $1
		 ORDER BY created_at DESC`, cardID)
	return payments, err
}

// DeletePayment always fails. Payments are immutable financial history;
// voiding one means updating its status.
func (s *Store) DeletePayment(ctx context.Context, id int64) error {
	return models.ErrPaymentsImmutable
}
