package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateCard activates a virtual card for an owner. The unique constraint on
// (owner_type, owner_id) enforces one card per owner; a conflicting insert
// returns ErrCardExists.
func (s *Store) CreateCard(ctx context.Context, q sqlx.ExtContext, ownerType string, ownerID int64) (*models.VirtualCard, error) {
	card := models.VirtualCard{
		OwnerType: ownerType,
		OwnerID:   ownerID,
	}

	err := q.QueryRowxContext(ctx,
		`INSERT INTO virtual_cards (owner_type, owner_id, balance)
		 VALUES ($1, $2, 0)
		 ON CONFLICT (owner_type, owner_id) DO NOTHING
		 RETURNING id, created_at`,
		ownerType, ownerID).Scan(&card.ID, &card.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCardExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual card: %w", err)
	}
	return &card, nil
}

// GetCardByID retrieves a virtual card by ID
func (s *Store) GetCardByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.VirtualCard, error) {
	var card models.VirtualCard
	err := sqlx.GetContext(ctx, q, &card, "SELECT * FROM virtual_cards WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// GetCardByOwner retrieves the card belonging to a user or merchant.
func (s *Store) GetCardByOwner(ctx context.Context, q sqlx.ExtContext, ownerType string, ownerID int64) (*models.VirtualCard, error) {
	var card models.VirtualCard
	err := sqlx.GetContext(ctx, q, &card,
		"SELECT * FROM virtual_cards WHERE owner_type = $1 AND owner_id = $2", ownerType, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// AdjustBalance applies a delta to a card balance only if the result stays
// non-negative. Single conditional UPDATE, never read-then-write: two
// concurrent debits against the same card cannot both pass a sufficient-funds
// check and both apply. Returns false, without mutation, when the guard
// rejects the delta or the card does not exist.
func (s *Store) AdjustBalance(ctx context.Context, q sqlx.ExtContext, cardID int64, delta int64) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE virtual_cards
		 SET balance = balance + $1
		 WHERE id = $2 AND balance + $1 >= 0`,
		delta, cardID)
	if err != nil {
		return false, fmt.Errorf("failed to adjust balance for card %d: %w", cardID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
