package store

import (
	"context"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetOrCreateCart returns the user's active cart id, creating the cart
// lazily. The upsert makes the call idempotent under concurrent requests for
// the same user.
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (int64, error) {
	var cartID int64
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO carts (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id`,
		userID).Scan(&cartID)
	if err != nil {
		return 0, fmt.Errorf("failed to get or create cart for user %d: %w", userID, err)
	}
	return cartID, nil
}

// UpsertCartItem adds a product line to the user's cart, or increments the
// existing line's quantity. The unique constraint on (cart_id, product_id)
// plus the single upsert statement make concurrent adds for the same
// user+product collapse into one line instead of racing into duplicates.
// The unit price of an existing line is kept: it was snapshotted at first add.
func (s *Store) UpsertCartItem(ctx context.Context, userID, productID int64, quantity int, unitPrice int64) error {
	return s.WithTx(ctx, func(q sqlx.ExtContext) error {
		var cartID int64
		err := q.QueryRowxContext(ctx,
			`INSERT INTO carts (user_id) VALUES ($1)
			 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
			 RETURNING id`,
			userID).Scan(&cartID)
		if err != nil {
			return fmt.Errorf("failed to get or create cart: %w", err)
		}

		_, err = q.ExecContext(ctx,
			`INSERT INTO cart_items (cart_id, product_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (cart_id, product_id)
			 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
			cartID, productID, quantity, unitPrice)
		if err != nil {
			return fmt.Errorf("failed to upsert cart item: %w", err)
		}
		return nil
	})
}

// UpdateCartItemQuantity sets an item's quantity, verifying the item belongs
// to the user's cart. Callers handle quantity <= 0 as removal.
func (s *Store) UpdateCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1
		 FROM carts
		 WHERE cart_items.id = $2 AND cart_items.cart_id = carts.id AND carts.user_id = $3`,
		quantity, itemID, userID)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrCartItemNotFound
	}
	return nil
}

// RemoveCartItem deletes one line from the user's cart.
func (s *Store) RemoveCartItem(ctx context.Context, userID, itemID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_items
		 USING carts
		 WHERE cart_items.id = $1 AND cart_items.cart_id = carts.id AND carts.user_id = $2`,
		itemID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrCartItemNotFound
	}
	return nil
}

// ClearCart removes every line from the user's cart. Runs on the caller's
// querier so checkout can clear the cart inside its transaction.
func (s *Store) ClearCart(ctx context.Context, q sqlx.ExtContext, userID int64) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM cart_items
		 USING carts
		 WHERE cart_items.cart_id = carts.id AND carts.user_id = $1`,
		userID)
	return err
}

// GetCartLines returns the user's cart as display read models, with catalog
// fields joined in.
func (s *Store) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines,
		`SELECT ci.id AS item_id, ci.product_id, p.name AS product_name, p.merchant_id,
		        ci.quantity, ci.unit_price, ci.quantity * ci.unit_price AS total_price, ci.added_at
		 FROM cart_items ci
		 JOIN carts c ON ci.cart_id = c.id
		 JOIN products p ON ci.product_id = p.id
		 WHERE c.user_id = $1
		 ORDER BY ci.added_at`,
		userID)
	return lines, err
}
