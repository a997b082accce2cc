package service

import (
	"context"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CartService manages a user's cart. Prices are snapshotted from the catalog
// when a product is first added; checkout re-validates against live prices.
type CartService struct {
	store  Storage
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store Storage) *CartService {
	return &CartService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// AddItem puts quantity units of a product into the user's cart. Adding a
// product that is already in the cart increments the existing line.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity <= 0 {
		return models.ErrCartQuantity
	}

	product, err := s.store.GetProductByID(ctx, s.store.DB(), productID)
	if err != nil {
		return fmt.Errorf("product %d: %w", productID, err)
	}

	if err := s.store.UpsertCartItem(ctx, userID, productID, quantity, product.Price); err != nil {
		return err
	}

	util.CartItemsAddedTotal.Inc()
	s.logger.Debug("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity))
	return nil
}

// UpdateItemQuantity sets a cart line's quantity. Zero or negative removes
// the line.
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, itemID int64, quantity int) error {
	if quantity <= 0 {
		return s.store.RemoveCartItem(ctx, userID, itemID)
	}
	return s.store.UpdateCartItemQuantity(ctx, userID, itemID, quantity)
}

// RemoveItem deletes one line from the user's cart.
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) error {
	return s.store.RemoveCartItem(ctx, userID, itemID)
}

// Clear empties the user's cart.
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	return s.store.ClearCart(ctx, s.store.DB(), userID)
}

// GetCart returns the cart as display lines with catalog fields joined in.
func (s *CartService) GetCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return s.store.GetCartLines(ctx, userID)
}
