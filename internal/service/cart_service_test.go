package service

import (
	"context"
	"testing"

	"storefront/internal/memstore"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCartFixture(t *testing.T) (*memstore.Store, *CartService, *models.Product) {
	t.Helper()
	ms := memstore.New()
	product := ms.SeedProduct(models.Product{
		MerchantID: 10,
		SKU:        "mug",
		Name:       "mug",
		Price:      100,
	}, 5)
	return ms, NewCartService(ms), product
}

func TestAddItemMergesLines(t *testing.T) {
	_, carts, product := newCartFixture(t)
	ctx := context.Background()

	require.NoError(t, carts.AddItem(ctx, 1, product.ID, 1))
	require.NoError(t, carts.AddItem(ctx, 1, product.ID, 2))

	lines, err := carts.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1, "same product must land on one line")
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, int64(100), lines[0].UnitPrice)
	assert.Equal(t, int64(300), lines[0].TotalPrice)
}

func TestAddItemRejectsBadQuantity(t *testing.T) {
	_, carts, product := newCartFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, carts.AddItem(ctx, 1, product.ID, 0), models.ErrCartQuantity)
	assert.ErrorIs(t, carts.AddItem(ctx, 1, product.ID, -1), models.ErrCartQuantity)
}

func TestAddItemUnknownProduct(t *testing.T) {
	_, carts, _ := newCartFixture(t)

	err := carts.AddItem(context.Background(), 1, 999, 1)
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	_, carts, product := newCartFixture(t)
	ctx := context.Background()

	require.NoError(t, carts.AddItem(ctx, 1, product.ID, 2))
	lines, err := carts.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	require.NoError(t, carts.UpdateItemQuantity(ctx, 1, lines[0].ItemID, 0))

	lines, err = carts.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCartsAreIsolatedPerUser(t *testing.T) {
	_, carts, product := newCartFixture(t)
	ctx := context.Background()

	require.NoError(t, carts.AddItem(ctx, 1, product.ID, 2))
	require.NoError(t, carts.AddItem(ctx, 2, product.ID, 1))

	lines, err := carts.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	// A user cannot touch another user's cart line.
	err = carts.RemoveItem(ctx, 2, lines[0].ItemID)
	assert.ErrorIs(t, err, models.ErrCartItemNotFound)
}

func TestClearCart(t *testing.T) {
	_, carts, product := newCartFixture(t)
	ctx := context.Background()

	require.NoError(t, carts.AddItem(ctx, 1, product.ID, 2))
	require.NoError(t, carts.Clear(ctx, 1))

	lines, err := carts.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
