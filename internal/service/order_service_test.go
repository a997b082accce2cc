package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/internal/memstore"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLocker stands in for the redis checkout lock.
type fakeLocker struct {
	acquired bool
	releases int
}

func (f *fakeLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return f.acquired, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, lockKey string) error {
	f.releases++
	return nil
}

type checkoutFixture struct {
	ms     *memstore.Store
	carts  *CartService
	orders *OrderService

	userID       int64
	merchantID   int64
	userCard     *models.VirtualCard
	merchantCard *models.VirtualCard
}

// newCheckoutFixture seeds one buyer with 1000 on their card and one merchant
// with an empty card.
func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()

	ms := memstore.New()
	transactions := NewTransactionService(ms, nil)

	f := &checkoutFixture{
		ms:         ms,
		carts:      NewCartService(ms),
		orders:     NewOrderService(ms, transactions, nil, nil),
		userID:     1,
		merchantID: 10,
	}
	f.userCard = ms.SeedCard(models.OwnerTypeUser, f.userID, 1000)
	f.merchantCard = ms.SeedCard(models.OwnerTypeMerchant, f.merchantID, 0)
	return f
}

func (f *checkoutFixture) seedProduct(t *testing.T, name string, price int64, available int) *models.Product {
	t.Helper()
	return f.ms.SeedProduct(models.Product{
		MerchantID: f.merchantID,
		SKU:        name,
		Name:       name,
		Price:      price,
	}, available)
}

func (f *checkoutFixture) balances(t *testing.T) (user, merchant int64) {
	t.Helper()
	ctx := context.Background()
	u, err := f.ms.GetCardByID(ctx, nil, f.userCard.ID)
	require.NoError(t, err)
	m, err := f.ms.GetCardByID(ctx, nil, f.merchantCard.ID)
	require.NoError(t, err)
	return u.Balance, m.Balance
}

func TestCheckoutFromCart(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "mug", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, product.ID, 2))

	orders, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	order := orders[0]
	assert.Equal(t, models.StatusPaid, order.Status)
	assert.Equal(t, int64(200), order.TotalAmount)
	assert.Equal(t, f.merchantID, order.MerchantID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(100), order.Items[0].PriceAtPurchase)
	assert.Equal(t, int64(200), order.Items[0].TotalPrice)

	user, merchant := f.balances(t)
	assert.Equal(t, int64(800), user)
	assert.Equal(t, int64(200), merchant)

	inv, err := f.ms.GetInventory(ctx, nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, inv.Available)

	p, err := f.ms.GetProductByID(ctx, nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.SoldCount)

	invoice, err := f.ms.GetInvoiceByOrderID(ctx, nil, order.ID)
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, models.StatusPaid, invoice.Status)

	payment, err := f.ms.GetPaymentByID(ctx, nil, order.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, payment.Status)
	assert.Equal(t, models.PaymentTypeOrder, payment.Type)

	lines, err := f.carts.GetCart(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, lines, "cart should be cleared after checkout")
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.orders.CreateOrderFromCart(context.Background(), f.userID, 77)
	assert.ErrorIs(t, err, models.ErrCartEmpty)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "mug", 100, 1)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, product.ID, 2))

	_, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	user, merchant := f.balances(t)
	assert.Equal(t, int64(1000), user)
	assert.Equal(t, int64(0), merchant)

	inv, err := f.ms.GetInventory(ctx, nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.Available)

	// The cart stays as it was so the user can adjust and retry.
	lines, err := f.carts.GetCart(ctx, f.userID)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestCheckoutInsufficientFunds(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "lamp", 600, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, product.ID, 2))

	_, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	user, merchant := f.balances(t)
	assert.Equal(t, int64(1000), user)
	assert.Equal(t, int64(0), merchant)

	inv, err := f.ms.GetInventory(ctx, nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, inv.Available)

	orders, err := f.orders.ListUserOrders(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckoutAllOrNothing(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "mug", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, product.ID, 2))

	// Payment succeeds, then order persistence blows up: everything must roll
	// back, funds included.
	f.ms.FailCreateOrder = errors.New("disk full")

	_, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	assert.ErrorIs(t, err, models.ErrCheckoutInconsistent)

	user, merchant := f.balances(t)
	assert.Equal(t, int64(1000), user)
	assert.Equal(t, int64(0), merchant)

	inv, err := f.ms.GetInventory(ctx, nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, inv.Available)

	orders, err := f.orders.ListUserOrders(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, orders)

	lines, err := f.carts.GetCart(ctx, f.userID)
	require.NoError(t, err)
	assert.Len(t, lines, 1, "cart must survive a failed checkout")

	// Retry succeeds once the fault clears.
	f.ms.FailCreateOrder = nil
	placed, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	require.NoError(t, err)
	assert.Len(t, placed, 1)
}

func TestCheckoutSplitsPerMerchant(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	otherMerchantID := int64(20)
	otherCard := f.ms.SeedCard(models.OwnerTypeMerchant, otherMerchantID, 0)

	first := f.seedProduct(t, "mug", 100, 5)
	second := f.ms.SeedProduct(models.Product{
		MerchantID: otherMerchantID,
		SKU:        "lamp",
		Name:       "lamp",
		Price:      250,
	}, 5)

	require.NoError(t, f.carts.AddItem(ctx, f.userID, first.ID, 1))
	require.NoError(t, f.carts.AddItem(ctx, f.userID, second.ID, 2))

	orders, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	totals := map[int64]int64{}
	for _, order := range orders {
		assert.Equal(t, models.StatusPaid, order.Status)
		totals[order.MerchantID] = order.TotalAmount
	}
	assert.Equal(t, int64(100), totals[f.merchantID])
	assert.Equal(t, int64(500), totals[otherMerchantID])

	user, merchant := f.balances(t)
	assert.Equal(t, int64(400), user)
	assert.Equal(t, int64(100), merchant)

	other, err := f.ms.GetCardByID(ctx, nil, otherCard.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), other.Balance)
}

func TestDirectCreateOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "mug", 100, 5)

	order, err := f.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:            f.userID,
		MerchantID:        f.merchantID,
		ShippingAddressID: 77,
		BillingAddressID:  77,
		Items:             []OrderItemRequest{{ProductID: product.ID, Quantity: 3}},
		UserCardID:        f.userCard.ID,
		MerchantCardID:    f.merchantCard.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, order.Status)
	assert.Equal(t, int64(300), order.TotalAmount)

	user, merchant := f.balances(t)
	assert.Equal(t, int64(700), user)
	assert.Equal(t, int64(300), merchant)
}

func TestDirectCreateOrderRejectsForeignProduct(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	// Product listed by someone else entirely.
	foreign := f.ms.SeedProduct(models.Product{
		MerchantID: 99,
		SKU:        "lamp",
		Name:       "lamp",
		Price:      100,
	}, 5)

	_, err := f.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:            f.userID,
		MerchantID:        f.merchantID,
		ShippingAddressID: 77,
		BillingAddressID:  77,
		Items:             []OrderItemRequest{{ProductID: foreign.ID, Quantity: 1}},
		UserCardID:        f.userCard.ID,
		MerchantCardID:    f.merchantCard.ID,
	})
	assert.ErrorIs(t, err, models.ErrNotAuthorized,
		"paying one merchant for another merchant's product must be rejected")

	user, merchant := f.balances(t)
	assert.Equal(t, int64(1000), user)
	assert.Equal(t, int64(0), merchant)

	inv, err := f.ms.GetInventory(ctx, nil, foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, inv.Available)
}

func TestCheckoutRejectedWhileLockHeld(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "mug", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, product.ID, 1))

	locker := &fakeLocker{acquired: false}
	f.orders.locks = locker

	_, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	assert.ErrorIs(t, err, models.ErrCheckoutInProgress)
	assert.Zero(t, locker.releases, "a lock that was never acquired must not be released")

	user, merchant := f.balances(t)
	assert.Equal(t, int64(1000), user)
	assert.Equal(t, int64(0), merchant)

	// Once the lock frees up, the same checkout goes through and the lock is
	// released afterwards.
	locker.acquired = true
	orders, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, 1, locker.releases)
}

func TestCancelOrderRefundsAndRestocks(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "mug", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, product.ID, 2))

	orders, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	require.NoError(t, err)
	orderID := orders[0].ID

	require.NoError(t, f.orders.CancelOrder(ctx, orderID, f.userID))

	user, merchant := f.balances(t)
	assert.Equal(t, int64(1000), user)
	assert.Equal(t, int64(0), merchant)

	inv, err := f.ms.GetInventory(ctx, nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, inv.Available)

	p, err := f.ms.GetProductByID(ctx, nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.SoldCount)

	order, _, err := f.orders.GetOrder(ctx, orderID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, order.Status)

	// Cancelling twice is rejected.
	err = f.orders.CancelOrder(ctx, orderID, f.userID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancelOrderRequiresOwnership(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "mug", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, product.ID, 1))

	orders, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	require.NoError(t, err)
	orderID := orders[0].ID

	err = f.orders.CancelOrder(ctx, orderID, f.userID+1)
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	err = f.orders.MerchantCancelOrder(ctx, orderID, f.merchantID+1)
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	// The merchant side can cancel its own order.
	require.NoError(t, f.orders.MerchantCancelOrder(ctx, orderID, f.merchantID))

	user, merchant := f.balances(t)
	assert.Equal(t, int64(1000), user)
	assert.Equal(t, int64(0), merchant)
}

func TestShipAndConfirmDelivery(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "mug", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, product.ID, 1))

	orders, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	require.NoError(t, err)
	orderID := orders[0].ID

	// Only the selling merchant may ship.
	err = f.orders.ShipOrder(ctx, orderID, f.merchantID+1)
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	require.NoError(t, f.orders.ShipOrder(ctx, orderID, f.merchantID))

	// A shipped order can no longer be cancelled.
	err = f.orders.CancelOrder(ctx, orderID, f.userID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// Only the buyer confirms delivery.
	err = f.orders.ConfirmDelivery(ctx, orderID, f.userID+1)
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	require.NoError(t, f.orders.ConfirmDelivery(ctx, orderID, f.userID))

	order, _, err := f.orders.GetOrder(ctx, orderID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, order.Status)
}

func TestGetOrderAuthorization(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "mug", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, product.ID, 1))

	orders, err := f.orders.CreateOrderFromCart(ctx, f.userID, 77)
	require.NoError(t, err)
	orderID := orders[0].ID

	_, _, err = f.orders.GetOrder(ctx, orderID, 999)
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	order, invoice, err := f.orders.GetOrder(ctx, orderID, f.merchantID)
	require.NoError(t, err)
	assert.Equal(t, orderID, order.ID)
	assert.NotNil(t, invoice)
}
