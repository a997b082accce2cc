// Package memstore is an in-memory implementation of the service storage
// contract, used by tests and local development. Construct a fresh Store per
// test. Guarded adjustments hold the state lock across check and write,
// matching the atomicity of the SQL conditional updates; WithTx snapshots
// state and restores it when the callback fails.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// txQuerier marks calls made from inside WithTx. Operations called with any
// other querier (including nil) are serialized against open transactions,
// since a rolled-back snapshot would otherwise erase their writes.
type txQuerier struct {
	sqlx.ExtContext
}

// Store holds all state behind a single mutex. Transactions additionally
// hold txMu for their whole span so concurrent transactions cannot observe
// each other's uncommitted writes.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	seq         int64
	products    map[int64]*models.Product
	inventories map[int64]*models.Inventory
	cards       map[int64]*models.VirtualCard
	payments    map[int64]*models.Payment
	cartsByUser map[int64]*models.Cart
	cartItems   map[int64]*models.CartItem
	orders      map[int64]*models.Order
	invoices    map[int64]*models.Invoice // keyed by order id

	// Failure injection for orchestrator tests.
	FailCreateOrder   error
	FailCreateInvoice error
}

type snapshot struct {
	seq         int64
	products    map[int64]*models.Product
	inventories map[int64]*models.Inventory
	cards       map[int64]*models.VirtualCard
	payments    map[int64]*models.Payment
	cartsByUser map[int64]*models.Cart
	cartItems   map[int64]*models.CartItem
	orders      map[int64]*models.Order
	invoices    map[int64]*models.Invoice
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		products:    make(map[int64]*models.Product),
		inventories: make(map[int64]*models.Inventory),
		cards:       make(map[int64]*models.VirtualCard),
		payments:    make(map[int64]*models.Payment),
		cartsByUser: make(map[int64]*models.Cart),
		cartItems:   make(map[int64]*models.CartItem),
		orders:      make(map[int64]*models.Order),
		invoices:    make(map[int64]*models.Invoice),
	}
}

// DB satisfies the storage contract; the in-memory store has no querier.
func (s *Store) DB() sqlx.ExtContext { return nil }

// WithTx serializes against other transactions, snapshots state, and
// restores the snapshot when fn fails or panics.
func (s *Store) WithTx(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.capture()
	s.mu.Unlock()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in transaction: %v", r)
			}
		}()
		err = fn(txQuerier{})
	}()

	if err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
	}
	return err
}

// lock takes the state lock, first waiting out any open transaction unless
// the call is itself part of one. Returns the matching unlock.
func (s *Store) lock(q sqlx.ExtContext) func() {
	if _, inTx := q.(txQuerier); inTx {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) capture() snapshot {
	return snapshot{
		seq:         s.seq,
		products:    cloneMap(s.products),
		inventories: cloneMap(s.inventories),
		cards:       cloneMap(s.cards),
		payments:    cloneMap(s.payments),
		cartsByUser: cloneMap(s.cartsByUser),
		cartItems:   cloneMap(s.cartItems),
		orders:      cloneOrders(s.orders),
		invoices:    cloneMap(s.invoices),
	}
}

func (s *Store) restore(snap snapshot) {
	s.seq = snap.seq
	s.products = snap.products
	s.inventories = snap.inventories
	s.cards = snap.cards
	s.payments = snap.payments
	s.cartsByUser = snap.cartsByUser
	s.cartItems = snap.cartItems
	s.orders = snap.orders
	s.invoices = snap.invoices
}

func cloneMap[T any](in map[int64]*T) map[int64]*T {
	out := make(map[int64]*T, len(in))
	for k, v := range in {
		c := *v
		out[k] = &c
	}
	return out
}

func cloneOrders(in map[int64]*models.Order) map[int64]*models.Order {
	out := make(map[int64]*models.Order, len(in))
	for k, v := range in {
		c := *v
		c.Items = append([]models.OrderItem(nil), v.Items...)
		out[k] = &c
	}
	return out
}

// SeedProduct installs a catalog entry with stock, for tests and dev wiring.
func (s *Store) SeedProduct(p models.Product, available int) *models.Product {
	defer s.lock(nil)()

	if p.ID == 0 {
		p.ID = s.nextID()
	}
	p.CreatedAt = time.Now()
	s.products[p.ID] = &p
	s.inventories[p.ID] = &models.Inventory{
		ProductID: p.ID,
		Available: available,
		UpdatedAt: time.Now(),
	}
	return &p
}

// SeedCard installs a virtual card with an opening balance.
func (s *Store) SeedCard(ownerType string, ownerID, balance int64) *models.VirtualCard {
	defer s.lock(nil)()

	card := &models.VirtualCard{
		ID:        s.nextID(),
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Balance:   balance,
		CreatedAt: time.Now(),
	}
	s.cards[card.ID] = card
	return card
}

// --- catalog ---

func (s *Store) GetProductByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Product, error) {
	defer s.lock(q)()

	p, ok := s.products[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) IncrementSoldCount(ctx context.Context, q sqlx.ExtContext, productID int64, delta int) error {
	defer s.lock(q)()

	p, ok := s.products[productID]
	if !ok {
		return models.ErrProductNotFound
	}
	p.SoldCount += delta
	return nil
}

// --- inventory ---

func (s *Store) GetInventory(ctx context.Context, q sqlx.ExtContext, productID int64) (*models.Inventory, error) {
	defer s.lock(q)()

	inv, ok := s.inventories[productID]
	if !ok {
		return nil, models.ErrInventoryNotFound
	}
	c := *inv
	return &c, nil
}

func (s *Store) AdjustQuantity(ctx context.Context, q sqlx.ExtContext, productID int64, delta int) (bool, error) {
	defer s.lock(q)()

	inv, ok := s.inventories[productID]
	if !ok || inv.Available+delta < 0 {
		return false, nil
	}
	inv.Available += delta
	inv.UpdatedAt = time.Now()
	return true, nil
}

// --- ledger ---

func (s *Store) CreateCard(ctx context.Context, q sqlx.ExtContext, ownerType string, ownerID int64) (*models.VirtualCard, error) {
	defer s.lock(q)()

	for _, card := range s.cards {
		if card.OwnerType == ownerType && card.OwnerID == ownerID {
			return nil, models.ErrCardExists
		}
	}

	card := &models.VirtualCard{
		ID:        s.nextID(),
		OwnerType: ownerType,
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
	}
	s.cards[card.ID] = card
	c := *card
	return &c, nil
}

func (s *Store) GetCardByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.VirtualCard, error) {
	defer s.lock(q)()

	card, ok := s.cards[id]
	if !ok {
		return nil, models.ErrCardNotFound
	}
	c := *card
	return &c, nil
}

func (s *Store) GetCardByOwner(ctx context.Context, q sqlx.ExtContext, ownerType string, ownerID int64) (*models.VirtualCard, error) {
	defer s.lock(q)()

	for _, card := range s.cards {
		if card.OwnerType == ownerType && card.OwnerID == ownerID {
			c := *card
			return &c, nil
		}
	}
	return nil, models.ErrCardNotFound
}

func (s *Store) AdjustBalance(ctx context.Context, q sqlx.ExtContext, cardID int64, delta int64) (bool, error) {
	defer s.lock(q)()

	card, ok := s.cards[cardID]
	if !ok || card.Balance+delta < 0 {
		return false, nil
	}
	card.Balance += delta
	return true, nil
}

// --- payments ---

func (s *Store) CreatePayment(ctx context.Context, q sqlx.ExtContext, payment *models.Payment) error {
	if payment.Amount <= 0 {
		return models.ErrInvalidAmount
	}

	defer s.lock(q)()

	payment.ID = s.nextID()
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	c := *payment
	s.payments[payment.ID] = &c
	return nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, q sqlx.ExtContext, paymentID int64, status models.Status) error {
	defer s.lock(q)()

	p, ok := s.payments[paymentID]
	if !ok {
		return models.ErrPaymentNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetPaymentByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Payment, error) {
	defer s.lock(q)()

	p, ok := s.payments[id]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) ListPaymentsForCard(ctx context.Context, q sqlx.ExtContext, cardID int64) ([]models.Payment, error) {
	defer s.lock(q)()

	var out []models.Payment
	for _, p := range s.payments {
		if p.SenderID == cardID || p.ReceiverID == cardID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeletePayment always fails: payments are immutable financial history.
func (s *Store) DeletePayment(ctx context.Context, id int64) error {
	return models.ErrPaymentsImmutable
}

// --- carts ---

func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (int64, error) {
	defer s.lock(nil)()
	return s.getOrCreateCartLocked(userID), nil
}

func (s *Store) getOrCreateCartLocked(userID int64) int64 {
	if cart, ok := s.cartsByUser[userID]; ok {
		return cart.ID
	}
	cart := &models.Cart{ID: s.nextID(), UserID: userID, CreatedAt: time.Now()}
	s.cartsByUser[userID] = cart
	return cart.ID
}

func (s *Store) UpsertCartItem(ctx context.Context, userID, productID int64, quantity int, unitPrice int64) error {
	defer s.lock(nil)()

	cartID := s.getOrCreateCartLocked(userID)
	for _, item := range s.cartItems {
		if item.CartID == cartID && item.ProductID == productID {
			item.Quantity += quantity
			return nil
		}
	}

	item := &models.CartItem{
		ID:        s.nextID(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		AddedAt:   time.Now(),
	}
	s.cartItems[item.ID] = item
	return nil
}

func (s *Store) UpdateCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) error {
	defer s.lock(nil)()

	item := s.userCartItemLocked(userID, itemID)
	if item == nil {
		return models.ErrCartItemNotFound
	}
	item.Quantity = quantity
	return nil
}

func (s *Store) RemoveCartItem(ctx context.Context, userID, itemID int64) error {
	defer s.lock(nil)()

	item := s.userCartItemLocked(userID, itemID)
	if item == nil {
		return models.ErrCartItemNotFound
	}
	delete(s.cartItems, itemID)
	return nil
}

func (s *Store) userCartItemLocked(userID, itemID int64) *models.CartItem {
	cart, ok := s.cartsByUser[userID]
	if !ok {
		return nil
	}
	item, ok := s.cartItems[itemID]
	if !ok || item.CartID != cart.ID {
		return nil
	}
	return item
}

func (s *Store) ClearCart(ctx context.Context, q sqlx.ExtContext, userID int64) error {
	defer s.lock(q)()

	cart, ok := s.cartsByUser[userID]
	if !ok {
		return nil
	}
	for id, item := range s.cartItems {
		if item.CartID == cart.ID {
			delete(s.cartItems, id)
		}
	}
	return nil
}

func (s *Store) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	defer s.lock(nil)()

	cart, ok := s.cartsByUser[userID]
	if !ok {
		return nil, nil
	}

	var lines []models.CartLine
	for _, item := range s.cartItems {
		if item.CartID != cart.ID {
			continue
		}
		product, ok := s.products[item.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, models.CartLine{
			ItemID:      item.ID,
			ProductID:   item.ProductID,
			ProductName: product.Name,
			MerchantID:  product.MerchantID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.UnitPrice * int64(item.Quantity),
			AddedAt:     item.AddedAt,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ItemID < lines[j].ItemID })
	return lines, nil
}

// --- orders ---

func (s *Store) CreateOrder(ctx context.Context, q sqlx.ExtContext, order *models.Order) error {
	if s.FailCreateOrder != nil {
		return s.FailCreateOrder
	}

	defer s.lock(q)()

	order.ID = s.nextID()
	order.OrderDate = time.Now()
	for i := range order.Items {
		item := &order.Items[i]
		item.ID = s.nextID()
		item.OrderID = order.ID
		item.TotalPrice = item.PriceAtPurchase * int64(item.Quantity)
	}

	c := *order
	c.Items = append([]models.OrderItem(nil), order.Items...)
	s.orders[order.ID] = &c
	return nil
}

func (s *Store) GetOrderByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Order, error) {
	defer s.lock(q)()

	order, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	c := *order
	c.Items = append([]models.OrderItem(nil), order.Items...)
	return &c, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, q sqlx.ExtContext, orderID int64, from, to models.Status) (bool, error) {
	defer s.lock(q)()

	order, ok := s.orders[orderID]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	return true, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, q sqlx.ExtContext, userID int64) ([]models.Order, error) {
	defer s.lock(q)()
	return s.listOrdersLocked(func(o *models.Order) bool { return o.UserID == userID }), nil
}

func (s *Store) ListOrdersByMerchant(ctx context.Context, q sqlx.ExtContext, merchantID int64) ([]models.Order, error) {
	defer s.lock(q)()
	return s.listOrdersLocked(func(o *models.Order) bool { return o.MerchantID == merchantID }), nil
}

func (s *Store) listOrdersLocked(match func(*models.Order) bool) []models.Order {
	var out []models.Order
	for _, o := range s.orders {
		if match(o) {
			c := *o
			c.Items = append([]models.OrderItem(nil), o.Items...)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *Store) CreateInvoice(ctx context.Context, q sqlx.ExtContext, invoice *models.Invoice) error {
	if s.FailCreateInvoice != nil {
		return s.FailCreateInvoice
	}

	defer s.lock(q)()

	invoice.ID = s.nextID()
	invoice.IssueDate = time.Now()
	c := *invoice
	s.invoices[invoice.OrderID] = &c
	return nil
}

func (s *Store) GetInvoiceByOrderID(ctx context.Context, q sqlx.ExtContext, orderID int64) (*models.Invoice, error) {
	defer s.lock(q)()

	invoice, ok := s.invoices[orderID]
	if !ok {
		return nil, nil
	}
	c := *invoice
	return &c, nil
}
