package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const checkoutLockTTL = 30 * time.Second

// checkoutLocker is the slice of the redis client the order service needs
// for its per-user checkout lock. Taken as an interface so tests can run the
// lock path without redis.
type checkoutLocker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// OrderService runs the checkout pipeline: validate cart contents against
// live stock and prices, move funds through the TransactionService, persist
// the order with its snapshots and invoice, adjust inventory and sold-count
// metadata, all inside one transaction.
type OrderService struct {
	store        Storage
	transactions *TransactionService
	events       *broker.EventPublisher
	locks        checkoutLocker
	logger       *zap.Logger
}

// NewOrderService creates a new order service. events and locks may be nil
// when no broker or redis is wired (tests, CLI tooling).
func NewOrderService(store Storage, transactions *TransactionService, events *broker.EventPublisher, locks checkoutLocker) *OrderService {
	return &OrderService{
		store:        store,
		transactions: transactions,
		events:       events,
		locks:        locks,
		logger:       util.GetLogger(),
	}
}

// CreateOrderRequest describes a direct checkout for a single merchant.
type CreateOrderRequest struct {
	UserID            int64
	MerchantID        int64
	ShippingAddressID int64
	BillingAddressID  int64
	Items             []OrderItemRequest
	UserCardID        int64
	MerchantCardID    int64
}

// OrderItemRequest names a product and how many of it to buy. The price is
// never taken from the caller; it is snapshotted from the catalog during
// validation.
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrder converts a validated item list into a paid order. Validation
// runs before the transaction on fresh reads; payment, persistence and
// inventory adjustment run inside one transaction and roll back together.
// Retries are only safe because validation re-reads stock and price; the
// orchestrator does not deduplicate calls.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	items, total, err := s.validateItems(ctx, s.store.DB(), req.MerchantID, req.Items)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	var order *models.Order
	err = s.store.WithTx(ctx, func(q sqlx.ExtContext) error {
		var txErr error
		order, txErr = s.placeOrder(ctx, q, req, items, total)
		return txErr
	})
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues(checkoutFailReason(err)).Inc()
		return nil, err
	}

	util.CheckoutsTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("merchant_id", order.MerchantID),
		zap.Int64("total_amount", order.TotalAmount))

	s.publishOrderPlaced(ctx, order)
	return order, nil
}

// CreateOrderFromCart checks out the user's whole cart, producing one order
// per merchant inside a single transaction and clearing the cart only after
// every order succeeded.
func (s *OrderService) CreateOrderFromCart(ctx context.Context, userID, addressID int64) ([]*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrderFromCart")
	defer span.End()

	if s.locks != nil {
		acquired, err := s.locks.AcquireLock(ctx, fmt.Sprintf("checkout:%d", userID), checkoutLockTTL)
		if err != nil {
			s.logger.Warn("Checkout lock unavailable, proceeding without it", zap.Error(err))
		} else if !acquired {
			return nil, models.ErrCheckoutInProgress
		} else {
			defer func() {
				if err := s.locks.ReleaseLock(context.Background(), fmt.Sprintf("checkout:%d", userID)); err != nil {
					s.logger.Warn("Failed to release checkout lock", zap.Error(err))
				}
			}()
		}
	}

	lines, err := s.store.GetCartLines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, models.ErrCartEmpty
	}

	userCard, err := s.store.GetCardByOwner(ctx, s.store.DB(), models.OwnerTypeUser, userID)
	if err != nil {
		return nil, err
	}

	// Preserve first-seen merchant order so the result is deterministic.
	groups := make(map[int64][]OrderItemRequest)
	var merchantIDs []int64
	for _, line := range lines {
		if _, seen := groups[line.MerchantID]; !seen {
			merchantIDs = append(merchantIDs, line.MerchantID)
		}
		groups[line.MerchantID] = append(groups[line.MerchantID], OrderItemRequest{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}

	var orders []*models.Order
	err = s.store.WithTx(ctx, func(q sqlx.ExtContext) error {
		for _, merchantID := range merchantIDs {
			merchantCard, err := s.store.GetCardByOwner(ctx, q, models.OwnerTypeMerchant, merchantID)
			if err != nil {
				return fmt.Errorf("merchant %d: %w", merchantID, err)
			}

			req := &CreateOrderRequest{
				UserID:            userID,
				MerchantID:        merchantID,
				ShippingAddressID: addressID,
				BillingAddressID:  addressID,
				UserCardID:        userCard.ID,
				MerchantCardID:    merchantCard.ID,
			}

			items, total, err := s.validateItems(ctx, q, merchantID, groups[merchantID])
			if err != nil {
				return err
			}

			order, err := s.placeOrder(ctx, q, req, items, total)
			if err != nil {
				return err
			}
			orders = append(orders, order)
		}

		return s.store.ClearCart(ctx, q, userID)
	})
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues(checkoutFailReason(err)).Inc()
		return nil, err
	}

	util.CheckoutsTotal.Add(float64(len(orders)))
	s.logger.Info("Cart checkout completed",
		zap.Int64("user_id", userID),
		zap.Int("orders", len(orders)))

	for _, order := range orders {
		s.publishOrderPlaced(ctx, order)
	}
	return orders, nil
}

// validateItems re-reads product and stock for each requested item, failing
// fast with a per-item message, and snapshots the current catalog price so
// price drift between cart-add and checkout never leaks into the order.
// Every product must belong to merchantID: the order pays exactly one
// merchant card, and stock for another merchant's product must not be
// decremented against it.
func (s *OrderService) validateItems(ctx context.Context, q sqlx.ExtContext, merchantID int64, reqs []OrderItemRequest) ([]models.OrderItem, int64, error) {
	if len(reqs) == 0 {
		return nil, 0, models.ErrCartEmpty
	}

	items := make([]models.OrderItem, 0, len(reqs))
	var total int64
	for _, r := range reqs {
		if r.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: product %d", models.ErrCartQuantity, r.ProductID)
		}

		product, err := s.store.GetProductByID(ctx, q, r.ProductID)
		if err != nil {
			return nil, 0, fmt.Errorf("product %d: %w", r.ProductID, err)
		}
		if product.MerchantID != merchantID {
			return nil, 0, fmt.Errorf("%w: product %d is not sold by merchant %d",
				models.ErrNotAuthorized, r.ProductID, merchantID)
		}

		inv, err := s.store.GetInventory(ctx, q, r.ProductID)
		if err != nil {
			return nil, 0, fmt.Errorf("product %q: %w", product.Name, err)
		}
		if inv.Available < r.Quantity {
			return nil, 0, fmt.Errorf("%w for %q: %d available, %d requested",
				models.ErrInsufficientStock, product.Name, inv.Available, r.Quantity)
		}

		items = append(items, models.OrderItem{
			ProductID:       r.ProductID,
			Quantity:        r.Quantity,
			PriceAtPurchase: product.Price,
		})
		total += product.Price * int64(r.Quantity)
	}

	if total <= 0 {
		return nil, 0, models.ErrInvalidAmount
	}
	return items, total, nil
}

// placeOrder runs the transactional tail of a checkout on q: transfer funds,
// persist order + invoice, decrement stock, bump sold counts. Any error rolls
// the caller's transaction back, including the funds transfer.
func (s *OrderService) placeOrder(ctx context.Context, q sqlx.ExtContext, req *CreateOrderRequest, items []models.OrderItem, total int64) (*models.Order, error) {
	payment, err := s.transactions.TransferTx(ctx, q, TransferRequest{
		SenderCardID:   req.UserCardID,
		ReceiverCardID: req.MerchantCardID,
		Amount:         total,
		Type:           models.PaymentTypeOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("order payment failed: %w", err)
	}

	order := &models.Order{
		UserID:            req.UserID,
		MerchantID:        req.MerchantID,
		Status:            models.StatusPaid,
		TotalAmount:       total,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		Items:             items,
	}
	if err := s.store.CreateOrder(ctx, q, order); err != nil {
		util.CheckoutInconsistencyTotal.Inc()
		s.logger.Error("Order persistence failed after successful payment",
			zap.Int64("payment_id", payment.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrCheckoutInconsistent, err)
	}

	invoice := &models.Invoice{
		OrderID:   order.ID,
		AddressID: req.ShippingAddressID,
		Status:    models.StatusPaid,
		PaymentSummary: fmt.Sprintf("Paid via virtual card %d to card %d (payment %s)",
			req.UserCardID, req.MerchantCardID, payment.Reference),
	}
	if err := s.store.CreateInvoice(ctx, q, invoice); err != nil {
		util.CheckoutInconsistencyTotal.Inc()
		s.logger.Error("Invoice persistence failed after successful payment",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrCheckoutInconsistent, err)
	}

	for _, item := range order.Items {
		ok, err := s.store.AdjustQuantity(ctx, q, item.ProductID, -item.Quantity)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Stock moved between validation and here; first committer won.
			return nil, fmt.Errorf("%w for product %d at commit time",
				models.ErrInsufficientStock, item.ProductID)
		}
		if err := s.store.IncrementSoldCount(ctx, q, item.ProductID, item.Quantity); err != nil {
			return nil, err
		}
	}

	order.PaymentID = payment.ID
	return order, nil
}

// CancelOrder lets the buyer cancel a pending or paid order: refund the
// payment, flip the status, restore stock and sold counts, one transaction.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID int64) error {
	return s.cancelOrder(ctx, orderID, models.OwnerTypeUser, userID, "cancelled by buyer")
}

// MerchantCancelOrder lets the merchant cancel and refund an order.
func (s *OrderService) MerchantCancelOrder(ctx context.Context, orderID, merchantID int64) error {
	return s.cancelOrder(ctx, orderID, models.OwnerTypeMerchant, merchantID, "cancelled by merchant")
}

func (s *OrderService) cancelOrder(ctx context.Context, orderID int64, actorType string, actorID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	var cancelled *models.Order
	var refund *models.Payment
	err := s.store.WithTx(ctx, func(q sqlx.ExtContext) error {
		order, err := s.store.GetOrderByID(ctx, q, orderID)
		if err != nil {
			return err
		}

		switch actorType {
		case models.OwnerTypeUser:
			if order.UserID != actorID {
				return models.ErrNotAuthorized
			}
		case models.OwnerTypeMerchant:
			if order.MerchantID != actorID {
				return models.ErrNotAuthorized
			}
		}

		if order.Status != models.StatusPending && order.Status != models.StatusPaid {
			return fmt.Errorf("%w: status is %s", models.ErrInvalidTransition, order.Status)
		}

		userCard, err := s.store.GetCardByOwner(ctx, q, models.OwnerTypeUser, order.UserID)
		if err != nil {
			return fmt.Errorf("refund card lookup: %w", err)
		}
		merchantCard, err := s.store.GetCardByOwner(ctx, q, models.OwnerTypeMerchant, order.MerchantID)
		if err != nil {
			return fmt.Errorf("refund card lookup: %w", err)
		}

		refund, err = s.transactions.TransferTx(ctx, q, TransferRequest{
			SenderCardID:   merchantCard.ID,
			ReceiverCardID: userCard.ID,
			Amount:         order.TotalAmount,
			Type:           models.PaymentTypeRefund,
		})
		if err != nil {
			return fmt.Errorf("refund failed: %w", err)
		}

		ok, err := s.store.UpdateOrderStatus(ctx, q, orderID, order.Status, models.StatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrInvalidTransition
		}

		for _, item := range order.Items {
			restored, err := s.store.AdjustQuantity(ctx, q, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if !restored {
				// Inventory row gone, e.g. delisted product. Not worth
				// failing the refund over.
				s.logger.Warn("Could not restore stock for cancelled order",
					zap.Int64("order_id", orderID),
					zap.Int64("product_id", item.ProductID))
			}
			if err := s.store.IncrementSoldCount(ctx, q, item.ProductID, -item.Quantity); err != nil {
				return err
			}
		}

		cancelled = order
		return nil
	})
	if err != nil {
		return err
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled and refunded",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))

	s.publishOrderCancelled(ctx, cancelled, refund, reason)
	return nil
}

// ShipOrder marks a paid order as shipped.
func (s *OrderService) ShipOrder(ctx context.Context, orderID, merchantID int64) error {
	order, err := s.store.GetOrderByID(ctx, s.store.DB(), orderID)
	if err != nil {
		return err
	}
	if order.MerchantID != merchantID {
		return models.ErrNotAuthorized
	}

	ok, err := s.store.UpdateOrderStatus(ctx, s.store.DB(), orderID, models.StatusPaid, models.StatusShipped)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: status is %s", models.ErrInvalidTransition, order.Status)
	}

	s.publishEvent(ctx, func(events *broker.EventPublisher) error {
		return events.PublishOrderShipped(ctx, &models.OrderShippedEvent{
			BaseEvent:  newBaseEvent(models.EventTypeOrderShipped),
			OrderID:    orderID,
			UserID:     order.UserID,
			MerchantID: order.MerchantID,
		})
	})
	return nil
}

// ConfirmDelivery lets the buyer mark a shipped order as delivered.
func (s *OrderService) ConfirmDelivery(ctx context.Context, orderID, userID int64) error {
	order, err := s.store.GetOrderByID(ctx, s.store.DB(), orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return models.ErrNotAuthorized
	}

	ok, err := s.store.UpdateOrderStatus(ctx, s.store.DB(), orderID, models.StatusShipped, models.StatusDelivered)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: status is %s", models.ErrInvalidTransition, order.Status)
	}

	s.publishEvent(ctx, func(events *broker.EventPublisher) error {
		return events.PublishOrderDelivered(ctx, &models.OrderDeliveredEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderDelivered),
			OrderID:   orderID,
			UserID:    order.UserID,
		})
	})
	return nil
}

// GetOrder returns an order with its items and invoice, verifying the caller
// owns one side of it.
func (s *OrderService) GetOrder(ctx context.Context, orderID, callerID int64) (*models.Order, *models.Invoice, error) {
	order, err := s.store.GetOrderByID(ctx, s.store.DB(), orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.UserID != callerID && order.MerchantID != callerID {
		return nil, nil, models.ErrNotAuthorized
	}

	invoice, err := s.store.GetInvoiceByOrderID(ctx, s.store.DB(), orderID)
	if err != nil {
		return nil, nil, err
	}
	if invoice == nil {
		s.logger.Warn("No invoice found for order", zap.Int64("order_id", orderID))
	}
	return order, invoice, nil
}

// ListUserOrders returns a user's order headers.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.ListOrdersByUser(ctx, s.store.DB(), userID)
}

// ListMerchantOrders returns a merchant's order headers.
func (s *OrderService) ListMerchantOrders(ctx context.Context, merchantID int64) ([]models.Order, error) {
	return s.store.ListOrdersByMerchant(ctx, s.store.DB(), merchantID)
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order) {
	s.publishEvent(ctx, func(events *broker.EventPublisher) error {
		return events.PublishOrderPlaced(ctx, &models.OrderPlacedEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderPlaced),
			OrderID:     order.ID,
			UserID:      order.UserID,
			MerchantID:  order.MerchantID,
			PaymentID:   order.PaymentID,
			TotalAmount: order.TotalAmount,
			Items:       orderEventItems(order),
		})
	})
}

func (s *OrderService) publishOrderCancelled(ctx context.Context, order *models.Order, refund *models.Payment, reason string) {
	var refundID int64
	if refund != nil {
		refundID = refund.ID
	}
	s.publishEvent(ctx, func(events *broker.EventPublisher) error {
		return events.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderCancelled),
			OrderID:     order.ID,
			UserID:      order.UserID,
			MerchantID:  order.MerchantID,
			RefundID:    refundID,
			TotalAmount: order.TotalAmount,
			Items:       orderEventItems(order),
			Reason:      reason,
		})
	})
}

func (s *OrderService) publishEvent(ctx context.Context, publish func(*broker.EventPublisher) error) {
	if s.events == nil {
		return
	}
	if err := publish(s.events); err != nil {
		s.logger.Error("Failed to publish event", zap.Error(err))
	}
}

func orderEventItems(order *models.Order) []models.OrderEventItem {
	items := make([]models.OrderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderEventItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		})
	}
	return items
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func checkoutFailReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrCheckoutInconsistent):
		return "inconsistency"
	default:
		return "error"
	}
}
