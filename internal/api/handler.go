package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orders       *service.OrderService
	carts        *service.CartService
	transactions *service.TransactionService
	store        service.Storage
	cache        *redisclient.Client
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. cache may be nil, in which case
// product availability is always read from the database.
func NewHandler(orders *service.OrderService, carts *service.CartService, transactions *service.TransactionService, store service.Storage, cache *redisclient.Client) *Handler {
	return &Handler{
		orders:       orders,
		carts:        carts,
		transactions: transactions,
		store:        store,
		cache:        cache,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products/:id", h.getProduct)

		v1.POST("/cart/items", h.addCartItem)
		v1.GET("/cart", h.getCart)
		v1.PATCH("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/checkout", h.checkout)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/ship", h.shipOrder)
		v1.POST("/orders/:id/confirm-delivery", h.confirmDelivery)

		v1.POST("/cards", h.activateCard)
		v1.GET("/cards", h.getCard)
		v1.POST("/cards/cash-in", h.cashIn)
		v1.GET("/cards/:id/payments", h.listPayments)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getProduct returns a catalog entry with its live availability. Availability
// is served from the cache when possible and backfilled on a miss.
func (h *Handler) getProduct(c *gin.Context) {
	productID, ok := pathID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	product, err := h.store.GetProductByID(ctx, h.store.DB(), productID)
	if err != nil {
		h.writeError(c, err, "Failed to get product")
		return
	}

	available, cached := 0, false
	if h.cache != nil {
		var cerr error
		available, cached, cerr = h.cache.GetAvailability(ctx, productID)
		if cerr != nil {
			h.logger.Warn("Availability cache read failed", zap.Error(cerr))
		}
	}
	if !cached {
		inv, err := h.store.GetInventory(ctx, h.store.DB(), productID)
		if err != nil {
			h.writeError(c, err, "Failed to get product availability")
			return
		}
		available = inv.Available
		if h.cache != nil {
			if cerr := h.cache.SetAvailability(ctx, productID, available); cerr != nil {
				h.logger.Warn("Availability cache write failed", zap.Error(cerr))
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"product":   product,
		"available": available,
	})
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

// addCartItem adds a product to the caller's cart
func (h *Handler) addCartItem(c *gin.Context) {
	userID, ok := userIdentity(c)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.carts.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity); err != nil {
		h.writeError(c, err, "Failed to add item to cart")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "added"})
}

// getCart returns the caller's cart lines
func (h *Handler) getCart(c *gin.Context) {
	userID, ok := userIdentity(c)
	if !ok {
		return
	}

	lines, err := h.carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "Failed to get cart")
		return
	}

	var total int64
	for _, line := range lines {
		total += line.TotalPrice
	}
	c.JSON(http.StatusOK, gin.H{
		"items": lines,
		"total": total,
	})
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// updateCartItem sets a cart line's quantity; zero removes it
func (h *Handler) updateCartItem(c *gin.Context) {
	userID, ok := userIdentity(c)
	if !ok {
		return
	}
	itemID, ok := pathID(c)
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.carts.UpdateItemQuantity(c.Request.Context(), userID, itemID, req.Quantity); err != nil {
		h.writeError(c, err, "Failed to update cart item")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// removeCartItem deletes one cart line
func (h *Handler) removeCartItem(c *gin.Context) {
	userID, ok := userIdentity(c)
	if !ok {
		return
	}
	itemID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(c.Request.Context(), userID, itemID); err != nil {
		h.writeError(c, err, "Failed to remove cart item")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// clearCart empties the caller's cart
func (h *Handler) clearCart(c *gin.Context) {
	userID, ok := userIdentity(c)
	if !ok {
		return
	}

	if err := h.carts.Clear(c.Request.Context(), userID); err != nil {
		h.writeError(c, err, "Failed to clear cart")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

type checkoutRequest struct {
	AddressID int64 `json:"address_id" binding:"required"`
}

// checkout converts the caller's cart into paid orders
func (h *Handler) checkout(c *gin.Context) {
	userID, ok := userIdentity(c)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	orders, err := h.orders.CreateOrderFromCart(c.Request.Context(), userID, req.AddressID)
	if err != nil {
		h.writeError(c, err, "Checkout failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"orders": orders})
}

type createOrderRequest struct {
	MerchantID        int64                      `json:"merchant_id" binding:"required"`
	ShippingAddressID int64                      `json:"shipping_address_id" binding:"required"`
	BillingAddressID  int64                      `json:"billing_address_id"`
	Items             []service.OrderItemRequest `json:"items" binding:"required,dive"`
}

// createOrder handles a direct single-merchant order without going through
// the cart
func (h *Handler) createOrder(c *gin.Context) {
	userID, ok := userIdentity(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.BillingAddressID == 0 {
		req.BillingAddressID = req.ShippingAddressID
	}

	ctx := c.Request.Context()
	userCard, err := h.transactions.GetCardForOwner(ctx, models.OwnerTypeUser, userID)
	if err != nil {
		h.writeError(c, err, "Buyer card lookup failed")
		return
	}
	merchantCard, err := h.transactions.GetCardForOwner(ctx, models.OwnerTypeMerchant, req.MerchantID)
	if err != nil {
		h.writeError(c, err, "Merchant card lookup failed")
		return
	}

	order, err := h.orders.CreateOrder(ctx, &service.CreateOrderRequest{
		UserID:            userID,
		MerchantID:        req.MerchantID,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		Items:             req.Items,
		UserCardID:        userCard.ID,
		MerchantCardID:    merchantCard.ID,
	})
	if err != nil {
		h.writeError(c, err, "Failed to create order")
		return
	}

	c.JSON(http.StatusCreated, order)
}

// listOrders returns the caller's orders: the user's purchases, or the
// merchant's sales when X-Merchant-ID is presented instead.
func (h *Handler) listOrders(c *gin.Context) {
	if merchantID, ok := headerID(c, "X-Merchant-ID"); ok {
		orders, err := h.orders.ListMerchantOrders(c.Request.Context(), merchantID)
		if err != nil {
			h.writeError(c, err, "Failed to list orders")
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
		return
	}

	userID, ok := userIdentity(c)
	if !ok {
		return
	}
	orders, err := h.orders.ListUserOrders(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "Failed to list orders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	callerID, ok := headerID(c, "X-User-ID")
	if !ok {
		callerID, ok = headerID(c, "X-Merchant-ID")
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing caller identity"})
		return
	}

	order, invoice, err := h.orders.GetOrder(c.Request.Context(), orderID, callerID)
	if err != nil {
		h.writeError(c, err, "Failed to get order")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":   order,
		"invoice": invoice,
	})
}

// cancelOrder refunds and cancels an order for either side of it
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if merchantID, isMerchant := headerID(c, "X-Merchant-ID"); isMerchant {
		if err := h.orders.MerchantCancelOrder(ctx, orderID, merchantID); err != nil {
			h.writeError(c, err, "Failed to cancel order")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
		return
	}

	userID, ok := userIdentity(c)
	if !ok {
		return
	}
	if err := h.orders.CancelOrder(ctx, orderID, userID); err != nil {
		h.writeError(c, err, "Failed to cancel order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// shipOrder marks a paid order as shipped (merchant only)
func (h *Handler) shipOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	merchantID, ok := headerID(c, "X-Merchant-ID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing X-Merchant-ID header"})
		return
	}

	if err := h.orders.ShipOrder(c.Request.Context(), orderID, merchantID); err != nil {
		h.writeError(c, err, "Failed to ship order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "shipped"})
}

// confirmDelivery marks a shipped order as delivered (buyer only)
func (h *Handler) confirmDelivery(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	userID, ok := userIdentity(c)
	if !ok {
		return
	}

	if err := h.orders.ConfirmDelivery(c.Request.Context(), orderID, userID); err != nil {
		h.writeError(c, err, "Failed to confirm delivery")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "delivered"})
}

// activateCard creates the caller's virtual card
func (h *Handler) activateCard(c *gin.Context) {
	ownerType, ownerID, ok := cardOwner(c)
	if !ok {
		return
	}

	card, err := h.transactions.ActivateCard(c.Request.Context(), ownerType, ownerID)
	if err != nil {
		h.writeError(c, err, "Failed to activate card")
		return
	}
	c.JSON(http.StatusCreated, card)
}

// getCard returns the caller's virtual card
func (h *Handler) getCard(c *gin.Context) {
	ownerType, ownerID, ok := cardOwner(c)
	if !ok {
		return
	}

	card, err := h.transactions.GetCardForOwner(c.Request.Context(), ownerType, ownerID)
	if err != nil {
		h.writeError(c, err, "Failed to get card")
		return
	}
	c.JSON(http.StatusOK, card)
}

type cashInRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// cashIn adds external funds to the caller's card
func (h *Handler) cashIn(c *gin.Context) {
	ownerType, ownerID, ok := cardOwner(c)
	if !ok {
		return
	}

	var req cashInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	card, err := h.transactions.GetCardForOwner(ctx, ownerType, ownerID)
	if err != nil {
		h.writeError(c, err, "Card lookup failed")
		return
	}

	payment, err := h.transactions.CashIn(ctx, card.ID, req.Amount)
	if err != nil {
		h.writeError(c, err, "Cash-in failed")
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// listPayments returns a card's payment history
func (h *Handler) listPayments(c *gin.Context) {
	cardID, ok := pathID(c)
	if !ok {
		return
	}

	ownerType, ownerID, ok := cardOwner(c)
	if !ok {
		return
	}
	card, err := h.transactions.GetCardForOwner(c.Request.Context(), ownerType, ownerID)
	if err != nil {
		h.writeError(c, err, "Card lookup failed")
		return
	}
	if card.ID != cardID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your card"})
		return
	}

	payments, err := h.transactions.ListPayments(c.Request.Context(), cardID)
	if err != nil {
		h.writeError(c, err, "Failed to list payments")
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// writeError maps domain errors to HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrInventoryNotFound),
		errors.Is(err, models.ErrCardNotFound),
		errors.Is(err, models.ErrPaymentNotFound),
		errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrCartItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrInsufficientStock):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrCartQuantity),
		errors.Is(err, models.ErrCartEmpty):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrCardExists),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrCheckoutInProgress):
		status = http.StatusConflict
	case errors.Is(err, models.ErrPaymentsImmutable):
		status = http.StatusMethodNotAllowed
	}

	if status == http.StatusInternalServerError {
		// Unexpected storage errors are logged, never echoed to the client.
		h.logger.Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// userIdentity reads the authenticated user from X-User-ID. Authentication
// itself happens upstream; this service trusts the gateway headers.
func userIdentity(c *gin.Context) (int64, bool) {
	userID, ok := headerID(c, "X-User-ID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing X-User-ID header"})
		return 0, false
	}
	return userID, true
}

// cardOwner resolves the caller to a card owner: merchant if X-Merchant-ID
// is presented, user otherwise.
func cardOwner(c *gin.Context) (string, int64, bool) {
	if merchantID, ok := headerID(c, "X-Merchant-ID"); ok {
		return models.OwnerTypeMerchant, merchantID, true
	}
	userID, ok := userIdentity(c)
	if !ok {
		return "", 0, false
	}
	return models.OwnerTypeUser, userID, true
}

func headerID(c *gin.Context, header string) (int64, bool) {
	raw := c.GetHeader(header)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
