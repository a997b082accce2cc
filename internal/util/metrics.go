package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of orders created through checkout",
	})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	// CheckoutInconsistencyTotal counts the payment-succeeded-but-persist-
	// failed path. Any non-zero value here is alert-worthy even though the
	// transaction rollback repaired the ledger.
	CheckoutInconsistencyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_inconsistency_total",
		Help: "Checkouts where payment succeeded but order persistence failed",
	})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of the checkout pipeline",
		Buckets: prometheus.DefBuckets,
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled and refunded orders",
	})

	TransfersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfers_total",
		Help: "Total number of successful fund transfers",
	})

	TransfersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfers_failed_total",
		Help: "Total number of failed fund transfers",
	}, []string{"reason"})

	TransferLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transfer_latency_seconds",
		Help:    "Latency of fund transfers",
		Buckets: prometheus.DefBuckets,
	})

	CashInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cash_ins_total",
		Help: "Total number of completed cash-ins",
	})

	CartItemsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_items_added_total",
		Help: "Total number of cart add operations",
	})

	AvailabilityCacheRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "availability_cache_refreshes_total",
		Help: "Availability cache refreshes triggered by order events",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
