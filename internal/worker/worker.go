// Package worker consumes order events and keeps the availability cache in
// step with committed inventory changes. Processing is idempotent: each
// event is recorded after handling and redelivered duplicates are skipped.
package worker

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// OrderEventWorker refreshes cached availability for products touched by
// placed and cancelled orders.
type OrderEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	cache        *redisclient.Client
	logger       *zap.Logger
}

// NewOrderEventWorker creates a new order event worker
func NewOrderEventWorker(consumer *broker.Consumer, st *store.Store, cache *redisclient.Client) *OrderEventWorker {
	w := &OrderEventWorker{
		consumer: consumer,
		store:    st,
		cache:    cache,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *OrderEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *OrderEventWorker) Stop() error {
	w.logger.Info("Stopping order event worker")
	return w.consumer.Close()
}

func (w *OrderEventWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return w.refreshOnce(ctx, event.BaseEvent, eventProductIDs(event.Items))
}

func (w *OrderEventWorker) handleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return w.refreshOnce(ctx, event.BaseEvent, eventProductIDs(event.Items))
}

// refreshOnce re-reads committed availability for the affected products and
// writes it into the cache, at most once per event.
func (w *OrderEventWorker) refreshOnce(ctx context.Context, base models.BaseEvent, productIDs []int64) error {
	processed, err := w.store.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event %s: %w", base.EventID, err)
	}
	if processed {
		w.logger.Debug("Skipping already processed event", zap.String("event_id", base.EventID))
		return nil
	}

	for _, productID := range productIDs {
		inv, err := w.store.GetInventory(ctx, w.store.DB(), productID)
		if err != nil {
			if errors.Is(err, models.ErrInventoryNotFound) {
				// Product delisted since the order; drop the stale entry.
				if cerr := w.cache.InvalidateAvailability(ctx, productID); cerr != nil {
					w.logger.Warn("Failed to invalidate availability", zap.Error(cerr))
				}
				continue
			}
			return fmt.Errorf("failed to read inventory for product %d: %w", productID, err)
		}
		if err := w.cache.SetAvailability(ctx, productID, inv.Available); err != nil {
			return fmt.Errorf("failed to refresh availability for product %d: %w", productID, err)
		}
		util.AvailabilityCacheRefreshes.Inc()
	}

	if err := w.store.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", base.EventID, err)
	}

	w.logger.Info("Availability refreshed",
		zap.String("event_id", base.EventID),
		zap.String("event_type", base.EventType),
		zap.Int("products", len(productIDs)))
	return nil
}

func eventProductIDs(items []models.OrderEventItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}
