package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is the Postgres-backed repository set. Methods that take a
// sqlx.ExtContext run against either the pool or a caller-managed
// transaction; the orchestrators use WithTx to scope multi-step writes.
type Store struct {
	db *sqlx.DB
}

// NewStore connects to the database
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the pool as an ExtContext for non-transactional calls.
func (s *Store) DB() sqlx.ExtContext {
	return s.db
}

// WithTx runs fn inside a transaction. Rollback is guaranteed whenever fn
// returns an error or panics; commit runs exactly once otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// IncrementSoldCount bumps a product's sold-count metadata. A negative delta
// reverts it after a cancellation.
func (s *Store) IncrementSoldCount(ctx context.Context, q sqlx.ExtContext, productID int64, delta int) error {
	_, err := q.ExecContext(ctx,
		"UPDATE products SET sold_count = sold_count + $1 WHERE id = $2",
		delta, productID)
	return err
}

// GetInventory retrieves inventory for a product
func (s *Store) GetInventory(ctx context.Context, q sqlx.ExtContext, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := sqlx.GetContext(ctx, q, &inv, "SELECT * FROM inventory WHERE product_id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrInventoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// AdjustQuantity applies a delta to available stock only if the result stays
// non-negative. The guard lives in the WHERE clause so two concurrent buyers
// of the last unit resolve first-committer-wins instead of both passing an
// application-side check. Returns false, without mutation, when the guard
// rejects the delta or the row does not exist.
func (s *Store) AdjustQuantity(ctx context.Context, q sqlx.ExtContext, productID int64, delta int) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE inventory
		 SET available = available + $1, updated_at = NOW()
		 WHERE product_id = $2 AND available + $1 >= 0`,
		delta, productID)
	if err != nil {
		return false, fmt.Errorf("failed to adjust inventory for product %d: %w", productID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
