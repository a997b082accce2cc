package models

import "errors"

// Expected business outcomes. Orchestrators and handlers branch on these;
// anything else coming out of a store is treated as an internal error.
var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrProductNotFound    = errors.New("product not found")
	ErrInventoryNotFound  = errors.New("inventory not found")
	ErrCardNotFound       = errors.New("virtual card not found")
	ErrCardExists         = errors.New("a virtual card already exists for this owner")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrCartItemNotFound   = errors.New("item not found in cart")
	ErrCartEmpty          = errors.New("cart is empty")
	ErrNotAuthorized      = errors.New("not authorized for this resource")
	ErrInvalidTransition  = errors.New("order status does not allow this operation")
	ErrCartQuantity       = errors.New("quantity must be positive")
	ErrCheckoutInProgress = errors.New("a checkout is already in progress for this user")
)

// Programming contract violations, rejected loudly.
var (
	// ErrPaymentsImmutable: payments are financial history; voiding one means
	// setting its status, never deleting the row.
	ErrPaymentsImmutable = errors.New("operation not permitted: payments cannot be deleted")
)

// Failure modes the operator needs to distinguish.
var (
	// ErrCreditFailed signals the defensive credit-leg check tripping: a
	// guarded credit can only fail if the receiving card row is missing,
	// which points at a ledger defect rather than insufficient funds.
	ErrCreditFailed = errors.New("could not credit receiver")

	// ErrCheckoutInconsistent marks the payment-succeeded-but-persist-failed
	// path. The surrounding rollback undoes the transfer; the distinct error
	// lets operators alert on it.
	ErrCheckoutInconsistent = errors.New("CRITICAL: payment succeeded but order persistence failed")
)
