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

// TransactionService moves funds between virtual cards. Every movement is
// recorded as a payment; the transfer itself runs as
// INITIATED -> DEBITED -> CREDITED -> FINALIZED with a compensating payment
// status update on any failed leg.
type TransactionService struct {
	store  Storage
	events *broker.EventPublisher
	logger *zap.Logger
}

// NewTransactionService creates a new transaction service. events may be nil
// when no broker is wired (tests, CLI tooling).
func NewTransactionService(store Storage, events *broker.EventPublisher) *TransactionService {
	return &TransactionService{
		store:  store,
		events: events,
		logger: util.GetLogger(),
	}
}

// TransferRequest describes a card-to-card fund movement.
type TransferRequest struct {
	SenderCardID   int64
	ReceiverCardID int64
	Amount         int64
	Type           string
}

// Transfer moves funds between two cards inside its own transaction. The
// payment record is created outside that transaction so a CANCELLED record
// survives the rollback of a failed transfer. Insufficient funds comes back
// as ErrInsufficientFunds, a reported outcome rather than a fault.
func (s *TransactionService) Transfer(ctx context.Context, req TransferRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "TransactionService.Transfer")
	defer span.End()

	start := time.Now()
	defer func() {
		util.TransferLatency.Observe(time.Since(start).Seconds())
	}()

	if req.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	payment := newTransferPayment(req)
	if err := s.store.CreatePayment(ctx, s.store.DB(), payment); err != nil {
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	txErr := s.store.WithTx(ctx, func(q sqlx.ExtContext) error {
		return s.moveFunds(ctx, q, payment.ID, req)
	})
	if txErr != nil {
		// The funds transaction rolled back; void the surviving payment row.
		if err := s.store.UpdatePaymentStatus(ctx, s.store.DB(), payment.ID, models.StatusCancelled); err != nil {
			s.logger.Error("Failed to cancel payment after rolled-back transfer",
				zap.Int64("payment_id", payment.ID),
				zap.Error(err))
		}
		payment.Status = models.StatusCancelled
		util.TransfersFailedTotal.WithLabelValues(transferFailReason(txErr)).Inc()
		return payment, txErr
	}

	payment.Status = models.StatusPaid
	util.TransfersTotal.Inc()
	s.logger.Info("Transfer completed",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("sender_card_id", req.SenderCardID),
		zap.Int64("receiver_card_id", req.ReceiverCardID),
		zap.Int64("amount", req.Amount))
	return payment, nil
}

// TransferTx moves funds on a caller-managed transaction; it never begins,
// commits or rolls back. The compensating CANCELLED update on failure is
// still issued so the payment row reflects the outcome in the context of
// whatever the caller ends up committing or rolling back.
func (s *TransactionService) TransferTx(ctx context.Context, q sqlx.ExtContext, req TransferRequest) (*models.Payment, error) {
	if req.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	payment := newTransferPayment(req)
	if err := s.store.CreatePayment(ctx, q, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	if err := s.moveFunds(ctx, q, payment.ID, req); err != nil {
		if uerr := s.store.UpdatePaymentStatus(ctx, q, payment.ID, models.StatusCancelled); uerr != nil {
			s.logger.Error("Failed to cancel payment inside caller transaction",
				zap.Int64("payment_id", payment.ID),
				zap.Error(uerr))
		}
		util.TransfersFailedTotal.WithLabelValues(transferFailReason(err)).Inc()
		return nil, err
	}

	payment.Status = models.StatusPaid
	util.TransfersTotal.Inc()
	return payment, nil
}

// moveFunds runs the debit/credit legs and finalizes the payment to PAID.
func (s *TransactionService) moveFunds(ctx context.Context, q sqlx.ExtContext, paymentID int64, req TransferRequest) error {
	debited, err := s.store.AdjustBalance(ctx, q, req.SenderCardID, -req.Amount)
	if err != nil {
		return fmt.Errorf("debit failed: %w", err)
	}
	if !debited {
		return models.ErrInsufficientFunds
	}

	credited, err := s.store.AdjustBalance(ctx, q, req.ReceiverCardID, req.Amount)
	if err != nil {
		return fmt.Errorf("credit failed: %w", err)
	}
	if !credited {
		// A guarded credit cannot go negative, so a rejected credit means
		// the receiving card row is missing. Kept as a distinct failure
		// rather than asserted away.
		s.logger.Error("Credit leg rejected",
			zap.Int64("payment_id", paymentID),
			zap.Int64("receiver_card_id", req.ReceiverCardID))
		return models.ErrCreditFailed
	}

	return s.store.UpdatePaymentStatus(ctx, q, paymentID, models.StatusPaid)
}

// CashIn adds external funds to a card. The sender is the system, so this is
// the one movement exempt from balance conservation.
func (s *TransactionService) CashIn(ctx context.Context, cardID, amount int64) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "TransactionService.CashIn")
	defer span.End()

	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	payment := &models.Payment{
		SenderID:     models.SystemCardID,
		SenderType:   models.PartyTypeSystem,
		ReceiverID:   cardID,
		ReceiverType: models.PartyTypeCard,
		Type:         models.PaymentTypeCashIn,
		Amount:       amount,
		Status:       models.StatusPending,
		Reference:    newPaymentReference(),
	}

	err := s.store.WithTx(ctx, func(q sqlx.ExtContext) error {
		if err := s.store.CreatePayment(ctx, q, payment); err != nil {
			return fmt.Errorf("failed to create cash-in payment: %w", err)
		}
		credited, err := s.store.AdjustBalance(ctx, q, cardID, amount)
		if err != nil {
			return fmt.Errorf("cash-in credit failed: %w", err)
		}
		if !credited {
			return models.ErrCardNotFound
		}
		return s.store.UpdatePaymentStatus(ctx, q, payment.ID, models.StatusPaid)
	})
	if err != nil {
		return nil, err
	}

	payment.Status = models.StatusPaid
	util.CashInsTotal.Inc()
	s.logger.Info("Cash-in completed",
		zap.Int64("card_id", cardID),
		zap.Int64("amount", amount))

	s.publishCashIn(ctx, payment)
	return payment, nil
}

// ActivateCard creates the one ledger entry an owner is allowed to have.
func (s *TransactionService) ActivateCard(ctx context.Context, ownerType string, ownerID int64) (*models.VirtualCard, error) {
	card, err := s.store.CreateCard(ctx, s.store.DB(), ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Virtual card activated",
		zap.Int64("card_id", card.ID),
		zap.String("owner_type", ownerType),
		zap.Int64("owner_id", ownerID))
	return card, nil
}

// GetCardForOwner returns the owner's card.
func (s *TransactionService) GetCardForOwner(ctx context.Context, ownerType string, ownerID int64) (*models.VirtualCard, error) {
	return s.store.GetCardByOwner(ctx, s.store.DB(), ownerType, ownerID)
}

// ListPayments returns the card's payment history, most recent first.
func (s *TransactionService) ListPayments(ctx context.Context, cardID int64) ([]models.Payment, error) {
	return s.store.ListPaymentsForCard(ctx, s.store.DB(), cardID)
}

func (s *TransactionService) publishCashIn(ctx context.Context, payment *models.Payment) {
	if s.events == nil {
		return
	}
	event := &models.CashInEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCashIn,
			Timestamp: time.Now(),
		},
		CardID:    payment.ReceiverID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
	}
	if err := s.events.PublishCashIn(ctx, event); err != nil {
		s.logger.Error("Failed to publish CashIn event", zap.Error(err))
	}
}

func newTransferPayment(req TransferRequest) *models.Payment {
	return &models.Payment{
		SenderID:     req.SenderCardID,
		SenderType:   models.PartyTypeCard,
		ReceiverID:   req.ReceiverCardID,
		ReceiverType: models.PartyTypeCard,
		Type:         req.Type,
		Amount:       req.Amount,
		Status:       models.StatusPending,
		Reference:    newPaymentReference(),
	}
}

func newPaymentReference() string {
	return fmt.Sprintf("TXN-%s", uuid.New().String()[:8])
}

func transferFailReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrCreditFailed):
		return "credit_rejected"
	default:
		return "error"
	}
}
