package service

import (
	"context"
	"sync"
	"testing"

	"storefront/internal/memstore"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerFixture(t *testing.T) (*memstore.Store, *TransactionService) {
	t.Helper()
	ms := memstore.New()
	return ms, NewTransactionService(ms, nil)
}

func TestTransferMovesFunds(t *testing.T) {
	ms, ts := newLedgerFixture(t)
	ctx := context.Background()

	sender := ms.SeedCard(models.OwnerTypeUser, 1, 1000)
	receiver := ms.SeedCard(models.OwnerTypeMerchant, 1, 0)

	payment, err := ts.Transfer(ctx, TransferRequest{
		SenderCardID:   sender.ID,
		ReceiverCardID: receiver.ID,
		Amount:         300,
		Type:           models.PaymentTypeOrder,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, payment.Status)
	assert.NotEmpty(t, payment.Reference)

	after, err := ms.GetCardByID(ctx, nil, sender.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), after.Balance)

	after, err = ms.GetCardByID(ctx, nil, receiver.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), after.Balance)

	stored, err := ms.GetPaymentByID(ctx, nil, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
}

func TestTransferInsufficientFunds(t *testing.T) {
	ms, ts := newLedgerFixture(t)
	ctx := context.Background()

	sender := ms.SeedCard(models.OwnerTypeUser, 1, 100)
	receiver := ms.SeedCard(models.OwnerTypeMerchant, 1, 50)

	payment, err := ts.Transfer(ctx, TransferRequest{
		SenderCardID:   sender.ID,
		ReceiverCardID: receiver.ID,
		Amount:         200,
		Type:           models.PaymentTypeOrder,
	})
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	// The movement rolled back but the payment record survives, cancelled.
	require.NotNil(t, payment)
	stored, err := ms.GetPaymentByID(ctx, nil, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)

	after, err := ms.GetCardByID(ctx, nil, sender.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), after.Balance)

	after, err = ms.GetCardByID(ctx, nil, receiver.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), after.Balance)
}

func TestTransferRejectsNonPositiveAmount(t *testing.T) {
	_, ts := newLedgerFixture(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -100} {
		_, err := ts.Transfer(ctx, TransferRequest{
			SenderCardID:   1,
			ReceiverCardID: 2,
			Amount:         amount,
			Type:           models.PaymentTypeOrder,
		})
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	}
}

func TestTransferToMissingCardRestoresSender(t *testing.T) {
	ms, ts := newLedgerFixture(t)
	ctx := context.Background()

	sender := ms.SeedCard(models.OwnerTypeUser, 1, 1000)

	payment, err := ts.Transfer(ctx, TransferRequest{
		SenderCardID:   sender.ID,
		ReceiverCardID: 999,
		Amount:         300,
		Type:           models.PaymentTypeOrder,
	})
	assert.ErrorIs(t, err, models.ErrCreditFailed)

	after, err := ms.GetCardByID(ctx, nil, sender.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), after.Balance)

	stored, err := ms.GetPaymentByID(ctx, nil, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	ms, ts := newLedgerFixture(t)
	ctx := context.Background()

	sender := ms.SeedCard(models.OwnerTypeUser, 1, 1000)
	receiver := ms.SeedCard(models.OwnerTypeMerchant, 1, 0)

	const workers = 10
	const amount = 300

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ts.Transfer(ctx, TransferRequest{
				SenderCardID:   sender.ID,
				ReceiverCardID: receiver.ID,
				Amount:         amount,
				Type:           models.PaymentTypeOrder,
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		}
	}
	// 1000 / 300: exactly three transfers can go through.
	assert.Equal(t, 3, successes)

	senderAfter, err := ms.GetCardByID(ctx, nil, sender.ID)
	require.NoError(t, err)
	receiverAfter, err := ms.GetCardByID(ctx, nil, receiver.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(1000-3*amount), senderAfter.Balance)
	assert.Equal(t, int64(3*amount), receiverAfter.Balance)
	assert.Equal(t, int64(1000), senderAfter.Balance+receiverAfter.Balance)
}

func TestCashIn(t *testing.T) {
	ms, ts := newLedgerFixture(t)
	ctx := context.Background()

	card := ms.SeedCard(models.OwnerTypeUser, 1, 100)

	payment, err := ts.CashIn(ctx, card.ID, 900)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, payment.Status)
	assert.Equal(t, models.SystemCardID, payment.SenderID)
	assert.Equal(t, models.PartyTypeSystem, payment.SenderType)

	after, err := ms.GetCardByID(ctx, nil, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), after.Balance)
}

func TestCashInMissingCard(t *testing.T) {
	ms, ts := newLedgerFixture(t)
	ctx := context.Background()

	_, err := ts.CashIn(ctx, 42, 900)
	assert.ErrorIs(t, err, models.ErrCardNotFound)

	// No stray payment row survives the rolled-back transaction.
	payments, err := ms.ListPaymentsForCard(ctx, nil, 42)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestActivateCardOncePerOwner(t *testing.T) {
	_, ts := newLedgerFixture(t)
	ctx := context.Background()

	card, err := ts.ActivateCard(ctx, models.OwnerTypeUser, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), card.Balance)

	_, err = ts.ActivateCard(ctx, models.OwnerTypeUser, 7)
	assert.ErrorIs(t, err, models.ErrCardExists)

	// Same owner id under a different owner type is a different owner.
	_, err = ts.ActivateCard(ctx, models.OwnerTypeMerchant, 7)
	assert.NoError(t, err)
}

func TestPaymentsAreImmutable(t *testing.T) {
	ms, ts := newLedgerFixture(t)
	ctx := context.Background()

	card := ms.SeedCard(models.OwnerTypeUser, 1, 0)
	payment, err := ts.CashIn(ctx, card.ID, 500)
	require.NoError(t, err)

	err = ms.DeletePayment(ctx, payment.ID)
	assert.ErrorIs(t, err, models.ErrPaymentsImmutable)

	stored, err := ms.GetPaymentByID(ctx, nil, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
}

func TestListPaymentsCoversBothDirections(t *testing.T) {
	ms, ts := newLedgerFixture(t)
	ctx := context.Background()

	a := ms.SeedCard(models.OwnerTypeUser, 1, 1000)
	b := ms.SeedCard(models.OwnerTypeMerchant, 1, 1000)

	_, err := ts.Transfer(ctx, TransferRequest{SenderCardID: a.ID, ReceiverCardID: b.ID, Amount: 100, Type: models.PaymentTypeOrder})
	require.NoError(t, err)
	_, err = ts.Transfer(ctx, TransferRequest{SenderCardID: b.ID, ReceiverCardID: a.ID, Amount: 40, Type: models.PaymentTypeRefund})
	require.NoError(t, err)

	payments, err := ts.ListPayments(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}
