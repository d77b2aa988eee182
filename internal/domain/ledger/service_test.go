package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/store/memory"
)

func newLedger(t *testing.T) (*ledger.Service, *memory.DB) {
	t.Helper()
	db := memory.New()
	return ledger.NewService(db.Ledger(), 3), db
}

func requireConsistent(t *testing.T, svc *ledger.Service) {
	t.Helper()
	discrepancies, err := svc.Verify(context.Background())
	require.NoError(t, err)
	require.Empty(t, discrepancies, "balance must equal the sum of transactions")
}

func TestTopUp_CreatesMissingAccount(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()

	tx, err := svc.TopUp(ctx, owner, 500, "")
	require.NoError(t, err)
	assert.Equal(t, int64(500), tx.Amount)
	assert.Equal(t, ledger.KindAdminAdjustment, tx.Kind)
	assert.Equal(t, "Admin manual credit top-up", tx.Description)
	assert.Equal(t, int64(500), tx.BalanceAfter)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(500), acc.Balance)

	txs, err := svc.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.KindAdminAdjustment, txs[0].Kind)

	requireConsistent(t, svc)
}

func TestTopUp_RejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newLedger(t)
	owner := uuid.New()

	for _, amount := range []int64{0, -5} {
		_, err := svc.TopUp(context.Background(), owner, amount, "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}

	_, err := svc.GetAccount(context.Background(), owner)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound, "validation failures must not provision accounts")
}

func TestPurchase_IdempotentOnKey(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()
	req := ledger.PurchaseRequest{OwnerID: owner, PackID: "starter", Credits: 200, IdempotencyKey: "pi_123"}

	first, dup, err := svc.Purchase(ctx, req)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, "Credit pack purchase - 200 credits", first.Description)
	require.NotNil(t, first.RelatedPackID)
	assert.Equal(t, "starter", *first.RelatedPackID)

	second, dup, err := svc.Purchase(ctx, req)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(200), acc.Balance)

	kind := ledger.KindPurchase
	txs, err := svc.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: &owner, Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	requireConsistent(t, svc)
}

func TestPurchase_KeyReusedWithDifferentAmount(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()

	_, _, err := svc.Purchase(ctx, ledger.PurchaseRequest{OwnerID: owner, Credits: 200, IdempotencyKey: "pi_1"})
	require.NoError(t, err)

	_, _, err = svc.Purchase(ctx, ledger.PurchaseRequest{OwnerID: owner, Credits: 900, IdempotencyKey: "pi_1"})
	assert.ErrorIs(t, err, ledger.ErrIdempotencyConflict)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(200), acc.Balance)
}

func TestPurchase_ConcurrentRedelivery(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()
	req := ledger.PurchaseRequest{OwnerID: owner, PackID: "pro", Credits: 50, IdempotencyKey: "cs_test_1"}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup, err := svc.Purchase(ctx, req)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if dup {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, duplicates)
	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(50), acc.Balance)
	requireConsistent(t, svc)
}

func TestApplyDelta_Validation(t *testing.T) {
	svc, _ := newLedger(t)
	owner := uuid.New()
	_, err := svc.OpenAccount(context.Background(), owner)
	require.NoError(t, err)

	_, err = svc.ApplyDelta(context.Background(), owner, ledger.Delta{Amount: 0, Kind: ledger.KindRefund})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.ApplyDelta(context.Background(), owner, ledger.Delta{Amount: 10, Kind: "bonus"})
	assert.ErrorIs(t, err, ledger.ErrInvalidKind)

	_, err = svc.ApplyDelta(context.Background(), uuid.New(), ledger.Delta{Amount: -10, Kind: ledger.KindEnrichDeduction})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestApplyDelta_SignMustMatchKind(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()
	_, err := svc.OpenAccount(ctx, owner)
	require.NoError(t, err)

	tests := []struct {
		name   string
		delta  ledger.Delta
		wantOK bool
	}{
		{"positive deduction", ledger.Delta{Amount: 5, Kind: ledger.KindEnrichDeduction}, false},
		{"negative purchase", ledger.Delta{Amount: -5, Kind: ledger.KindPurchase}, false},
		{"negative refund", ledger.Delta{Amount: -5, Kind: ledger.KindRefund}, false},
		{"negative adjustment", ledger.Delta{Amount: -5, Kind: ledger.KindAdminAdjustment}, true},
		{"positive adjustment", ledger.Delta{Amount: 5, Kind: ledger.KindAdminAdjustment}, true},
		{"deduction below zero", ledger.Delta{Amount: -50, Kind: ledger.KindEnrichDeduction}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyDelta(ctx, owner, tt.delta)
			if tt.wantOK {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ledger.ErrSignMismatch)
		})
	}

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(-50), acc.Balance)
	requireConsistent(t, svc)
}

func TestApplyDelta_AllowsNegativeBalance(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()

	_, err := svc.TopUp(ctx, owner, 10, "")
	require.NoError(t, err)

	tx, err := svc.ApplyDelta(ctx, owner, ledger.Delta{Amount: -30, Kind: ledger.KindEnrichDeduction, Description: "Enrichment job: leads.csv"})
	require.NoError(t, err)
	assert.Equal(t, int64(-20), tx.BalanceAfter)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(-20), acc.Balance)
	requireConsistent(t, svc)
}

func TestApplyDelta_RollsBackWhenInsertFails(t *testing.T) {
	svc, db := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()

	_, err := svc.TopUp(ctx, owner, 100, "")
	require.NoError(t, err)

	boom := errors.New("disk full")
	db.InjectFault(memory.OpInsertTransaction, boom, 1)

	_, err = svc.ApplyDelta(ctx, owner, ledger.Delta{Amount: -40, Kind: ledger.KindEnrichDeduction})
	require.ErrorIs(t, err, boom)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance, "balance write must roll back with the failed insert")

	txs, err := svc.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: &owner})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	requireConsistent(t, svc)
}

func TestApplyDelta_RetriesConflicts(t *testing.T) {
	svc, db := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()
	_, err := svc.TopUp(ctx, owner, 100, "")
	require.NoError(t, err)

	db.InjectFault(memory.OpLockAccount, ledger.ErrConcurrencyConflict, 2)
	tx, err := svc.ApplyDelta(ctx, owner, ledger.Delta{Amount: 5, Kind: ledger.KindRefund})
	require.NoError(t, err)
	assert.Equal(t, int64(105), tx.BalanceAfter)

	db.InjectFault(memory.OpLockAccount, ledger.ErrConcurrencyConflict, 3)
	_, err = svc.ApplyDelta(ctx, owner, ledger.Delta{Amount: 5, Kind: ledger.KindRefund})
	assert.ErrorIs(t, err, ledger.ErrConcurrencyExhausted)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(105), acc.Balance)
}

func TestApplyDelta_ConcurrentMutationsKeepInvariant(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()
	_, err := svc.TopUp(ctx, owner, 1000, "")
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := ledger.Delta{Amount: -7, Kind: ledger.KindEnrichDeduction}
			if i%2 == 0 {
				d = ledger.Delta{Amount: 3, Kind: ledger.KindAdminAdjustment}
			}
			if _, err := svc.ApplyDelta(ctx, owner, d); err != nil {
				t.Errorf("apply delta: %v", err)
			}
		}(i)
	}
	wg.Wait()

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1000+25*3-25*7), acc.Balance)
	requireConsistent(t, svc)
}

func TestRefundJob_OnlyOnce(t *testing.T) {
	svc, db := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()
	jobID := uuid.New()

	_, err := svc.TopUp(ctx, owner, 100, "")
	require.NoError(t, err)

	_, err = svc.RefundJob(ctx, jobID, "")
	assert.ErrorIs(t, err, ledger.ErrDeductionNotFound)

	err = db.Ledger().WithinTx(ctx, func(tx ledger.Tx) error {
		_, err := svc.ApplyDeltaTx(ctx, tx, owner, ledger.Delta{
			Amount:       -30,
			Kind:         ledger.KindEnrichDeduction,
			Description:  "Enrichment job: leads.csv",
			RelatedJobID: &jobID,
		})
		return err
	})
	require.NoError(t, err)

	refund, err := svc.RefundJob(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(30), refund.Amount)
	assert.Equal(t, ledger.KindRefund, refund.Kind)
	assert.Equal(t, "Refund of Enrichment job: leads.csv", refund.Description)

	_, err = svc.RefundJob(ctx, jobID, "")
	assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)
	requireConsistent(t, svc)
}

func TestDeductionUniquePerJob(t *testing.T) {
	svc, db := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()
	jobID := uuid.New()
	_, err := svc.TopUp(ctx, owner, 100, "")
	require.NoError(t, err)

	deduct := func() error {
		return db.Ledger().WithinTx(ctx, func(tx ledger.Tx) error {
			_, err := svc.ApplyDeltaTx(ctx, tx, owner, ledger.Delta{Amount: -10, Kind: ledger.KindEnrichDeduction, RelatedJobID: &jobID})
			return err
		})
	}
	require.NoError(t, deduct())
	assert.ErrorIs(t, deduct(), ledger.ErrDuplicateTransaction)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(90), acc.Balance)
}

func TestVerify_ReportsDrift(t *testing.T) {
	svc, db := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()
	_, err := svc.TopUp(ctx, owner, 40, "")
	require.NoError(t, err)

	db.ForceBalance(owner, 55)

	discrepancies, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, owner, discrepancies[0].OwnerID)
	assert.Equal(t, int64(55), discrepancies[0].Balance)
	assert.Equal(t, int64(40), discrepancies[0].Sum)
}

func TestOpenAccount_Idempotent(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	owner := uuid.New()

	a, err := svc.OpenAccount(ctx, owner)
	require.NoError(t, err)
	b, err := svc.OpenAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Zero(t, b.Balance)

	accounts, total, err := svc.ListAccounts(ctx, ledger.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, accounts, 1)
}
