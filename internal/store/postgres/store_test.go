package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/pkg/database"
	"github.com/eficia/eficia-api/internal/store/postgres"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("db not available: %v", err)
	}
	require.NoError(t, database.MigrateUp(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLedger_TopUpAndVerify(t *testing.T) {
	db := setupTestDB(t)
	store := postgres.New(db)
	svc := ledger.NewService(store.Ledger(), 3)
	ctx := context.Background()
	owner := uuid.New()

	tr, err := svc.TopUp(ctx, owner, 50, "")
	require.NoError(t, err)
	assert.Equal(t, int64(50), tr.BalanceAfter)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(50), acc.Balance)

	txs, err := svc.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.KindAdminAdjustment, txs[0].Kind)

	discrepancies, err := svc.Verify(ctx)
	require.NoError(t, err)
	for _, d := range discrepancies {
		assert.NotEqual(t, owner, d.OwnerID)
	}
}

func TestLedger_PurchaseRedelivery(t *testing.T) {
	db := setupTestDB(t)
	svc := ledger.NewService(postgres.New(db).Ledger(), 3)
	ctx := context.Background()
	owner := uuid.New()
	key := "evt_" + uuid.NewString()

	req := ledger.PurchaseRequest{OwnerID: owner, PackID: "starter", Credits: 100, IdempotencyKey: key}

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, dup, err := svc.Purchase(ctx, req)
			assert.NoError(t, err)
			results[i] = dup
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, dup := range results {
		if !dup {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	acc, err := svc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)
}

func TestJobs_CompletionDeductsOnce(t *testing.T) {
	db := setupTestDB(t)
	store := postgres.New(db)
	ledgerSvc := ledger.NewService(store.Ledger(), 3)
	jobs := job.NewService(store.Jobs(), ledgerSvc, nil, time.Second)
	ctx := context.Background()
	owner := uuid.New()

	_, err := ledgerSvc.TopUp(ctx, owner, 10, "")
	require.NoError(t, err)

	rows := int64(12)
	created, err := jobs.CreateJob(ctx, job.NewJob{OwnerID: owner, FileRef: "uploads/test.csv", Filename: "test.csv", TotalRows: &rows})
	require.NoError(t, err)

	stored, err := jobs.GetJob(ctx, created.Job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TotalRows)
	assert.Equal(t, int64(12), *stored.TotalRows)
	assert.Nil(t, stored.NumbersFound)
	assert.Nil(t, stored.CreditedNumbers)

	status := job.StatusCompleted
	credited := int64(4)
	patch := job.Patch{Status: &status, CreditedNumbers: &credited}

	first, err := jobs.UpdateJob(ctx, created.Job.ID, patch)
	require.NoError(t, err)
	require.NotNil(t, first.Deduction)
	assert.Equal(t, int64(-4), first.Deduction.Amount)

	second, err := jobs.UpdateJob(ctx, created.Job.ID, job.Patch{Status: &status})
	require.NoError(t, err)
	assert.Nil(t, second.Deduction)

	acc, err := ledgerSvc.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(6), acc.Balance)

	refund, err := ledgerSvc.RefundJob(ctx, created.Job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), refund.Amount)

	_, err = ledgerSvc.RefundJob(ctx, created.Job.ID, "")
	assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded)
}

func TestJobs_ListAndCount(t *testing.T) {
	db := setupTestDB(t)
	store := postgres.New(db)
	jobs := job.NewService(store.Jobs(), ledger.NewService(store.Ledger(), 3), nil, time.Second)
	ctx := context.Background()
	owner := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := jobs.CreateJob(ctx, job.NewJob{OwnerID: owner, FileRef: "uploads/f.csv", Filename: "f.csv"})
		require.NoError(t, err)
	}

	list, total, err := jobs.ListByOwner(ctx, owner, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, list, 2)

	_, err = store.Jobs().GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}
