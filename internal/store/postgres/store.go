// Package postgres implements the ledger and job stores on PostgreSQL.
// Account and job rows are locked with SELECT ... FOR UPDATE for the
// lifetime of the surrounding transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/domain/ledger"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// DefaultLockTimeout bounds how long a transaction waits on a row lock.
const DefaultLockTimeout = 5 * time.Second

const transactionColumns = `id, account_id, owner_id, amount, kind, description,
	related_job_id, related_pack_id, idempotency_key, balance_after, created_at`

const jobColumns = `id, owner_id, filename, file_ref, status, total_rows, numbers_found, credited_numbers,
	admin_note, result_ref, created_at, updated_at, completed_at`

// DB wraps a connection pool and hands out the ledger and job views.
type DB struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// New creates a store over db.
func New(db *sqlx.DB) *DB {
	return &DB{db: db, lockTimeout: DefaultLockTimeout}
}

// WithLockTimeout overrides DefaultLockTimeout.
func (d *DB) WithLockTimeout(timeout time.Duration) *DB {
	d.lockTimeout = timeout
	return d
}

// Ledger returns the ledger view of the store.
func (d *DB) Ledger() *LedgerStore {
	return &LedgerStore{d: d}
}

// Jobs returns the job view of the store.
func (d *DB) Jobs() *JobStore {
	return &JobStore{d: d}
}

func (d *DB) withinTx(ctx context.Context, fn func(t *txn) error) (err error) {
	tx, err := d.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if d.lockTimeout > 0 {
		ms := d.lockTimeout.Milliseconds()
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)); err != nil {
			return mapError(err)
		}
	}

	if err = fn(&txn{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates driver errors into the domain's retry and uniqueness errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return ledger.ErrDuplicateTransaction
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %s", ledger.ErrConcurrencyConflict, pqErr.Code)
		}
	}
	return err
}

// LedgerStore implements ledger.Store.
type LedgerStore struct {
	d *DB
}

var _ ledger.Store = (*LedgerStore)(nil)

func (s *LedgerStore) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.d.withinTx(ctx, func(t *txn) error { return fn(t) })
}

func (s *LedgerStore) GetAccount(ctx context.Context, ownerID uuid.UUID) (*ledger.Account, error) {
	var acc ledger.Account
	err := s.d.db.GetContext(ctx, &acc, `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM credit_accounts WHERE owner_id = $1
	`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *LedgerStore) ListAccounts(ctx context.Context, p ledger.Pagination) ([]ledger.Account, error) {
	accounts := []ledger.Account{}
	err := s.d.db.SelectContext(ctx, &accounts, `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM credit_accounts
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, p.Limit, p.Offset)
	return accounts, err
}

func (s *LedgerStore) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.d.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM credit_accounts`)
	return n, err
}

func (s *LedgerStore) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.OwnerID != nil {
		args = append(args, *f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if f.Kind != nil {
		args = append(args, string(*f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.RelatedJobID != nil {
		args = append(args, *f.RelatedJobID)
		where = append(where, fmt.Sprintf("related_job_id = $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM credit_transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	out := []ledger.Transaction{}
	err := s.d.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

func (s *LedgerStore) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return findByKey(ctx, s.d.db, key)
}

func (s *LedgerStore) SumTransactions(ctx context.Context) (map[uuid.UUID]int64, error) {
	var rows []struct {
		AccountID uuid.UUID `db:"account_id"`
		Sum       int64     `db:"sum"`
	}
	err := s.d.db.SelectContext(ctx, &rows, `
		SELECT account_id, COALESCE(SUM(amount), 0) AS sum
		FROM credit_transactions
		GROUP BY account_id
	`)
	if err != nil {
		return nil, err
	}

	sums := make(map[uuid.UUID]int64, len(rows))
	for _, r := range rows {
		sums[r.AccountID] = r.Sum
	}
	return sums, nil
}

// JobStore implements job.Store.
type JobStore struct {
	d *DB
}

var _ job.Store = (*JobStore)(nil)

func (s *JobStore) WithinTx(ctx context.Context, fn func(tx job.Tx) error) error {
	return s.d.withinTx(ctx, func(t *txn) error { return fn(t) })
}

func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	var j job.Job
	err := s.d.db.GetContext(ctx, &j, `SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *JobStore) ListJobs(ctx context.Context, f job.Filter) ([]job.Job, error) {
	where, args := jobWhere(f)
	query := `SELECT ` + jobColumns + ` FROM enrichment_jobs` + where
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	jobs := []job.Job{}
	err := s.d.db.SelectContext(ctx, &jobs, query, args...)
	return jobs, err
}

func (s *JobStore) CountJobs(ctx context.Context, f job.Filter) (int, error) {
	where, args := jobWhere(f)
	var n int
	err := s.d.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM enrichment_jobs`+where, args...)
	return n, err
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[job.Status]int, error) {
	var rows []struct {
		Status job.Status `db:"status"`
		Count  int        `db:"count"`
	}
	if err := s.d.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM enrichment_jobs GROUP BY status
	`); err != nil {
		return nil, err
	}

	counts := make(map[job.Status]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func jobWhere(f job.Filter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if f.OwnerID != nil {
		args = append(args, *f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// txn implements job.Tx, and therefore ledger.Tx, over one database transaction.
type txn struct {
	tx *sqlx.Tx
}

var _ job.Tx = (*txn)(nil)

func (t *txn) LockAccount(ctx context.Context, ownerID uuid.UUID) (*ledger.Account, error) {
	var acc ledger.Account
	err := t.tx.GetContext(ctx, &acc, `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM credit_accounts WHERE owner_id = $1
		FOR UPDATE
	`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &acc, nil
}

func (t *txn) EnsureAccount(ctx context.Context, ownerID uuid.UUID) (*ledger.Account, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (id, owner_id, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (owner_id) DO NOTHING
	`, uuid.New(), ownerID); err != nil {
		return nil, mapError(err)
	}
	return t.LockAccount(ctx, ownerID)
}

func (t *txn) SetBalance(ctx context.Context, accountID uuid.UUID, balance int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE credit_accounts SET balance = $1, updated_at = NOW() WHERE id = $2
	`, balance, accountID)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (t *txn) InsertTransaction(ctx context.Context, tr *ledger.Transaction) error {
	var packID interface{}
	if tr.RelatedPackID != nil {
		packID = *tr.RelatedPackID
	}
	var key interface{}
	if tr.IdempotencyKey != nil {
		key = *tr.IdempotencyKey
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, tr.ID, tr.AccountID, tr.OwnerID, tr.Amount, string(tr.Kind), tr.Description,
		tr.RelatedJobID, packID, key, tr.BalanceAfter, tr.CreatedAt)
	return mapError(err)
}

func (t *txn) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return findByKey(ctx, t.tx, key)
}

func (t *txn) FindDeduction(ctx context.Context, jobID uuid.UUID) (*ledger.Transaction, error) {
	var tr ledger.Transaction
	err := t.tx.GetContext(ctx, &tr, `
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE related_job_id = $1 AND kind = $2
	`, jobID, string(ledger.KindEnrichDeduction))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &tr, nil
}

func (t *txn) LockJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	var j job.Job
	err := t.tx.GetContext(ctx, &j, `SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &j, nil
}

func (t *txn) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO enrichment_jobs (`+jobColumns+`)
		VALUES (:id, :owner_id, :filename, :file_ref, :status, :total_rows, :numbers_found, :credited_numbers,
			:admin_note, :result_ref, :created_at, :updated_at, :completed_at)
	`, j)
	return mapError(err)
}

func (t *txn) UpdateJob(ctx context.Context, j *job.Job) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE enrichment_jobs SET
			status = :status,
			total_rows = :total_rows,
			numbers_found = :numbers_found,
			credited_numbers = :credited_numbers,
			admin_note = :admin_note,
			result_ref = :result_ref,
			updated_at = :updated_at,
			completed_at = :completed_at
		WHERE id = :id
	`, j)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func findByKey(ctx context.Context, q sqlx.QueryerContext, key string) (*ledger.Transaction, error) {
	var tr ledger.Transaction
	err := sqlx.GetContext(ctx, q, &tr, `
		SELECT `+transactionColumns+` FROM credit_transactions WHERE idempotency_key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}
