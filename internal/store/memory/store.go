// Package memory provides an in-process implementation of the ledger and job
// stores. Transactions are serialised by one mutex and applied copy-on-commit,
// so a failed unit of work leaves no trace. Faults can be injected per operation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/domain/ledger"
)

// Operation names accepted by InjectFault.
const (
	OpLockAccount       = "lock_account"
	OpEnsureAccount     = "ensure_account"
	OpSetBalance        = "set_balance"
	OpInsertTransaction = "insert_transaction"
	OpLockJob           = "lock_job"
	OpInsertJob         = "insert_job"
	OpUpdateJob         = "update_job"
)

type state struct {
	accounts     map[uuid.UUID]ledger.Account // by account id
	owners       map[uuid.UUID]uuid.UUID      // owner id -> account id
	transactions []ledger.Transaction
	jobs         map[uuid.UUID]job.Job
}

func (s *state) clone() *state {
	c := &state{
		accounts:     make(map[uuid.UUID]ledger.Account, len(s.accounts)),
		owners:       make(map[uuid.UUID]uuid.UUID, len(s.owners)),
		transactions: make([]ledger.Transaction, len(s.transactions)),
		jobs:         make(map[uuid.UUID]job.Job, len(s.jobs)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.owners {
		c.owners[k] = v
	}
	copy(c.transactions, s.transactions)
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	return c
}

type fault struct {
	err   error
	times int
}

// DB holds the shared state behind the ledger and job stores.
type DB struct {
	mu     sync.Mutex
	state  *state
	faults map[string]*fault
	now    func() time.Time
}

// New creates an empty store.
func New() *DB {
	return &DB{
		state: &state{
			accounts: make(map[uuid.UUID]ledger.Account),
			owners:   make(map[uuid.UUID]uuid.UUID),
			jobs:     make(map[uuid.UUID]job.Job),
		},
		faults: make(map[string]*fault),
		now:    time.Now,
	}
}

// Ledger returns the ledger view of the store.
func (db *DB) Ledger() *LedgerStore {
	return &LedgerStore{db: db}
}

// Jobs returns the job view of the store.
func (db *DB) Jobs() *JobStore {
	return &JobStore{db: db}
}

// InjectFault makes the next `times` calls of op fail with err.
func (db *DB) InjectFault(op string, err error, times int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.faults[op] = &fault{err: err, times: times}
}

// ForceBalance overwrites a cached balance without a transaction. It exists to
// simulate drift for reconciliation tests.
func (db *DB) ForceBalance(ownerID uuid.UUID, balance int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.state.owners[ownerID]
	if !ok {
		return
	}
	acc := db.state.accounts[id]
	acc.Balance = balance
	db.state.accounts[id] = acc
}

// fail consumes an injected fault for op. Callers hold db.mu.
func (db *DB) fail(op string) error {
	f, ok := db.faults[op]
	if !ok || f.times <= 0 {
		return nil
	}
	f.times--
	if f.times == 0 {
		delete(db.faults, op)
	}
	return f.err
}

func (db *DB) withinTx(ctx context.Context, fn func(t *txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	t := &txn{db: db, state: db.state.clone()}
	if err := fn(t); err != nil {
		return err
	}
	db.state = t.state
	return nil
}

// LedgerStore implements ledger.Store.
type LedgerStore struct {
	db *DB
}

var _ ledger.Store = (*LedgerStore)(nil)

func (s *LedgerStore) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.db.withinTx(ctx, func(t *txn) error { return fn(t) })
}

func (s *LedgerStore) GetAccount(ctx context.Context, ownerID uuid.UUID) (*ledger.Account, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	id, ok := s.db.state.owners[ownerID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	acc := s.db.state.accounts[id]
	return &acc, nil
}

func (s *LedgerStore) ListAccounts(ctx context.Context, p ledger.Pagination) ([]ledger.Account, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]ledger.Account, 0, len(s.db.state.accounts))
	for _, acc := range s.db.state.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, p.Limit, p.Offset), nil
}

func (s *LedgerStore) CountAccounts(ctx context.Context) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.state.accounts), nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []ledger.Transaction
	for i := len(s.db.state.transactions) - 1; i >= 0; i-- {
		t := s.db.state.transactions[i]
		if f.OwnerID != nil && t.OwnerID != *f.OwnerID {
			continue
		}
		if f.Kind != nil && t.Kind != *f.Kind {
			continue
		}
		if f.RelatedJobID != nil && (!t.RelatedJobID.Valid || t.RelatedJobID.UUID != *f.RelatedJobID) {
			continue
		}
		out = append(out, t)
	}
	return page(out, f.Limit, f.Offset), nil
}

func (s *LedgerStore) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return findByKey(s.db.state, key), nil
}

func (s *LedgerStore) SumTransactions(ctx context.Context) (map[uuid.UUID]int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	sums := make(map[uuid.UUID]int64, len(s.db.state.accounts))
	for _, t := range s.db.state.transactions {
		sums[t.AccountID] += t.Amount
	}
	return sums, nil
}

// JobStore implements job.Store.
type JobStore struct {
	db *DB
}

var _ job.Store = (*JobStore)(nil)

func (s *JobStore) WithinTx(ctx context.Context, fn func(tx job.Tx) error) error {
	return s.db.withinTx(ctx, func(t *txn) error { return fn(t) })
}

func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	j, ok := s.db.state.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return &j, nil
}

func (s *JobStore) ListJobs(ctx context.Context, f job.Filter) ([]job.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := s.filterJobs(f)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

func (s *JobStore) CountJobs(ctx context.Context, f job.Filter) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.filterJobs(f)), nil
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[job.Status]int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	counts := make(map[job.Status]int)
	for _, j := range s.db.state.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (s *JobStore) filterJobs(f job.Filter) []job.Job {
	var out []job.Job
	for _, j := range s.db.state.jobs {
		if f.OwnerID != nil && j.OwnerID != *f.OwnerID {
			continue
		}
		if f.Status != nil && j.Status != *f.Status {
			continue
		}
		out = append(out, j)
	}
	return out
}

// txn is the unit of work shared by both views. It implements job.Tx, and
// therefore ledger.Tx.
type txn struct {
	db    *DB
	state *state
}

var _ job.Tx = (*txn)(nil)

func (t *txn) LockAccount(ctx context.Context, ownerID uuid.UUID) (*ledger.Account, error) {
	if err := t.db.fail(OpLockAccount); err != nil {
		return nil, err
	}
	id, ok := t.state.owners[ownerID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	acc := t.state.accounts[id]
	return &acc, nil
}

func (t *txn) EnsureAccount(ctx context.Context, ownerID uuid.UUID) (*ledger.Account, error) {
	if err := t.db.fail(OpEnsureAccount); err != nil {
		return nil, err
	}
	if id, ok := t.state.owners[ownerID]; ok {
		acc := t.state.accounts[id]
		return &acc, nil
	}

	now := t.db.now().UTC()
	acc := ledger.Account{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.state.accounts[acc.ID] = acc
	t.state.owners[ownerID] = acc.ID
	return &acc, nil
}

func (t *txn) SetBalance(ctx context.Context, accountID uuid.UUID, balance int64) error {
	if err := t.db.fail(OpSetBalance); err != nil {
		return err
	}
	acc, ok := t.state.accounts[accountID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acc.Balance = balance
	acc.UpdatedAt = t.db.now().UTC()
	t.state.accounts[accountID] = acc
	return nil
}

func (t *txn) InsertTransaction(ctx context.Context, tr *ledger.Transaction) error {
	if err := t.db.fail(OpInsertTransaction); err != nil {
		return err
	}
	if tr.IdempotencyKey != nil && findByKey(t.state, *tr.IdempotencyKey) != nil {
		return ledger.ErrDuplicateTransaction
	}
	if tr.Kind == ledger.KindEnrichDeduction && tr.RelatedJobID.Valid &&
		findDeduction(t.state, tr.RelatedJobID.UUID) != nil {
		return ledger.ErrDuplicateTransaction
	}
	t.state.transactions = append(t.state.transactions, *tr)
	return nil
}

func (t *txn) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return findByKey(t.state, key), nil
}

func (t *txn) FindDeduction(ctx context.Context, jobID uuid.UUID) (*ledger.Transaction, error) {
	return findDeduction(t.state, jobID), nil
}

func (t *txn) LockJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	if err := t.db.fail(OpLockJob); err != nil {
		return nil, err
	}
	j, ok := t.state.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return &j, nil
}

func (t *txn) InsertJob(ctx context.Context, j *job.Job) error {
	if err := t.db.fail(OpInsertJob); err != nil {
		return err
	}
	t.state.jobs[j.ID] = *j
	return nil
}

func (t *txn) UpdateJob(ctx context.Context, j *job.Job) error {
	if err := t.db.fail(OpUpdateJob); err != nil {
		return err
	}
	if _, ok := t.state.jobs[j.ID]; !ok {
		return job.ErrJobNotFound
	}
	t.state.jobs[j.ID] = *j
	return nil
}

func findByKey(s *state, key string) *ledger.Transaction {
	for i := range s.transactions {
		if k := s.transactions[i].IdempotencyKey; k != nil && *k == key {
			tr := s.transactions[i]
			return &tr
		}
	}
	return nil
}

func findDeduction(s *state, jobID uuid.UUID) *ledger.Transaction {
	for i := range s.transactions {
		tr := s.transactions[i]
		if tr.Kind == ledger.KindEnrichDeduction && tr.RelatedJobID.Valid && tr.RelatedJobID.UUID == jobID {
			return &tr
		}
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
