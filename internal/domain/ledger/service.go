package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eficia/eficia-api/internal/pkg/metrics"
)

const (
	defaultMaxRetries = 3
	retryBackoff      = 25 * time.Millisecond
	verifyPageSize    = 500
)

// Service is the single authority for mutating credit balances.
type Service struct {
	store      Store
	maxRetries int
	now        func() time.Time
}

// NewService creates a ledger service. maxRetries bounds the attempts made
// after a concurrency conflict on the same account.
func NewService(store Store, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{
		store:      store,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// ApplyDelta validates and applies one signed balance change in its own transaction.
func (s *Service) ApplyDelta(ctx context.Context, ownerID uuid.UUID, d Delta) (*Transaction, error) {
	if err := validateDelta(d); err != nil {
		return nil, err
	}

	var out *Transaction
	err := s.Retry(ctx, func() error {
		return s.store.WithinTx(ctx, func(tx Tx) error {
			t, err := s.ApplyDeltaTx(ctx, tx, ownerID, d)
			if err != nil {
				return err
			}
			out = t
			return nil
		})
	})
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	s.Observe(out)
	return out, nil
}

// ApplyDeltaTx applies a delta inside a transaction owned by the caller.
// The owner's account must already exist.
func (s *Service) ApplyDeltaTx(ctx context.Context, tx Tx, ownerID uuid.UUID, d Delta) (*Transaction, error) {
	if err := validateDelta(d); err != nil {
		return nil, err
	}

	acc, err := tx.LockAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	return s.apply(ctx, tx, acc, d)
}

// Purchase credits a completed pack purchase exactly once per idempotency key.
// On redelivery it returns the original transaction and duplicate=true.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*Transaction, bool, error) {
	if req.Credits <= 0 {
		return nil, false, ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("%w: idempotency key is required", ErrInvalidAmount)
	}

	key := req.IdempotencyKey
	pack := req.PackID
	d := Delta{
		Amount:         req.Credits,
		Kind:           KindPurchase,
		Description:    "Credit pack purchase - " + strconv.FormatInt(req.Credits, 10) + " credits",
		IdempotencyKey: &key,
	}
	if pack != "" {
		d.RelatedPackID = &pack
	}

	var (
		out       *Transaction
		duplicate bool
	)
	err := s.Retry(ctx, func() error {
		duplicate = false
		return s.store.WithinTx(ctx, func(tx Tx) error {
			existing, err := tx.FindByIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := matchPurchase(existing, req); err != nil {
					return err
				}
				out, duplicate = existing, true
				return nil
			}

			acc, err := tx.EnsureAccount(ctx, req.OwnerID)
			if err != nil {
				return err
			}
			t, err := s.apply(ctx, tx, acc, d)
			if err != nil {
				return err
			}
			out = t
			return nil
		})
	})

	// A concurrent delivery of the same event won the unique index.
	if errors.Is(err, ErrDuplicateTransaction) {
		existing, findErr := s.store.FindByIdempotencyKey(ctx, key)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing == nil {
			return nil, false, err
		}
		if err := matchPurchase(existing, req); err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	if err != nil {
		s.recordFailure(err)
		return nil, false, err
	}

	if duplicate {
		log.Info().
			Str("owner_id", req.OwnerID.String()).
			Str("idempotency_key", key).
			Msg("Duplicate purchase ignored")
		return out, true, nil
	}

	s.Observe(out)
	return out, false, nil
}

// TopUp grants credits from the admin surface. A missing account is created first.
func (s *Service) TopUp(ctx context.Context, ownerID uuid.UUID, amount int64, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if description == "" {
		description = "Admin manual credit top-up"
	}

	d := Delta{
		Amount:      amount,
		Kind:        KindAdminAdjustment,
		Description: description,
	}

	var out *Transaction
	err := s.Retry(ctx, func() error {
		return s.store.WithinTx(ctx, func(tx Tx) error {
			acc, err := tx.EnsureAccount(ctx, ownerID)
			if err != nil {
				return err
			}
			t, err := s.apply(ctx, tx, acc, d)
			if err != nil {
				return err
			}
			out = t
			return nil
		})
	})
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	s.Observe(out)
	return out, nil
}

// Refund records a compensating credit, for example after a wrong deduction.
// History is never rewritten.
func (s *Service) Refund(ctx context.Context, ownerID uuid.UUID, amount int64, relatedJobID *uuid.UUID, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if description == "" {
		description = "Credit refund"
	}

	return s.ApplyDelta(ctx, ownerID, Delta{
		Amount:       amount,
		Kind:         KindRefund,
		Description:  description,
		RelatedJobID: relatedJobID,
	})
}

// RefundJob returns the credits deducted for a job to its owner. A job can be refunded once.
func (s *Service) RefundJob(ctx context.Context, jobID uuid.UUID, description string) (*Transaction, error) {
	key := "refund:" + jobID.String()

	var out *Transaction
	err := s.Retry(ctx, func() error {
		return s.store.WithinTx(ctx, func(tx Tx) error {
			deduction, err := tx.FindDeduction(ctx, jobID)
			if err != nil {
				return err
			}
			if deduction == nil {
				return ErrDeductionNotFound
			}

			existing, err := tx.FindByIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				return ErrAlreadyRefunded
			}

			if description == "" {
				description = "Refund of " + deduction.Description
			}

			acc, err := tx.LockAccount(ctx, deduction.OwnerID)
			if err != nil {
				return err
			}
			t, err := s.apply(ctx, tx, acc, Delta{
				Amount:         -deduction.Amount,
				Kind:           KindRefund,
				Description:    description,
				RelatedJobID:   &jobID,
				IdempotencyKey: &key,
			})
			if err != nil {
				return err
			}
			out = t
			return nil
		})
	})
	if errors.Is(err, ErrDuplicateTransaction) {
		err = ErrAlreadyRefunded
	}
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	s.Observe(out)
	return out, nil
}

// OpenAccount creates the owner's account with a zero balance. Calling it again is a no-op.
func (s *Service) OpenAccount(ctx context.Context, ownerID uuid.UUID) (*Account, error) {
	var acc *Account
	err := s.Retry(ctx, func() error {
		return s.store.WithinTx(ctx, func(tx Tx) error {
			a, err := tx.EnsureAccount(ctx, ownerID)
			if err != nil {
				return err
			}
			acc = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// GetAccount returns the owner's account or ErrAccountNotFound.
func (s *Service) GetAccount(ctx context.Context, ownerID uuid.UUID) (*Account, error) {
	return s.store.GetAccount(ctx, ownerID)
}

// ListAccounts returns accounts with their balances (admin use).
func (s *Service) ListAccounts(ctx context.Context, p Pagination) ([]Account, int, error) {
	p = normalizePagination(p)

	accounts, err := s.store.ListAccounts(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountAccounts(ctx)
	if err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

// ListTransactions returns transactions newest first.
func (s *Service) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	if f.Kind != nil && !f.Kind.Valid() {
		return nil, ErrInvalidKind
	}
	p := normalizePagination(Pagination{Limit: f.Limit, Offset: f.Offset})
	f.Limit, f.Offset = p.Limit, p.Offset
	return s.store.ListTransactions(ctx, f)
}

// Verify compares every cached balance with the sum of its transactions.
func (s *Service) Verify(ctx context.Context) ([]Discrepancy, error) {
	sums, err := s.store.SumTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}

	var out []Discrepancy
	for offset := 0; ; offset += verifyPageSize {
		accounts, err := s.store.ListAccounts(ctx, Pagination{Limit: verifyPageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		for _, acc := range accounts {
			if sum := sums[acc.ID]; sum != acc.Balance {
				out = append(out, Discrepancy{
					AccountID: acc.ID,
					OwnerID:   acc.OwnerID,
					Balance:   acc.Balance,
					Sum:       sum,
				})
			}
		}
		if len(accounts) < verifyPageSize {
			break
		}
	}

	if len(out) > 0 {
		log.Error().Int("accounts", len(out)).Msg("Ledger discrepancies found")
	}
	return out, nil
}

func (s *Service) apply(ctx context.Context, tx Tx, acc *Account, d Delta) (*Transaction, error) {
	newBalance := acc.Balance + d.Amount

	if err := tx.SetBalance(ctx, acc.ID, newBalance); err != nil {
		return nil, err
	}

	t := &Transaction{
		ID:             uuid.New(),
		AccountID:      acc.ID,
		OwnerID:        acc.OwnerID,
		Amount:         d.Amount,
		Kind:           d.Kind,
		Description:    d.Description,
		RelatedPackID:  d.RelatedPackID,
		IdempotencyKey: d.IdempotencyKey,
		BalanceAfter:   newBalance,
		CreatedAt:      s.now().UTC(),
	}
	if d.RelatedJobID != nil {
		t.RelatedJobID = uuid.NullUUID{UUID: *d.RelatedJobID, Valid: true}
	}

	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}

	acc.Balance = newBalance
	return t, nil
}

// Retry re-runs fn while it fails with ErrConcurrencyConflict, up to the configured
// number of attempts. Callers owning a multi-domain transaction wrap WithinTx with it.
func (s *Service) Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		if attempt == s.maxRetries {
			break
		}

		metrics.LedgerRetries.Inc()
		log.Debug().Int("attempt", attempt).Err(err).Msg("Ledger conflict, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return fmt.Errorf("%w: %v", ErrConcurrencyExhausted, err)
}

// Observe logs and counts a committed transaction. Callers of ApplyDeltaTx invoke it after commit.
func (s *Service) Observe(t *Transaction) {
	metrics.LedgerDeltas.WithLabelValues(string(t.Kind)).Inc()
	amount := t.Amount
	if amount < 0 {
		amount = -amount
	}
	metrics.LedgerCredits.WithLabelValues(string(t.Kind)).Add(float64(amount))

	log.Info().
		Str("owner_id", t.OwnerID.String()).
		Int64("amount", t.Amount).
		Str("kind", string(t.Kind)).
		Int64("balance", t.BalanceAfter).
		Str("transaction_id", t.ID.String()).
		Msg("Ledger delta applied")
}

func (s *Service) recordFailure(err error) {
	reason := "internal"
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidKind), errors.Is(err, ErrSignMismatch):
		reason = "validation"
	case errors.Is(err, ErrAccountNotFound):
		reason = "not_found"
	case errors.Is(err, ErrConcurrencyExhausted):
		reason = "concurrency"
	case errors.Is(err, ErrIdempotencyConflict), errors.Is(err, ErrDuplicateTransaction), errors.Is(err, ErrAlreadyRefunded):
		reason = "duplicate"
	}
	metrics.LedgerFailures.WithLabelValues(reason).Inc()
}

func validateDelta(d Delta) error {
	if d.Amount == 0 {
		return ErrInvalidAmount
	}
	if !d.Kind.Valid() {
		return ErrInvalidKind
	}
	if !d.Kind.Accepts(d.Amount) {
		return fmt.Errorf("%w: %s %+d", ErrSignMismatch, d.Kind, d.Amount)
	}
	return nil
}

func matchPurchase(existing *Transaction, req PurchaseRequest) error {
	if existing.Kind != KindPurchase || existing.OwnerID != req.OwnerID || existing.Amount != req.Credits {
		return ErrIdempotencyConflict
	}
	return nil
}

func normalizePagination(p Pagination) Pagination {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
