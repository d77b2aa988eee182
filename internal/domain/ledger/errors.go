package ledger

import "errors"

var (
	// ErrInvalidAmount is returned when amount is zero, or not positive where a grant is expected
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidKind is returned for transaction kinds outside the enum
	ErrInvalidKind = errors.New("invalid transaction kind")

	// ErrSignMismatch is returned when the amount sign contradicts the kind
	ErrSignMismatch = errors.New("amount sign does not match transaction kind")

	// ErrAccountNotFound is returned when the owner has no credit account
	ErrAccountNotFound = errors.New("credit account not found")

	// ErrDuplicateTransaction is returned by stores when a uniqueness constraint rejects an insert
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrIdempotencyConflict is returned when a key is replayed with a different amount or owner
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")

	// ErrConcurrencyConflict is returned by stores when the account row could not be serialised
	ErrConcurrencyConflict = errors.New("concurrent update on account")

	// ErrConcurrencyExhausted is returned when retries on ErrConcurrencyConflict ran out
	ErrConcurrencyExhausted = errors.New("account busy, retry later")
)

var (
	// ErrDeductionNotFound is returned when a job has no recorded deduction to refund
	ErrDeductionNotFound = errors.New("no deduction recorded for job")

	// ErrAlreadyRefunded is returned when a job deduction was already refunded
	ErrAlreadyRefunded = errors.New("job deduction already refunded")
)
