package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Kind defines supported credit transaction kinds.
type Kind string

const (
	KindPurchase        Kind = "purchase"
	KindEnrichDeduction Kind = "enrich_deduction"
	KindRefund          Kind = "refund"
	KindAdminAdjustment Kind = "admin_adjustment"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindEnrichDeduction, KindRefund, KindAdminAdjustment:
		return true
	}
	return false
}

// Accepts reports whether amount has the sign kind k requires. Purchases and
// refunds grant credits, deductions consume them, adjustments go either way.
func (k Kind) Accepts(amount int64) bool {
	switch k {
	case KindPurchase, KindRefund:
		return amount > 0
	case KindEnrichDeduction:
		return amount < 0
	}
	return amount != 0
}

// Account holds the cached balance of one owner.
// Balance always equals the sum of the account's transaction amounts.
type Account struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OwnerID   uuid.UUID `db:"owner_id" json:"owner_id"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an immutable ledger row.
type Transaction struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	AccountID      uuid.UUID     `db:"account_id" json:"account_id"`
	OwnerID        uuid.UUID     `db:"owner_id" json:"owner_id"`
	Amount         int64         `db:"amount" json:"amount"`
	Kind           Kind          `db:"kind" json:"kind"`
	Description    string        `db:"description" json:"description"`
	RelatedJobID   uuid.NullUUID `db:"related_job_id" json:"related_job_id,omitempty"`
	RelatedPackID  *string       `db:"related_pack_id" json:"related_pack_id,omitempty"`
	IdempotencyKey *string       `db:"idempotency_key" json:"-"`
	BalanceAfter   int64         `db:"balance_after" json:"balance_after"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// Delta describes one balance mutation.
type Delta struct {
	Amount         int64
	Kind           Kind
	Description    string
	RelatedJobID   *uuid.UUID
	RelatedPackID  *string
	IdempotencyKey *string
}

// PurchaseRequest is what the payment gateway adapter hands to the ledger.
type PurchaseRequest struct {
	OwnerID        uuid.UUID
	PackID         string
	Credits        int64
	IdempotencyKey string
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

// TransactionFilter narrows admin-facing transaction listings.
type TransactionFilter struct {
	OwnerID      *uuid.UUID
	Kind         *Kind
	RelatedJobID *uuid.UUID
	Limit        int
	Offset       int
}

// Discrepancy is reported by Verify when a cached balance drifted from its history.
type Discrepancy struct {
	AccountID uuid.UUID `json:"account_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Balance   int64     `json:"balance"`
	Sum       int64     `json:"sum"`
}
