package payment

import "github.com/shopspring/decimal"

// Outcome classifies a processed webhook delivery.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// WebhookResult is returned to the gateway as acknowledgement.
type WebhookResult struct {
	Outcome       Outcome `json:"outcome"`
	EventID       string  `json:"event_id,omitempty"`
	EventType     string  `json:"event_type,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// PackResponse is the public representation of a pack.
type PackResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Credits        int64           `json:"credits"`
	Price          decimal.Decimal `json:"price"`
	PricePerCredit decimal.Decimal `json:"price_per_credit"`
	Currency       string          `json:"currency"`
	Popular        bool            `json:"is_popular"`
}

func packResponse(p Pack) PackResponse {
	return PackResponse{
		ID:             p.ID,
		Name:           p.Name,
		Credits:        p.Credits,
		Price:          p.Price,
		PricePerCredit: p.PricePerCredit(),
		Currency:       p.Currency,
		Popular:        p.Popular,
	}
}

// CheckoutRequest is the body of POST /checkout.
type CheckoutRequest struct {
	PackID string `json:"pack_id" validate:"required"`
}

// CheckoutResponse carries the hosted checkout URL.
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}
