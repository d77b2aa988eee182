// Package stripe verifies and decodes Stripe webhook deliveries.
package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventCheckoutSessionCompleted is the only event type that grants credits.
const EventCheckoutSessionCompleted = "checkout.session.completed"

var ErrInvalidPayload = errors.New("invalid webhook payload")

// Event is the envelope of a webhook delivery.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSession holds the checkout session fields the credits flow reads.
type CheckoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// ParseEvent decodes the event envelope.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}
	return &ev, nil
}

// CheckoutSession decodes data.object as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &s, nil
}
