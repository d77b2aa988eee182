package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/pkg/idempotency"
	"github.com/eficia/eficia-api/internal/pkg/metrics"
	"github.com/eficia/eficia-api/internal/pkg/stripe"
)

// Purchaser credits a completed purchase exactly once per idempotency key.
type Purchaser interface {
	Purchase(ctx context.Context, req ledger.PurchaseRequest) (*ledger.Transaction, bool, error)
}

// CheckoutCreator opens hosted checkout sessions at the gateway.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, p stripe.CheckoutParams) (*stripe.CheckoutResult, error)
}

// Config holds gateway settings.
type Config struct {
	WebhookSecret    string
	WebhookTolerance time.Duration
	SuccessURL       string
	CancelURL        string
}

// Service adapts gateway events and checkout requests to the ledger.
type Service struct {
	ledger   Purchaser
	catalog  *Catalog
	guard    idempotency.Guard
	checkout CheckoutCreator
	config   Config
	now      func() time.Time
}

// NewService creates the payment service. A nil guard disables the fast path.
func NewService(purchaser Purchaser, catalog *Catalog, guard idempotency.Guard, checkout CheckoutCreator, config Config) *Service {
	if guard == nil {
		guard = idempotency.Nop{}
	}
	if config.WebhookTolerance <= 0 {
		config.WebhookTolerance = stripe.DefaultTolerance
	}
	return &Service{
		ledger:   purchaser,
		catalog:  catalog,
		guard:    guard,
		checkout: checkout,
		config:   config,
		now:      time.Now,
	}
}

// Packs returns the active catalog.
func (s *Service) Packs() []PackResponse {
	packs := s.catalog.List()
	out := make([]PackResponse, 0, len(packs))
	for _, p := range packs {
		out = append(out, packResponse(p))
	}
	return out
}

// CreateCheckout opens a checkout session for a pack. The session metadata
// carries what the webhook later needs to credit the buyer.
func (s *Service) CreateCheckout(ctx context.Context, ownerID uuid.UUID, email, packID string) (*CheckoutResponse, error) {
	pack, ok := s.catalog.Get(packID)
	if !ok {
		return nil, ErrUnknownPack
	}
	if s.checkout == nil {
		return nil, ErrCheckoutUnavailable
	}

	credits := strconv.FormatInt(pack.Credits, 10)
	session, err := s.checkout.CreateCheckoutSession(ctx, stripe.CheckoutParams{
		CustomerEmail:      email,
		ProductName:        pack.Name,
		ProductDescription: credits + " credits",
		Currency:           pack.Currency,
		UnitAmount:         pack.UnitAmount(),
		SuccessURL:         s.config.SuccessURL,
		CancelURL:          s.config.CancelURL,
		Metadata: map[string]string{
			"pack_id": pack.ID,
			"credits": credits,
			"user_id": ownerID.String(),
		},
	})
	if err != nil {
		log.Error().Err(err).Str("pack_id", pack.ID).Msg("Checkout session creation failed")
		return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	log.Info().
		Str("owner_id", ownerID.String()).
		Str("pack_id", pack.ID).
		Str("session_id", session.ID).
		Msg("Checkout session created")

	return &CheckoutResponse{SessionID: session.ID, URL: session.URL}, nil
}

// HandleEvent verifies a webhook delivery and credits completed checkouts.
// Signature errors come from the stripe package; ledger errors are returned
// unchanged so the gateway retries the delivery.
func (s *Service) HandleEvent(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if err := stripe.VerifySignature(payload, signature, s.config.WebhookSecret, s.config.WebhookTolerance, s.now()); err != nil {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		return nil, err
	}

	event, err := stripe.ParseEvent(payload)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		return nil, err
	}

	result := &WebhookResult{EventID: event.ID, EventType: event.Type}
	if event.Type != stripe.EventCheckoutSessionCompleted {
		result.Outcome = OutcomeIgnored
		result.Reason = "unhandled event type"
		metrics.WebhookEvents.WithLabelValues(string(OutcomeIgnored)).Inc()
		return result, nil
	}

	session, err := event.CheckoutSession()
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if session.PaymentStatus != "" && session.PaymentStatus != "paid" {
		result.Outcome = OutcomeIgnored
		result.Reason = "payment not settled"
		metrics.WebhookEvents.WithLabelValues(string(OutcomeIgnored)).Inc()
		return result, nil
	}

	req, err := s.purchaseRequest(session)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		log.Error().Err(err).Str("event_id", event.ID).Str("session_id", session.ID).Msg("Checkout session not creditable")
		return nil, err
	}

	if seen, err := s.guard.Seen(ctx, req.IdempotencyKey); err != nil {
		log.Warn().Err(err).Msg("Idempotency guard unavailable, falling back to ledger")
	} else if seen {
		result.Outcome = OutcomeDuplicate
		metrics.WebhookEvents.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return result, nil
	}

	tx, duplicate, err := s.ledger.Purchase(ctx, req)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("failed").Inc()
		return nil, err
	}

	if err := s.guard.Remember(ctx, req.IdempotencyKey); err != nil {
		log.Warn().Err(err).Str("key", req.IdempotencyKey).Msg("Failed to remember processed payment")
	}

	result.TransactionID = tx.ID.String()
	result.Outcome = OutcomeProcessed
	if duplicate {
		result.Outcome = OutcomeDuplicate
	}
	metrics.WebhookEvents.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}

func (s *Service) purchaseRequest(session *stripe.CheckoutSession) (ledger.PurchaseRequest, error) {
	md := session.Metadata
	ownerID, err := uuid.Parse(strings.TrimSpace(md["user_id"]))
	if err != nil {
		return ledger.PurchaseRequest{}, fmt.Errorf("%w: user_id", ErrMissingMetadata)
	}
	credits, err := strconv.ParseInt(strings.TrimSpace(md["credits"]), 10, 64)
	if err != nil || credits <= 0 {
		return ledger.PurchaseRequest{}, fmt.Errorf("%w: credits", ErrMissingMetadata)
	}

	packID := strings.TrimSpace(md["pack_id"])
	if pack, ok := s.catalog.Lookup(packID); ok && pack.Credits != credits {
		log.Warn().
			Str("pack_id", packID).
			Int64("pack_credits", pack.Credits).
			Int64("session_credits", credits).
			Msg("Session credits differ from catalog, crediting session amount")
	}

	key := session.PaymentIntent
	if key == "" {
		key = session.ID
	}
	if key == "" {
		return ledger.PurchaseRequest{}, fmt.Errorf("%w: session id", ErrMissingMetadata)
	}

	return ledger.PurchaseRequest{
		OwnerID:        ownerID,
		PackID:         packID,
		Credits:        credits,
		IdempotencyKey: key,
	}, nil
}
