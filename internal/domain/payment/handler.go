package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/middleware"
	"github.com/eficia/eficia-api/internal/pkg/errorhandler"
	"github.com/eficia/eficia-api/internal/pkg/logger"
	"github.com/eficia/eficia-api/internal/pkg/response"
	"github.com/eficia/eficia-api/internal/pkg/stripe"
	"github.com/eficia/eficia-api/internal/pkg/validator"
)

const maxWebhookBody = 64 << 10

// Handler handles payment HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListPacks handles GET /packs
// @Summary Credit packs
// @Description Returns the active credit packs ordered by size
// @Tags Payment
// @Produce json
// @Success 200 {object} response.Response{data=[]PackResponse}
// @Router /packs [get]
func (h *Handler) ListPacks(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.service.Packs())
}

// CreateCheckout handles POST /checkout
// @Summary Start a pack purchase
// @Description Creates a hosted checkout session and returns its URL
// @Tags Payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CheckoutRequest true "Pack to buy"
// @Success 200 {object} response.Response{data=CheckoutResponse}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /checkout [post]
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req CheckoutRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	out, err := h.service.CreateCheckout(r.Context(), identity.UserID, identity.Email, req.PackID)
	switch {
	case err == nil:
		response.OK(w, out)
	case errors.Is(err, ErrUnknownPack):
		response.NotFound(w, "Credit pack not found or inactive")
	case errors.Is(err, ErrCheckoutUnavailable):
		errorhandler.HandleError(r.Context(), w, http.StatusBadGateway, "CHECKOUT_UNAVAILABLE", "Payment provider unavailable", err)
	default:
		errorhandler.HandleInternal(r.Context(), w, err)
	}
}

// Webhook handles POST /webhooks/stripe
// @Summary Stripe webhook
// @Description Verifies the signature and credits completed checkout sessions once per payment
// @Tags Payment Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "t=<unix>,v1=<hex>"
// @Success 200 {object} response.Response{data=WebhookResult}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /webhooks/stripe [post]
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.PayloadTooLarge(w, "Webhook body too large")
		return
	}

	result, err := h.service.HandleEvent(r.Context(), payload, r.Header.Get(stripe.SignatureHeader))
	switch {
	case err == nil:
		response.OK(w, result)

	case errors.Is(err, stripe.ErrMissingSecret):
		errorhandler.HandleInternal(r.Context(), w, err)

	case errors.Is(err, stripe.ErrMissingSignature),
		errors.Is(err, stripe.ErrInvalidHeader),
		errors.Is(err, stripe.ErrInvalidSignature),
		errors.Is(err, stripe.ErrTimestampOutsideTolerance):
		errorhandler.HandleError(r.Context(), w, http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature verification failed", err)

	case errors.Is(err, stripe.ErrInvalidPayload):
		errorhandler.HandleError(r.Context(), w, http.StatusBadRequest, "INVALID_PAYLOAD", "Invalid webhook payload", err)

	case errors.Is(err, ErrMissingMetadata), errors.Is(err, ledger.ErrIdempotencyConflict):
		// Redelivery cannot fix these, acknowledge so the gateway stops retrying.
		logger.FromContext(r.Context()).Error().Err(err).Msg("Webhook acknowledged without crediting")
		response.OK(w, &WebhookResult{Outcome: OutcomeIgnored, Reason: err.Error()})

	default:
		errorhandler.HandleInternal(r.Context(), w, err)
	}
}

// Routes returns the user facing payment router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/packs", h.ListPacks)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/checkout", h.CreateCheckout)
	})

	return r
}

// WebhookRoutes returns webhook router (no auth, but signature verification)
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.Webhook)
	return r
}
