package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/domain/payment"
	"github.com/eficia/eficia-api/internal/middleware"
	"github.com/eficia/eficia-api/internal/pkg/idempotency"
	"github.com/eficia/eficia-api/internal/pkg/stripe"
	"github.com/eficia/eficia-api/internal/store/memory"
)

const (
	webhookSecret = "whsec_test"
	catalogTOML   = `
currency = "eur"

[[pack]]
id = "starter"
name = "Starter"
credits = 200
price = "69.00"

[[pack]]
id = "pro"
name = "Professional"
credits = 500
price = "149.00"
popular = true

[[pack]]
id = "legacy"
name = "Legacy"
credits = 50
price = "19.90"
disabled = true
`
)

type checkoutMock struct {
	mock.Mock
}

func (m *checkoutMock) CreateCheckoutSession(ctx context.Context, p stripe.CheckoutParams) (*stripe.CheckoutResult, error) {
	args := m.Called(ctx, p)
	if res, ok := args.Get(0).(*stripe.CheckoutResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

type fixture struct {
	ledger   *ledger.Service
	guard    *idempotency.MemoryGuard
	checkout *checkoutMock
	service  *payment.Service
	handler  *payment.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := payment.ParseCatalog(catalogTOML)
	require.NoError(t, err)

	db := memory.New()
	f := &fixture{
		ledger:   ledger.NewService(db.Ledger(), 3),
		guard:    idempotency.NewMemoryGuard(),
		checkout: &checkoutMock{},
	}
	f.service = payment.NewService(f.ledger, catalog, f.guard, f.checkout, payment.Config{
		WebhookSecret: webhookSecret,
		SuccessURL:    "http://localhost:5173/app?payment=success",
		CancelURL:     "http://localhost:5173/pricing?payment=cancel",
	})
	f.handler = payment.NewHandler(f.service)
	return f
}

func sessionEvent(t *testing.T, eventType, paymentIntent string, metadata map[string]string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":   "evt_" + uuid.NewString(),
		"type": eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_" + paymentIntent,
				"payment_intent": paymentIntent,
				"payment_status": "paid",
				"metadata":       metadata,
			},
		},
	})
	require.NoError(t, err)
	return body
}

func sign(payload []byte) string {
	return stripe.GenerateHeader(payload, webhookSecret, time.Now())
}

func TestHandleEvent_CreditsOncePerPaymentIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	payload := sessionEvent(t, stripe.EventCheckoutSessionCompleted, "pi_1", map[string]string{
		"user_id": owner.String(), "pack_id": "starter", "credits": "200",
	})

	res, err := f.service.HandleEvent(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeProcessed, res.Outcome)

	res, err = f.service.HandleEvent(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeDuplicate, res.Outcome)

	acc, err := f.ledger.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(200), acc.Balance)

	kind := ledger.KindPurchase
	txs, err := f.ledger.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: &owner, Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestHandleEvent_LedgerDedupesWhenGuardIsCold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	payload := sessionEvent(t, stripe.EventCheckoutSessionCompleted, "pi_2", map[string]string{
		"user_id": owner.String(), "pack_id": "pro", "credits": "500",
	})

	_, err := f.service.HandleEvent(ctx, payload, sign(payload))
	require.NoError(t, err)

	// A fresh guard, as after a Redis flush.
	cold := payment.NewService(f.ledger, mustCatalog(t), idempotency.Nop{}, nil, payment.Config{WebhookSecret: webhookSecret})
	res, err := cold.HandleEvent(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeDuplicate, res.Outcome)

	acc, err := f.ledger.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(500), acc.Balance)
}

func TestHandleEvent_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	payload := sessionEvent(t, "payment_intent.created", "pi_3", nil)

	res, err := f.service.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeIgnored, res.Outcome)
}

func TestHandleEvent_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	payload := sessionEvent(t, stripe.EventCheckoutSessionCompleted, "pi_4", map[string]string{
		"user_id": owner.String(), "credits": "200",
	})

	_, err := f.service.HandleEvent(context.Background(), payload, stripe.GenerateHeader(payload, "whsec_wrong", time.Now()))
	require.ErrorIs(t, err, stripe.ErrInvalidSignature)

	_, err = f.ledger.GetAccount(context.Background(), owner)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestHandleEvent_MissingMetadata(t *testing.T) {
	f := newFixture(t)
	payload := sessionEvent(t, stripe.EventCheckoutSessionCompleted, "pi_5", map[string]string{"pack_id": "starter"})

	_, err := f.service.HandleEvent(context.Background(), payload, sign(payload))
	assert.ErrorIs(t, err, payment.ErrMissingMetadata)
}

func TestWebhookHandler_StatusCodes(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	good := sessionEvent(t, stripe.EventCheckoutSessionCompleted, "pi_6", map[string]string{
		"user_id": owner.String(), "pack_id": "starter", "credits": "200",
	})
	incomplete := sessionEvent(t, stripe.EventCheckoutSessionCompleted, "pi_7", map[string]string{})

	cases := []struct {
		name    string
		payload []byte
		header  string
		want    int
	}{
		{"valid", good, sign(good), http.StatusOK},
		{"redelivery", good, sign(good), http.StatusOK},
		{"bad signature", good, "t=1,v1=00", http.StatusBadRequest},
		{"no signature", good, "", http.StatusBadRequest},
		{"incomplete metadata", incomplete, sign(incomplete), http.StatusOK},
	}

	router := f.handler.WebhookRoutes()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/stripe", strings.NewReader(string(tc.payload)))
			if tc.header != "" {
				req.Header.Set(stripe.SignatureHeader, tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}

	acc, err := f.ledger.GetAccount(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(200), acc.Balance)
}

func TestCreateCheckout(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()

	f.checkout.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p stripe.CheckoutParams) bool {
		return p.UnitAmount == 14900 &&
			p.Currency == "eur" &&
			p.Metadata["credits"] == "500" &&
			p.Metadata["pack_id"] == "pro" &&
			p.Metadata["user_id"] == owner.String()
	})).Return(&stripe.CheckoutResult{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}, nil).Once()

	out, err := f.service.CreateCheckout(context.Background(), owner, "ana@example.com", "pro")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", out.SessionID)
	f.checkout.AssertExpectations(t)

	_, err = f.service.CreateCheckout(context.Background(), owner, "ana@example.com", "legacy")
	assert.ErrorIs(t, err, payment.ErrUnknownPack)
}

func TestCreateCheckout_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.checkout.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"pack_id":"starter"}`))
	req = req.WithContext(middleware.WithIdentity(req.Context(), middleware.Identity{UserID: uuid.New(), Email: "a@b.c"}))
	w := httptest.NewRecorder()

	passthrough := func(next http.Handler) http.Handler { return next }
	f.handler.Routes(passthrough).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCatalog(t *testing.T) {
	c := mustCatalog(t)

	packs := c.List()
	require.Len(t, packs, 2)
	assert.Equal(t, "starter", packs[0].ID)
	assert.Equal(t, "0.298", packs[1].PricePerCredit().String())
	assert.Equal(t, int64(6900), packs[0].UnitAmount())

	_, ok := c.Get("legacy")
	assert.False(t, ok)
	_, ok = c.Lookup("legacy")
	assert.True(t, ok)

	_, err := payment.ParseCatalog("[[pack]]\nid = \"x\"\ncredits = 0\nprice = \"1\"\n")
	assert.ErrorIs(t, err, payment.ErrInvalidCatalog)
}

func mustCatalog(t *testing.T) *payment.Catalog {
	t.Helper()
	c, err := payment.ParseCatalog(catalogTOML)
	require.NoError(t, err)
	return c
}
