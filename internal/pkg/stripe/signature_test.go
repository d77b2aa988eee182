package stripe

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "whsec_test"

func TestVerifySignature_Valid(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Unix(1700000000, 0)
	header := GenerateHeader(payload, testSecret, now)

	if err := VerifySignature(payload, header, testSecret, DefaultTolerance, now.Add(time.Minute)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifySignature_RotatedSecret(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Unix(1700000000, 0)
	good := GenerateHeader(payload, testSecret, now)
	old := GenerateHeader(payload, "whsec_old", now)
	header := old + "," + good[strings.Index(good, "v1="):]

	if err := VerifySignature(payload, header, testSecret, DefaultTolerance, now); err != nil {
		t.Fatalf("expected one matching v1 entry to pass, got %v", err)
	}
}

func TestVerifySignature_Rejects(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := GenerateHeader(payload, testSecret, now)

	cases := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		now     time.Time
		want    error
	}{
		{"tampered payload", []byte(`{"id":"evt_2"}`), header, testSecret, now, ErrInvalidSignature},
		{"wrong secret", payload, header, "whsec_other", now, ErrInvalidSignature},
		{"stale", payload, header, testSecret, now.Add(6 * time.Minute), ErrTimestampOutsideTolerance},
		{"future", payload, header, testSecret, now.Add(-6 * time.Minute), ErrTimestampOutsideTolerance},
		{"empty header", payload, "", testSecret, now, ErrMissingSignature},
		{"no v1", payload, "t=1700000000", testSecret, now, ErrMissingSignature},
		{"no timestamp", payload, "v1=abcd", testSecret, now, ErrInvalidHeader},
		{"garbage", payload, "nonsense", testSecret, now, ErrInvalidHeader},
		{"no secret", payload, header, "", now, ErrMissingSecret},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature(tc.payload, tc.header, tc.secret, DefaultTolerance, tc.now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestParseEvent_CheckoutSession(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"payment_intent": "pi_1",
			"payment_status": "paid",
			"metadata": {"user_id": "u", "pack_id": "starter", "credits": "200"}
		}}
	}`)

	ev, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Type != EventCheckoutSessionCompleted {
		t.Fatalf("unexpected type %q", ev.Type)
	}

	session, err := ev.CheckoutSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session.PaymentIntent != "pi_1" || session.Metadata["credits"] != "200" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	if _, err := ParseEvent([]byte(`not json`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := ParseEvent([]byte(`{"id":"evt"}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for missing type, got %v", err)
	}
}
