package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the maximum age of a signed payload.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature          = errors.New("missing webhook signature")
	ErrInvalidHeader             = errors.New("malformed signature header")
	ErrInvalidSignature          = errors.New("webhook signature mismatch")
	ErrTimestampOutsideTolerance = errors.New("webhook timestamp outside tolerance")
	ErrMissingSecret             = errors.New("webhook secret not configured")
)

// VerifySignature checks a `t=<unix>,v1=<hex>` header against the HMAC-SHA256 of
// "<t>.<payload>". Any v1 entry may match, which covers secret rotation.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if header == "" {
		return ErrMissingSignature
	}

	timestamp, signatures, err := parseHeader(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return ErrTimestampOutsideTolerance
		}
	}

	expected := computeSignature(payload, timestamp, secret)
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// GenerateHeader builds a valid signature header. Used by tests and local tooling.
func GenerateHeader(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	sig := computeSignature(payload, ts, secret)
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(sig)
}

func computeSignature(payload []byte, timestamp int64, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return h.Sum(nil)
}

func parseHeader(header string) (int64, [][]byte, error) {
	var (
		timestamp  int64
		haveTS     bool
		signatures [][]byte
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, ErrInvalidHeader
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrInvalidHeader
			}
			timestamp, haveTS = ts, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if !haveTS {
		return 0, nil, ErrInvalidHeader
	}
	if len(signatures) == 0 {
		return 0, nil, ErrMissingSignature
	}
	return timestamp, signatures, nil
}
