package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.stripe.com"

// ClientConfig holds Stripe API configuration.
type ClientConfig struct {
	SecretKey string
	BaseURL   string
}

// Client calls the Stripe REST API.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a Stripe API client.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CheckoutParams describes a one-item payment checkout.
type CheckoutParams struct {
	CustomerEmail      string
	ProductName        string
	ProductDescription string
	Currency           string
	UnitAmount         int64 // minor units
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]string
}

// CheckoutResult is the created session.
type CheckoutResult struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCheckoutSession creates a payment-mode checkout session with invoice creation enabled.
// Metadata is copied to the session and to the invoice.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutResult, error) {
	if c.config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key not configured")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	if p.CustomerEmail != "" {
		form.Set("customer_email", p.CustomerEmail)
	}
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", p.Currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.UnitAmount, 10))
	form.Set("line_items[0][price_data][product_data][name]", p.ProductName)
	if p.ProductDescription != "" {
		form.Set("line_items[0][price_data][product_data][description]", p.ProductDescription)
	}
	form.Set("invoice_creation[enabled]", "true")
	for k, v := range p.Metadata {
		form.Set("metadata["+k+"]", v)
		form.Set("invoice_creation[invoice_data][metadata]["+k+"]", v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.config.BaseURL, "/")+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("stripe returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}

	var out CheckoutResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
