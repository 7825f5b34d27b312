package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Client wraps stripe-go for the hold/capture/cancel settlement flow: a hold
// is placed when a request is created, captured on completion, released on
// cancellation.
type Client struct {
	enabled bool
}

// NewClient configures the stripe SDK. An empty key yields a disabled client
// whose operations are no-ops, so settlement can be switched off locally.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return &Client{}
	}
	stripe.Key = apiKey
	return &Client{enabled: true}
}

func (c *Client) Enabled() bool { return c.enabled }

// Hold creates a manual-capture PaymentIntent and returns its id.
func (c *Client) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	if !c.enabled {
		return "", nil
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (c *Client) Capture(ctx context.Context, paymentRef string) error {
	if !c.enabled || paymentRef == "" {
		return nil
	}
	_, err := paymentintent.Capture(paymentRef, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (c *Client) Cancel(ctx context.Context, paymentRef string) error {
	if !c.enabled || paymentRef == "" {
		return nil
	}
	_, err := paymentintent.Cancel(paymentRef, nil)
	return err
}
