// Package payment wraps the external payment provider's confirm, cancel and
// status-query calls with idempotency keys and a per-order concurrency guard.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/savora/go-order-lifecycle/internal/retry"
	"github.com/savora/go-order-lifecycle/internal/transport"
)

// CardInfo is the card summary the provider returns on approval.
type CardInfo struct {
	Company string `json:"company"`
	Number  string `json:"number"` // masked
}

// ConfirmResult is the normalized outcome of a successful confirmation.
type ConfirmResult struct {
	PaymentKey string          `json:"payment_key"`
	OrderID    string          `json:"order_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	ApprovedAt time.Time       `json:"approved_at"`
	Card       *CardInfo       `json:"card,omitempty"`
}

// StatusResult is the provider's view of a payment.
type StatusResult struct {
	PaymentKey string    `json:"payment_key"`
	Status     string    `json:"status"`
	ApprovedAt time.Time `json:"approved_at"`
}

// CancelResult is the normalized outcome of a cancellation.
type CancelResult struct {
	PaymentKey string    `json:"payment_key"`
	Status     string    `json:"status"`
	CanceledAt time.Time `json:"canceled_at"`
	Reason     string    `json:"reason"`
}

// confirmRequest is the provider wire payload. The idempotency key makes the
// confirm call safe to retry.
type confirmRequest struct {
	PaymentKey     string `json:"payment_key" validate:"required"`
	OrderID        string `json:"order_id" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

// Client drives the provider confirmation flow. Simulate short-circuits all
// network calls with a delayed success, for local development without
// provider credentials.
type Client struct {
	t        transport.Doer
	validate *validator.Validate
	attempts *attemptRegistry
	retry    retry.Options
	simulate bool
	nowFunc  func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithSimulatedProvider makes every confirmation succeed locally after a
// short delay instead of calling the provider.
func WithSimulatedProvider() Option {
	return func(c *Client) { c.simulate = true }
}

// WithRetryOptions overrides the retry schedule for provider calls.
func WithRetryOptions(opts retry.Options) Option {
	return func(c *Client) { c.retry = opts }
}

// NewClient returns a Client issuing provider calls through t.
func NewClient(t transport.Doer, opts ...Option) *Client {
	c := &Client{
		t:        t,
		validate: validator.New(),
		attempts: newAttemptRegistry(),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Confirm executes the provider confirmation for orderID. Local validation
// failures never reach the network and never consume retry budget. At most
// one confirmation per order may be in flight; a second call while the first
// is unresolved fails fast with ErrConcurrentPayment. The attempt record is
// always left terminal (success or failed) before an error is re-raised.
func (c *Client) Confirm(ctx context.Context, paymentKey, orderID string, amount decimal.Decimal) (ConfirmResult, error) {
	if paymentKey == "" {
		return ConfirmResult{}, fmt.Errorf("confirm: payment key is required")
	}
	if orderID == "" {
		return ConfirmResult{}, fmt.Errorf("confirm: order id is required")
	}
	if !amount.IsPositive() {
		return ConfirmResult{}, fmt.Errorf("confirm: amount must be positive, got %s", amount)
	}

	// sweep before the in-flight check, so an attempt past its TTL can never
	// hold the order locked on the very call that would otherwise clear it
	c.attempts.sweep()

	attempt, err := c.attempts.begin(orderID)
	if err != nil {
		return ConfirmResult{}, err
	}

	req := confirmRequest{
		PaymentKey:     paymentKey,
		OrderID:        orderID,
		Amount:         amount.String(),
		IdempotencyKey: attempt.IdempotencyKey,
	}
	if err := c.validate.Struct(req); err != nil {
		c.attempts.finish(orderID, AttemptFailed)
		return ConfirmResult{}, fmt.Errorf("confirm: %w", err)
	}

	result, err := c.issueConfirm(ctx, req, amount)
	if err != nil {
		c.attempts.finish(orderID, AttemptFailed)
		return ConfirmResult{}, err
	}

	c.attempts.finish(orderID, AttemptSuccess)
	return result, nil
}

func (c *Client) issueConfirm(ctx context.Context, req confirmRequest, amount decimal.Decimal) (ConfirmResult, error) {
	if c.simulate {
		log.Printf("[payment] simulated confirm for order=%s", req.OrderID)
		select {
		case <-ctx.Done():
			return ConfirmResult{}, ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
		return ConfirmResult{
			PaymentKey: req.PaymentKey,
			OrderID:    req.OrderID,
			Amount:     amount,
			Status:     "DONE",
			ApprovedAt: c.nowFunc(),
			Card:       &CardInfo{Company: "SimBank", Number: "****-****-****-0000"},
		}, nil
	}

	// the idempotency key in the payload makes the request safe to retry
	result, err := retry.DoValue(ctx, func(ctx context.Context) (ConfirmResult, error) {
		var out ConfirmResult
		if err := c.t.Post(ctx, "/v1/payments/confirm", req, &out); err != nil {
			return ConfirmResult{}, err
		}
		return out, nil
	}, c.retry)
	if err != nil {
		return ConfirmResult{}, c.normalizeError("confirm order "+req.OrderID, err)
	}
	return result, nil
}

// normalizeError converts a provider 4xx rejection into a categorized
// ProviderError; everything else passes through wrapped with op, the calling
// operation's description.
func (c *Client) normalizeError(op string, err error) error {
	var te *transport.Error
	if errors.As(err, &te) && te.Type == transport.TypeClient {
		return &ProviderError{
			Code:     te.Code,
			Category: Categorize(te.Code),
			Message:  te.Message,
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetStatus queries the provider for the payment's current status.
func (c *Client) GetStatus(ctx context.Context, paymentKey string) (StatusResult, error) {
	if paymentKey == "" {
		return StatusResult{}, fmt.Errorf("get status: payment key is required")
	}
	if c.simulate {
		return StatusResult{PaymentKey: paymentKey, Status: "DONE", ApprovedAt: c.nowFunc()}, nil
	}
	return retry.DoValue(ctx, func(ctx context.Context) (StatusResult, error) {
		var out StatusResult
		if err := c.t.Get(ctx, "/v1/payments/"+paymentKey, &out); err != nil {
			return StatusResult{}, err
		}
		return out, nil
	}, c.retry)
}

// Cancel asks the provider to cancel the payment.
func (c *Client) Cancel(ctx context.Context, paymentKey, reason string) (CancelResult, error) {
	if paymentKey == "" {
		return CancelResult{}, fmt.Errorf("cancel: payment key is required")
	}
	if c.simulate {
		return CancelResult{PaymentKey: paymentKey, Status: "CANCELED", CanceledAt: c.nowFunc(), Reason: reason}, nil
	}

	var out CancelResult
	body := map[string]string{"reason": reason}
	// cancellation is not idempotent on the provider side, so no retry here
	if err := c.t.Post(ctx, "/v1/payments/"+paymentKey+"/cancel", body, &out); err != nil {
		return CancelResult{}, c.normalizeError("cancel payment "+paymentKey, err)
	}
	return out, nil
}

// AttemptFor exposes the current attempt record for an order, mainly for
// diagnostics and tests.
func (c *Client) AttemptFor(orderID string) (Attempt, bool) {
	return c.attempts.get(orderID)
}
