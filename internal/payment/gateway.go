package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRefundRejected marks a refund the gateway refused outright; retrying
// with the same request will not help.
var ErrRefundRejected = errors.New("refund rejected by payment gateway")

// Client calls the external payment/refund gateway over HTTP. Refunds are
// best-effort from the session core's point of view: failures here never
// block or roll back a session termination.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

// NewClient creates a payment gateway client.
func NewClient(baseURL string, timeout time.Duration, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type refundRequest struct {
	PaymentID   string `json:"payment_id"`
	AmountCents int64  `json:"amount_cents"`
}

// Refund issues a refund against the original payment. 4xx responses map to
// ErrRefundRejected; 5xx and transport errors are returned as retryable
// failures.
func (c *Client) Refund(ctx context.Context, paymentID string, amountCents int64) error {
	body, err := json.Marshal(refundRequest{PaymentID: paymentID, AmountCents: amountCents})
	if err != nil {
		return fmt.Errorf("failed to encode refund request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach payment gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.log.WithFields(logrus.Fields{"payment_id": paymentID, "amount_cents": amountCents}).Info("refund issued")
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: status %d: %s", ErrRefundRejected, resp.StatusCode, string(detail))
	}
	return fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(detail))
}
