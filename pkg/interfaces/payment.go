package interfaces

import "context"

// PaymentGateway issues refunds against the original payment. Invoked at
// most once per session termination, only when a refund is owed.
type PaymentGateway interface {
	Refund(ctx context.Context, paymentID string, amountCents int64) error
}

// RefundRetry is an out-of-band retry request for a failed refund.
type RefundRetry struct {
	RoomID         string `json:"room_id"`
	ConsultationID string `json:"consultation_id"`
	PaymentID      string `json:"payment_id"`
	AmountCents    int64  `json:"amount_cents"`
	Reason         string `json:"reason"`
}

// RefundQueue hands failed refunds to an external retry mechanism. A queue
// failure is logged, never propagated; session termination already happened.
type RefundQueue interface {
	EnqueueRefund(retry RefundRetry) error
}
