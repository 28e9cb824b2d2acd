package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRefund_Success(t *testing.T) {
	var got refundRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/refunds" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second, nil)
	if err := c.Refund(context.Background(), "pay-1", 2500); err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if got.PaymentID != "pay-1" || got.AmountCents != 2500 {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestRefund_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "payment already refunded", http.StatusConflict)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second, nil)
	err := c.Refund(context.Background(), "pay-1", 2500)
	if !errors.Is(err, ErrRefundRejected) {
		t.Errorf("expected ErrRefundRejected, got %v", err)
	}
}

func TestRefund_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second, nil)
	err := c.Refund(context.Background(), "pay-1", 2500)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrRefundRejected) {
		t.Error("5xx must not map to ErrRefundRejected")
	}
}

func TestRefund_TransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, nil)
	if err := c.Refund(context.Background(), "pay-1", 2500); err == nil {
		t.Fatal("expected transport error")
	}
}
