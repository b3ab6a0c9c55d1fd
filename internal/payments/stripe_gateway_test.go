package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"

	"github.com/carepoint-rx/api/internal/services"
)

type fakeIntents struct {
	last   *stripe.PaymentIntentParams
	intent *stripe.PaymentIntent
	err    error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.last = params
	return f.intent, f.err
}

func TestStripeGatewayCreatesIntentInMinorUnits(t *testing.T) {
	fake := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123", Amount: 105050, Currency: "inr"}}
	gateway, err := NewStripeGateway(StripeGatewayConfig{AccountID: "acct_1", intents: fake})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	ref, err := gateway.CreatePayment(context.Background(), services.PaymentRequest{
		OrderID:        "ord_1",
		OrderNumber:    "RX-2025-000001",
		PatientRef:     "patient-1",
		Amount:         decimal.RequireFromString("1050.50"),
		Currency:       "INR",
		IdempotencyKey: "ord_1:confirm",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if ref != "pi_123" {
		t.Fatalf("expected intent id as reference, got %s", ref)
	}
	if fake.last == nil || *fake.last.Amount != 105050 || *fake.last.Currency != "inr" {
		t.Fatalf("unexpected params %+v", fake.last)
	}
	if fake.last.Metadata["orderId"] != "ord_1" {
		t.Fatalf("expected order metadata, got %v", fake.last.Metadata)
	}
	if fake.last.IdempotencyKey == nil || *fake.last.IdempotencyKey != "ord_1:confirm" {
		t.Fatalf("expected idempotency key to be forwarded")
	}
	if fake.last.StripeAccount == nil || *fake.last.StripeAccount != "acct_1" {
		t.Fatalf("expected connected account header")
	}
}

func TestStripeGatewayWrapsErrors(t *testing.T) {
	fake := &fakeIntents{err: errors.New("card_declined")}
	gateway, err := NewStripeGateway(StripeGatewayConfig{intents: fake})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	_, err = gateway.CreatePayment(context.Background(), services.PaymentRequest{OrderID: "ord_1", Amount: decimal.NewFromInt(10), Currency: "INR"})
	if err == nil || !errors.Is(err, fake.err) {
		t.Fatalf("expected wrapped gateway error, got %v", err)
	}

	if _, err := gateway.CreatePayment(context.Background(), services.PaymentRequest{Amount: decimal.Zero}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	if _, err := NewStripeGateway(StripeGatewayConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
