package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	lastReq PaymentRequest
	result  PaymentResult
	err     error
}

func (f *fakeProvider) ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	f.lastOp = "process"
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentResult, error) {
	f.lastOp = "lookup"
	return f.result, f.err
}

func TestManagerProcessPaymentUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{result: PaymentResult{TransactionID: "pi_stripe", Status: StatusSuccess}}
	paypal := &fakeProvider{result: PaymentResult{TransactionID: "pp_1", Status: StatusSuccess}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"paypal": paypal,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, err := mgr.ProcessPayment(ctx, PaymentRequest{OrderID: "ord_1", Currency: "USD", PreferredProvider: "PayPal"})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}

	if result.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", result.Provider)
	}
	if paypal.lastOp != "process" {
		t.Fatalf("expected paypal provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{}
	paypal := &fakeProvider{result: PaymentResult{Status: StatusPending}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"paypal": paypal,
		},
		WithCurrencyRoutes(map[string]string{"jpy": "paypal"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, err := mgr.ProcessPayment(ctx, PaymentRequest{OrderID: "ord_1", Currency: "JPY"})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if result.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", result.Provider)
	}
	if paypal.lastOp != "process" {
		t.Fatalf("expected paypal provider to handle call")
	}
}

func TestManagerLookupFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{result: PaymentResult{Status: StatusSuccess}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, err := mgr.LookupPayment(ctx, LookupRequest{OrderID: "ord_1", Provider: "unknown"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stripe.lastOp != "lookup" {
		t.Fatalf("expected lookup to invoke default provider")
	}
	if result.Provider != "stripe" || result.Status != StatusSuccess {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestManagerDoesNotShareMetadata(t *testing.T) {
	stripe := &fakeProvider{}
	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	meta := map[string]string{"channel": "web"}
	if _, err := mgr.ProcessPayment(context.Background(), PaymentRequest{OrderID: "ord_1", Metadata: meta}); err != nil {
		t.Fatalf("process payment: %v", err)
	}
	stripe.lastReq.Metadata["channel"] = "changed"
	if meta["channel"] != "web" {
		t.Fatalf("expected caller metadata to stay untouched")
	}
}

func TestManagerPropagatesProviderError(t *testing.T) {
	boom := errors.New("psp down")
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{err: boom}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.ProcessPayment(context.Background(), PaymentRequest{OrderID: "ord_1"}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "paypal": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.ProcessPayment(ctx, PaymentRequest{OrderID: "ord_1", PreferredProvider: "unknown", Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

func TestStatusSettled(t *testing.T) {
	cases := map[Status]bool{
		StatusSuccess:        true,
		StatusFailed:         true,
		StatusPending:        false,
		StatusRequiresAction: false,
	}
	for status, want := range cases {
		if got := status.Settled(); got != want {
			t.Fatalf("%s.Settled() = %v, want %v", status, got, want)
		}
	}
}
