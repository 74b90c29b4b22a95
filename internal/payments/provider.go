package payments

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Status enumerates the normalised payment outcomes shared across providers.
type Status string

const (
	// StatusSuccess indicates the PSP authorised or captured the payment.
	StatusSuccess Status = "SUCCESS"
	// StatusFailed indicates the PSP declined the payment and no further action is possible.
	StatusFailed Status = "FAILED"
	// StatusPending indicates the PSP has not settled the payment yet.
	StatusPending Status = "PENDING"
	// StatusRequiresAction indicates the customer must complete an extra step such as 3-D Secure.
	StatusRequiresAction Status = "REQUIRES_ACTION"
)

// Settled reports whether the status is final.
func (s Status) Settled() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CustomerDetails identifies the payer towards the PSP.
type CustomerDetails struct {
	CustomerID string
	Email      string
	Name       string
	Phone      string
}

// PaymentRequest charges the final total of a persisted order. Exactly one of
// PaymentMethodID and PaymentToken is expected.
type PaymentRequest struct {
	OrderID           string
	MerchantID        string
	Amount            int64
	Currency          string
	Customer          CustomerDetails
	PaymentMethodID   string
	PaymentToken      string
	PreferredProvider string
	IdempotencyKey    string
	Metadata          map[string]string
}

// PaymentResult is the normalised PSP response. Declines are results, not errors.
type PaymentResult struct {
	Provider      string
	TransactionID string
	Status        Status
	ErrorMessage  string
	ClientSecret  string
}

// LookupRequest asks the PSP for the current state of an earlier attempt.
// TransactionID may be empty when the attempt timed out before the PSP
// answered; providers then search by order id.
type LookupRequest struct {
	OrderID       string
	TransactionID string
	Provider      string
	Currency      string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentResult, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(preferred, currency string) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(preferred)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// ProcessPayment delegates to the provider resolved from the request's
// preferred provider and currency.
func (m *Manager) ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	key, provider, err := m.resolveProvider(req.PreferredProvider, req.Currency)
	if err != nil {
		return PaymentResult{}, err
	}
	req.Metadata = maps.Clone(req.Metadata)
	result, err := provider.ProcessPayment(ctx, req)
	if err != nil {
		return PaymentResult{}, err
	}
	result.Provider = key
	return result, nil
}

// LookupPayment delegates to the provider that handled the original attempt.
func (m *Manager) LookupPayment(ctx context.Context, req LookupRequest) (PaymentResult, error) {
	key, provider, err := m.resolveProvider(req.Provider, req.Currency)
	if err != nil {
		return PaymentResult{}, err
	}
	result, err := provider.LookupPayment(ctx, req)
	if err != nil {
		return PaymentResult{}, err
	}
	result.Provider = key
	return result, nil
}
