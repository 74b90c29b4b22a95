package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
)

var (
	// ErrSavedMethodExpired marks a card whose expiry month has passed.
	ErrSavedMethodExpired = errors.New("payments: saved payment method has expired")
	// ErrSavedMethodDetached marks a method no longer attached to a PSP customer.
	// Stripe refuses to reuse such a method off-session.
	ErrSavedMethodDetached = errors.New("payments: saved payment method is detached")
)

// SavedMethod is the PSP's current view of a stored payment instrument.
type SavedMethod struct {
	Token      string
	Brand      string
	Last4      string
	ExpMonth   int
	ExpYear    int
	CustomerID string
}

// Expired reports whether a card expiry lies before the month of now.
// Instruments without an expiry never expire.
func (m SavedMethod) Expired(now time.Time) bool {
	if m.ExpYear == 0 || m.ExpMonth == 0 {
		return false
	}
	now = now.UTC()
	if m.ExpYear != now.Year() {
		return m.ExpYear < now.Year()
	}
	return m.ExpMonth < int(now.Month())
}

// Chargeable returns nil when the method can back a one-click purchase at now.
func (m SavedMethod) Chargeable(now time.Time) error {
	if m.Expired(now) {
		return ErrSavedMethodExpired
	}
	if m.CustomerID == "" {
		return ErrSavedMethodDetached
	}
	return nil
}

// SavedMethod loads a stored payment method on the provider's Stripe account.
func (p *StripeProvider) SavedMethod(ctx context.Context, token string) (SavedMethod, error) {
	if p == nil {
		return SavedMethod{}, errors.New("stripe: provider is nil")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return SavedMethod{}, errors.New("stripe: payment method token is required")
	}

	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	pm, err := p.api.paymentMethods.Get(token, params)
	if err != nil {
		p.logger(ctx, "payments.stripe.saved_method.error", map[string]any{"error": err.Error()})
		return SavedMethod{}, err
	}
	return savedMethodFromStripe(token, pm), nil
}

func savedMethodFromStripe(token string, pm *stripe.PaymentMethod) SavedMethod {
	method := SavedMethod{Token: token}
	if pm == nil {
		return method
	}
	if id := strings.TrimSpace(pm.ID); id != "" {
		method.Token = id
	}
	if pm.Customer != nil {
		method.CustomerID = strings.TrimSpace(pm.Customer.ID)
	}
	if pm.Type == stripe.PaymentMethodTypeCard && pm.Card != nil {
		method.Brand = strings.ToLower(string(pm.Card.Brand))
		method.Last4 = strings.TrimSpace(pm.Card.Last4)
		method.ExpMonth = int(pm.Card.ExpMonth)
		method.ExpYear = int(pm.Card.ExpYear)
	}
	return method
}
