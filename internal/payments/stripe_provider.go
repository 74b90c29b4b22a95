package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const stripeOrderMetadataKey = "order_id"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	New(params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

// stripeIntentSearch returns the most recent intent tagged with the order id, or nil.
type stripeIntentSearch func(ctx context.Context, account, orderID string) (*stripe.PaymentIntent, error)

type stripeClients struct {
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
	searchByOrder  stripeIntentSearch
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Payment Intents.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		clients = newStripeClients(apiKey, cfg.Backends)
	}

	if clients.intents == nil || clients.paymentMethods == nil || clients.searchByOrder == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func newStripeClients(apiKey string, backends *stripe.Backends) stripeClients {
	sc := client.New(apiKey, backends)
	return stripeClients{
		intents:        sc.PaymentIntents,
		paymentMethods: sc.PaymentMethods,
		searchByOrder: func(ctx context.Context, account, orderID string) (*stripe.PaymentIntent, error) {
			params := &stripe.PaymentIntentSearchParams{}
			params.Context = ctx
			params.Query = fmt.Sprintf("metadata['%s']:'%s'", stripeOrderMetadataKey, strings.ReplaceAll(orderID, "'", ""))
			params.Limit = stripe.Int64(10)
			if account != "" {
				params.SetStripeAccount(account)
			}
			iter := sc.PaymentIntents.Search(params)
			var latest *stripe.PaymentIntent
			for iter.Next() {
				intent := iter.PaymentIntent()
				if latest == nil || intent.Created > latest.Created {
					latest = intent
				}
			}
			if err := iter.Err(); err != nil {
				return nil, err
			}
			return latest, nil
		},
	}
}

// ProcessPayment creates and confirms a Payment Intent for the order total.
// The idempotency key defaults to the order id, so a retried request never
// charges twice.
func (p *StripeProvider) ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if p == nil {
		return PaymentResult{}, errors.New("stripe: provider is nil")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return PaymentResult{}, errors.New("stripe: order id is required")
	}
	if req.Amount <= 0 {
		return PaymentResult{}, fmt.Errorf("stripe: amount must be positive, got %d", req.Amount)
	}

	methodID := strings.TrimSpace(req.PaymentMethodID)
	if methodID == "" {
		token := strings.TrimSpace(req.PaymentToken)
		if token == "" {
			return PaymentResult{}, errors.New("stripe: payment method or token is required")
		}
		pm, err := p.paymentMethodFromToken(ctx, token)
		if err != nil {
			return PaymentResult{}, err
		}
		methodID = pm
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		Confirm:            stripe.Bool(true),
		PaymentMethod:      stripe.String(methodID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Description:        stripe.String("Order " + orderID),
	}
	params.Context = ctx
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = "order:" + orderID
	}
	params.SetIdempotencyKey(key)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.Customer.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}

	params.Metadata = make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	params.Metadata[stripeOrderMetadataKey] = orderID
	if merchant := strings.TrimSpace(req.MerchantID); merchant != "" {
		params.Metadata["merchant_id"] = merchant
	}
	if customer := strings.TrimSpace(req.Customer.CustomerID); customer != "" {
		params.Metadata["customer_id"] = customer
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			result := PaymentResult{
				Provider:     "stripe",
				Status:       StatusFailed,
				ErrorMessage: stripeErr.Msg,
			}
			if stripeErr.PaymentIntent != nil {
				result.TransactionID = stripeErr.PaymentIntent.ID
			}
			p.logger(ctx, "payments.stripe.intent.declined", map[string]any{
				"orderId":       orderID,
				"paymentIntent": result.TransactionID,
				"code":          string(stripeErr.Code),
			})
			return result, nil
		}
		return PaymentResult{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	result := stripePaymentResult(intent)
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"orderId":       orderID,
		"paymentIntent": intent.ID,
		"status":        string(intent.Status),
	})
	return result, nil
}

// LookupPayment retrieves the intent by id, or by the order metadata when the
// original attempt never returned an id.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentResult, error) {
	if p == nil {
		return PaymentResult{}, errors.New("stripe: provider is nil")
	}
	if id := strings.TrimSpace(req.TransactionID); id != "" {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		if p.account != "" {
			params.SetStripeAccount(p.account)
		}
		intent, err := p.api.intents.Get(id, params)
		if err != nil {
			return PaymentResult{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
		}
		return stripePaymentResult(intent), nil
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return PaymentResult{}, errors.New("stripe: order id or transaction id is required")
	}
	intent, err := p.api.searchByOrder(ctx, p.account, orderID)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("stripe: search payment intents: %w", err)
	}
	if intent == nil {
		// nothing reached the PSP
		return PaymentResult{Provider: "stripe", Status: StatusFailed, ErrorMessage: "no payment attempt recorded"}, nil
	}
	return stripePaymentResult(intent), nil
}

func (p *StripeProvider) paymentMethodFromToken(ctx context.Context, token string) (string, error) {
	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{Token: stripe.String(token)},
	}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	pm, err := p.api.paymentMethods.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create payment method from token: %w", err)
	}
	return pm.ID, nil
}

func stripePaymentResult(intent *stripe.PaymentIntent) PaymentResult {
	if intent == nil {
		return PaymentResult{Provider: "stripe", Status: StatusPending}
	}
	result := PaymentResult{
		Provider:      "stripe",
		TransactionID: intent.ID,
		Status:        StatusPending,
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		result.Status = StatusSuccess
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		result.Status = StatusRequiresAction
		result.ClientSecret = intent.ClientSecret
	case stripe.PaymentIntentStatusProcessing:
		result.Status = StatusPending
	case stripe.PaymentIntentStatusCanceled:
		result.Status = StatusFailed
		result.ErrorMessage = "payment canceled"
		if intent.CancellationReason != "" {
			result.ErrorMessage = "payment canceled: " + string(intent.CancellationReason)
		}
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if intent.LastPaymentError != nil {
			result.Status = StatusFailed
			result.ErrorMessage = intent.LastPaymentError.Msg
		}
	}
	return result
}
