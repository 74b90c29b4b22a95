package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/services"
)

const (
	promotionsCollection = "promotions"

	promotionKindPercent = "percent"
	promotionKindFixed   = "fixed"
)

// PromotionProvider evaluates promotion documents keyed by their upper-cased code.
type PromotionProvider struct {
	promotions *pfirestore.BaseRepository[promotionDocument]
	clock      func() time.Time
}

var _ services.PromotionProvider = (*PromotionProvider)(nil)

func NewPromotionProvider(provider *pfirestore.Provider, clock func() time.Time) (*PromotionProvider, error) {
	if provider == nil {
		return nil, errors.New("promotion provider requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &PromotionProvider{
		promotions: pfirestore.NewBaseRepository[promotionDocument](provider, promotionsCollection, nil),
		clock:      clock,
	}, nil
}

// ValidatePromotion returns nil without error when the code is unknown, inactive,
// outside its schedule, scoped to another merchant or currency, or not above its minimum subtotal.
func (p *PromotionProvider) ValidatePromotion(ctx context.Context, code string, promoCtx services.PromotionContext) (*services.PromotionResult, error) {
	if p == nil || p.promotions == nil {
		return nil, errors.New("promotion provider not initialised")
	}
	key := strings.ToUpper(strings.TrimSpace(code))
	if key == "" {
		return nil, nil
	}

	doc, err := p.promotions.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	discount, err := doc.Data.discount(promoCtx, p.clock().UTC())
	if err != nil {
		return nil, fmt.Errorf("promotion %s: %w", key, err)
	}
	if discount <= 0 {
		return nil, nil
	}
	return &services.PromotionResult{
		PromotionID:    doc.ID,
		Code:           key,
		Description:    strings.TrimSpace(doc.Data.Description),
		DiscountAmount: discount,
	}, nil
}

type promotionDocument struct {
	Description string     `firestore:"description"`
	Kind        string     `firestore:"kind"`
	Percent     string     `firestore:"percent,omitempty"`
	Amount      int64      `firestore:"amount,omitempty"`
	Currency    string     `firestore:"currency,omitempty"`
	MerchantID  string     `firestore:"merchantId,omitempty"`
	MinSubtotal int64      `firestore:"minSubtotal"`
	Active      bool       `firestore:"active"`
	StartsAt    *time.Time `firestore:"startsAt,omitempty"`
	EndsAt      *time.Time `firestore:"endsAt,omitempty"`
}

func (d promotionDocument) discount(promoCtx services.PromotionContext, now time.Time) (int64, error) {
	if !d.Active {
		return 0, nil
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return 0, nil
	}
	if d.EndsAt != nil && !now.Before(*d.EndsAt) {
		return 0, nil
	}
	if merchant := strings.TrimSpace(d.MerchantID); merchant != "" && merchant != promoCtx.MerchantID {
		return 0, nil
	}
	// the subtotal must exceed minSubtotal
	if promoCtx.Subtotal <= d.MinSubtotal {
		return 0, nil
	}

	switch strings.ToLower(strings.TrimSpace(d.Kind)) {
	case promotionKindPercent:
		percent, err := decimal.NewFromString(strings.TrimSpace(d.Percent))
		if err != nil {
			return 0, fmt.Errorf("invalid percent %q: %w", d.Percent, err)
		}
		if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
			return 0, fmt.Errorf("percent %s out of range", percent)
		}
		return domain.PercentOf(promoCtx.Subtotal, percent), nil
	case promotionKindFixed:
		if d.Currency != "" && !strings.EqualFold(d.Currency, promoCtx.Currency) {
			return 0, nil
		}
		return d.Amount, nil
	default:
		return 0, fmt.Errorf("unsupported kind %q", d.Kind)
	}
}
