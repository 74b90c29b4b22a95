package domain

import (
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const maxGiftMessageRunes = 500

var giftMessagePolicy = bluemonday.StrictPolicy()

// Address is a postal destination.
type Address struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// NewAddress trims the supplied fields and rejects incomplete addresses.
func NewAddress(addr Address) (Address, error) {
	out := Address{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:      strings.TrimSpace(addr.Phone),
	}
	if err := out.Validate(); err != nil {
		return Address{}, err
	}
	return out, nil
}

// Complete reports whether every field required for delivery is present.
func (a Address) Complete() bool {
	return a.missingField() == ""
}

// Validate returns ErrValidation naming the first missing field.
func (a Address) Validate() error {
	if field := a.missingField(); field != "" {
		return fmt.Errorf("%w: shipping address %s is required", ErrValidation, field)
	}
	return nil
}

func (a Address) missingField() string {
	switch {
	case strings.TrimSpace(a.Recipient) == "":
		return "recipient"
	case strings.TrimSpace(a.Line1) == "":
		return "line1"
	case strings.TrimSpace(a.City) == "":
		return "city"
	case strings.TrimSpace(a.PostalCode) == "":
		return "postal code"
	case strings.TrimSpace(a.Country) == "":
		return "country"
	}
	return ""
}

// CustomerInformation identifies the buyer for receipts and notifications.
type CustomerInformation struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// NewCustomerInformation validates the email address and trims optional fields.
func NewCustomerInformation(email, name, phone string) (CustomerInformation, error) {
	info := CustomerInformation{
		Email: strings.TrimSpace(email),
		Name:  strings.TrimSpace(name),
		Phone: strings.TrimSpace(phone),
	}
	if err := info.Validate(); err != nil {
		return CustomerInformation{}, err
	}
	return info, nil
}

// Validate checks that the email is a bare, syntactically valid address.
func (c CustomerInformation) Validate() error {
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return fmt.Errorf("%w: customer email is required", ErrValidation)
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return fmt.Errorf("%w: customer email %q is invalid", ErrValidation, email)
	}
	return nil
}

// ShippingInformation couples the destination with the selected method and its cost.
type ShippingInformation struct {
	Address Address `json:"address"`
	Method  string  `json:"method"`
	Cost    int64   `json:"cost"`
}

// NewShippingInformation validates the destination, method, and cost.
func NewShippingInformation(addr Address, method string, cost int64) (ShippingInformation, error) {
	normalised, err := NewAddress(addr)
	if err != nil {
		return ShippingInformation{}, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return ShippingInformation{}, fmt.Errorf("%w: shipping method is required", ErrValidation)
	}
	if cost < 0 {
		return ShippingInformation{}, fmt.Errorf("%w: shipping cost must not be negative", ErrValidation)
	}
	return ShippingInformation{Address: normalised, Method: method, Cost: cost}, nil
}

// GiftOption carries gift wrapping preferences for an order or a single line.
type GiftOption struct {
	Wrap    bool   `json:"wrap"`
	Message string `json:"message,omitempty"`
}

// NewGiftOption strips markup from the message and enforces its length limit.
func NewGiftOption(wrap bool, message string) (GiftOption, error) {
	cleaned := strings.TrimSpace(html.UnescapeString(giftMessagePolicy.Sanitize(message)))
	if utf8.RuneCountInString(cleaned) > maxGiftMessageRunes {
		return GiftOption{}, fmt.Errorf("%w: gift message exceeds %d characters", ErrValidation, maxGiftMessageRunes)
	}
	return GiftOption{Wrap: wrap, Message: cleaned}, nil
}

// AppliedPromotion is the monetised result of a promotion accepted for an order.
type AppliedPromotion struct {
	PromotionID    string `json:"promotionId"`
	Code           string `json:"code,omitempty"`
	Description    string `json:"description,omitempty"`
	DiscountAmount int64  `json:"discountAmount"`
}

// NewAppliedPromotion validates the promotion identity and discount.
func NewAppliedPromotion(promotionID, code, description string, discount int64) (AppliedPromotion, error) {
	promo := AppliedPromotion{
		PromotionID:    strings.TrimSpace(promotionID),
		Code:           strings.TrimSpace(code),
		Description:    strings.TrimSpace(description),
		DiscountAmount: discount,
	}
	if err := promo.Validate(); err != nil {
		return AppliedPromotion{}, err
	}
	return promo, nil
}

// Validate checks the promotion id and the discount sign.
func (p AppliedPromotion) Validate() error {
	if strings.TrimSpace(p.PromotionID) == "" {
		return fmt.Errorf("%w: promotion id is required", ErrValidation)
	}
	if p.DiscountAmount < 0 {
		return fmt.Errorf("%w: promotion discount must not be negative", ErrValidation)
	}
	return nil
}

// sameAs reports whether two promotions refer to the same offer by id or code.
func (p AppliedPromotion) sameAs(other AppliedPromotion) bool {
	if p.PromotionID != "" && p.PromotionID == other.PromotionID {
		return true
	}
	return p.Code != "" && strings.EqualFold(p.Code, other.Code)
}

// PaymentReference records the latest payment attempt known for an order.
type PaymentReference struct {
	Provider      string    `json:"provider,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
