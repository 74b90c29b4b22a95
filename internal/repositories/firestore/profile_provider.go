package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/services"
)

const (
	usersCollection                = "users"
	addressCollectionPattern       = "users/%s/addresses"
	paymentMethodCollectionPattern = "users/%s/paymentMethods"
)

// CustomerProfileProvider assembles saved checkout profiles from the users collection
// and its addresses and paymentMethods sub-collections.
type CustomerProfileProvider struct {
	provider *pfirestore.Provider
	users    *pfirestore.BaseRepository[userDocument]
}

var _ services.CustomerProfileProvider = (*CustomerProfileProvider)(nil)

func NewCustomerProfileProvider(provider *pfirestore.Provider) (*CustomerProfileProvider, error) {
	if provider == nil {
		return nil, errors.New("customer profile provider requires firestore provider")
	}
	return &CustomerProfileProvider{
		provider: provider,
		users:    pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil),
	}, nil
}

// GetSavedProfile returns nil when the user document does not exist.
func (p *CustomerProfileProvider) GetSavedProfile(ctx context.Context, userID string) (*services.CustomerProfile, error) {
	if p == nil || p.provider == nil {
		return nil, errors.New("customer profile provider not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("customer profile provider: user id is required")
	}

	user, err := p.users.Get(ctx, uid)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !user.Data.IsActive {
		return nil, nil
	}

	profile := &services.CustomerProfile{
		UserID: uid,
		Customer: domain.CustomerInformation{
			Email: strings.TrimSpace(user.Data.Email),
			Name:  strings.TrimSpace(user.Data.DisplayName),
			Phone: strings.TrimSpace(user.Data.PhoneNumber),
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addresses, err := p.listAddresses(gctx, uid)
		profile.Addresses = addresses
		return err
	})
	g.Go(func() error {
		methods, err := p.listPaymentMethods(gctx, uid)
		profile.PaymentMethods = methods
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return profile, nil
}

func (p *CustomerProfileProvider) listAddresses(ctx context.Context, uid string) ([]services.SavedAddress, error) {
	coll, err := p.collection(ctx, addressCollectionPattern, uid)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var results []services.SavedAddress
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.list", err)
		}
		var doc addressDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
		}
		results = append(results, doc.toSaved(snap.Ref.ID))
	}
	return results, nil
}

func (p *CustomerProfileProvider) listPaymentMethods(ctx context.Context, uid string) ([]services.SavedPaymentMethod, error) {
	coll, err := p.collection(ctx, paymentMethodCollectionPattern, uid)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var methods []services.SavedPaymentMethod
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("payment_methods.list", err)
		}
		var doc paymentMethodDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode payment method %s: %w", snap.Ref.ID, err)
		}
		methods = append(methods, doc.toSaved(snap.Ref.ID))
	}
	return methods, nil
}

func (p *CustomerProfileProvider) collection(ctx context.Context, pattern, uid string) (*firestore.CollectionRef, error) {
	client, err := p.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(pattern, uid)), nil
}

type userDocument struct {
	DisplayName string    `firestore:"displayName"`
	Email       string    `firestore:"email"`
	PhoneNumber string    `firestore:"phoneNumber"`
	IsActive    bool      `firestore:"isActive"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type addressDocument struct {
	Recipient       string    `firestore:"recipient"`
	Line1           string    `firestore:"line1"`
	Line2           *string   `firestore:"line2,omitempty"`
	City            string    `firestore:"city"`
	State           *string   `firestore:"state,omitempty"`
	PostalCode      string    `firestore:"postalCode"`
	Country         string    `firestore:"country"`
	Phone           *string   `firestore:"phone,omitempty"`
	DefaultShipping bool      `firestore:"defaultShipping"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func (d addressDocument) toSaved(id string) services.SavedAddress {
	return services.SavedAddress{
		ID: id,
		Address: domain.Address{
			Recipient:  d.Recipient,
			Line1:      d.Line1,
			Line2:      optionalString(d.Line2),
			City:       d.City,
			State:      optionalString(d.State),
			PostalCode: d.PostalCode,
			Country:    d.Country,
			Phone:      optionalString(d.Phone),
		},
		Default: d.DefaultShipping,
	}
}

type paymentMethodDocument struct {
	Provider  string    `firestore:"provider"`
	Token     string    `firestore:"token"`
	Brand     string    `firestore:"brand,omitempty"`
	Last4     string    `firestore:"last4,omitempty"`
	ExpMonth  int       `firestore:"expMonth,omitempty"`
	ExpYear   int       `firestore:"expYear,omitempty"`
	IsDefault bool      `firestore:"isDefault"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d paymentMethodDocument) toSaved(id string) services.SavedPaymentMethod {
	return services.SavedPaymentMethod{
		ID:       id,
		Provider: strings.TrimSpace(d.Provider),
		Token:    strings.TrimSpace(d.Token),
		Brand:    strings.TrimSpace(d.Brand),
		Last4:    strings.TrimSpace(d.Last4),
		ExpMonth: d.ExpMonth,
		ExpYear:  d.ExpYear,
		Default:  d.IsDefault,
	}
}

func optionalString(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
