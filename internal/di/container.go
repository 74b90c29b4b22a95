package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/cache"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/events"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/repositories"
	firestoreRepo "github.com/hanko-field/orders/internal/repositories/firestore"
	"github.com/hanko-field/orders/internal/repositories/postgres"
	"github.com/hanko-field/orders/internal/repositories/sqlite"
	"github.com/hanko-field/orders/internal/services"
)

const stripeProviderName = "stripe"

// Services bundles the service-layer contracts the command line relies upon.
type Services struct {
	Checkout   services.CheckoutService
	Orders     services.OrderService
	Reconciler *services.PaymentReconciler
}

// Providers overrides the external collaborators the container would otherwise
// build from configuration. Nil fields fall back to the configured adapters.
type Providers struct {
	Orders     repositories.OrderRepository
	Products   services.ProductProvider
	Promotions services.PromotionProvider
	Profiles   services.CustomerProfileProvider
	Shipping   services.ShippingProvider
	Payments   services.PaymentProvider
	Verifier   services.SavedMethodVerifier
	Events     services.OrderEventPublisher
	Cache      cache.Store
}

// Option customises container construction.
type Option func(*options)

type options struct {
	providers Providers
	clock     func() time.Time
}

// WithProviders replaces configured adapters, primarily for tests and local runs.
func WithProviders(p Providers) Option {
	return func(o *options) { o.providers = p }
}

// WithClock injects the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Container wires repositories, providers and services for runtime use.
type Container struct {
	Config   config.Config
	Orders   repositories.OrderRepository
	Services Services
	Health   *repositories.DependencyProber

	logger  *zap.Logger
	checks  []repositories.DependencyCheck
	closers []func() error
}

// NewContainer constructs the runtime dependencies. On error every resource opened so far is released.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	p := o.providers
	var fsProvider *pfirestore.Provider
	firestore := func() (*pfirestore.Provider, error) {
		if fsProvider != nil {
			return fsProvider, nil
		}
		if strings.TrimSpace(cfg.Firestore.ProjectID) == "" {
			return nil, errors.New("firestore project id is required for the reference providers")
		}
		fsProvider = pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(cfg.Checkout.ProviderTimeout))
		c.closers = append(c.closers, fsProvider.Close)
		return fsProvider, nil
	}

	if p.Orders == nil {
		if p.Orders, err = c.buildOrderRepository(ctx, firestore); err != nil {
			return nil, err
		}
	}
	c.Orders = p.Orders

	if p.Products == nil || p.Promotions == nil || p.Profiles == nil {
		provider, err := firestore()
		if err != nil {
			return nil, err
		}
		if p.Products == nil {
			if p.Products, err = firestoreRepo.NewProductProvider(provider); err != nil {
				return nil, err
			}
		}
		if p.Promotions == nil {
			if p.Promotions, err = firestoreRepo.NewPromotionProvider(provider, o.clock); err != nil {
				return nil, err
			}
		}
		if p.Profiles == nil {
			if p.Profiles, err = firestoreRepo.NewCustomerProfileProvider(provider); err != nil {
				return nil, err
			}
		}
	}

	if p.Shipping == nil {
		if p.Shipping, err = c.buildShipping(ctx, p.Cache, o.clock); err != nil {
			return nil, err
		}
	}

	// An overridden payment provider keeps the verifier override as given.
	if p.Payments == nil {
		manager, verifier, err := c.buildPayments(o.clock)
		if err != nil {
			return nil, err
		}
		p.Payments = manager
		if p.Verifier == nil {
			p.Verifier = verifier
		}
	}

	if p.Events == nil {
		if p.Events, err = c.buildEvents(ctx); err != nil {
			return nil, err
		}
	}

	if c.Services, err = buildServices(cfg, p, o.clock, logger); err != nil {
		return nil, err
	}

	if len(c.checks) > 0 {
		if c.Health, err = repositories.NewDependencyProber(c.checks, 0, o.clock); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Close releases clients in reverse order of creation.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) buildOrderRepository(ctx context.Context, firestore func() (*pfirestore.Provider, error)) (repositories.OrderRepository, error) {
	switch c.Config.Store.Driver {
	case config.StoreDriverFirestore:
		provider, err := firestore()
		if err != nil {
			return nil, err
		}
		c.addCheck("orders.firestore", func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			iter := client.Collections(ctx)
			if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return pfirestore.WrapError("health.collections", err)
			}
			return nil
		})
		return firestoreRepo.NewOrderRepository(provider,
			pfirestore.WithTxAttempts(3),
			pfirestore.WithTxTimeout(c.Config.Checkout.ProviderTimeout),
		)
	case config.StoreDriverPostgres:
		pool, err := postgres.Open(ctx, c.Config.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, closeFunc(pool))
		c.addCheck("orders.postgres", pool.Ping)
		return postgres.NewOrderRepository(pool)
	case config.StoreDriverSQLite:
		db, err := sqlite.Open(ctx, c.Config.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		c.addCheck("orders.sqlite", db.PingContext)
		return sqlite.NewOrderRepository(db)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", c.Config.Store.Driver)
	}
}

func (c *Container) buildShipping(ctx context.Context, store cache.Store, clock func() time.Time) (services.ShippingProvider, error) {
	rates := c.Config.Shipping.FlatRates
	options := make([]services.ShippingOption, 0, len(rates))
	for _, rate := range rates {
		options = append(options, services.ShippingOption{
			ID:            rate.Method,
			Name:          rate.Method,
			Cost:          rate.Cost,
			EstimatedDays: rate.EstimatedDays,
		})
	}
	flat, err := services.NewFlatRateShippingProvider(options)
	if err != nil {
		return nil, err
	}

	if store == nil {
		if addr := strings.TrimSpace(c.Config.Cache.RedisAddr); addr != "" {
			redisStore, err := cache.NewRedisStore(ctx, cache.RedisConfig{
				Addr:     addr,
				Password: c.Config.Cache.RedisPassword,
				DB:       c.Config.Cache.RedisDB,
			})
			if err != nil {
				return nil, err
			}
			c.closers = append(c.closers, redisStore.Close)
			store = redisStore
		} else {
			store = cache.NewMemoryStore(clock)
		}
	}
	c.addCheck("cache", func(ctx context.Context) error {
		_, _, err := store.Get(ctx, cache.Key("orders", "health"))
		return err
	})

	return services.NewCachedShippingProvider(services.CachedShippingProviderDeps{
		Next:   flat,
		Cache:  store,
		TTL:    c.Config.Cache.ShippingQuoteTTL,
		Logger: observability.EventLogger(c.logger.Named("shipping")),
	})
}

func (c *Container) buildPayments(clock func() time.Time) (*payments.Manager, *payments.StripeProvider, error) {
	if strings.TrimSpace(c.Config.PSP.StripeAPIKey) == "" {
		return nil, nil, errors.New("stripe api key is required")
	}
	stripeCfg := payments.StripeProviderConfig{
		APIKey:    c.Config.PSP.StripeAPIKey,
		AccountID: c.Config.PSP.StripeAccount,
		Logger:    observability.EventLogger(c.logger.Named("payments")),
		Clock:     clock,
	}
	stripeProvider, err := payments.NewStripeProvider(stripeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("stripe payment provider: %w", err)
	}
	manager, err := payments.NewManager(
		map[string]payments.Provider{stripeProviderName: stripeProvider},
		payments.WithDefaultProvider(c.Config.PSP.DefaultProvider),
		payments.WithCurrencyRoutes(c.Config.PSP.CurrencyRoutes),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("payment manager: %w", err)
	}
	return manager, stripeProvider, nil
}

func (c *Container) buildEvents(ctx context.Context) (services.OrderEventPublisher, error) {
	cfg := c.Config.Events
	switch cfg.Transport {
	case config.EventsTransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProject)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		topic := client.Topic(cfg.PubSubTopic)
		c.closers = append(c.closers, func() error {
			topic.Stop()
			return nil
		})
		return events.NewPubSubPublisher(topic)
	case config.EventsTransportKafka:
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Logger:  c.logger.Named("kafka"),
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, publisher.Close)
		return publisher, nil
	case config.EventsTransportNone, "":
		return events.NewLogPublisher(observability.EventLogger(c.logger.Named("events"))), nil
	default:
		return nil, fmt.Errorf("unsupported events transport %q", cfg.Transport)
	}
}

func buildServices(cfg config.Config, p Providers, clock func() time.Time, logger *zap.Logger) (Services, error) {
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        p.Orders,
		Payments:      p.Payments,
		Events:        p.Events,
		Clock:         clock,
		Logger:        observability.EventLogger(logger.Named("orders")),
		LookupTimeout: cfg.Checkout.ProviderTimeout,
		FailureGrace:  cfg.Reconciler.GracePeriod,
	})
	if err != nil {
		return Services{}, err
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:          p.Orders,
		Products:        p.Products,
		Promotions:      p.Promotions,
		Shipping:        p.Shipping,
		Payments:        p.Payments,
		Profiles:        p.Profiles,
		Verifier:        p.Verifier,
		Events:          p.Events,
		ProviderTimeout: cfg.Checkout.ProviderTimeout,
		PaymentTimeout:  cfg.Checkout.PaymentTimeout,
		Clock:           clock,
		Logger:          observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, err
	}

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:      p.Orders,
		Service:     orders,
		GracePeriod: cfg.Reconciler.GracePeriod,
		BatchSize:   cfg.Reconciler.BatchSize,
		Concurrency: cfg.Reconciler.Concurrency,
		Clock:       clock,
		Logger:      observability.EventLogger(logger.Named("reconciler")),
	})
	if err != nil {
		return Services{}, err
	}

	return Services{Checkout: checkout, Orders: orders, Reconciler: reconciler}, nil
}

func (c *Container) addCheck(name string, check func(context.Context) error) {
	c.checks = append(c.checks, repositories.DependencyCheck{Name: name, Check: check})
}

func closeFunc(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}
