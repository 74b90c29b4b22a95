package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultEnvironment         = "local"
	defaultStoreDriver         = StoreDriverFirestore
	defaultSQLitePath          = "orders.db"
	defaultEventsTransport     = EventsTransportNone
	defaultPubSubTopic         = "order-events"
	defaultKafkaTopic          = "order-events"
	defaultPaymentProvider     = "stripe"
	defaultRedisDB             = 0
	defaultShippingQuoteTTL    = 5 * time.Minute
	defaultProviderTimeout     = 5 * time.Second
	defaultPaymentTimeout      = 20 * time.Second
	defaultReconcilerGrace     = 10 * time.Minute
	defaultReconcilerBatchSize = 100
	defaultReconcilerWorkers   = 4
	defaultReconcilerInterval  = time.Minute
	defaultShippingRates       = "standard:500:5d,express:1500:2d"
)

// Store drivers accepted by ORDERS_STORE_DRIVER.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverPostgres  = "postgres"
	StoreDriverSQLite    = "sqlite"
)

// Event transports accepted by ORDERS_EVENTS_TRANSPORT.
const (
	EventsTransportNone   = "none"
	EventsTransportPubSub = "pubsub"
	EventsTransportKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Firestore   FirestoreConfig
	Store       StoreConfig
	Events      EventsConfig
	PSP         PSPConfig
	Cache       CacheConfig
	Checkout    CheckoutConfig
	Reconciler  ReconcilerConfig
	Shipping    ShippingConfig
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID       string
	EmulatorHost    string
	CredentialsFile string
}

// StoreConfig selects the order repository backend.
type StoreConfig struct {
	Driver      string
	PostgresDSN string
	SQLitePath  string
}

// EventsConfig selects where domain events are published.
type EventsConfig struct {
	Transport     string
	PubSubProject string
	PubSubTopic   string
	KafkaBrokers  []string
	KafkaTopic    string
}

// PSPConfig collects payment provider credentials and routing.
type PSPConfig struct {
	StripeAPIKey    string
	StripeAccount   string
	DefaultProvider string
	// CurrencyRoutes maps lower-case ISO currency codes to provider names.
	CurrencyRoutes map[string]string
}

// CacheConfig configures the Redis shipping quote cache. An empty address disables caching.
type CacheConfig struct {
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ShippingQuoteTTL time.Duration
}

// CheckoutConfig bounds calls to external providers during checkout.
type CheckoutConfig struct {
	ProviderTimeout time.Duration
	PaymentTimeout  time.Duration
}

// ReconcilerConfig controls the pending payment sweep.
type ReconcilerConfig struct {
	GracePeriod time.Duration
	BatchSize   int
	Concurrency int
	Interval    time.Duration
}

// ShippingConfig lists the flat rates offered by the built-in shipping provider.
type ShippingConfig struct {
	FlatRates []FlatRate
}

// FlatRate is a single configured shipping method.
type FlatRate struct {
	Method        string
	Cost          int64
	EstimatedDays int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// Snapshot captures the resolved environment values used during loading so callers can construct
// dependent components (e.g., secret fetcher) with the same inputs.
type Snapshot struct {
	EnvFile         string
	Values          map[string]string
	ResolvedSecrets map[string]string
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		if source == nil {
			return
		}
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "PSP.StripeAPIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string

	rates, err := parseFlatRates(stringWithDefault(lookup, "ORDERS_SHIPPING_FLAT_RATES", defaultShippingRates))
	if err != nil {
		invalid = append(invalid, "Shipping.FlatRates")
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "ORDERS_ENVIRONMENT", defaultEnvironment)),
		Firestore: FirestoreConfig{
			ProjectID:       stringWithDefault(lookup, "ORDERS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:    stringWithDefault(lookup, "ORDERS_FIRESTORE_EMULATOR_HOST", ""),
			CredentialsFile: stringWithDefault(lookup, "ORDERS_FIRESTORE_CREDENTIALS_FILE", ""),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(stringWithDefault(lookup, "ORDERS_STORE_DRIVER", defaultStoreDriver)),
			PostgresDSN: stringWithDefault(lookup, "ORDERS_STORE_POSTGRES_DSN", ""),
			SQLitePath:  stringWithDefault(lookup, "ORDERS_STORE_SQLITE_PATH", defaultSQLitePath),
		},
		Events: EventsConfig{
			Transport:     strings.ToLower(stringWithDefault(lookup, "ORDERS_EVENTS_TRANSPORT", defaultEventsTransport)),
			PubSubProject: stringWithDefault(lookup, "ORDERS_EVENTS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:   stringWithDefault(lookup, "ORDERS_EVENTS_PUBSUB_TOPIC", defaultPubSubTopic),
			KafkaBrokers:  csvWithDefault(lookup, "ORDERS_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:    stringWithDefault(lookup, "ORDERS_EVENTS_KAFKA_TOPIC", defaultKafkaTopic),
		},
		PSP: PSPConfig{
			StripeAPIKey:    stringWithDefault(lookup, "ORDERS_PSP_STRIPE_API_KEY", ""),
			StripeAccount:   stringWithDefault(lookup, "ORDERS_PSP_STRIPE_ACCOUNT", ""),
			DefaultProvider: strings.ToLower(stringWithDefault(lookup, "ORDERS_PSP_DEFAULT_PROVIDER", defaultPaymentProvider)),
			CurrencyRoutes:  mapWithDefault(lookup, "ORDERS_PSP_CURRENCY_ROUTES"),
		},
		Cache: CacheConfig{
			RedisAddr:        stringWithDefault(lookup, "ORDERS_CACHE_REDIS_ADDR", ""),
			RedisPassword:    stringWithDefault(lookup, "ORDERS_CACHE_REDIS_PASSWORD", ""),
			RedisDB:          intWithDefault(lookup, "ORDERS_CACHE_REDIS_DB", defaultRedisDB),
			ShippingQuoteTTL: durationWithDefault(lookup, "ORDERS_CACHE_SHIPPING_QUOTE_TTL", defaultShippingQuoteTTL),
		},
		Checkout: CheckoutConfig{
			ProviderTimeout: durationWithDefault(lookup, "ORDERS_CHECKOUT_PROVIDER_TIMEOUT", defaultProviderTimeout),
			PaymentTimeout:  durationWithDefault(lookup, "ORDERS_CHECKOUT_PAYMENT_TIMEOUT", defaultPaymentTimeout),
		},
		Reconciler: ReconcilerConfig{
			GracePeriod: durationWithDefault(lookup, "ORDERS_RECONCILER_GRACE_PERIOD", defaultReconcilerGrace),
			BatchSize:   intWithDefault(lookup, "ORDERS_RECONCILER_BATCH_SIZE", defaultReconcilerBatchSize),
			Concurrency: intWithDefault(lookup, "ORDERS_RECONCILER_CONCURRENCY", defaultReconcilerWorkers),
			Interval:    durationWithDefault(lookup, "ORDERS_RECONCILER_INTERVAL", defaultReconcilerInterval),
		},
		Shipping: ShippingConfig{FlatRates: rates},
	}

	// Pub/Sub project defaults to the Firestore project when unspecified.
	if cfg.Events.PubSubProject == "" {
		cfg.Events.PubSubProject = cfg.Firestore.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"Cache.RedisPassword", &cfg.Cache.RedisPassword},
		{"Store.PostgresDSN", &cfg.Store.PostgresDSN},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreDriverPostgres:
		if strings.TrimSpace(cfg.Store.PostgresDSN) == "" {
			missing = append(missing, "Store.PostgresDSN")
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(cfg.Store.SQLitePath) == "" {
			missing = append(missing, "Store.SQLitePath")
		}
	default:
		missing = append(missing, "Store.Driver")
	}

	switch cfg.Events.Transport {
	case EventsTransportNone:
	case EventsTransportPubSub:
		if cfg.Events.PubSubProject == "" {
			missing = append(missing, "Events.PubSubProject")
		}
		if cfg.Events.PubSubTopic == "" {
			missing = append(missing, "Events.PubSubTopic")
		}
	case EventsTransportKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			missing = append(missing, "Events.KafkaBrokers")
		}
		if cfg.Events.KafkaTopic == "" {
			missing = append(missing, "Events.KafkaTopic")
		}
	default:
		missing = append(missing, "Events.Transport")
	}

	if cfg.Checkout.ProviderTimeout <= 0 {
		missing = append(missing, "Checkout.ProviderTimeout")
	}
	if cfg.Checkout.PaymentTimeout <= 0 {
		missing = append(missing, "Checkout.PaymentTimeout")
	}
	// A shorter grace lets the reconciler race an in-flight charge.
	if cfg.Reconciler.GracePeriod <= cfg.Checkout.PaymentTimeout {
		missing = append(missing, "Reconciler.GracePeriod")
	}
	if cfg.Reconciler.BatchSize <= 0 {
		missing = append(missing, "Reconciler.BatchSize")
	}
	if cfg.Reconciler.Concurrency <= 0 {
		missing = append(missing, "Reconciler.Concurrency")
	}
	if cfg.Reconciler.Interval <= 0 {
		missing = append(missing, "Reconciler.Interval")
	}
	if cfg.Cache.RedisAddr != "" && cfg.Cache.ShippingQuoteTTL <= 0 {
		missing = append(missing, "Cache.ShippingQuoteTTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// parseFlatRates reads "method:cost[:days]" entries separated by commas.
func parseFlatRates(raw string) ([]FlatRate, error) {
	var rates []FlatRate
	seen := make(map[string]struct{})
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("config: invalid shipping rate %q", entry)
		}
		method := strings.ToLower(strings.TrimSpace(parts[0]))
		if method == "" {
			return nil, fmt.Errorf("config: shipping rate %q missing method", entry)
		}
		if _, dup := seen[method]; dup {
			return nil, fmt.Errorf("config: duplicate shipping method %q", method)
		}
		seen[method] = struct{}{}
		cost, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || cost < 0 {
			return nil, fmt.Errorf("config: invalid shipping cost in %q", entry)
		}
		rate := FlatRate{Method: method, Cost: cost}
		if len(parts) == 3 {
			days, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(parts[2]), "d"))
			if err != nil || days < 0 {
				return nil, fmt.Errorf("config: invalid delivery estimate in %q", entry)
			}
			rate.EstimatedDays = days
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if name == "" || value == "" {
			continue
		}
		values[name] = strings.ToLower(value)
	}
	return values
}
