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

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const (
	envPrefix                   = "ORDERDESK_"
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 20 * time.Second
	defaultShutdownTimeout      = 15 * time.Second
	defaultFirestoreDialTimeout = 10 * time.Second
	defaultOrderEventsTopic     = "order-events"
	defaultTaxRatePercent       = "20"
	defaultCurrency             = "EUR"
	defaultPageSize             = 20
	defaultMaxPageSize          = 100
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultServiceName          = "orderdesk"
	defaultEnvironment          = "local"
	defaultLogLevel             = "info"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Orders      OrdersConfig
	Idempotency IdempotencyConfig
	Telemetry   TelemetryConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig stores database parameters. An empty ProjectID selects the in-memory backend.
type FirestoreConfig struct {
	ProjectID       string
	EmulatorHost    string
	CredentialsFile string
	DialTimeout     time.Duration
}

// Enabled reports whether a Firestore project is configured.
func (c FirestoreConfig) Enabled() bool {
	return strings.TrimSpace(c.ProjectID) != ""
}

// PubSubConfig controls order event publication. Events are only logged when ProjectID is empty.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EmulatorHost     string
	CredentialsJSON  string
}

// Enabled reports whether order events should be published to Pub/Sub.
func (c PubSubConfig) Enabled() bool {
	return strings.TrimSpace(c.ProjectID) != "" && strings.TrimSpace(c.OrderEventsTopic) != ""
}

// OrdersConfig holds pricing and listing parameters for the order engine.
type OrdersConfig struct {
	TaxRatePercent  decimal.Decimal
	Currency        currency.Unit
	SeedFile        string
	DefaultPageSize int
	MaxPageSize     int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// TelemetryConfig names the service for logs and traces.
type TelemetryConfig struct {
	ServiceName string
	Environment string
	LogLevel    string
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
// Identifiers match the config field names recorded by the loader (e.g. "PubSub.CredentialsJSON").
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

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, envPrefix+"SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, envPrefix+"SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, envPrefix+"SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, envPrefix+"SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout:  durationWithDefault(lookup, envPrefix+"SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			ShutdownTimeout: durationWithDefault(lookup, envPrefix+"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:       stringWithDefault(lookup, envPrefix+"FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:    stringWithDefault(lookup, envPrefix+"FIRESTORE_EMULATOR_HOST", ""),
			CredentialsFile: stringWithDefault(lookup, envPrefix+"FIRESTORE_CREDENTIALS_FILE", ""),
			DialTimeout:     durationWithDefault(lookup, envPrefix+"FIRESTORE_DIAL_TIMEOUT", defaultFirestoreDialTimeout),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, envPrefix+"PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, envPrefix+"PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			EmulatorHost:     stringWithDefault(lookup, envPrefix+"PUBSUB_EMULATOR_HOST", ""),
			CredentialsJSON:  stringWithDefault(lookup, envPrefix+"PUBSUB_CREDENTIALS_JSON", ""),
		},
		Orders: OrdersConfig{
			SeedFile:        stringWithDefault(lookup, envPrefix+"ORDERS_SEED_FILE", ""),
			DefaultPageSize: intWithDefault(lookup, envPrefix+"ORDERS_DEFAULT_PAGE_SIZE", defaultPageSize),
			MaxPageSize:     intWithDefault(lookup, envPrefix+"ORDERS_MAX_PAGE_SIZE", defaultMaxPageSize),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, envPrefix+"IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, envPrefix+"IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, envPrefix+"IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, envPrefix+"IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Telemetry: TelemetryConfig{
			ServiceName: stringWithDefault(lookup, envPrefix+"SERVICE_NAME", defaultServiceName),
			Environment: strings.ToLower(stringWithDefault(lookup, envPrefix+"ENVIRONMENT", defaultEnvironment)),
			LogLevel:    strings.ToLower(stringWithDefault(lookup, envPrefix+"LOG_LEVEL", defaultLogLevel)),
		},
	}

	var invalid []string
	taxRate, err := decimal.NewFromString(stringWithDefault(lookup, envPrefix+"ORDERS_TAX_RATE_PERCENT", defaultTaxRatePercent))
	if err != nil {
		invalid = append(invalid, "Orders.TaxRatePercent")
	}
	cfg.Orders.TaxRatePercent = taxRate

	unit, err := currency.ParseISO(stringWithDefault(lookup, envPrefix+"ORDERS_CURRENCY", defaultCurrency))
	if err != nil {
		invalid = append(invalid, "Orders.Currency")
	}
	cfg.Orders.Currency = unit

	// Pub/Sub shares the Firestore project unless configured separately.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PubSub.CredentialsJSON", &cfg.PubSub.CredentialsJSON},
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
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.RequestTimeout <= 0 {
		missing = append(missing, "Server.RequestTimeout")
	}
	if rate := cfg.Orders.TaxRatePercent; rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		missing = append(missing, "Orders.TaxRatePercent")
	}
	if cfg.Orders.DefaultPageSize <= 0 || cfg.Orders.MaxPageSize <= 0 || cfg.Orders.DefaultPageSize > cfg.Orders.MaxPageSize {
		missing = append(missing, "Orders.DefaultPageSize")
	}
	if cfg.PubSub.ProjectID != "" && strings.TrimSpace(cfg.PubSub.OrderEventsTopic) == "" {
		missing = append(missing, "PubSub.OrderEventsTopic")
	}
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		missing = append(missing, "Telemetry.LogLevel")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
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
