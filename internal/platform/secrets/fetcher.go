// Package secrets resolves secret:// references from configuration against Google Secret
// Manager, with an in-process cache and a local key=value file for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFallbackPath = ".secrets.local"

// Where a resolved value came from, as reported on the latency histogram.
const (
	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceError    = "error"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references. Remote values are cached for the life of the process;
// when Secret Manager refuses or cannot be reached the fallback file is consulted instead.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	project    string
	logger     *zap.Logger
	metrics    fetchMetrics
	fallback   *fallbackFile

	mu    sync.RWMutex
	cache map[string]string
}

type fetcherConfig struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDefaultProject sets the project used when a reference carries no ?project= override.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.project = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile points at the local key=value file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithMeter records fetch latency and cache hits on m instead of the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

// WithSecretManagerClient replaces the Secret Manager client. The fetcher does not close it.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions is forwarded to the Secret Manager client the fetcher creates itself.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher never fails on missing credentials: without a Secret Manager client every
// reference is answered from the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{logger: zap.NewNop(), fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &Fetcher{
		project:  cfg.project,
		logger:   cfg.logger,
		metrics:  newFetchMetrics(cfg.meter, cfg.logger),
		fallback: &fallbackFile{path: cfg.fallbackPath},
		cache:    make(map[string]string),
	}

	switch {
	case cfg.client != nil:
		f.client = cfg.client
	default:
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
			break
		}
		f.client = client
		f.ownsClient = true
	}
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret lets the fetcher serve as the config loader's secret resolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref, e.g. secret://pubsub-credentials?version=3.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.versionedKey()

	if value, ok := f.cached(key); ok {
		f.metrics.cacheHit(ctx, parsed)
		f.metrics.latency(ctx, start, sourceCache)
		return value, nil
	}

	if project := f.projectFor(parsed); project != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, project, parsed)
		if err == nil {
			f.remember(key, value)
			f.metrics.latency(ctx, start, sourceRemote)
			return value, nil
		}
		if !shouldFallBack(err) {
			f.metrics.latency(ctx, start, sourceError)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.canonical, err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("ref", parsed.canonical), zap.Error(err))
	}

	value, ok, err := f.fallback.lookup(parsed)
	if err != nil {
		f.logger.Debug("secrets: fallback file unreadable", zap.Error(err))
	}
	if !ok {
		f.metrics.latency(ctx, start, sourceError)
		return "", fmt.Errorf("secrets: fallback value not found for %s", parsed.canonical)
	}
	f.remember(key, value)
	f.metrics.latency(ctx, start, sourceFallback)
	return value, nil
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[key]
	return value, ok
}

func (f *Fetcher) remember(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	return f.project
}

func (f *Fetcher) fetchRemote(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.secret, ref.versionOrLatest())
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", errors.New("secret manager returned an empty payload for " + name)
	}
	return string(resp.GetPayload().GetData()), nil
}

// Permission and availability failures are the ones a developer without production
// credentials hits; a missing secret is a real configuration error.
func shouldFallBack(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
