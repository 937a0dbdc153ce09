// Package secrets resolves secret:// references through Google Secret Manager with a local file
// for development and outages.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/secrets"
)

var (
	// ErrNotFound means neither Secret Manager nor the fallback file holds the reference.
	ErrNotFound = errors.New("secrets: secret not found")
	// ErrCorruptPayload means the payload failed its CRC32C check.
	ErrCorruptPayload = errors.New("secrets: payload checksum mismatch")
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// Fetcher resolves references and caches values. Permission and availability failures fall back to
// the local file; a secret Secret Manager reports missing does not.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger
	now        func() time.Time
	ttl        time.Duration

	env            string
	defaultProject string
	projects       map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	flight singleflight.Group
	mu     sync.RWMutex
	cache  map[string]cachedSecret

	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

type settings struct {
	logger       *zap.Logger
	env          string
	project      string
	projects     map[string]string
	fallbackPath string
	ttl          time.Duration
	now          func() time.Time
	meter        metric.Meter
	client       accessClient
	clientOpts   []option.ClientOption
}

// Option customises NewFetcher.
type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithEnvironment picks the entry of the project map to use.
func WithEnvironment(env string) Option {
	return func(s *settings) {
		s.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject is used when the environment has no project mapped.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) {
		s.project = strings.TrimSpace(projectID)
	}
}

// WithProjectMap maps environment names to project ids. Names are case-insensitive.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) {
		s.projects = make(map[string]string, len(m))
		for env, project := range m {
			s.projects[strings.ToLower(strings.TrimSpace(env))] = strings.TrimSpace(project)
		}
	}
}

func WithFallbackFile(path string) Option {
	return func(s *settings) {
		s.fallbackPath = strings.TrimSpace(path)
	}
}

// WithCacheTTL expires cached values so rotated secrets are picked up. Zero caches forever.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		s.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(s *settings) {
		s.meter = m
	}
}

// WithSecretManagerClient replaces the Secret Manager client. The fetcher will not close it.
func WithSecretManagerClient(client accessClient) Option {
	return func(s *settings) {
		s.client = client
	}
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be created, for example without
// credentials on a laptop, the fetcher serves from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackPath,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		logger:         s.logger,
		now:            s.now,
		ttl:            s.ttl,
		env:            s.env,
		defaultProject: s.project,
		projects:       s.projects,
		fallbackPath:   s.fallbackPath,
		cache:          make(map[string]cachedSecret),
	}
	f.registerMetrics(s.meter)

	switch {
	case s.client != nil:
		f.client = s.client
	default:
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets.client.unavailable", zap.Error(err), zap.String("fallback", f.fallbackPath))
			break
		}
		f.client, f.ownsClient = client, true
	}
	return f, nil
}

func (f *Fetcher) registerMetrics(meter metric.Meter) {
	var err error
	if f.latency, err = meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		f.logger.Warn("secrets.metrics.register_failed", zap.String("instrument", "latency"), zap.Error(err))
	}
	if f.hits, err = meter.Int64Counter("secrets.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from memory"),
	); err != nil {
		f.logger.Warn("secrets.metrics.register_failed", zap.String("instrument", "cache_hits"), zap.Error(err))
	}
}

// Close releases a client the fetcher created itself.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind raw. Concurrent lookups of one reference share a fetch.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := f.now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	key := ref.key()

	if value, ok := f.cached(key); ok {
		if f.hits != nil {
			f.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", fingerprint(key))))
		}
		f.observe(ctx, start, "cache")
		return value, nil
	}

	value, err, _ := f.flight.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, ref)
		if err != nil {
			f.observe(ctx, start, "error")
			return "", err
		}
		f.store(key, value)
		f.observe(ctx, start, source)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Invalidate forgets every cached version of raw.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}
	prefix := strings.TrimSuffix(ref.key(), ref.version)
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) load(ctx context.Context, ref reference) (string, string, error) {
	if project := f.projectFor(ref); project != "" && f.client != nil {
		value, err := f.access(ctx, ref.resourceName(project))
		switch {
		case err == nil:
			return value, "remote", nil
		case !fallbackAllowed(err):
			if status.Code(err) == codes.NotFound {
				return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.name)
			}
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.name, err)
		}
		f.logger.Debug("secrets.fallback", zap.String("secret", ref.name), zap.Error(err))
	}

	values, err := f.fallbackValues()
	if err != nil {
		return "", "", err
	}
	if value, ok := values[ref.key()]; ok {
		return value, "fallback", nil
	}
	if value, ok := values[ref.unversioned()]; ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.name)
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	payload := resp.GetPayload()
	if payload == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	if payload.DataCrc32C != nil && int64(crc32.Checksum(payload.GetData(), castagnoli)) != payload.GetDataCrc32C() {
		return "", fmt.Errorf("%w: %s", ErrCorruptPayload, name)
	}
	return string(payload.GetData()), nil
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if project := f.projects[f.env]; project != "" {
		return project
	}
	return f.defaultProject
}

func (f *Fetcher) fallbackValues() (map[string]string, error) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		file, err := os.Open(f.fallbackPath)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			f.fallbackErr = fmt.Errorf("secrets: open fallback %s: %w", f.fallbackPath, err)
			return
		}
		defer file.Close()
		if f.fallback, err = parseFallback(file); err != nil {
			f.fallbackErr = fmt.Errorf("secrets: read fallback %s: %w", f.fallbackPath, err)
		}
	})
	return f.fallback, f.fallbackErr
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	entry, ok := f.cache[key]
	f.mu.RUnlock()
	if !ok || (!entry.expiresAt.IsZero() && !f.now().Before(entry.expiresAt)) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	entry := cachedSecret{value: value}
	if f.ttl > 0 {
		entry.expiresAt = f.now().Add(f.ttl)
	}
	f.mu.Lock()
	f.cache[key] = entry
	f.mu.Unlock()
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	elapsed := float64(f.now().Sub(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

// fingerprint labels metrics without exposing secret names.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
