package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrJWKSKeyNotFound means no published key matches the token's kid.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport and decoding failures while loading the key set.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSTTL          = 15 * time.Minute
	defaultJWKSFetchTimeout = 5 * time.Second
	// Unknown kids trigger at most one refetch per window.
	jwksMissRefetchWindow   = 30 * time.Second
)

// JWKSCache holds Google's signing keys. Keys are reloaded when the Cache-Control max-age runs out,
// prefetched in the background after half of it, and refetched when a token names an unknown kid.
type JWKSCache struct {
	url     string
	client  *http.Client
	logger  Logger
	now     func() time.Time
	ttl     time.Duration
	timeout time.Duration

	mu          sync.RWMutex
	keys        map[string]jose.JSONWebKey
	fetchedAt   time.Time
	expiresAt   time.Time
	lastMissAt  time.Time
	fetchMu     sync.Mutex
	prefetching bool
}

// JWKSOption customises a JWKSCache.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient replaces the HTTP client.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger reports refreshes and failures.
func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		c.logger = logger
	}
}

// WithJWKSTTL sets the key lifetime used when the response carries no max-age.
func WithJWKSTTL(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithJWKSClock injects the clock.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache returns an empty cache; the first lookup loads url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
		ttl:     defaultJWKSTTL,
		timeout: defaultJWKSFetchTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Keyfunc adapts the cache to jwt parsing. Only RS256 tokens with a kid header are accepted.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key published under kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.now()

	c.mu.RLock()
	key, found := c.keys[kid]
	loaded := c.keys != nil
	expired := !now.Before(c.expiresAt)
	stale := !now.Before(c.fetchedAt.Add(c.expiresAt.Sub(c.fetchedAt) / 2))
	missAllowed := now.Sub(c.lastMissAt) >= jwksMissRefetchWindow
	c.mu.RUnlock()

	switch {
	case !loaded || expired:
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	case !found && missAllowed:
		c.mu.Lock()
		c.lastMissAt = now
		c.mu.Unlock()
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	case found && stale:
		c.prefetch()
		return key.Key, nil
	case found:
		return key.Key, nil
	}

	c.mu.RLock()
	key, found = c.keys[kid]
	c.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
	}
	return key.Key, nil
}

func (c *JWKSCache) prefetch() {
	c.mu.Lock()
	if c.prefetching {
		c.mu.Unlock()
		return
	}
	c.prefetching = true
	c.mu.Unlock()

	go func() {
		ctx := context.Background()
		if err := c.refresh(ctx); err != nil {
			c.logger.log(ctx, "auth.jwks.prefetch_failed", map[string]any{"error": err.Error()})
		}
		c.mu.Lock()
		c.prefetching = false
		c.mu.Unlock()
	}()
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// Another caller may have loaded fresh keys while this one waited.
	started := c.now()
	c.mu.RLock()
	fresh := c.keys != nil && started.Sub(c.fetchedAt) < time.Second
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	keys, ttl, err := c.fetch(ctx)
	if err != nil {
		c.logger.log(ctx, "auth.jwks.refresh_failed", map[string]any{"url": c.url, "error": err.Error()})
		return err
	}

	now := c.now()
	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = now
	c.expiresAt = now.Add(ttl)
	c.mu.Unlock()
	c.logger.log(ctx, "auth.jwks.refreshed", map[string]any{"keys": len(keys), "ttl": ttl.String()})
	return nil
}

func (c *JWKSCache) fetch(ctx context.Context) (map[string]jose.JSONWebKey, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, 0, fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, key := range set.Keys {
		if key.KeyID != "" && key.Valid() && key.IsPublic() {
			keys[key.KeyID] = key
		}
	}
	if len(keys) == 0 {
		return nil, 0, fmt.Errorf("%w: no usable public keys", ErrJWKSFetchFailed)
	}

	ttl := c.ttl
	if maxAge, ok := maxAgeOf(resp.Header.Get("Cache-Control")); ok {
		ttl = maxAge
	}
	return keys, ttl, nil
}

func maxAgeOf(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.Trim(value, `" `))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
