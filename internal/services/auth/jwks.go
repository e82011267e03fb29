package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSManager fetches and caches the JSON Web Key Set used to verify
// access tokens. Keys are refreshed when the cache entry expires.
type JWKSManager struct {
	mu       sync.RWMutex
	url      string
	keySet   jwk.Set
	fetched  time.Time
	ttl      time.Duration
	client   *http.Client
	fetching sync.Mutex
}

// NewJWKSManager creates a manager for the given JWKS endpoint.
func NewJWKSManager(url string) *JWKSManager {
	return &JWKSManager{
		url: url,
		ttl: time.Hour,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// KeySet returns the cached key set, fetching it first if the cache is
// empty or stale.
func (m *JWKSManager) KeySet(ctx context.Context) (jwk.Set, error) {
	m.mu.RLock()
	if m.keySet != nil && time.Since(m.fetched) < m.ttl {
		ks := m.keySet
		m.mu.RUnlock()
		return ks, nil
	}
	m.mu.RUnlock()

	return m.refresh(ctx)
}

// Invalidate drops the cached key set so the next verification fetches a
// fresh one. Used when verification fails on a key lookup, which usually
// means the provider rotated its keys.
func (m *JWKSManager) Invalidate() {
	m.mu.Lock()
	m.keySet = nil
	m.mu.Unlock()
}

func (m *JWKSManager) refresh(ctx context.Context) (jwk.Set, error) {
	// Only one goroutine fetches at a time. Everyone else waits and
	// then reads the refreshed cache.
	m.fetching.Lock()
	defer m.fetching.Unlock()

	m.mu.RLock()
	if m.keySet != nil && time.Since(m.fetched) < m.ttl {
		ks := m.keySet
		m.mu.RUnlock()
		return ks, nil
	}
	m.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building JWKS request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS from %s: %w", m.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching JWKS from %s: status %d", m.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading JWKS response: %w", err)
	}

	keySet, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing JWKS: %w", err)
	}

	m.mu.Lock()
	m.keySet = keySet
	m.fetched = time.Now()
	m.mu.Unlock()

	return keySet, nil
}
