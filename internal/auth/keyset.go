package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zitadel/oidc/v3/pkg/client"
	"golang.org/x/sync/singleflight"
)

// errKeyNotFound is returned when a kid is absent even after a refresh.
var errKeyNotFound = errors.New("signing key not found")

// DefaultFailureCooldown is how long a failed fetch is reused before the
// provider is contacted again.
const DefaultFailureCooldown = 10 * time.Second

// KeySet caches a remote JSON Web Key Set.
//
// Concurrent callers that need a fetch share one in-flight request and stop
// waiting when their own context ends. A failed fetch is remembered for the
// failure cooldown, and keys from the last good fetch keep being served
// while the provider is unreachable. Unknown key ids force at most one
// refetch per negativeTTL.
type KeySet struct {
	issuer   string
	refresh  time.Duration
	cooldown time.Duration
	client   *http.Client
	group    singleflight.Group

	mu        sync.Mutex
	jwksURL   string
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time
	failedAt  time.Time
	lastErr   error

	unknownKids *expirable.LRU[string, struct{}]
	now         func() time.Time
}

// KeySetOption customises a KeySet.
type KeySetOption func(*KeySet)

// WithHTTPClient overrides the client used for discovery and key fetches.
func WithHTTPClient(c *http.Client) KeySetOption {
	return func(ks *KeySet) {
		if c != nil {
			ks.client = c
		}
	}
}

// WithJWKSURL pins the key set location and skips discovery.
func WithJWKSURL(url string) KeySetOption {
	return func(ks *KeySet) { ks.jwksURL = url }
}

// WithFailureCooldown overrides DefaultFailureCooldown.
func WithFailureCooldown(d time.Duration) KeySetOption {
	return func(ks *KeySet) {
		if d > 0 {
			ks.cooldown = d
		}
	}
}

// NewKeySet creates a lazily fetched key set for issuer.
func NewKeySet(issuer string, refresh time.Duration, opts ...KeySetOption) *KeySet {
	if refresh <= 0 {
		refresh = time.Hour
	}
	ks := &KeySet{
		issuer:      issuer,
		refresh:     refresh,
		cooldown:    DefaultFailureCooldown,
		client:      &http.Client{Timeout: 5 * time.Second},
		unknownKids: expirable.NewLRU[string, struct{}](256, nil, time.Minute),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// Key returns the public key for kid. Fetch failures wrap ErrVerifierUnavailable.
func (ks *KeySet) Key(ctx context.Context, kid string) (any, error) {
	cached, stale := ks.cached()
	if cached != nil && !stale {
		if key, ok := lookup(cached, kid); ok {
			return key, nil
		}
		if ks.unknownKids.Contains(kid) {
			return nil, errKeyNotFound
		}
	}

	// Missing, stale, or the kid may have rotated in since the last fetch.
	fresh, err := ks.refreshKeys(ctx)
	if err != nil {
		if cached != nil {
			if key, ok := lookup(cached, kid); ok {
				log.Printf("WARNING: serving cached key set for %s: %v", ks.issuer, err)
				return key, nil
			}
		}
		return nil, err
	}
	if key, ok := lookup(fresh, kid); ok {
		return key, nil
	}
	ks.unknownKids.Add(kid, struct{}{})
	return nil, errKeyNotFound
}

func (ks *KeySet) cached() (*jose.JSONWebKeySet, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.keys, ks.keys == nil || ks.now().Sub(ks.fetchedAt) > ks.refresh
}

func lookup(set *jose.JSONWebKeySet, kid string) (any, bool) {
	for _, k := range set.Key(kid) {
		if k.Valid() && k.IsPublic() {
			return k.Key, true
		}
	}
	return nil, false
}

// refreshKeys joins the in-flight fetch or starts one. Within the failure
// cooldown it returns the last error without contacting the provider.
func (ks *KeySet) refreshKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	ks.mu.Lock()
	if ks.lastErr != nil && ks.now().Sub(ks.failedAt) < ks.cooldown {
		err := ks.lastErr
		ks.mu.Unlock()
		return nil, err
	}
	ks.mu.Unlock()

	// The shared fetch outlives any single caller's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := ks.group.DoChan("jwks", func() (any, error) {
		set, err := ks.fetch(fetchCtx)

		ks.mu.Lock()
		defer ks.mu.Unlock()
		if err != nil {
			ks.failedAt = ks.now()
			ks.lastErr = err
			return nil, err
		}
		ks.keys = set
		ks.fetchedAt = ks.now()
		ks.failedAt = time.Time{}
		ks.lastErr = nil
		ks.unknownKids.Purge()
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for key set: %v", ErrVerifierUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*jose.JSONWebKeySet), nil
	}
}

func (ks *KeySet) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	ks.mu.Lock()
	jwksURL := ks.jwksURL
	ks.mu.Unlock()

	if jwksURL == "" {
		discovery, err := client.Discover(ctx, ks.issuer, ks.client)
		if err != nil {
			return nil, fmt.Errorf("%w: discover %s: %v", ErrVerifierUnavailable, ks.issuer, err)
		}
		if discovery.JwksURI == "" {
			return nil, fmt.Errorf("%w: issuer %s publishes no jwks_uri", ErrVerifierUnavailable, ks.issuer)
		}
		jwksURL = discovery.JwksURI
		ks.mu.Lock()
		ks.jwksURL = jwksURL
		ks.mu.Unlock()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch key set: %v", ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch key set: status %d", ErrVerifierUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read key set: %v", ErrVerifierUnavailable, err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%w: decode key set: %v", ErrVerifierUnavailable, err)
	}
	return &set, nil
}
