// Package oidc verifies bearer tokens issued by an OpenID Connect provider
// (a Keycloak realm, for instance) against the provider's JSON Web Key Set.
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

var (
	ErrKeyNotFound  = errors.New(errors.ErrCodeUnauthorized, "signing key not found")
	ErrMissingKeyID = errors.New(errors.ErrCodeUnauthorized, "token header has no kid")
)

const (
	defaultMinRefresh = time.Minute
	defaultTimeout    = 10 * time.Second
)

// KeySetConfig configures NewKeySet.
type KeySetConfig struct {
	// URL of the JWKS document, e.g.
	// https://sso.example.com/realms/chem/protocol/openid-connect/certs
	URL string
	// MinRefreshInterval bounds how often an unknown kid triggers a fetch.
	MinRefreshInterval time.Duration
	HTTPClient         *http.Client
}

// KeySet caches the RSA signing keys of a JWKS endpoint.  Keys are fetched
// lazily and refetched when a token names a kid the cache does not hold.
type KeySet struct {
	url        string
	client     *http.Client
	minRefresh time.Duration
	logger     logging.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	group singleflight.Group
	now   func() time.Time
}

// NewKeySet validates cfg; no request is made until a key is needed.
func NewKeySet(cfg KeySetConfig, logger logging.Logger) (*KeySet, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Newf(errors.ErrCodeValidation, "invalid JWKS url %q", cfg.URL)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ks := &KeySet{
		url:        cfg.URL,
		client:     cfg.HTTPClient,
		minRefresh: cfg.MinRefreshInterval,
		logger:     logger.Named("jwks"),
		keys:       map[string]*rsa.PublicKey{},
		now:        time.Now,
	}
	if ks.client == nil {
		ks.client = &http.Client{Timeout: defaultTimeout}
	}
	if ks.minRefresh <= 0 {
		ks.minRefresh = defaultMinRefresh
	}
	return ks, nil
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Refresh refetches the key set.  Concurrent callers share one request.
func (k *KeySet) Refresh(ctx context.Context) error {
	_, err, _ := k.group.Do("refresh", func() (interface{}, error) {
		return nil, k.fetch(ctx)
	})
	return err
}

func (k *KeySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "build JWKS request")
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "fetch JWKS")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.ErrCodeExternalService, "fetch JWKS: %s", resp.Status)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "decode JWKS")
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, key := range doc.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := rsaKey(key)
		if err != nil {
			k.logger.Warn("skipping malformed key", logging.String("kid", key.Kid), logging.Err(err))
			continue
		}
		keys[key.Kid] = pub
	}

	k.mu.Lock()
	k.keys = keys
	k.fetchedAt = k.now()
	k.mu.Unlock()
	k.logger.Debug("key set refreshed", logging.Int("keys", len(keys)))
	return nil
}

func rsaKey(key jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if len(n) == 0 || !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("unusable RSA parameters")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

func (k *KeySet) cached(kid string) (*rsa.PublicKey, time.Time) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[kid], k.fetchedAt
}

// Key returns the key for kid, fetching the set when kid is unknown and the
// last fetch is older than the minimum refresh interval.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, fetchedAt := k.cached(kid)
	if key != nil {
		return key, nil
	}
	if !fetchedAt.IsZero() && k.now().Sub(fetchedAt) < k.minRefresh {
		return nil, ErrKeyNotFound
	}
	if err := k.Refresh(ctx); err != nil {
		return nil, err
	}
	if key, _ = k.cached(kid); key == nil {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// Keyfunc resolves the verification key of an RSA-signed token.
func (k *KeySet) Keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, errors.Newf(errors.ErrCodeUnauthorized, "unexpected signing method %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, ErrMissingKeyID
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return k.Key(ctx, kid)
}

// Name implements the health checker contract.
func (k *KeySet) Name() string { return "jwks" }

// Check fetches the key set.
func (k *KeySet) Check(ctx context.Context) error { return k.Refresh(ctx) }
