package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/testutil"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

type provider struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	kid    string
	hits   atomic.Int32
	status int
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p := &provider{key: key, kid: "k1", status: http.StatusOK}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		p.hits.Add(1)
		if p.status != http.StatusOK {
			w.WriteHeader(p.status)
			return
		}
		pub := &p.key.PublicKey
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"keys": []map[string]string{
			{"kid": "enc", "kty": "RSA", "use": "enc", "n": "AQAB", "e": "AQAB"},
			{"kid": "ec", "kty": "EC", "use": "sig"},
			{"kid": "bad", "kty": "RSA", "use": "sig", "n": "!!", "e": "AQAB"},
			{
				"kid": p.kid, "kty": "RSA", "use": "sig",
				"n": base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		}})
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *provider) sign(t *testing.T, kid string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "chemist",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return s
}

func TestNewKeySet_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "ftp://x/certs", "not a url", "http://"} {
		_, err := NewKeySet(KeySetConfig{URL: u}, nil)
		assert.True(t, errors.IsValidation(err), u)
	}
}

func TestKeySet_Key(t *testing.T) {
	p := newProvider(t)
	logger := testutil.NewRecordingLogger()
	ks, err := NewKeySet(KeySetConfig{URL: p.server.URL}, logger)
	require.NoError(t, err)
	assert.Equal(t, int32(0), p.hits.Load(), "lazy")

	key, err := ks.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 0, key.N.Cmp(p.key.PublicKey.N))
	assert.Equal(t, p.key.PublicKey.E, key.E)

	for _, kid := range []string{"enc", "ec", "bad"} {
		_, err = ks.Key(context.Background(), kid)
		assert.ErrorIs(t, err, ErrKeyNotFound, kid)
	}
	assert.Equal(t, int32(1), p.hits.Load(), "unknown kids within the refresh interval do not refetch")

	skipped := logger.Find("warn", "skipping malformed key")
	require.Len(t, skipped, 1)
	assert.Equal(t, "jwks", skipped[0].Logger)
	kid, _ := skipped[0].Field("kid")
	assert.Equal(t, "bad", kid)
}

func TestKeySet_RefetchesUnknownKidAfterInterval(t *testing.T) {
	p := newProvider(t)
	ks, err := NewKeySet(KeySetConfig{URL: p.server.URL, MinRefreshInterval: time.Minute}, nil)
	require.NoError(t, err)
	now := time.Now()
	ks.now = func() time.Time { return now }

	require.NoError(t, ks.Refresh(context.Background()))
	_, err = ks.Key(context.Background(), "rotated")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int32(1), p.hits.Load())

	now = now.Add(2 * time.Minute)
	p.kid = "rotated"
	_, err = ks.Key(context.Background(), "rotated")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.hits.Load())
}

func TestKeySet_FetchErrors(t *testing.T) {
	p := newProvider(t)
	p.status = http.StatusBadGateway
	ks, err := NewKeySet(KeySetConfig{URL: p.server.URL}, nil)
	require.NoError(t, err)

	err = ks.Check(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))
	assert.Equal(t, "jwks", ks.Name())
}

func TestKeySet_Keyfunc(t *testing.T) {
	p := newProvider(t)
	ks, err := NewKeySet(KeySetConfig{URL: p.server.URL}, nil)
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(p.sign(t, "k1"), claims, ks.Keyfunc)
	require.NoError(t, err)
	assert.Equal(t, "chemist", claims.Subject)

	_, err = jwt.Parse(p.sign(t, ""), ks.Keyfunc)
	assert.ErrorIs(t, err, ErrMissingKeyID)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = jwt.Parse(hs, ks.Keyfunc)
	assert.Error(t, err)
}
