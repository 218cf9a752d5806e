// Package middleware holds the HTTP middleware of the API server.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

type contextKey int

const claimsContextKey contextKey = iota

// Claims are the accepted bearer token claims.  The subject identifies the
// caller in logs.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// AuthConfig configures bearer authentication.  Secret enables HS256
// tokens, Keys enables RSA tokens from an identity provider; either or
// both may be set.
type AuthConfig struct {
	Secret   []byte
	Keys     jwt.Keyfunc
	Issuer   string // empty accepts any issuer
	Audience string // empty accepts any audience
	Leeway   time.Duration
}

// AuthMiddleware verifies bearer tokens.
type AuthMiddleware struct {
	parser *jwt.Parser
	config AuthConfig
	logger logging.Logger
}

// NewAuthMiddleware creates an AuthMiddleware.
func NewAuthMiddleware(cfg AuthConfig, logger logging.Logger) *AuthMiddleware {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var methods []string
	if len(cfg.Secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.Keys != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg())
	}
	if len(methods) == 0 {
		// an empty list would let the parser accept any algorithm
		methods = []string{jwt.SigningMethodHS256.Alg()}
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &AuthMiddleware{parser: jwt.NewParser(opts...), config: cfg, logger: logger.Named("auth")}
}

// Handler rejects requests without a valid token with 401.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			writeError(w, errors.ErrCodeUnauthorized, "authentication required")
			return
		}
		claims, err := m.validate(raw)
		if err != nil {
			m.logger.Warn("token rejected", logging.String("path", r.URL.Path), logging.Err(err))
			writeError(w, errors.ErrCodeUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)))
	})
}

func (m *AuthMiddleware) validate(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); ok && m.config.Keys != nil {
			return m.config.Keys(t)
		}
		if len(m.config.Secret) == 0 {
			return nil, jwt.ErrTokenUnverifiable
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueToken signs an HS256 token for subject valid for ttl.
func IssueToken(secret []byte, issuer, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ContextGetClaims returns the verified claims, or nil.
func ContextGetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// ContextGetSubject returns the token subject, or "".
func ContextGetSubject(ctx context.Context) string {
	if c := ContextGetClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}

func writeError(w http.ResponseWriter, code errors.ErrorCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatusForCode(code))
	_ = json.NewEncoder(w).Encode(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{string(code), msg})
}
