// Package middleware provides HTTP middleware for the assistant API.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/spendlens/spendlens/cmd/server/config"
	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
)

type contextKey string

const contextKeyTenant contextKey = "tenant"

// GetTenant returns the authenticated tenant id from the request
// context.
func GetTenant(ctx context.Context) (string, bool) {
	tenant, ok := ctx.Value(contextKeyTenant).(string)
	return tenant, ok && tenant != ""
}

// WithTenant returns a context carrying the tenant id. Exported for
// handler tests.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, contextKeyTenant, tenant)
}

// AuthMiddleware resolves the requesting tenant from the Authorization
// header. Every data route requires a tenant; requests that cannot
// prove one are rejected before any SQL is seen.
type AuthMiddleware struct {
	config config.AuthConfig
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(cfg config.AuthConfig, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		config: cfg,
		logger: logger,
	}
}

// Handler wraps next with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := m.authenticate(r)
		if err != nil {
			m.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			writeUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
	})
}

// authenticate resolves the tenant based on the configured auth type.
func (m *AuthMiddleware) authenticate(r *http.Request) (string, error) {
	if !m.config.Enabled {
		// Development mode: the tenant arrives as a plain header.
		if tenant := strings.TrimSpace(r.Header.Get("X-User-ID")); tenant != "" {
			return tenant, nil
		}
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing X-User-ID header")
	}

	token, err := bearerToken(r)
	if err != nil {
		return "", err
	}

	switch m.config.Type {
	case "bearer":
		return m.authenticateBearer(token)
	case "jwt":
		return m.authenticateJWT(token)
	default:
		return "", pkgerrors.New(pkgerrors.CodeInternal, "unsupported auth type: "+m.config.Type)
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid authorization header")
	}
	return strings.TrimPrefix(header, "Bearer "), nil
}

// authenticateBearer maps a static token onto its tenant.
func (m *AuthMiddleware) authenticateBearer(token string) (string, error) {
	for candidate, tenant := range m.config.BearerTokens {
		// Constant time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
			return tenant, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid token")
}

// authenticateJWT verifies an HS256 token and reads the tenant from its
// subject claim.
func (m *AuthMiddleware) authenticateJWT(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "unexpected signing method")
		}
		return []byte(m.config.JWTSecret), nil
	})
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid token")
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "token carries no subject")
	}
	return subject, nil
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    pkgerrors.CodeUnauthorized,
			"message": pkgerrors.GetMessage(err),
		},
	})
}
