package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"aegis/pkg/domerrors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
	"aegis/pkg/secrets"
)

// ActorClaims are the JWT claims carried by operator and service tokens.
type ActorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenValidator validates bearer tokens into actor claims.
type TokenValidator struct {
	signingKey []byte
}

// NewTokenValidator creates a validator for HMAC-signed actor tokens.
func NewTokenValidator(signingKey string) *TokenValidator {
	return &TokenValidator{signingKey: []byte(signingKey)}
}

// Validate parses and verifies a token string.
func (v *TokenValidator) Validate(tokenString string) (*ActorClaims, error) {
	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domerrors.New(domerrors.CodeUnauthorized, "unexpected signing method")
		}
		return v.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, domerrors.New(domerrors.CodeUnauthorized, "invalid or expired token")
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, domerrors.New(domerrors.CodeUnauthorized, "token missing actor claims")
	}
	return claims, nil
}

// ServiceKey authenticates machine callers by a bcrypt-hashed API key sent
// in the X-API-Key header. A nil ServiceKey disables the scheme.
type ServiceKey struct {
	hash  string
	actor string
}

// NewServiceKey builds a ServiceKey for the given stored hash. Returns nil
// when no hash is configured.
func NewServiceKey(hash, actor string) *ServiceKey {
	if hash == "" {
		return nil
	}
	return &ServiceKey{hash: hash, actor: actor}
}

// Verify checks a presented key against the stored hash.
func (k *ServiceKey) Verify(key string) bool {
	return secrets.Verify(key, k.hash)
}

// RequireAuth authenticates the caller and stores actor identity and role in
// the context. Machine callers present X-API-Key and act as the configured
// service identity with the system role; everyone else presents a bearer
// token.
func RequireAuth(validator *TokenValidator, serviceKey *ServiceKey, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" && serviceKey != nil {
				if !serviceKey.Verify(apiKey) {
					logger.WarnContext(ctx, "rejected service key",
						"request_id", requestcontext.RequestID(ctx),
					)
					httputil.WriteError(w, domerrors.New(domerrors.CodeUnauthorized, "invalid api key"))
					return
				}
				ctx = requestcontext.WithActorID(ctx, serviceKey.actor)
				ctx = requestcontext.WithActorRole(ctx, "system")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				httputil.WriteError(w, domerrors.New(domerrors.CodeUnauthorized, "missing bearer token"))
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}

			ctx = requestcontext.WithActorID(ctx, claims.Subject)
			ctx = requestcontext.WithActorRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose actor role is not in the allowed set.
// RequireAuth must run earlier in the chain.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := requestcontext.ActorRole(r.Context())
			if _, ok := allowed[role]; !ok {
				httputil.WriteError(w, domerrors.Newf(domerrors.CodeInsufficientRights,
					"role %q may not access this resource", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
