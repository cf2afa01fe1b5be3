package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nhbvault/crypto"
)

type contextKey string

const principalContextKey contextKey = "vault-principal"

// jwtVerifier validates bearer tokens and decodes the caller principal from
// the registered "sub" claim, grounded on the teacher's jwtVerifier but
// trimmed to the HS256-only path since vaultd has a single internal issuer.
type jwtVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

func newJWTVerifier(secret []byte, issuer string) (*jwtVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("rpc: JWT secret must not be empty")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("rpc: JWT issuer is required")
	}
	return &jwtVerifier{secret: secret, issuer: issuer, leeway: 30 * time.Second, now: time.Now}, nil
}

func (v *jwtVerifier) verify(token string) (crypto.Principal, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if err != nil {
		return crypto.Principal{}, fmt.Errorf("rpc: invalid token: %w", err)
	}
	if !parsed.Valid {
		return crypto.Principal{}, errors.New("rpc: token validation failed")
	}
	return crypto.DecodePrincipal(claims.Subject)
}

// requireAuth extracts and verifies the bearer token, storing the decoded
// principal in the request context for handlers and the rate limiter to
// read. Requests without a valid token never reach the guard layer.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeModuleError(w, &ModuleError{HTTPStatus: http.StatusUnauthorized, Code: codeUnauthorized, Message: "missing bearer token"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		principal, err := s.jwt.verify(token)
		if err != nil {
			writeModuleError(w, &ModuleError{HTTPStatus: http.StatusUnauthorized, Code: codeUnauthorized, Message: err.Error()})
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) (crypto.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(crypto.Principal)
	return p, ok
}
