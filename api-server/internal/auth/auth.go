// Package auth issues and checks the bearer tokens that tie a client to one
// booking session
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// DefaultTokenTTL is how long a session token stays valid
const DefaultTokenTTL = 12 * time.Hour

const issuer = "ride-booking"

var (
	ErrMissingToken = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid session token")
	ErrWrongSession = errors.New("token does not belong to this session")
)

type contextKey struct{}

// SessionTokens signs session tokens with HS256. The subject is the
// session id.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens creates a token issuer
func NewSessionTokens(secret []byte, ttl time.Duration) *SessionTokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &SessionTokens{secret: secret, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for the session and its expiry
func (t *SessionTokens) Issue(sessionID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks a token and returns the session id it was issued for
func (t *SessionTokens) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Middleware only lets a request through when its token was issued for the
// session named by the {id} route variable. Browsers cannot set headers on
// websocket upgrades, so the token may also come as ?token=.
func (t *SessionTokens) Middleware(onError func(http.ResponseWriter, *http.Request, error)) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				onError(w, r, ErrMissingToken)
				return
			}
			sessionID, err := t.Verify(token)
			if err != nil {
				onError(w, r, err)
				return
			}
			if id, ok := mux.Vars(r)["id"]; ok && id != sessionID {
				onError(w, r, ErrWrongSession)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// WithSessionID stores the authenticated session id on the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, sessionID)
}

// SessionID returns the authenticated session id, if any
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok
}
