package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type authCtxKey int

const authKey authCtxKey = 7

// Roles carried in tokens. Respondents act on their own account; surveyors
// moderate; admins may also credit commerce rewards.
const (
	RoleRespondent = "respondent"
	RoleSurveyor   = "surveyor"
	RoleAdmin      = "admin"
)

type Claims struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth verifies HS256 bearer tokens issued by the identity provider in front of
// the ledger.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	if secret == "" {
		secret = "surveyledger-dev-secret"
	}
	return &Auth{secret: []byte(secret)}
}

func (a *Auth) SignToken(uid, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{UID: uid, Role: role, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(token *jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid && c.UID != "" {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// WithAuth attaches claims to the context if a valid bearer token is present.
func (a *Auth) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			if c, err := a.parseToken(tok); err == nil {
				ctx := context.WithValue(r.Context(), authKey, c)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests without claims. With roles given, the token's
// role must be one of them.
func RequireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, c.Role) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(authKey).(*Claims)
	return c, ok
}

// SubjectFromContext returns the authenticated user id.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if c, ok := ClaimsFromContext(ctx); ok && c.UID != "" {
		return c.UID, true
	}
	return "", false
}
