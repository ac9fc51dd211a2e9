// Package httpapi exposes the server reconciliation engine over HTTP: one
// Digest-authenticated POST endpoint per table for pull/push, a health
// check, and a JWT-guarded admin endpoint for the server-side
// column-addition utility (schema changes are destructive and get their own
// trust tier, separate from per-table Digest auth).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// decodeJSON decodes r's body into v, used by the admin endpoint whose
// payload is small hand-rolled JSON rather than the wire protocol's XML.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

type adminCtxKey string

const adminSubjectKey adminCtxKey = "adminSubject"

// AdminAuth validates the bearer token on the schema-change endpoint. Only
// HS256 with a shared secret is supported: the admin endpoint has no
// upstream IdP, unlike the teacher's user-facing JWT middleware.
type AdminAuth struct {
	Secret string
}

var errMissingBearer = errors.New("httpapi: missing bearer token")

func (a *AdminAuth) validate(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(hdr, prefix) {
		return "", errMissingBearer
	}
	tokenString := strings.TrimPrefix(hdr, prefix)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.Secret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("httpapi: invalid admin token")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("httpapi: admin token missing sub claim")
	}
	return sub, nil
}

// Middleware rejects requests without a valid admin bearer token.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := a.validate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), adminSubjectKey, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminSubject returns the authenticated admin's subject claim, if any.
func AdminSubject(ctx context.Context) string {
	if s, ok := ctx.Value(adminSubjectKey).(string); ok {
		return s
	}
	return ""
}
