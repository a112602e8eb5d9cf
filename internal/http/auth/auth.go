// Package auth resolves the calling party from a bearer token. Tokens are issued
// elsewhere; only their HS256 signature and subject are checked here.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrJamesThe3rd/haven/internal/escrow"
	"github.com/MrJamesThe3rd/haven/internal/http/response"
)

type contextKey struct{}

var (
	errMissingToken = errors.New("bearer token required")
	errMissingSub   = errors.New("token has no subject")
)

// Middleware rejects requests without a valid token and stores the token subject
// as the caller id.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID, err := callerFromRequest(parser, secret, r)
			if err != nil {
				response.JSON(w, http.StatusUnauthorized, map[string]string{
					"error":   string(escrow.KindNotAuthorized),
					"message": err.Error(),
				})

				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), callerID)))
		})
	}
}

func callerFromRequest(parser *jwt.Parser, secret []byte, r *http.Request) (string, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", errMissingToken
	}

	token, err := parser.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return "", err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}

	if sub == "" {
		return "", errMissingSub
	}

	return sub, nil
}

func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, contextKey{}, callerID)
}

// Caller returns the authenticated caller id, empty if there is none.
func Caller(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Sign issues an HS256 token for subject. Used by tests and local tooling.
func Sign(secret []byte, subject string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject}).SignedString(secret)
}
