package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"fintrack/pkg/requestcontext"
)

type actorClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Auth resolves the acting user from a bearer token and merges the identity
// into the request actor so audit entries carry who made the change.
// Requests without a token pass through as anonymous; invalid tokens are
// rejected so a forged identity never reaches the audit trail.
func Auth(signingKey string, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			claims := &actorClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
				}
				return []byte(signingKey), nil
			})
			if err != nil || !parsed.Valid {
				log.WithError(err).Warn("rejected invalid bearer token")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`))
				return
			}

			ctx := r.Context()
			actor := requestcontext.ActorFrom(ctx)
			actor.UserID = claims.Subject
			actor.UserName = claims.Name
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}
