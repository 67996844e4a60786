package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"github.com/sirupsen/logrus"

	"fintrack/pkg/requestcontext"
)

// Metadata captures the request facts the persistence layer stamps onto
// every write: client IP, user agent, URL, and method. It also assigns a
// request id and emits a structured access log line when the request ends.
func Metadata(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			actor := requestcontext.Actor{
				IPAddress:     clientIP(r),
				UserAgent:     r.UserAgent(),
				RequestURL:    r.URL.RequestURI(),
				RequestMethod: r.Method,
			}

			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			ctx := requestcontext.WithActor(r.Context(), actor)
			ctx = requestcontext.WithRequestID(ctx, requestID)
			ctx = requestcontext.WithTime(ctx, start)

			next.ServeHTTP(w, r.WithContext(ctx))

			ua := useragent.New(actor.UserAgent)
			browser, version := ua.Browser()
			log.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"ip":         actor.IPAddress,
				"browser":    browser,
				"browser_v":  version,
				"os":         ua.OS(),
				"duration":   time.Since(start).String(),
			}).Info("request handled")
		})
	}
}

// clientIP prefers proxy-supplied headers over the socket peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
