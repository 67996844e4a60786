package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/pkg/requestcontext"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func captureActor(t *testing.T, req *http.Request) requestcontext.Actor {
	t.Helper()
	var actor requestcontext.Actor
	handler := Metadata(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = requestcontext.ActorFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return actor
}

func TestMetadataCapturesRequestFacts(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/persons?page=2", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	req.Header.Set("User-Agent", "Mozilla/5.0 test")

	actor := captureActor(t, req)

	assert.Equal(t, "192.0.2.7", actor.IPAddress)
	assert.Equal(t, "Mozilla/5.0 test", actor.UserAgent)
	assert.Equal(t, "/api/persons?page=2", actor.RequestURL)
	assert.Equal(t, http.MethodPost, actor.RequestMethod)
}

func TestMetadataPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.5")

	actor := captureActor(t, req)
	assert.Equal(t, "203.0.113.9", actor.IPAddress)
}

func TestMetadataFallsBackToRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:443"
	req.Header.Set("X-Real-Ip", "198.51.100.4")

	actor := captureActor(t, req)
	assert.Equal(t, "198.51.100.4", actor.IPAddress)
}

func TestMetadataAssignsRequestID(t *testing.T) {
	var requestID string
	handler := Metadata(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = requestcontext.RequestID(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, requestID)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-77")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "req-77", requestID)
}
