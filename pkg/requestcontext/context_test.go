package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActorRoundTrip(t *testing.T) {
	actor := Actor{
		UserID:        "u-1",
		UserName:      "Alice",
		IPAddress:     "10.0.0.1",
		UserAgent:     "curl/8.0",
		RequestURL:    "/api/things",
		RequestMethod: "POST",
	}
	ctx := WithActor(context.Background(), actor)
	assert.Equal(t, actor, ActorFrom(ctx))
}

func TestActorDefaultsToZero(t *testing.T) {
	assert.Equal(t, Actor{}, ActorFrom(context.Background()))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
}

func TestNowPrefersPinnedClock(t *testing.T) {
	pinned := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := WithTime(context.Background(), pinned)
	assert.True(t, Now(ctx).Equal(pinned))
}

func TestNowFallsBackToWallClock(t *testing.T) {
	before := time.Now()
	got := Now(context.Background())
	assert.False(t, got.Before(before))
}
