package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chande-dhanush/Sakura/config"
	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/logging"
)

func testRouter(t *testing.T) (*Router, *gateway.MockProvider) {
	t.Helper()
	provider := gateway.NewMockProvider("mock-model", "mock")
	cfg := &config.GatewayConfig{
		Default:     config.BucketConfig{Capacity: 100, RefillPerSec: 100, MaxWait: time.Second},
		CallTimeout: time.Second,
	}
	gw := gateway.New(provider, cfg, logging.NoOpLogger{})
	return New(gw, logging.NoOpLogger{}), provider
}

func TestGreetingsAreChatWithoutModelCall(t *testing.T) {
	r, provider := testRouter(t)

	for _, q := range []string{"hi", "hello", "thanks!", "good morning", "bye"} {
		route := r.Classify(context.Background(), q, nil)
		assert.Equal(t, ModeChat, route.Mode, q)
	}
	assert.Equal(t, 0, provider.Calls())
}

func TestActionVerbsForceOneShot(t *testing.T) {
	r, provider := testRouter(t)

	tests := []struct {
		query string
		hint  string
	}{
		{"play some jazz", "spotify_control"},
		{"open spotify", "open_app"},
		{"search for go generics", "web_search"},
		{"set timer 5 min", "set_timer"},
	}
	for _, tt := range tests {
		route := r.Classify(context.Background(), tt.query, nil)
		assert.Equal(t, ModeOneShot, route.Mode, tt.query)
		assert.Equal(t, tt.hint, route.ToolHint, tt.query)
	}
	assert.Equal(t, 0, provider.Calls())
}

func TestComplexityForcesIterativeOverOneShot(t *testing.T) {
	r, provider := testRouter(t)

	// Each starts with an action verb but names a multi-step request.
	queries := []string{
		"search for flights and then email the results to mom",
		"find the best laptop and compare it with the macbook",
		"research the history of jazz",
		"play the top song by radiohead and add it to my playlist",
	}
	for _, q := range queries {
		route := r.Classify(context.Background(), q, nil)
		assert.Equal(t, ModeIterative, route.Mode, q)
	}
	assert.Equal(t, 0, provider.Calls())
}

func TestModelClassificationDirect(t *testing.T) {
	r, provider := testRouter(t)
	provider.AddResponse("what's on my calendar", `{"classification": "DIRECT", "tool_hint": "calendar_get_events"}`)

	route := r.Classify(context.Background(), "what's on my calendar today", nil)

	assert.Equal(t, ModeOneShot, route.Mode)
	assert.Equal(t, "calendar_get_events", route.ToolHint)
	assert.Equal(t, 1, provider.Calls())
}

func TestModelClassificationHandlesMarkdownFences(t *testing.T) {
	r, provider := testRouter(t)
	provider.AddResponse("itinerary", "```json\n{\"classification\": \"PLAN\", \"tool_hint\": null}\n```")

	route := r.Classify(context.Background(), "help me put together an itinerary", nil)

	assert.Equal(t, ModeIterative, route.Mode)
}

func TestGatewayFailureDefaultsToChat(t *testing.T) {
	r, provider := testRouter(t)
	provider.FailWith(errors.New("provider down"))

	route := r.Classify(context.Background(), "something ambiguous entirely", nil)

	assert.Equal(t, ModeChat, route.Mode)
}

func TestUnparseableModelOutputDefaultsToChat(t *testing.T) {
	r, provider := testRouter(t)
	provider.AddResponse("mumble", "I think this is a chat maybe?")

	route := r.Classify(context.Background(), "mumble mumble", nil)

	assert.Equal(t, ModeChat, route.Mode)
}

func TestLegacyComplexKeywordMapsToIterative(t *testing.T) {
	route := parseClassification("this looks COMPLEX to me")
	assert.Equal(t, ModeIterative, route.Mode)
}

func TestEmptyQueryIsChat(t *testing.T) {
	r, _ := testRouter(t)
	route := r.Classify(context.Background(), "   ", nil)
	require.Equal(t, ModeChat, route.Mode)
}
