package sakura

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chande-dhanush/Sakura/gateway"
	"github.com/chande-dhanush/Sakura/graph"
	"github.com/chande-dhanush/Sakura/logging"
	"github.com/chande-dhanush/Sakura/router"
	"github.com/chande-dhanush/Sakura/tool"
)

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
}

func TestNewWiresDefaults(t *testing.T) {
	provider := gateway.NewMockProvider("mock-model", "mock")
	s, err := New(provider, nil)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	self := s.Graph().Self()
	assert.Equal(t, graph.SelfID, self.ID)
}

func TestHandleGreetingEndToEnd(t *testing.T) {
	provider := gateway.NewMockProvider("mock-model", "mock")
	provider.AddResponse("hello", "Hi! What can I do for you?")

	s, err := New(provider, &Options{Logger: logging.NoOpLogger{}})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	reply := s.Handle(context.Background(), "hello")

	assert.Equal(t, router.ModeChat, reply.Mode)
	assert.Equal(t, "Hi! What can I do for you?", reply.Text)
	assert.NotEmpty(t, reply.RequestID)
}

func TestRetrieveOffloadedToolIsRegistered(t *testing.T) {
	provider := gateway.NewMockProvider("mock-model", "mock")
	echo := tool.NewFunctionTool("echo", "Echo", map[string]any{"type": "object"},
		func(_ context.Context, args map[string]any) (string, error) { return "ok", nil })

	s, err := New(provider, &Options{Tools: []tool.Tool{echo}})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	// The pipeline registry is internal; the wiring is observable through a
	// duplicate-name rejection instead.
	dup := tool.NewFunctionTool("retrieve_offloaded", "dup", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (string, error) { return "", nil })
	_, err = New(provider, &Options{Tools: []tool.Tool{dup}})
	assert.Error(t, err, "retrieve_offloaded is already registered by the façade")
}
