package offload

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieveToolReturnsChunks(t *testing.T) {
	store := NewMemoryStore()
	handle, err := store.Put(context.Background(), "web_scrape", strings.Repeat("tycho cycles of light ", 60))
	require.NoError(t, err)

	rt := NewRetrieveTool(store)
	out, err := rt.Call(context.Background(), map[string]any{"handle": handle, "query": "tycho"})

	require.NoError(t, err)
	assert.Contains(t, out, "[chunk 0]")
	assert.Contains(t, out, "tycho")
}

func TestRetrieveToolUnknownHandle(t *testing.T) {
	rt := NewRetrieveTool(NewMemoryStore())

	_, err := rt.Call(context.Background(), map[string]any{"handle": "offload:missing"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "handle not found")
}
