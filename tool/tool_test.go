package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chande-dhanush/Sakura/logging"
)

func echoTool() *FunctionTool {
	return NewFunctionTool(
		"echo",
		"Echo the input text",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(_ context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	)
}

func TestFunctionToolCall(t *testing.T) {
	out, err := echoTool().Call(context.Background(), map[string]any{"text": "hello"})

	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestFunctionToolValidation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"wrong type", map[string]any{"text": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := echoTool().Call(context.Background(), tt.args)

			var toolErr *ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
			assert.Equal(t, "echo", toolErr.Tool)
		})
	}
}

func TestFunctionToolWrapsExecutionError(t *testing.T) {
	failing := NewFunctionTool("boom", "Always fails", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (string, error) {
			return "", errors.New("kaput")
		})

	_, err := failing.Call(context.Background(), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "kaput", toolErr.Message)
}

func TestFunctionToolPreservesCustomToolError(t *testing.T) {
	custom := NewToolError("svc", "quota exhausted", "QUOTA")
	failing := NewFunctionTool("svc", "Service call", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (string, error) {
			return "", custom
		})

	_, err := failing.Call(context.Background(), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "QUOTA", toolErr.Code)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type args struct {
		Song string `json:"song" description:"Song name"`
	}
	tl := NewFunctionToolFromStruct("play_song", "Play a song", args{},
		func(_ context.Context, a map[string]any) (string, error) {
			return "now playing " + a["song"].(string), nil
		})

	schema := tl.Parameters()
	assert.Equal(t, "object", schema["type"])

	out, err := tl.Call(context.Background(), map[string]any{"song": "Weird Fishes"})
	require.NoError(t, err)
	assert.Equal(t, "now playing Weird Fishes", out)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(logging.NoOpLogger{}, echoTool(), echoTool())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRegistryDispatch(t *testing.T) {
	reg, err := NewRegistry(logging.NoOpLogger{}, echoTool())
	require.NoError(t, err)

	res := reg.Call(context.Background(), "echo", map[string]any{"text": "hi"})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "hi", res.Output)

	res = reg.Call(context.Background(), "nope", nil)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Output, "unknown tool")
}

func TestRegistryFoldsErrorsIntoResult(t *testing.T) {
	failing := NewFunctionTool("boom", "Always fails", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (string, error) {
			return "", errors.New("kaput")
		})
	reg, err := NewRegistry(logging.NoOpLogger{}, failing)
	require.NoError(t, err)

	res := reg.Call(context.Background(), "boom", map[string]any{})

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Output, "kaput")
}

func TestRegistryDescriptions(t *testing.T) {
	reg, err := NewRegistry(logging.NoOpLogger{}, echoTool())
	require.NoError(t, err)

	assert.Contains(t, reg.Descriptions(), "echo: Echo the input text")
	assert.Equal(t, []string{"echo"}, reg.Names())
}
