package actionhandler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchUnknownToolErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "ghost", nil, "req-1")
	require.Error(t, err)
}

func TestDispatchRunsRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("echo", func(ctx context.Context, params map[string]any, requestID string) (any, error) {
		return params["text"], nil
	})

	result, err := r.Dispatch(context.Background(), "echo", map[string]any{"text": "hi"}, "req-1")
	require.NoError(t, err)
	require.Equal(t, "hi", result)
	require.True(t, r.Has("echo"))
}
