package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runfactory/internal/commands/shared"
	"github.com/tombee/runfactory/internal/registry"
)

func TestList(t *testing.T) {
	ctx := context.Background()
	client := registry.NewLocal(registry.NewMemoryStore())
	require.NoError(t, client.Bind(ctx, "runfactory-1", registry.Handle{Address: "127.0.0.1:9001", PID: 11}))
	require.NoError(t, client.Bind(ctx, "runfactory-2", registry.Handle{Address: "127.0.0.1:9002", PID: 12}))

	entries, err := list(ctx, client)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]ListEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, "127.0.0.1:9001", byName["runfactory-1"].Address)
	assert.Equal(t, 12, byName["runfactory-2"].PID)
	assert.False(t, byName["runfactory-1"].BoundAt.IsZero())
}

func TestListEmpty(t *testing.T) {
	entries, err := list(context.Background(), registry.NewLocal(registry.NewMemoryStore()))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListCommandUnreachable(t *testing.T) {
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"list", "--addr", "127.0.0.1:1"})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	require.Error(t, err)
	assert.Equal(t, shared.ExitUnavailable, shared.ExitCode(err))
}

func TestListEntryJSON(t *testing.T) {
	data, err := json.Marshal(ListEntry{Name: "runfactory-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"runfactory-1"}`, string(data))
}
