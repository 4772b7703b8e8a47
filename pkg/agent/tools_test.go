package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{ name string }

func (t *echoTool) Name() string { return t.name }
func (t *echoTool) Describe() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: "echoes input"}
}
func (t *echoTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	return text, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&echoTool{name: "echo"}))

	tool, ok := reg.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Name())

	err := reg.Register(&echoTool{name: "echo"})
	assert.Error(t, err)
}

func TestRegistryDefinitionsRespectsAllowList(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&echoTool{name: "b"}))
	require.NoError(t, reg.Register(&echoTool{name: "a"}))
	require.NoError(t, reg.Register(&echoTool{name: "c"}))

	all := reg.Definitions(nil)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Name, "definitions are name-ordered")

	allowed := reg.Definitions([]string{"c", "a"})
	require.Len(t, allowed, 2)
	assert.Equal(t, "a", allowed[0].Name)
	assert.Equal(t, "c", allowed[1].Name)

	none := reg.Definitions([]string{})
	assert.Empty(t, none)
}

func TestParseSpawnWorkerArgs(t *testing.T) {
	args, err := ParseSpawnWorkerArgs(map[string]any{
		"task":   "ssh check",
		"model":  "gpt-5-mini",
		"runner": "laptop",
	})
	require.NoError(t, err)
	assert.Equal(t, "ssh check", args.Task)
	assert.Equal(t, "gpt-5-mini", args.Model)
	assert.Equal(t, "laptop", args.Runner)

	_, err = ParseSpawnWorkerArgs(map[string]any{"model": "x"})
	assert.Error(t, err)
}
