package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// SpawnWorkerToolName is the tool call that interrupts a supervisor turn and
// parks the run while a worker job executes the subtask.
const SpawnWorkerToolName = "spawn_worker"

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// Tool is one callable capability. Invoke returns the tool output as text;
// errors become tool messages with an error marker, never panics.
type Tool interface {
	Name() string
	Describe() ToolDefinition
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; a duplicate name is a programming error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool definitions for the LLM request, restricted
// to allowed when non-nil, in stable name order.
func (r *Registry) Definitions(allowed []string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allowSet map[string]struct{}
	if allowed != nil {
		allowSet = make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			allowSet[name] = struct{}{}
		}
	}

	defs := make([]ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		if allowSet != nil {
			if _, ok := allowSet[name]; !ok {
				continue
			}
		}
		defs = append(defs, t.Describe())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// SpawnWorkerDefinition is the definition advertised to the supervisor for
// delegating a subtask to a worker. The engine intercepts this call; it is
// never dispatched to a Tool implementation.
func SpawnWorkerDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        SpawnWorkerToolName,
		Description: "Delegate a subtask to a background worker. Returns once the worker finishes; the result arrives as a tool message.",
		ParametersSchema: `{
  "type": "object",
  "properties": {
    "task": {"type": "string", "description": "The subtask for the worker to perform"},
    "model": {"type": "string", "description": "Optional model override for the worker"},
    "runner": {"type": "string", "description": "Optional named runner target"}
  },
  "required": ["task"]
}`,
	}
}

// SpawnWorkerArgs are the parsed arguments of a spawn_worker tool call.
type SpawnWorkerArgs struct {
	Task   string
	Model  string
	Runner string
}

// ParseSpawnWorkerArgs validates and extracts spawn_worker arguments.
func ParseSpawnWorkerArgs(args map[string]any) (*SpawnWorkerArgs, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return nil, fmt.Errorf("spawn_worker requires a non-empty task")
	}
	model, _ := args["model"].(string)
	runner, _ := args["runner"].(string)
	return &SpawnWorkerArgs{Task: task, Model: model, Runner: runner}, nil
}
