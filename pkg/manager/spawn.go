package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/goose-run/agentcore/pkg/events"
	"github.com/goose-run/agentcore/pkg/extension"
	"github.com/goose-run/agentcore/pkg/session"
	"github.com/goose-run/agentcore/pkg/tasks"
)

// runTasksArgs is the in-process argument shape for the spawn tool,
// reflected into a JSON Schema via extension.SchemaFor so the provider
// sees the same kind of tool-input-schema contract an MCP server would
// advertise (§3 Tool descriptor, §4.6).
type runTasksArgs struct {
	Tasks []taskArg `json:"tasks" jsonschema:"required,description=Sub-agent tasks to run"`
	Mode  string    `json:"mode,omitempty" jsonschema:"description=sequential or parallel,enum=sequential|parallel,default=parallel"`
}

type taskArg struct {
	ID             string `json:"id,omitempty" jsonschema:"description=Caller-supplied task id; generated when omitted"`
	Instructions   string `json:"instructions,omitempty" jsonschema:"description=Plain-text instruction for a one-shot sub-agent"`
	Recipe         string `json:"recipe,omitempty" jsonschema:"description=Inline YAML recipe document"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"description=Per-task timeout override in seconds"`
	MaxTurns       int    `json:"max_turns,omitempty" jsonschema:"description=Per-task max-turns override"`
}

// NewSpawnBuiltin builds the builtin "subagent" extension's single
// "run_tasks" tool: it decodes the provider's call arguments into
// concrete tasks.Task values, runs them through pool per the requested
// Mode, and forwards every per-task notification onto bus tagged with
// the spawning tool call's id via events.Multiplexer (§4.6, §4.8).
//
// Sub-agent sessions never see this extension: Manager.GetOrCreate
// filters it out for session.ExecutionSubtask before the Extension
// Manager is populated (§4.6 safety rule, §8 property 8).
func NewSpawnBuiltin(pool *tasks.Pool, bus *events.Bus) extension.BuiltinServer {
	schema := extension.SchemaFor(runTasksArgs{})
	return extension.BuiltinServer{
		Name: SpawnToolExtension,
		Tools: []extension.ToolDescriptor{
			{
				Name:        "run_tasks",
				Description: "Run one or more sub-agent tasks sequentially or in parallel and return their results.",
				Schema:      schema,
				Annotations: extension.Annotations{OpenWorld: true},
			},
		},
		Call: map[string]extension.Handler{
			"run_tasks": func(ctx context.Context, args map[string]any) (extension.CallResult, error) {
				return runTasks(ctx, pool, bus, args)
			},
		},
	}
}

func runTasks(ctx context.Context, pool *tasks.Pool, bus *events.Bus, raw map[string]any) (extension.CallResult, error) {
	var parsed runTasksArgs
	if err := mapstructure.Decode(raw, &parsed); err != nil {
		return extension.CallResult{}, fmt.Errorf("subagent: decode run_tasks arguments: %w", err)
	}
	if len(parsed.Tasks) == 0 {
		return extension.CallResult{}, fmt.Errorf("subagent: run_tasks requires at least one task")
	}

	mode := tasks.ModeParallel
	if parsed.Mode == string(tasks.ModeSequential) {
		mode = tasks.ModeSequential
	}

	batch := make([]tasks.Task, len(parsed.Tasks))
	for i, t := range parsed.Tasks {
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		kind := tasks.KindTextInstruction
		payload := t.Instructions
		if t.Recipe != "" {
			kind = tasks.KindRecipeInline
			payload = t.Recipe
		}
		batch[i] = tasks.Task{
			ID:       id,
			Kind:     kind,
			Payload:  payload,
			Timeout:  time.Duration(t.TimeoutSeconds) * time.Second,
			MaxTurns: t.MaxTurns,
		}
	}

	callID, _ := extension.CallIDFromContext(ctx)
	mux := events.NewMultiplexer(bus, callID)
	notify := func(n tasks.Notification) {
		_ = mux.Forward(ctx, string(n.Kind)+":"+n.TaskID+" "+n.Text)
	}

	results := pool.Execute(ctx, batch, mode, notify)

	var summary strings.Builder
	allOK := true
	for i, r := range results {
		if i > 0 {
			summary.WriteString("\n")
		}
		fmt.Fprintf(&summary, "[%s] %s", r.TaskID, r.Status)
		if r.Data != "" {
			summary.WriteString(": " + r.Data)
		}
		if r.Err != "" {
			summary.WriteString(" error: " + r.Err)
			allOK = false
		}
		if r.Status != tasks.StatusCompleted {
			allOK = false
		}
	}

	return extension.CallResult{
		Content:    []session.ResultPart{{Kind: "text", Text: summary.String()}},
		IsError:    !allOK,
		Structured: resultsToStructured(results),
	}, nil
}

func resultsToStructured(results []tasks.Result) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{
			"task_id": r.TaskID,
			"status":  string(r.Status),
			"data":    r.Data,
			"error":   r.Err,
		}
	}
	return out
}
