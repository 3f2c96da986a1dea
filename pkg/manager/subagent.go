package manager

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goose-run/agentcore/pkg/events"
	"github.com/goose-run/agentcore/pkg/recipe"
	"github.com/goose-run/agentcore/pkg/reply"
	"github.com/goose-run/agentcore/pkg/session"
	"github.com/goose-run/agentcore/pkg/tasks"
)

// SubagentRunner builds a tasks.Runner backed by this Manager: each Task
// gets its own subtask-mode Session (isolated per §4.6, excluding the
// spawn extension per §4.7), a reply.Loop to drive it, and its payload
// resolved either as a literal instruction or a parsed recipe document
// (§6).
type SubagentRunner struct {
	Manager    *Manager
	WorkingDir string

	// ParentExtensions seeds the sub-agent session's enabled extension
	// set before any recipe-declared override narrows it (§9 open
	// question 1).
	ParentExtensions []session.ExtensionDescriptor
}

// NewRunner builds a Runner closure suitable for tasks.NewPool.
func (s *SubagentRunner) NewRunner() tasks.Runner {
	return func(ctx context.Context, t tasks.Task, notify func(tasks.Notification)) tasks.Result {
		return s.run(ctx, t, notify)
	}
}

func (s *SubagentRunner) run(ctx context.Context, t tasks.Task, notify func(tasks.Notification)) tasks.Result {
	instruction, extDescriptors, maxTurns, err := s.resolvePayload(t)
	if err != nil {
		return tasks.Result{TaskID: t.ID, Status: tasks.StatusFailed, Err: err.Error()}
	}

	subID := "subtask-" + t.ID
	_, err = s.Manager.GetOrCreate(ctx, subID, s.WorkingDir, session.ExecutionSubtask, "", extDescriptors)
	if err != nil {
		return tasks.Result{TaskID: t.ID, Status: tasks.StatusFailed, Err: err.Error()}
	}
	defer s.Manager.Delete(subID)

	effectiveMaxTurns := t.MaxTurns
	if effectiveMaxTurns <= 0 {
		effectiveMaxTurns = maxTurns
	}

	bus, err := s.Manager.Reply(ctx, subID, &session.Message{
		Role:    session.RoleUser,
		Content: []session.Content{session.TextContent{Text: instruction}},
	}, reply.Options{MaxTurns: effectiveMaxTurns})
	if err != nil {
		return tasks.Result{TaskID: t.ID, Status: tasks.StatusFailed, Err: err.Error()}
	}

	return drainToResult(ctx, t.ID, bus, notify)
}

// drainToResult consumes a sub-agent session's event bus until its
// terminal Finish, translating streamed text into progress
// notifications (§4.6 "forwarded as TaskProgress notifications") and
// the Finish reason into the task's terminal Result.
func drainToResult(ctx context.Context, taskID string, bus *events.Bus, notify func(tasks.Notification)) tasks.Result {
	var lastText strings.Builder
	for ev := range bus.Events() {
		switch ev.Kind {
		case events.KindMessage:
			if ev.Message != nil {
				text := ev.Message.Text()
				if text != "" {
					lastText.WriteString(text)
					if notify != nil {
						notify(tasks.Notification{Kind: tasks.NotifyTaskProgress, TaskID: taskID, Text: text})
					}
				}
			}
		case events.KindFinish:
			switch ev.FinishReason {
			case events.FinishStop:
				return tasks.Result{TaskID: taskID, Status: tasks.StatusCompleted, Data: lastText.String()}
			case events.FinishCancelled:
				return tasks.Result{TaskID: taskID, Status: tasks.StatusCancelled}
			case events.FinishMaxTurns:
				return tasks.Result{TaskID: taskID, Status: tasks.StatusFailed, Data: lastText.String(), Err: "max turns exceeded"}
			default:
				return tasks.Result{TaskID: taskID, Status: tasks.StatusFailed, Data: lastText.String(), Err: "reply ended in error"}
			}
		}
	}
	return tasks.Result{TaskID: taskID, Status: tasks.StatusFailed, Err: "event stream closed without a terminal event"}
}

// resolvePayload interprets a Task's payload as either a literal
// instruction string or a YAML recipe document (§6), returning the
// resolved instruction text, the extension set the sub-agent should run
// with, and a max-turns value. The max-turns value is always 0: Recipe
// has no max-turns field, so only Task.MaxTurns or the runner's default
// set the cap.
func (s *SubagentRunner) resolvePayload(t tasks.Task) (string, []session.ExtensionDescriptor, int, error) {
	if t.Kind == tasks.KindTextInstruction {
		return t.Payload, s.ParentExtensions, 0, nil
	}

	var r recipe.Recipe
	if err := yaml.Unmarshal([]byte(t.Payload), &r); err != nil {
		return "", nil, 0, fmt.Errorf("manager: parse recipe: %w", err)
	}
	instruction, err := recipe.Resolve(r, nil)
	if err != nil {
		return "", nil, 0, err
	}
	extDescriptors := recipe.ResolveExtensions(s.ParentExtensions, r.Extensions)
	return instruction, extDescriptors, 0, nil
}
