package reply

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/agentcore/pkg/budget"
	"github.com/goose-run/agentcore/pkg/events"
	"github.com/goose-run/agentcore/pkg/extension"
	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/session"
)

func newTestLoop(t *testing.T, extName string, server extension.BuiltinServer, turns ...provider.Turn) (*Loop, *session.Session, *events.Bus) {
	t.Helper()
	extension.RegisterBuiltin(server)

	sess := session.New(t.TempDir(), session.ExecutionInteractive)
	mgr := extension.NewManager(nil)
	require.NoError(t, mgr.Add(context.Background(), session.ExtensionDescriptor{Name: extName, Kind: session.ExtensionBuiltin}))

	counter, err := budget.NewCounter("gpt-4")
	require.NoError(t, err)
	b := budget.NewBudget(128_000, counter, provider.NewScripted(), "gpt-4")
	prompts := budget.NewPromptAssembler()
	bus := events.NewBus(32)
	prov := provider.NewScripted(turns...)

	loop := NewLoop(sess, prov, mgr, b, prompts, bus, provider.ModelConfig{Model: "gpt-4", ContextLimit: 128_000})
	return loop, sess, bus
}

func drain(bus *events.Bus) []events.Event {
	var out []events.Event
	for e := range bus.Events() {
		out = append(out, e)
		if e.Kind == events.KindFinish {
			break
		}
	}
	return out
}

// E1 — simple echo: provider replies with text and no tool calls.
func TestE1SimpleEcho(t *testing.T) {
	loop, sess, bus := newTestLoop(t, "echoE1", extension.BuiltinServer{
		Name: "echoE1",
		Tools: []extension.ToolDescriptor{{Name: "say", Annotations: extension.Annotations{ReadOnly: true}}},
		Call: map[string]extension.Handler{
			"say": func(ctx context.Context, args map[string]any) (extension.CallResult, error) {
				return extension.CallResult{Content: []session.ResultPart{{Kind: "text", Text: fmt.Sprint(args["text"])}}}, nil
			},
		},
	}, provider.Turn{Text: "hi"})

	msg := session.NewMessage(session.RoleUser, session.TextContent{Text: "hello"})
	go func() {
		err := loop.Run(context.Background(), &msg, Options{})
		assert.NoError(t, err)
		bus.Close()
	}()

	evs := drain(bus)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, events.KindFinish, last.Kind)
	assert.Equal(t, events.FinishStop, last.FinishReason)

	conv := sess.Conversation()
	assert.Equal(t, "hi", conv[len(conv)-1].Text())
}

// E2 — single tool call: tool request then final text.
func TestE2SingleToolCall(t *testing.T) {
	loop, sess, bus := newTestLoop(t, "echoE2", extension.BuiltinServer{
		Name: "echoE2",
		Tools: []extension.ToolDescriptor{{Name: "say", Annotations: extension.Annotations{ReadOnly: true}}},
		Call: map[string]extension.Handler{
			"say": func(ctx context.Context, args map[string]any) (extension.CallResult, error) {
				return extension.CallResult{Content: []session.ResultPart{{Kind: "text", Text: fmt.Sprint(args["text"])}}}, nil
			},
		},
	},
		provider.Turn{ToolRequests: []session.ToolRequestContent{{ID: "call-1", Name: "echoE2__say", Arguments: map[string]any{"text": "hey"}}}},
		provider.Turn{Text: "done"},
	)

	msg := session.NewMessage(session.RoleUser, session.TextContent{Text: "go"})
	go func() {
		require.NoError(t, loop.Run(context.Background(), &msg, Options{}))
		bus.Close()
	}()

	evs := drain(bus)
	last := evs[len(evs)-1]
	assert.Equal(t, events.FinishStop, last.FinishReason)

	conv := sess.Conversation()
	var sawResponse bool
	for _, m := range conv {
		for _, tr := range m.ToolResponses() {
			if tr.ID == "call-1" {
				sawResponse = true
				require.Len(t, tr.Result, 1)
				assert.Equal(t, "hey", tr.Result[0].Text)
			}
		}
	}
	assert.True(t, sawResponse)
	assert.Equal(t, "done", conv[len(conv)-1].Text())
}

// E3 — parallel read-only tools: completion order may vary but the
// appended ToolResponse message preserves request order (A then B).
func TestE3ParallelReadOnlyPreservesRequestOrder(t *testing.T) {
	loop, sess, bus := newTestLoop(t, "slowE3", extension.BuiltinServer{
		Name: "slowE3",
		Tools: []extension.ToolDescriptor{{Name: "wait", Annotations: extension.Annotations{ReadOnly: true}}},
		Call: map[string]extension.Handler{
			"wait": func(ctx context.Context, args map[string]any) (extension.CallResult, error) {
				if args["id"] == "A" {
					time.Sleep(150 * time.Millisecond)
				}
				return extension.CallResult{Content: []session.ResultPart{{Kind: "text", Text: fmt.Sprint(args["id"])}}}, nil
			},
		},
	},
		provider.Turn{ToolRequests: []session.ToolRequestContent{
			{ID: "A", Name: "slowE3__wait", Arguments: map[string]any{"id": "A"}},
			{ID: "B", Name: "slowE3__wait", Arguments: map[string]any{"id": "B"}},
		}},
		provider.Turn{Text: "done"},
	)

	msg := session.NewMessage(session.RoleUser, session.TextContent{Text: "go"})
	go func() {
		require.NoError(t, loop.Run(context.Background(), &msg, Options{}))
		bus.Close()
	}()
	drain(bus)

	conv := sess.Conversation()
	var responseIDs []string
	for _, m := range conv {
		for _, tr := range m.ToolResponses() {
			responseIDs = append(responseIDs, tr.ID)
		}
	}
	require.Equal(t, []string{"A", "B"}, responseIDs)
}

// E5 — cancellation mid-tool: a slow tool is still running when the
// caller cancels; the loop must emit exactly one Finish(cancelled).
func TestE5CancellationMidTool(t *testing.T) {
	loop, _, bus := newTestLoop(t, "slowE5", extension.BuiltinServer{
		Name: "slowE5",
		Tools: []extension.ToolDescriptor{{Name: "wait"}},
		Call: map[string]extension.Handler{
			"wait": func(ctx context.Context, args map[string]any) (extension.CallResult, error) {
				select {
				case <-time.After(5 * time.Second):
					return extension.CallResult{Content: []session.ResultPart{{Kind: "text", Text: "done"}}}, nil
				case <-ctx.Done():
					return extension.CallResult{}, ctx.Err()
				}
			},
		},
	}, provider.Turn{ToolRequests: []session.ToolRequestContent{{ID: "call-1", Name: "slowE5__wait", Arguments: nil}}})

	loop.Policy = NewAllowListPolicy()
	loop.Extensions.Annotations("slowE5__wait") // warm lookup, not required

	ctx, cancel := context.WithCancel(context.Background())
	msg := session.NewMessage(session.RoleUser, session.TextContent{Text: "go"})

	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx, &msg, Options{})
		bus.Close()
		close(done)
	}()

	// Approve the tool so dispatch actually starts, then cancel.
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = loop.Waiter.Resolve("call-1", PermissionAllowOnce)
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	evs := drain(bus)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, events.KindFinish, last.Kind)
	assert.Equal(t, events.FinishCancelled, last.FinishReason)

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("loop did not return after cancellation")
	}
}

// Property 5 — turn cap: the provider is never called more than
// Options.MaxTurns times when the model keeps requesting tools forever.
func TestMaxTurnsCap(t *testing.T) {
	extension.RegisterBuiltin(extension.BuiltinServer{
		Name:  "loopE",
		Tools: []extension.ToolDescriptor{{Name: "again", Annotations: extension.Annotations{ReadOnly: true}}},
		Call: map[string]extension.Handler{
			"again": func(ctx context.Context, args map[string]any) (extension.CallResult, error) {
				return extension.CallResult{Content: []session.ResultPart{{Kind: "text", Text: "ok"}}}, nil
			},
		},
	})

	sess := session.New(t.TempDir(), session.ExecutionInteractive)
	mgr := extension.NewManager(nil)
	require.NoError(t, mgr.Add(context.Background(), session.ExtensionDescriptor{Name: "loopE", Kind: session.ExtensionBuiltin}))

	var turns []provider.Turn
	for i := 0; i < 50; i++ {
		turns = append(turns, provider.Turn{ToolRequests: []session.ToolRequestContent{{ID: fmt.Sprintf("c%d", i), Name: "loopE__again"}}})
	}
	prov := provider.NewScripted(turns...)

	counter, err := budget.NewCounter("gpt-4")
	require.NoError(t, err)
	b := budget.NewBudget(128_000, counter, prov, "gpt-4")
	bus := events.NewBus(256)
	loop := NewLoop(sess, prov, mgr, b, budget.NewPromptAssembler(), bus, provider.ModelConfig{Model: "gpt-4", ContextLimit: 128_000})

	msg := session.NewMessage(session.RoleUser, session.TextContent{Text: "go"})
	go func() {
		_ = loop.Run(context.Background(), &msg, Options{MaxTurns: 5})
		bus.Close()
	}()

	evs := drain(bus)
	last := evs[len(evs)-1]
	assert.Equal(t, events.FinishMaxTurns, last.FinishReason)
}
