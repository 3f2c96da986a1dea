package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/agentcore/pkg/events"
	"github.com/goose-run/agentcore/pkg/extension"
	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/reply"
	"github.com/goose-run/agentcore/pkg/session"
)

func init() {
	extension.RegisterBuiltin(extension.BuiltinServer{
		Name: SpawnToolExtension,
		Tools: []extension.ToolDescriptor{
			{Name: "spawn", Description: "spawn a sub-agent task"},
		},
		Call: map[string]extension.Handler{
			"spawn": func(ctx context.Context, args map[string]any) (extension.CallResult, error) {
				return extension.CallResult{Content: []session.ResultPart{{Kind: "text", Text: "spawned"}}}, nil
			},
		},
	})
	extension.RegisterBuiltin(extension.BuiltinServer{
		Name: "demo",
		Tools: []extension.ToolDescriptor{
			{Name: "echo", Annotations: extension.Annotations{ReadOnly: true}},
		},
		Call: map[string]extension.Handler{
			"echo": func(ctx context.Context, args map[string]any) (extension.CallResult, error) {
				return extension.CallResult{Content: []session.ResultPart{{Kind: "text", Text: "ok"}}}, nil
			},
		},
	})
}

type fakeFactory struct {
	bind func(name string) (provider.Provider, error)
}

func (f *fakeFactory) Bind(name string) (provider.Provider, error) { return f.bind(name) }

func testModelConfig() provider.ModelConfig {
	return provider.ModelConfig{Model: "gpt-test", ContextLimit: 200000}
}

// TestSubagentSessionCannotSeeSpawnTool is §8 property 8: a
// subtask-mode session's resolved tool catalog never includes the
// extension that spawns sub-agent tasks, even when that extension is
// present in the descriptor list handed to GetOrCreate.
func TestSubagentSessionCannotSeeSpawnTool(t *testing.T) {
	factory := &fakeFactory{bind: func(name string) (provider.Provider, error) {
		return provider.NewScripted(provider.Turn{Text: "done"}), nil
	}}
	mgr := New(nil, factory, NewCatalog(), testModelConfig())

	extensions := []session.ExtensionDescriptor{
		{Name: SpawnToolExtension, Kind: session.ExtensionBuiltin},
		{Name: "demo", Kind: session.ExtensionBuiltin},
	}

	sess, err := mgr.GetOrCreate(context.Background(), "sub-1", "/tmp", session.ExecutionSubtask, "parent-1", extensions)
	require.NoError(t, err)
	assert.Equal(t, session.ExecutionSubtask, sess.Mode)

	extMgr, ok := mgr.Extensions("sub-1")
	require.True(t, ok)

	for _, tool := range extMgr.ListTools() {
		assert.NotContains(t, tool.Name, SpawnToolExtension+"__")
	}
	assert.Contains(t, extMgr.Names(), "demo")
	assert.NotContains(t, extMgr.Names(), SpawnToolExtension)
}

// TestInteractiveSessionRetainsSpawnTool confirms the filtering in the
// previous test is mode-specific: a non-subtask session keeps every
// declared extension, spawn tool included.
func TestInteractiveSessionRetainsSpawnTool(t *testing.T) {
	factory := &fakeFactory{bind: func(name string) (provider.Provider, error) {
		return provider.NewScripted(provider.Turn{Text: "done"}), nil
	}}
	mgr := New(nil, factory, NewCatalog(), testModelConfig())

	extensions := []session.ExtensionDescriptor{
		{Name: SpawnToolExtension, Kind: session.ExtensionBuiltin},
	}
	_, err := mgr.GetOrCreate(context.Background(), "top-1", "/tmp", session.ExecutionInteractive, "", extensions)
	require.NoError(t, err)

	extMgr, ok := mgr.Extensions("top-1")
	require.True(t, ok)
	assert.Contains(t, extMgr.Names(), SpawnToolExtension)
}

// TestReplySerializesPerSession is §8 property 10: a second concurrent
// Reply call against a session that is still mid-reply does not block
// the caller or corrupt the conversation; the loop itself reports busy
// onto the bus instead of proceeding.
func TestReplySerializesPerSession(t *testing.T) {
	blocker := make(chan struct{})
	factory := &fakeFactory{bind: func(name string) (provider.Provider, error) {
		return &blockingProvider{release: blocker}, nil
	}}
	mgr := New(nil, factory, NewCatalog(), testModelConfig())

	_, err := mgr.GetOrCreate(context.Background(), "busy-1", "/tmp", session.ExecutionInteractive, "", nil)
	require.NoError(t, err)

	firstMsg := session.NewMessage(session.RoleUser, session.TextContent{Text: "go"})
	bus, err := mgr.Reply(context.Background(), "busy-1", &firstMsg, reply.Options{})
	require.NoError(t, err)

	// Give the first Run a moment to acquire the session's busy flag
	// before firing the second, overlapping Reply call.
	time.Sleep(20 * time.Millisecond)

	secondMsg := session.NewMessage(session.RoleUser, session.TextContent{Text: "go again"})
	bus2, err := mgr.Reply(context.Background(), "busy-1", &secondMsg, reply.Options{})
	require.NoError(t, err)
	assert.Same(t, bus, bus2, "both calls observe the same session bus")

	var sawBusyError bool
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case ev := <-bus.Events():
			if ev.Kind == events.KindError && ev.Err == "busy" {
				sawBusyError = true
				break loop
			}
		case <-deadline:
			break loop
		}
	}
	close(blocker)
	assert.True(t, sawBusyError, "expected the second, overlapping Reply call to surface a busy Error event")
}

// blockingProvider blocks its Stream until release is closed, letting
// the test land a second, overlapping Reply call while the first is
// still in flight.
type blockingProvider struct {
	release chan struct{}
}

func (b *blockingProvider) Complete(ctx context.Context, cfg provider.ModelConfig, system string, messages []session.Message, tools []provider.ToolDescriptor) (session.Message, provider.Usage, error) {
	<-b.release
	return session.Message{Role: session.RoleAssistant, Content: []session.Content{session.TextContent{Text: "done"}}}, provider.Usage{}, nil
}

func (b *blockingProvider) Stream(ctx context.Context, cfg provider.ModelConfig, system string, messages []session.Message, tools []provider.ToolDescriptor) (<-chan provider.StreamItem, <-chan error) {
	out := make(chan provider.StreamItem, 1)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		select {
		case <-b.release:
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		}
		out <- provider.StreamItem{Partial: &session.Message{Role: session.RoleAssistant, Content: []session.Content{session.TextContent{Text: "done"}}}}
		out <- provider.StreamItem{Usage: &provider.Usage{InputTokens: 1, OutputTokens: 1, Model: cfg.Model}}
	}()
	return out, errc
}
