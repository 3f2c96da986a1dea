package extension

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/agentcore/pkg/session"
)

type fakeClient struct {
	tools []ToolDescriptor
	calls []string
	err   error
}

func (f *fakeClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) { return f.tools, nil }
func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return CallResult{}, f.err
	}
	return CallResult{Content: []session.ResultPart{{Kind: "text", Text: "ok:" + name}}}, nil
}
func (f *fakeClient) ListResources(ctx context.Context) ([]Resource, error) { return nil, nil }
func (f *fakeClient) ReadResource(ctx context.Context, uri string) ([]session.ResultPart, error) {
	return nil, nil
}
func (f *fakeClient) SubscribeNotifications(ctx context.Context) (<-chan Notification, error) {
	return nil, nil
}
func (f *fakeClient) Close() error { return nil }

func newTestManager(t *testing.T, fake *fakeClient) *Manager {
	t.Helper()
	m := NewManager(nil)
	m.connectBuiltin = func(cfg Config) (Client, error) { return fake, nil }
	require.NoError(t, m.Add(context.Background(), session.ExtensionDescriptor{Name: "demo", Kind: session.ExtensionBuiltin}))
	return m
}

func TestAddInstallsPrefixedCatalog(t *testing.T) {
	fake := &fakeClient{tools: []ToolDescriptor{{Name: "echo"}, {Name: "sum"}}}
	m := newTestManager(t, fake)

	tools := m.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "demo__echo", tools[0].Name)
	assert.Equal(t, "demo__sum", tools[1].Name)
}

func TestAddIsIdempotent(t *testing.T) {
	fake := &fakeClient{tools: []ToolDescriptor{{Name: "echo"}}}
	m := newTestManager(t, fake)
	require.NoError(t, m.Add(context.Background(), session.ExtensionDescriptor{Name: "demo", Kind: session.ExtensionBuiltin}))
	assert.Len(t, m.Names(), 1)
}

func TestDispatchRoutesByPrefix(t *testing.T) {
	fake := &fakeClient{tools: []ToolDescriptor{{Name: "echo"}}}
	m := newTestManager(t, fake)

	resp := m.Dispatch(context.Background(), "call-1", "demo__echo", nil)
	require.False(t, resp.IsError)
	require.Len(t, resp.Result, 1)
	assert.Equal(t, "ok:echo", resp.Result[0].Text)
	assert.Equal(t, []string{"echo"}, fake.calls)
}

func TestDispatchUnknownPrefixReturnsToolNotFound(t *testing.T) {
	fake := &fakeClient{tools: nil}
	m := newTestManager(t, fake)

	resp := m.Dispatch(context.Background(), "call-1", "missing__tool", nil)
	require.True(t, resp.IsError)
	require.Len(t, resp.Result, 1)
	assert.Contains(t, resp.Result[0].Text, ErrToolNotFound.Error())
}

func TestRemoveDropsPrefixEntries(t *testing.T) {
	fake := &fakeClient{tools: []ToolDescriptor{{Name: "echo"}}}
	m := newTestManager(t, fake)

	require.NoError(t, m.Remove("demo"))
	assert.Empty(t, m.ListTools())

	resp := m.Dispatch(context.Background(), "call-1", "demo__echo", nil)
	assert.True(t, resp.IsError)
}

func TestDispatchParallelPreservesOrder(t *testing.T) {
	fake := &fakeClient{tools: []ToolDescriptor{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
	m := newTestManager(t, fake)

	results := m.DispatchParallel(context.Background(), []Call{
		{ToolID: "1", PrefixedName: "demo__a"},
		{ToolID: "2", PrefixedName: "demo__b"},
		{ToolID: "3", PrefixedName: "demo__c"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, "ok:a", results[0].Result[0].Text)
	assert.Equal(t, "ok:b", results[1].Result[0].Text)
	assert.Equal(t, "ok:c", results[2].Result[0].Text)
}

func TestExtensionMarkedDegradedAfterRepeatedFailures(t *testing.T) {
	fake := &fakeClient{tools: []ToolDescriptor{{Name: "echo"}}, err: assertErr}
	m := newTestManager(t, fake)

	for i := 0; i < degradedAfterFailures; i++ {
		m.Dispatch(context.Background(), "call", "demo__echo", nil)
	}

	resp := m.Dispatch(context.Background(), "call", "demo__echo", nil)
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Result[0].Text, "degraded")
}

var assertErr = errAssert{}

type errAssert struct{}

func (errAssert) Error() string { return "upstream boom" }

func TestSuggestRespectsThrottle(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < suggestionLimit; i++ {
		assert.True(t, m.Suggest())
	}
	assert.False(t, m.Suggest())
}
