package budget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/agentcore/pkg/session"
)

func userMsg(text string) session.Message {
	return session.NewMessage(session.RoleUser, session.TextContent{Text: text})
}

func asstMsg(text string) session.Message {
	return session.NewMessage(session.RoleAssistant, session.TextContent{Text: text})
}

func newTestBudget(t *testing.T, summarize func(ctx context.Context, msgs []session.Message) (session.Message, error)) *Budget {
	t.Helper()
	counter, err := NewCounter("gpt-4o")
	require.NoError(t, err)
	return &Budget{
		ContextLimit:   1000,
		SystemOverhead: 100,
		ToolsOverhead:  100,
		Counter:        counter,
		Summarize:      summarize,
	}
}

func TestCompactPreservesRecentUserMessagesVerbatim(t *testing.T) {
	messages := []session.Message{
		userMsg("ancient one"), asstMsg("ancient reply"),
		userMsg("older"), asstMsg("older reply"),
		userMsg("recent 1"), asstMsg("recent reply 1"),
		userMsg("recent 2"), asstMsg("recent reply 2"),
		userMsg("recent 3"), asstMsg("recent reply 3"),
	}

	b := newTestBudget(t, func(ctx context.Context, msgs []session.Message) (session.Message, error) {
		return asstMsg("summary of " + msgs[0].Text()), nil
	})

	out, err := b.Compact(context.Background(), messages, nil)
	require.NoError(t, err)

	require.True(t, out[0].Text() != "" )
	var userTexts []string
	for _, m := range out {
		if m.Role == session.RoleUser {
			userTexts = append(userTexts, m.Text())
		}
	}
	assert.Equal(t, []string{"recent 1", "recent 2", "recent 3"}, userTexts)
}

func TestCompactPreservesPendingToolRequest(t *testing.T) {
	pending := session.NewMessage(session.RoleAssistant, session.ToolRequestContent{ID: "t1", Name: "demo__echo"})
	messages := []session.Message{
		userMsg("a"), asstMsg("b"),
		pending,
		userMsg("c"), asstMsg("d"),
		userMsg("e"), asstMsg("f"),
		userMsg("g"), asstMsg("h"),
	}

	b := newTestBudget(t, func(ctx context.Context, msgs []session.Message) (session.Message, error) {
		return asstMsg("summary"), nil
	})

	out, err := b.Compact(context.Background(), messages, nil)
	require.NoError(t, err)

	found := false
	for _, m := range out {
		for _, tr := range m.ToolRequests() {
			if tr.ID == "t1" {
				found = true
			}
		}
	}
	assert.True(t, found, "pending tool request must survive compaction")
}

func TestCompactIsConvergent(t *testing.T) {
	messages := []session.Message{
		userMsg("a"), asstMsg("b"),
		userMsg("c"), asstMsg("d"),
	}

	b := newTestBudget(t, func(ctx context.Context, msgs []session.Message) (session.Message, error) {
		return asstMsg("summary"), nil
	})

	once, err := b.Compact(context.Background(), messages, nil)
	require.NoError(t, err)
	twice, err := b.Compact(context.Background(), once, nil)
	require.NoError(t, err)

	assert.Equal(t, len(once), len(twice))
	for i := range once {
		assert.Equal(t, once[i].Text(), twice[i].Text())
	}
}

func TestCompactFallsBackToTruncationOnSummarizeFailure(t *testing.T) {
	messages := []session.Message{
		userMsg("a"), asstMsg("b"),
		userMsg("c"), asstMsg("d"),
		userMsg("e"), asstMsg("f"),
		userMsg("g"), asstMsg("h"),
	}

	b := newTestBudget(t, func(ctx context.Context, msgs []session.Message) (session.Message, error) {
		return session.Message{}, assertErr
	})

	out, err := b.Compact(context.Background(), messages, nil)
	require.NoError(t, err)
	assert.Contains(t, out[0].Text(), "truncated")
}

type testErr struct{}

func (testErr) Error() string { return "summarize failed" }

var assertErr = testErr{}

func TestCounterIsDeterministic(t *testing.T) {
	counter, err := NewCounter("gpt-4o")
	require.NoError(t, err)

	messages := []session.Message{userMsg("hello world, this is a test")}
	a := counter.Count(messages, nil)
	b := counter.Count(messages, nil)
	assert.Equal(t, a, b)
	assert.Greater(t, a, 0)
}
