package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/agentcore/pkg/session"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	missing, err := st.Load(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	msg1 := session.NewMessage(session.RoleUser, session.TextContent{Text: "hello"})
	msg2 := session.NewMessage(session.RoleAssistant, session.TextContent{Text: "hi"})

	require.NoError(t, st.AppendMessage(ctx, "s1", msg1))
	require.NoError(t, st.AppendMessage(ctx, "s1", msg2))
	require.NoError(t, st.UpdateMetadata(ctx, "s1", map[string]any{"title": "demo"}))

	loaded, err := st.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "s1", loaded.ID)
	assert.Equal(t, "demo", loaded.Metadata["title"])

	conv := loaded.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, "hello", conv[0].Text())
	assert.Equal(t, "hi", conv[1].Text())
}

func TestSQLiteStoreReplaceConversation(t *testing.T) {
	ctx := context.Background()
	st, err := Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.AppendMessage(ctx, "s2", session.NewMessage(session.RoleUser, session.TextContent{Text: "a"})))
	require.NoError(t, st.AppendMessage(ctx, "s2", session.NewMessage(session.RoleUser, session.TextContent{Text: "b"})))

	replacement := []session.Message{session.NewMessage(session.RoleAssistant, session.TextContent{Text: "summary"})}
	require.NoError(t, st.ReplaceConversation(ctx, "s2", replacement))

	loaded, err := st.Load(ctx, "s2")
	require.NoError(t, err)
	conv := loaded.Conversation()
	require.Len(t, conv, 1)
	assert.Equal(t, "summary", conv[0].Text())
}

func TestSQLiteStoreDelete(t *testing.T) {
	ctx := context.Background()
	st, err := Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.AppendMessage(ctx, "s3", session.NewMessage(session.RoleUser, session.TextContent{Text: "x"})))
	require.NoError(t, st.Delete(ctx, "s3"))

	loaded, err := st.Load(ctx, "s3")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
