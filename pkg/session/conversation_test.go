package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolidateMergesStreamedFragments(t *testing.T) {
	msgs := []Message{
		NewMessage(RoleUser, TextContent{Text: "hello"}),
		NewMessage(RoleAssistant, TextContent{Text: "hi "}),
		NewMessage(RoleAssistant, TextContent{Text: "there"}),
	}

	out := Consolidate(msgs)
	require.Len(t, out, 2)
	assert.Equal(t, "hi there", out[1].Text())
}

func TestConsolidateIsIdempotent(t *testing.T) {
	msgs := []Message{
		NewMessage(RoleAssistant, TextContent{Text: "a"}),
		NewMessage(RoleAssistant, TextContent{Text: "b"}),
		NewMessage(RoleUser, TextContent{Text: "c"}),
	}

	once := Consolidate(msgs)
	twice := Consolidate(once)
	require.Equal(t, len(once), len(twice))
	for i := range once {
		assert.Equal(t, once[i].Text(), twice[i].Text())
		assert.Equal(t, once[i].Role, twice[i].Role)
	}
}

func TestConsolidateDoesNotMergeAcrossToolCalls(t *testing.T) {
	msgs := []Message{
		NewMessage(RoleAssistant, TextContent{Text: "thinking"}),
		NewMessage(RoleAssistant, ToolRequestContent{ID: "1", Name: "echo__say"}),
	}
	out := Consolidate(msgs)
	require.Len(t, out, 2)
}

func TestPendingToolRequestIDs(t *testing.T) {
	msgs := []Message{
		NewMessage(RoleAssistant, ToolRequestContent{ID: "a", Name: "echo__say"}),
		NewMessage(RoleTool, ToolResponseContent{ID: "a", Result: []ResultPart{{Kind: "text", Text: "ok"}}}),
		NewMessage(RoleAssistant, ToolRequestContent{ID: "b", Name: "echo__say"}),
	}
	pending := PendingToolRequestIDs(msgs)
	assert.Equal(t, []string{"b"}, pending)
}

func TestValidatePairingRejectsOrphanResponse(t *testing.T) {
	msgs := []Message{
		NewMessage(RoleTool, ToolResponseContent{ID: "x"}),
	}
	assert.Equal(t, "x", ValidatePairing(msgs))

	ok := []Message{
		NewMessage(RoleAssistant, ToolRequestContent{ID: "x", Name: "echo__say"}),
		NewMessage(RoleTool, ToolResponseContent{ID: "x"}),
	}
	assert.Equal(t, "", ValidatePairing(ok))
}
