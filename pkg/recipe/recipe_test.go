package recipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/agentcore/pkg/session"
)

func TestResolveSubstitutesPlaceholders(t *testing.T) {
	r := Recipe{
		Instructions: "Summarize {{repo}} for {{audience}}",
		Parameters: []Parameter{
			{Name: "repo", Required: true},
			{Name: "audience", Default: "engineers"},
		},
	}
	text, err := Resolve(r, map[string]string{"repo": "agentcore"})
	require.NoError(t, err)
	assert.Equal(t, "Summarize agentcore for engineers", text)
}

func TestResolveMissingRequiredParameter(t *testing.T) {
	r := Recipe{
		Instructions: "Summarize {{repo}}",
		Parameters:   []Parameter{{Name: "repo", Required: true}},
	}
	_, err := Resolve(r, nil)
	require.Error(t, err)
	var uerr *session.UserError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, session.KindRecipeParamMissing, uerr.Kind)
}

func TestResolveExtensionsReplaceIfNonEmpty(t *testing.T) {
	sessionExt := []session.ExtensionDescriptor{
		{Name: "shell"}, {Name: "memory"}, {Name: "browser"},
	}

	assert.Equal(t, sessionExt, ResolveExtensions(sessionExt, nil))

	got := ResolveExtensions(sessionExt, []string{"memory"})
	require.Len(t, got, 1)
	assert.Equal(t, "memory", got[0].Name)
}

func TestResolveExtensionsDropsUnknownNames(t *testing.T) {
	sessionExt := []session.ExtensionDescriptor{{Name: "shell"}}
	got := ResolveExtensions(sessionExt, []string{"shell", "nonexistent"})
	require.Len(t, got, 1)
	assert.Equal(t, "shell", got[0].Name)
}
