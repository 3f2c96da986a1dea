// Package recipe implements the declarative task-definition format
// consumed by sub-agents (§6 "Recipe format", §9 open question 1).
package recipe

import (
	"fmt"
	"strings"

	"github.com/goose-run/agentcore/pkg/session"
)

// Parameter is one named substitution slot resolved against
// "{{name}}" placeholders in an instruction string.
type Parameter struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Default     string `yaml:"default,omitempty" json:"default,omitempty"`
}

// Retry mirrors GOOSE_RECIPE_RETRY_TIMEOUT_SECONDS / CLEANUP (§6).
type Retry struct {
	MaxAttempts    int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Recipe is the input to a sub-agent task (§6). Extra is excluded from
// YAML and JSON decoding and nothing fills it, so unknown fields in the
// source document are dropped on decode.
type Recipe struct {
	Version      string            `yaml:"version" json:"version"`
	Title        string            `yaml:"title,omitempty" json:"title,omitempty"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Instructions string            `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Prompt       string            `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Extensions   []string          `yaml:"extensions,omitempty" json:"extensions,omitempty"`
	Parameters   []Parameter       `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	SubRecipes   []string          `yaml:"sub_recipes,omitempty" json:"sub_recipes,omitempty"`
	Retry        Retry             `yaml:"retry,omitempty" json:"retry,omitempty"`
	Extra        map[string]any    `yaml:"-" json:"-"`
}

// Text returns whichever of Instructions/Prompt is set, preferring
// Instructions (§6: "required instructions or prompt").
func (r Recipe) Text() string {
	if r.Instructions != "" {
		return r.Instructions
	}
	return r.Prompt
}

// ErrMissingParameter is returned by Resolve when a required parameter
// has no supplied value and no default (§7 "recipe parameter missing").
type ErrMissingParameter struct {
	Name string
}

func (e *ErrMissingParameter) Error() string {
	return fmt.Sprintf("recipe: missing required parameter %q", e.Name)
}

// Resolve substitutes every "{{name}}" placeholder in r.Text() with the
// supplied value, falling back to each Parameter's Default, and
// validating that every Required parameter ends up with a value.
func Resolve(r Recipe, values map[string]string) (string, error) {
	text := r.Text()
	for _, p := range r.Parameters {
		v, ok := values[p.Name]
		if !ok {
			v = p.Default
		}
		if v == "" && p.Required {
			if _, supplied := values[p.Name]; !supplied {
				return "", &session.UserError{Kind: session.KindRecipeParamMissing, Msg: p.Name, Err: &ErrMissingParameter{Name: p.Name}}
			}
		}
		text = strings.ReplaceAll(text, "{{"+p.Name+"}}", v)
	}
	return text, nil
}

// ResolveExtensions decides which extension descriptors a sub-agent task
// runs with: the session's own extensions are replaced by the recipe's
// declared set whenever that set is non-empty, and otherwise left
// untouched (§9 open question 1, resolved as replace-if-non-empty).
func ResolveExtensions(sessionExtensions []session.ExtensionDescriptor, recipeExtensionNames []string) []session.ExtensionDescriptor {
	if len(recipeExtensionNames) == 0 {
		return sessionExtensions
	}
	byName := make(map[string]session.ExtensionDescriptor, len(sessionExtensions))
	for _, d := range sessionExtensions {
		byName[d.Name] = d
	}
	out := make([]session.ExtensionDescriptor, 0, len(recipeExtensionNames))
	for _, name := range recipeExtensionNames {
		if d, ok := byName[name]; ok {
			out = append(out, d)
		}
	}
	return out
}
