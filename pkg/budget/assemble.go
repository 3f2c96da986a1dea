package budget

import (
	"context"

	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/session"
)

// Assembled is the return value of Assemble: the three things the reply
// loop hands to a Provider call (§4.4).
type Assembled struct {
	SystemPrompt string
	Messages     []session.Message
	Tools        []provider.ToolDescriptor
	Compacted    bool
}

// Assemble builds the system prompt, compacting history first if the
// current conversation overflows the effective budget. Returns
// ErrContextTooSmall if even an empty conversation can't fit (§4.4 edge
// case).
func (b *Budget) Assemble(ctx context.Context, prompts *PromptAssembler, cwd string, extensions []ExtensionInstructions, messages []session.Message, tools []provider.ToolDescriptor, runningTaskResponseIDs map[string]bool) (Assembled, error) {
	system := prompts.Assemble(cwd, extensions)

	if b.Counter.CountText(system)+b.Reserved() > b.ContextLimit {
		return Assembled{}, ErrContextTooSmall
	}

	compacted := false
	for b.Overflows(messages, tools) {
		next, err := b.Compact(ctx, messages, runningTaskResponseIDs)
		if err != nil {
			return Assembled{}, err
		}
		if len(next) == len(messages) {
			// Nothing left to compact and we still overflow: the
			// preserved tail alone exceeds the budget.
			return Assembled{}, ErrContextTooSmall
		}
		messages = next
		compacted = true
	}

	return Assembled{SystemPrompt: system, Messages: messages, Tools: tools, Compacted: compacted}, nil
}
