package budget

import (
	"context"
	"fmt"

	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/session"
)

const (
	// defaultSystemOverhead and defaultToolsOverhead are the reserved
	// token budgets for the system prompt and tool catalog respectively
	// (§4.4).
	defaultSystemOverhead = 3000
	defaultToolsOverhead  = 5000

	// preserveLastUserMessages is N from §4.4: the most recent user
	// messages survive compaction verbatim.
	preserveLastUserMessages = 3

	compactionSystemPrompt = "Summarize the conversation so far in a few dense paragraphs. Preserve concrete facts, decisions, file paths, and open tasks. Do not add commentary about the summarization itself."
)

// ErrContextTooSmall is returned by Budget.Assemble when even an empty
// conversation cannot fit within the model's context limit (§4.4 edge
// case).
var ErrContextTooSmall = fmt.Errorf("budget: context_too_small")

// Budget tracks the two per-session numbers from §4.4 and exposes the
// compact/count operations that consume them.
type Budget struct {
	ContextLimit     int
	SystemOverhead   int
	ToolsOverhead    int
	Counter          *Counter
	Summarize        func(ctx context.Context, messages []session.Message) (session.Message, error)
}

// NewBudget builds a Budget with the default overhead reservations and a
// Summarize hook bound to prov for the given model.
func NewBudget(contextLimit int, counter *Counter, prov provider.Provider, model string) *Budget {
	b := &Budget{
		ContextLimit:   contextLimit,
		SystemOverhead: defaultSystemOverhead,
		ToolsOverhead:  defaultToolsOverhead,
		Counter:        counter,
	}
	b.Summarize = func(ctx context.Context, messages []session.Message) (session.Message, error) {
		msg, _, err := prov.Complete(ctx, provider.ModelConfig{Model: model}, compactionSystemPrompt, messages, nil)
		return msg, err
	}
	return b
}

// Reserved is the total overhead reserved for the system prompt and tool
// catalog, leaving ContextLimit-Reserved for conversation history.
func (b *Budget) Reserved() int {
	return b.SystemOverhead + b.ToolsOverhead
}

// Effective is the token budget available for conversation history.
func (b *Budget) Effective() int {
	return b.ContextLimit - b.Reserved()
}

// Overflows reports whether messages (plus the reserved overhead) exceed
// the model's context limit.
func (b *Budget) Overflows(messages []session.Message, tools []provider.ToolDescriptor) bool {
	return b.Counter.Count(messages, tools)+b.Reserved() > b.ContextLimit
}

// splitCompactionRange identifies the prefix of messages eligible for
// summarization: everything except the last preserveLastUserMessages
// user messages, any tool-request still awaiting a response, and the
// most recent tool-response belonging to a still-running task.
func splitCompactionRange(messages []session.Message, runningTaskResponseIDs map[string]bool) (toCompact, toPreserve []session.Message) {
	userCount := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleUser {
			userCount++
		}
	}

	pendingIDs := map[string]bool{}
	for _, id := range session.PendingToolRequestIDs(messages) {
		pendingIDs[id] = true
	}

	cutoff := 0
	if userCount > preserveLastUserMessages {
		seenUsers := 0
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == session.RoleUser {
				seenUsers++
			}
			if seenUsers >= preserveLastUserMessages {
				cutoff = i
				break
			}
		}
	}

	for i, m := range messages {
		preserve := i >= cutoff
		if !preserve {
			for _, tr := range m.ToolRequests() {
				if pendingIDs[tr.ID] {
					preserve = true
				}
			}
			for _, tr := range m.ToolResponses() {
				if runningTaskResponseIDs[tr.ID] {
					preserve = true
				}
			}
		}
		if preserve {
			toPreserve = append(toPreserve, m)
		} else {
			toCompact = append(toCompact, m)
		}
	}
	return toCompact, toPreserve
}

// Compact summarizes the oldest portion of messages into a single
// synthetic assistant "memory" message, preserving the tail per §4.4.
// Compaction is convergent: re-running it over its own output (where
// nothing is left to compact) is a no-op.
func (b *Budget) Compact(ctx context.Context, messages []session.Message, runningTaskResponseIDs map[string]bool) ([]session.Message, error) {
	toCompact, toPreserve := splitCompactionRange(messages, runningTaskResponseIDs)
	if len(toCompact) == 0 {
		return messages, nil
	}

	summary, err := b.Summarize(ctx, toCompact)
	if err != nil {
		return truncate(messages, runningTaskResponseIDs), nil
	}

	memory := session.NewMessage(session.RoleAssistant, session.TextContent{Text: "[compacted memory]\n" + summary.Text()})
	out := make([]session.Message, 0, len(toPreserve)+1)
	out = append(out, memory)
	out = append(out, toPreserve...)
	return out, nil
}

// truncate is the fallback compaction strategy used when the
// summarization call itself fails: drop the compactable range outright
// rather than leave the conversation over budget.
func truncate(messages []session.Message, runningTaskResponseIDs map[string]bool) []session.Message {
	_, toPreserve := splitCompactionRange(messages, runningTaskResponseIDs)
	marker := session.NewMessage(session.RoleAssistant, session.TextContent{Text: "[earlier conversation truncated]"})
	out := make([]session.Message, 0, len(toPreserve)+1)
	out = append(out, marker)
	out = append(out, toPreserve...)
	return out
}
