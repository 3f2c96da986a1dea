// Package budget implements the prompt-assembly and token-budget
// component (C4): system prompt assembly, tiktoken-backed counting, and
// summarization-first history compaction.
package budget

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/session"
)

const defaultEncoding = "cl100k_base"

var (
	encodingCache   = map[string]*tiktoken.Tiktoken{}
	encodingCacheMu sync.RWMutex
)

// Counter wraps a cached tiktoken encoding for one model family.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter resolves (and caches) the tiktoken encoding for model,
// falling back to cl100k_base the same way the teacher's token counter
// does when the model isn't in tiktoken's built-in table.
func NewCounter(model string) (*Counter, error) {
	encodingCacheMu.RLock()
	cached, ok := encodingCache[model]
	encodingCacheMu.RUnlock()
	if ok {
		return &Counter{enc: cached}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("budget: resolve encoding for %q: %w", model, err)
		}
	}

	encodingCacheMu.Lock()
	encodingCache[model] = enc
	encodingCacheMu.Unlock()
	return &Counter{enc: enc}, nil
}

func (c *Counter) tokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// perMessageOverhead approximates OpenAI's documented
// <|start|>role<|message|> framing cost per message.
const perMessageOverhead = 3

// Count estimates the token cost of a message list plus a tool catalog,
// tied to this Counter's tokenizer family (§4.4).
func (c *Counter) Count(messages []session.Message, tools []provider.ToolDescriptor) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += c.tokens(string(m.Role))
		total += c.tokens(m.Text())
		for _, tr := range m.ToolRequests() {
			total += c.tokens(tr.Name)
			for k, v := range tr.Arguments {
				total += c.tokens(k) + c.tokens(fmt.Sprint(v))
			}
		}
		for _, tr := range m.ToolResponses() {
			for _, p := range tr.Result {
				total += c.tokens(p.Text)
			}
		}
	}
	for _, t := range tools {
		total += c.tokens(t.Name) + c.tokens(t.Description)
		total += c.tokens(fmt.Sprint(t.Schema)) / 2 // schemas compress better than prose
	}
	total += perMessageOverhead // reply priming
	return total
}

// CountText is a standalone estimate for arbitrary text such as a system
// prompt string.
func (c *Counter) CountText(text string) int {
	return c.tokens(text)
}
