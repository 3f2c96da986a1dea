package budget

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	maxAgentsMDDepth   = 8
	agentsMDFilename   = "AGENTS.md"
	agentsMDCacheTTL   = 5 * time.Minute
	persona            = "You are a capable, careful coding and automation agent."
	toolUsageRules     = "Prefer the narrowest tool that satisfies the request. Ask for approval before destructive or irreversible actions unless already auto-approved. Never fabricate tool results."
)

// ExtensionInstructions is one active extension's contribution to the
// system prompt (§4.4 "active extensions' instruction blocks").
type ExtensionInstructions struct {
	Name         string
	Instructions string
}

type agentsMDCacheEntry struct {
	text    string
	cachedAt time.Time
}

// PromptAssembler builds the system prompt portion of C4.assemble. It
// caches AGENTS.md lookups per starting directory since the ancestor
// walk is pure given a fixed filesystem snapshot (§4.4).
type PromptAssembler struct {
	mu    sync.Mutex
	cache map[string]agentsMDCacheEntry
}

func NewPromptAssembler() *PromptAssembler {
	return &PromptAssembler{cache: map[string]agentsMDCacheEntry{}}
}

// Assemble builds the full system prompt: persona, environment hints,
// extension instruction blocks, tool-usage rules, and AGENTS.md hints
// gathered from cwd and its ancestors (bounded recursion).
func (a *PromptAssembler) Assemble(cwd string, extensions []ExtensionInstructions) string {
	var b strings.Builder

	b.WriteString(persona)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Environment: cwd=%s os=%s\n\n", cwd, runtime.GOOS)

	if len(extensions) > 0 {
		b.WriteString("Active extensions:\n")
		for _, e := range extensions {
			fmt.Fprintf(&b, "- %s: %s\n", e.Name, e.Instructions)
		}
		b.WriteString("\n")
	}

	b.WriteString("Tool usage: ")
	b.WriteString(toolUsageRules)
	b.WriteString("\n")

	if hints := a.agentsMDHints(cwd); hints != "" {
		b.WriteString("\nProject hints:\n")
		b.WriteString(hints)
	}

	return b.String()
}

// agentsMDHints walks cwd's ancestor chain (bounded at maxAgentsMDDepth)
// collecting any AGENTS.md contents found, nearest-ancestor first.
func (a *PromptAssembler) agentsMDHints(cwd string) string {
	a.mu.Lock()
	entry, ok := a.cache[cwd]
	a.mu.Unlock()
	if ok && time.Since(entry.cachedAt) < agentsMDCacheTTL {
		return entry.text
	}

	var parts []string
	dir := cwd
	for i := 0; i < maxAgentsMDDepth; i++ {
		data, err := os.ReadFile(filepath.Join(dir, agentsMDFilename))
		if err == nil {
			parts = append(parts, strings.TrimSpace(string(data)))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	text := strings.Join(parts, "\n---\n")
	a.mu.Lock()
	a.cache[cwd] = agentsMDCacheEntry{text: text, cachedAt: time.Now()}
	a.mu.Unlock()
	return text
}
