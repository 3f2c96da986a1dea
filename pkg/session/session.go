package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionMode tags how a session is being driven (§4.7).
type ExecutionMode string

const (
	ExecutionInteractive ExecutionMode = "interactive"
	ExecutionBackground  ExecutionMode = "background"
	ExecutionSubtask      ExecutionMode = "subtask"
)

// TokenState is the per-session token accounting surfaced on events and in
// Finish (§3, §4.4).
type TokenState struct {
	InputTokens  int
	OutputTokens int
	ContextLimit int
	Model        string
}

// ExtensionDescriptor is the tagged union from §3 / §6.
type ExtensionDescriptor struct {
	Name        string            `yaml:"name" json:"name"`
	DisplayName string            `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Kind        ExtensionKind     `yaml:"type" json:"type"`
	Timeout     time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Bundled     bool              `yaml:"bundled,omitempty" json:"bundled,omitempty"`
	Cmd         string            `yaml:"cmd,omitempty" json:"cmd,omitempty"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL         string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// AvailableTools is used by the "frontend" variant: a static tool list
	// resolved out-of-band by the caller rather than over a transport.
	AvailableTools []string `yaml:"available_tools,omitempty" json:"available_tools,omitempty"`
}

// ExtensionKind is the transport discriminator for ExtensionDescriptor.
type ExtensionKind string

const (
	ExtensionBuiltin        ExtensionKind = "builtin"
	ExtensionStdio          ExtensionKind = "stdio"
	ExtensionSSE            ExtensionKind = "sse"
	ExtensionStreamableHTTP ExtensionKind = "streamable-http"
	ExtensionFrontend       ExtensionKind = "frontend"
)

// Session is the unit of isolation: a conversation plus its enabled
// extensions, provider binding, and loop/token state (§3).
type Session struct {
	ID                string
	WorkingDir        string
	CreatedAt         time.Time
	Mode              ExecutionMode
	ParentSessionID   string // set when Mode == ExecutionSubtask
	ProviderBinding   string
	EnabledExtensions []ExtensionDescriptor
	Metadata          map[string]any

	mu           sync.RWMutex
	conversation Conversation
	tokenState   TokenState
	busy         bool
}

// New constructs a Session with a fresh ID.
func New(workingDir string, mode ExecutionMode) *Session {
	return &Session{
		ID:         uuid.NewString(),
		WorkingDir: workingDir,
		CreatedAt:  time.Now().UTC(),
		Mode:       mode,
		Metadata:   map[string]any{},
	}
}

// Conversation returns a snapshot copy of the current message history.
func (s *Session) Conversation() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.conversation.Messages))
	copy(out, s.conversation.Messages)
	return out
}

// AppendMessage appends a message to the session's conversation.
func (s *Session) AppendMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation.Append(m)
}

// ReplaceConversation atomically swaps the conversation, used after
// compaction (HistoryReplaced, §4.4).
func (s *Session) ReplaceConversation(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = Conversation{Messages: msgs}
}

// TokenState returns the current token accounting snapshot.
func (s *Session) TokenState() TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenState
}

// SetTokenState updates the token accounting snapshot.
func (s *Session) SetTokenState(ts TokenState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenState = ts
}

// TryAcquire enforces the "at most one concurrent reply loop per session"
// rule (§4.7, §8 property 10). Returns false if the session is already
// busy running a reply.
func (s *Session) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

// Release clears the busy flag set by TryAcquire.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

// Store is the injected persistence capability (§6). The core never
// guarantees durable persistence itself: the Agent Manager calls only Load,
// and nothing in the core calls the write methods.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	AppendMessage(ctx context.Context, id string, m Message) error
	ReplaceConversation(ctx context.Context, id string, msgs []Message) error
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	Delete(ctx context.Context, id string) error
}
