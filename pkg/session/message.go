// Package session defines the conversation data model shared by every
// other component: Message, Conversation, Session, and the approval /
// tool-request bookkeeping the reply loop depends on.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ApprovalState tracks a tool-request's position in the approval gate.
type ApprovalState string

const (
	ApprovalPending       ApprovalState = "pending"
	ApprovalAutoApproved  ApprovalState = "auto_approved"
	ApprovalAllowedOnce   ApprovalState = "allow_once"
	ApprovalAlwaysAllowed ApprovalState = "always_allow"
	ApprovalDenied        ApprovalState = "denied"
)

// Content is the sum type for everything a Message can carry. Each variant
// implements isContent purely to close the union at compile time.
type Content interface {
	isContent()
}

// TextContent is plain assistant/user/system text.
type TextContent struct {
	Text string
}

func (TextContent) isContent() {}

// ToolRequestContent is a model-issued request to call a tool.
type ToolRequestContent struct {
	ID        string
	Name      string // prefixed_name = "{extension}__{tool}"
	Arguments map[string]any
	Approval  ApprovalState
}

func (ToolRequestContent) isContent() {}

// ResultPart is one piece of a tool response (text, image ref, etc).
type ResultPart struct {
	Kind string // "text", "resource", ...
	Text string
	URI  string
}

// ToolResponseContent answers exactly one ToolRequestContent earlier in the
// conversation, matched by ID.
type ToolResponseContent struct {
	ID                 string
	Result             []ResultPart
	IsError            bool
	Structured         any
	AudienceRestricted bool
}

func (ToolResponseContent) isContent() {}

// ThinkingContent carries a model's chain-of-thought block. Redacted
// blocks keep Signature but drop Text.
type ThinkingContent struct {
	Text      string
	Signature string
	Redacted  bool
}

func (ThinkingContent) isContent() {}

// ContextPathContent references a file/path the agent attached to context.
type ContextPathContent struct {
	Path string
}

func (ContextPathContent) isContent() {}

// SessionFileContent references a file stored alongside the session.
type SessionFileContent struct {
	URI string
}

func (SessionFileContent) isContent() {}

// Message is one ordered record in a Conversation.
type Message struct {
	ID        string
	Role      Role
	CreatedAt time.Time
	Content   []Content
}

// NewMessage builds a Message with a fresh ID and CreatedAt stamp.
func NewMessage(role Role, content ...Content) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		CreatedAt: time.Now().UTC(),
		Content:   content,
	}
}

// Text returns the concatenation of every TextContent in the message, in
// order. Non-text content is ignored.
func (m Message) Text() string {
	var out string
	for _, c := range m.Content {
		if t, ok := c.(TextContent); ok {
			out += t.Text
		}
	}
	return out
}

// ToolRequests returns every ToolRequestContent in the message, in order.
func (m Message) ToolRequests() []ToolRequestContent {
	var out []ToolRequestContent
	for _, c := range m.Content {
		if tr, ok := c.(ToolRequestContent); ok {
			out = append(out, tr)
		}
	}
	return out
}

// ToolResponses returns every ToolResponseContent in the message, in order.
func (m Message) ToolResponses() []ToolResponseContent {
	var out []ToolResponseContent
	for _, c := range m.Content {
		if tr, ok := c.(ToolResponseContent); ok {
			out = append(out, tr)
		}
	}
	return out
}

// IsTextOnly reports whether the message carries only TextContent (used to
// decide whether two adjacent assistant messages can be merged).
func (m Message) IsTextOnly() bool {
	for _, c := range m.Content {
		if _, ok := c.(TextContent); !ok {
			return false
		}
	}
	return len(m.Content) > 0
}
