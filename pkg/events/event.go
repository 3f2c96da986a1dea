// Package events defines the internal Event enum produced by the reply
// loop (C5) and the SSE adapter that turns it into the boundary-visible
// stream (C8, §4.8, §6).
package events

import (
	"github.com/goose-run/agentcore/pkg/session"
)

// Kind discriminates an Event's payload, matching the wire "type" field
// from §6.
type Kind string

const (
	KindMessage            Kind = "Message"
	KindError               Kind = "Error"
	KindFinish              Kind = "Finish"
	KindModelChange         Kind = "ModelChange"
	KindNotification        Kind = "Notification"
	KindUpdateConversation  Kind = "UpdateConversation"
	KindToolApprovalRequest Kind = "ToolApprovalRequested"
	KindPing                Kind = "Ping"
)

// FinishReason is the terminal reason carried by a Finish event.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishCancelled FinishReason = "cancelled"
	FinishMaxTurns  FinishReason = "max_turns"
	FinishError     FinishReason = "error"
)

// Event is the internal representation the reply loop emits; exactly
// one field group is populated per Kind.
type Event struct {
	Kind Kind

	Message    *session.Message
	TokenState *session.TokenState

	Err string

	FinishReason FinishReason

	Model string
	Mode  string

	// RequestID correlates a Notification back to the spawning tool
	// call (§4.8); empty for top-level-session notifications.
	RequestID string
	NotifText string

	Conversation []session.Message

	ApprovalToolCallID string
	ApprovalToolName    string
	ApprovalArguments    map[string]any
}

func Message(msg session.Message, tokenState session.TokenState) Event {
	return Event{Kind: KindMessage, Message: &msg, TokenState: &tokenState}
}

func Error(err string) Event {
	return Event{Kind: KindError, Err: err}
}

func Finish(reason FinishReason, tokenState session.TokenState) Event {
	return Event{Kind: KindFinish, FinishReason: reason, TokenState: &tokenState}
}

func ModelChange(model, mode string) Event {
	return Event{Kind: KindModelChange, Model: model, Mode: mode}
}

func Notification(requestID, text string) Event {
	return Event{Kind: KindNotification, RequestID: requestID, NotifText: text}
}

func UpdateConversation(conv []session.Message) Event {
	return Event{Kind: KindUpdateConversation, Conversation: conv}
}

func ToolApprovalRequested(callID, toolName string, args map[string]any) Event {
	return Event{Kind: KindToolApprovalRequest, ApprovalToolCallID: callID, ApprovalToolName: toolName, ApprovalArguments: args}
}

func Ping() Event {
	return Event{Kind: KindPing}
}
