package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/goose-run/agentcore/pkg/session"
)

// DefaultPingInterval is how often Ping events are injected to keep an
// SSE connection alive (§4.8).
const DefaultPingInterval = 500 * time.Millisecond

// DefaultChannelCapacity is the default bound on the channel between the
// reply loop and the SSE adapter (§5 backpressure).
const DefaultChannelCapacity = 100

type wireMessage struct {
	Type       Kind              `json:"type"`
	Message    *session.Message  `json:"message,omitempty"`
	TokenState *session.TokenState `json:"token_state,omitempty"`
	Error      string            `json:"error,omitempty"`
	Reason     FinishReason      `json:"reason,omitempty"`
	Model      string            `json:"model,omitempty"`
	Mode       string            `json:"mode,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Conversation []session.Message `json:"conversation,omitempty"`

	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
}

func toWire(e Event) wireMessage {
	w := wireMessage{Type: e.Kind}
	switch e.Kind {
	case KindMessage:
		w.Message = e.Message
		w.TokenState = e.TokenState
	case KindError:
		w.Error = e.Err
	case KindFinish:
		w.Reason = e.FinishReason
		w.TokenState = e.TokenState
	case KindModelChange:
		w.Model = e.Model
		w.Mode = e.Mode
	case KindNotification:
		w.RequestID = e.RequestID
		if e.NotifText != "" {
			w.Message = &session.Message{Content: []session.Content{session.TextContent{Text: e.NotifText}}}
		}
	case KindUpdateConversation:
		w.Conversation = e.Conversation
	case KindToolApprovalRequest:
		w.ToolCallID = e.ApprovalToolCallID
		w.ToolName = e.ApprovalToolName
		w.Arguments = e.ApprovalArguments
	}
	return w
}

// StreamWriter adapts an http.ResponseWriter into the §6 SSE framing:
// "data: {json}\n\n" per event, flushed immediately, with periodic Ping
// events for liveness.
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStreamWriter sets the SSE response headers and returns a writer.
// Returns an error if the underlying ResponseWriter can't flush.
func NewStreamWriter(w http.ResponseWriter) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("events: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &StreamWriter{w: w, flusher: flusher}, nil
}

// Write serializes one event as a single SSE "data:" frame.
func (s *StreamWriter) Write(e Event) error {
	data, err := json.Marshal(toWire(e))
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Pump drains events from ch onto the stream, injecting Ping events
// every interval of inactivity, until ch closes or done fires. Exactly
// one Finish event is expected as the terminal item on ch; Pump returns
// after forwarding it. §4.8 guarantees: monotonic per-session emission
// (ch is the single-writer ordering boundary) and exactly one Finish.
func (s *StreamWriter) Pump(ch <-chan Event, done <-chan struct{}, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Write(e); err != nil {
				return err
			}
			if e.Kind == KindFinish {
				return nil
			}
		case <-ticker.C:
			if err := s.Write(Ping()); err != nil {
				return err
			}
		case <-done:
			return nil
		}
	}
}
