package provider

import (
	"context"
	"sync/atomic"

	"github.com/goose-run/agentcore/pkg/session"
)

// Turn is one scripted response: either final text, or one or more
// tool-requests, or both.
type Turn struct {
	Text         string
	ToolRequests []session.ToolRequestContent
	Err          *Error
	Delay        map[string]struct{} // not read by Stream or Complete; tool requests are always delivered in slice order
}

// Scripted is a deterministic test double for Provider: it returns a
// pre-programmed sequence of Turns, one per call, used to drive the reply
// loop's scenario tests (E1, E2, E3, E5) and the manager tests without a
// network dependency.
type Scripted struct {
	Turns []Turn
	idx   atomic.Int64
}

func NewScripted(turns ...Turn) *Scripted {
	return &Scripted{Turns: turns}
}

func (s *Scripted) next() (Turn, bool) {
	i := s.idx.Add(1) - 1
	if int(i) >= len(s.Turns) {
		return Turn{}, false
	}
	return s.Turns[i], true
}

func (s *Scripted) Complete(ctx context.Context, cfg ModelConfig, system string, messages []session.Message, tools []ToolDescriptor) (session.Message, Usage, error) {
	turn, ok := s.next()
	if !ok {
		return session.Message{}, Usage{}, &Error{Kind: ErrBadRequest, Msg: "scripted: no more turns"}
	}
	if turn.Err != nil {
		return session.Message{}, Usage{}, turn.Err
	}
	msg := buildAssistantMessage(turn)
	return msg, Usage{InputTokens: 10, OutputTokens: 10, Model: cfg.Model}, nil
}

func (s *Scripted) Stream(ctx context.Context, cfg ModelConfig, system string, messages []session.Message, tools []ToolDescriptor) (<-chan StreamItem, <-chan error) {
	out := make(chan StreamItem, 8)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		turn, ok := s.next()
		if !ok {
			errc <- &Error{Kind: ErrBadRequest, Msg: "scripted: no more turns"}
			return
		}
		if turn.Err != nil {
			errc <- turn.Err
			return
		}

		if turn.Text != "" {
			select {
			case out <- StreamItem{Partial: &session.Message{Role: session.RoleAssistant, Content: []session.Content{session.TextContent{Text: turn.Text}}}}:
			case <-ctx.Done():
				errc <- &Error{Kind: ErrCancelled, Msg: "stream cancelled"}
				return
			}
		}
		for _, tr := range turn.ToolRequests {
			select {
			case out <- StreamItem{Partial: &session.Message{Role: session.RoleAssistant, Content: []session.Content{tr}}}:
			case <-ctx.Done():
				errc <- &Error{Kind: ErrCancelled, Msg: "stream cancelled"}
				return
			}
		}
		out <- StreamItem{Usage: &Usage{InputTokens: 10, OutputTokens: 10, Model: cfg.Model}}
	}()

	return out, errc
}

func buildAssistantMessage(turn Turn) session.Message {
	var content []session.Content
	if turn.Text != "" {
		content = append(content, session.TextContent{Text: turn.Text})
	}
	for _, tr := range turn.ToolRequests {
		content = append(content, tr)
	}
	return session.Message{Role: session.RoleAssistant, Content: content}
}
