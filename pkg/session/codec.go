package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// contentKind tags the wire encoding of a Content union member so it can
// round-trip through JSON (used by the reference sqlite Store and by
// anything else that needs to persist a Message, not just stream it).
type contentKind string

const (
	contentKindText         contentKind = "text"
	contentKindToolRequest  contentKind = "tool_request"
	contentKindToolResponse contentKind = "tool_response"
	contentKindThinking     contentKind = "thinking"
	contentKindContextPath  contentKind = "context_path"
	contentKindSessionFile  contentKind = "session_file"
)

type wireContent struct {
	Kind contentKind `json:"kind"`

	Text string `json:"text,omitempty"`

	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Approval  ApprovalState  `json:"approval,omitempty"`

	Result             []ResultPart `json:"result,omitempty"`
	IsError            bool         `json:"is_error,omitempty"`
	Structured         any          `json:"structured,omitempty"`
	AudienceRestricted bool         `json:"audience_restricted,omitempty"`

	Signature string `json:"signature,omitempty"`
	Redacted  bool   `json:"redacted,omitempty"`

	Path string `json:"path,omitempty"`
	URI  string `json:"uri,omitempty"`
}

func encodeContent(c Content) (wireContent, error) {
	switch v := c.(type) {
	case TextContent:
		return wireContent{Kind: contentKindText, Text: v.Text}, nil
	case ToolRequestContent:
		return wireContent{Kind: contentKindToolRequest, ID: v.ID, Name: v.Name, Arguments: v.Arguments, Approval: v.Approval}, nil
	case ToolResponseContent:
		return wireContent{Kind: contentKindToolResponse, ID: v.ID, Result: v.Result, IsError: v.IsError, Structured: v.Structured, AudienceRestricted: v.AudienceRestricted}, nil
	case ThinkingContent:
		return wireContent{Kind: contentKindThinking, Text: v.Text, Signature: v.Signature, Redacted: v.Redacted}, nil
	case ContextPathContent:
		return wireContent{Kind: contentKindContextPath, Path: v.Path}, nil
	case SessionFileContent:
		return wireContent{Kind: contentKindSessionFile, URI: v.URI}, nil
	default:
		return wireContent{}, fmt.Errorf("session: unknown content type %T", c)
	}
}

func decodeContent(w wireContent) (Content, error) {
	switch w.Kind {
	case contentKindText:
		return TextContent{Text: w.Text}, nil
	case contentKindToolRequest:
		return ToolRequestContent{ID: w.ID, Name: w.Name, Arguments: w.Arguments, Approval: w.Approval}, nil
	case contentKindToolResponse:
		return ToolResponseContent{ID: w.ID, Result: w.Result, IsError: w.IsError, Structured: w.Structured, AudienceRestricted: w.AudienceRestricted}, nil
	case contentKindThinking:
		return ThinkingContent{Text: w.Text, Signature: w.Signature, Redacted: w.Redacted}, nil
	case contentKindContextPath:
		return ContextPathContent{Path: w.Path}, nil
	case contentKindSessionFile:
		return SessionFileContent{URI: w.URI}, nil
	default:
		return nil, fmt.Errorf("session: unknown content kind %q", w.Kind)
	}
}

type wireMessage struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	CreatedAt time.Time     `json:"created_at"`
	Content   []wireContent `json:"content"`
}

// MarshalJSON gives Message a stable, round-trippable wire form despite
// Content being a closed interface union (§3 data model).
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{ID: m.ID, Role: m.Role, CreatedAt: m.CreatedAt}
	for _, c := range m.Content {
		wc, err := encodeContent(c)
		if err != nil {
			return nil, err
		}
		w.Content = append(w.Content, wc)
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.ID, m.Role, m.CreatedAt = w.ID, w.Role, w.CreatedAt
	m.Content = nil
	for _, wc := range w.Content {
		c, err := decodeContent(wc)
		if err != nil {
			return err
		}
		m.Content = append(m.Content, c)
	}
	return nil
}
