package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goose-run/agentcore/pkg/session"
)

// HTTPJSON is a reference Provider implementation that speaks a generic
// OpenAI-compatible chat-completions wire format over plain net/http. It
// exists so the C1 contract is exercised by a real transport; production
// vendor SDKs (Anthropic, Bedrock, local GGUF, ...) are explicitly out of
// scope per spec.md §1 and are expected to be wired in by the embedder the
// same way this one is.
type HTTPJSON struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPJSON(baseURL, apiKey string) *HTTPJSON {
	return &HTTPJSON{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{Timeout: 0}}
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Delta        chatMessage `json:"delta"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func toChatMessages(system string, messages []session.Message) []chatMessage {
	out := []chatMessage{{Role: "system", Content: system}}
	for _, m := range messages {
		cm := chatMessage{Role: string(m.Role)}
		for _, c := range m.Content {
			switch v := c.(type) {
			case session.TextContent:
				cm.Content += v.Text
			case session.ToolRequestContent:
				args, _ := json.Marshal(v.Arguments)
				tc := chatToolCall{ID: v.ID}
				tc.Function.Name = v.Name
				tc.Function.Arguments = string(args)
				cm.ToolCalls = append(cm.ToolCalls, tc)
			case session.ToolResponseContent:
				cm.Role = "tool"
				for _, p := range v.Result {
					cm.Content += p.Text
				}
			}
		}
		out = append(out, cm)
	}
	return out
}

func toChatTools(tools []ToolDescriptor) []chatTool {
	out := make([]chatTool, 0, len(tools))
	for _, t := range tools {
		ct := chatTool{Type: "function"}
		ct.Function.Name = t.Name
		ct.Function.Description = t.Description
		ct.Function.Parameters = t.Schema
		out = append(out, ct)
	}
	return out
}

func (h *HTTPJSON) do(ctx context.Context, body chatRequest) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: ErrBadRequest, Msg: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.BaseURL, "/")+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, &Error{Kind: ErrBadRequest, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: ErrCancelled, Msg: "request cancelled", Err: ctx.Err()}
		}
		return nil, &Error{Kind: ErrUpstreamUnavailable, Msg: "request failed", Err: err}
	}
	return resp, classifyStatus(resp)
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			var secs int
			fmt.Sscanf(v, "%d", &secs)
			retryAfter = time.Duration(secs) * time.Second
		}
		return &Error{Kind: ErrRateLimited, Msg: "rate limited", RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: ErrAuthFailed, Msg: "authentication failed"}
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return &Error{Kind: ErrContextLengthExceeded, Msg: "context length exceeded"}
	case resp.StatusCode >= 500:
		return &Error{Kind: ErrUpstreamUnavailable, Msg: fmt.Sprintf("upstream status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &Error{Kind: ErrBadRequest, Msg: fmt.Sprintf("bad request status %d", resp.StatusCode)}
	}
	return nil
}

func (h *HTTPJSON) Complete(ctx context.Context, cfg ModelConfig, system string, messages []session.Message, tools []ToolDescriptor) (session.Message, Usage, error) {
	resp, err := h.do(ctx, chatRequest{Model: cfg.Model, Messages: toChatMessages(system, messages), Tools: toChatTools(tools), Temperature: cfg.Temperature})
	if err != nil {
		return session.Message{}, Usage{}, err
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return session.Message{}, Usage{}, &Error{Kind: ErrBadRequest, Msg: "decode response", Err: err}
	}
	if len(cr.Choices) == 0 {
		return session.Message{}, Usage{}, &Error{Kind: ErrUpstreamUnavailable, Msg: "empty choices"}
	}
	msg := chatMessageToSession(cr.Choices[0].Message)
	usage := Usage{InputTokens: cr.Usage.PromptTokens, OutputTokens: cr.Usage.CompletionTokens, Model: cfg.Model}
	return msg, usage, nil
}

func chatMessageToSession(cm chatMessage) session.Message {
	var content []session.Content
	if cm.Content != "" {
		content = append(content, session.TextContent{Text: cm.Content})
	}
	for _, tc := range cm.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		content = append(content, session.ToolRequestContent{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return session.Message{Role: session.RoleAssistant, Content: content}
}

// Stream issues the request with stream:true and parses the
// "data: {json}\n\n" framed response body line by line.
func (h *HTTPJSON) Stream(ctx context.Context, cfg ModelConfig, system string, messages []session.Message, tools []ToolDescriptor) (<-chan StreamItem, <-chan error) {
	out := make(chan StreamItem, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		resp, err := h.do(ctx, chatRequest{Model: cfg.Model, Messages: toChatMessages(system, messages), Tools: toChatTools(tools), Temperature: cfg.Temperature, Stream: true})
		if err != nil {
			errc <- err
			return
		}
		defer resp.Body.Close()

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok || data == "[DONE]" {
				continue
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage.CompletionTokens > 0 || chunk.Usage.PromptTokens > 0 {
				usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens, Model: cfg.Model}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			msg := chatMessageToSession(chunk.Choices[0].Delta)
			if len(msg.Content) > 0 {
				select {
				case out <- StreamItem{Partial: &msg}:
				case <-ctx.Done():
					errc <- &Error{Kind: ErrCancelled, Msg: "stream cancelled", Err: ctx.Err()}
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- &Error{Kind: ErrUpstreamUnavailable, Msg: "stream read failed", Err: err}
			return
		}
		out <- StreamItem{Usage: &usage}
	}()

	return out, errc
}
