package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goose-run/agentcore/pkg/httpclient"
	"github.com/goose-run/agentcore/pkg/session"
)

// httpClient talks MCP JSON-RPC over HTTP for the "sse" and
// "streamable-http" descriptor variants, using httpclient for
// retry/backoff the same way the teacher's mcptoolset does (§4.2).
type httpClient struct {
	cfg    Config
	client *httpclient.Client

	mu        sync.RWMutex
	sessionID string
}

func newHTTPClient(ctx context.Context, cfg Config) (Client, error) {
	c := &httpClient{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
			httpclient.WithMaxRetries(orDefault(cfg.MaxRetries, 3)),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}

	resp, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": clientName, "version": clientVersion},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("extension %q: initialize: %w", cfg.Name, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("extension %q: initialize error: %s", cfg.Name, resp.Error.Message)
	}
	return c, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int      `json:"id"`
	Result  any      `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *httpClient) call(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	c.mu.RLock()
	if c.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	c.mu.RUnlock()

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, err
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &rr, nil
}

func (c *httpClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("extension %q: list tools: %w", c.cfg.Name, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("extension %q: list tools error: %s", c.cfg.Name, resp.Error.Message)
	}

	resultMap, _ := resp.Result.(map[string]any)
	raw, _ := resultMap["tools"].([]any)

	out := make([]ToolDescriptor, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		desc, _ := m["description"].(string)
		schema, _ := m["inputSchema"].(map[string]any)
		out = append(out, ToolDescriptor{Name: name, Description: desc, Schema: schema})
	}
	return out, nil
}

func (c *httpClient) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	resp, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		if ctx.Err() != nil {
			return CallResult{}, context.Canceled
		}
		return CallResult{}, fmt.Errorf("extension %q: call tool %q: %w", c.cfg.Name, name, err)
	}
	if resp.Error != nil {
		return CallResult{IsError: true, Content: []session.ResultPart{{Kind: "text", Text: resp.Error.Message}}}, nil
	}

	resultMap, _ := resp.Result.(map[string]any)
	isError, _ := resultMap["isError"].(bool)
	result := CallResult{IsError: isError}

	if contentRaw, ok := resultMap["content"].([]any); ok {
		for _, item := range contentRaw {
			cm, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := cm["text"].(string); ok {
				result.Content = append(result.Content, session.ResultPart{Kind: "text", Text: text})
			}
		}
	}
	return result, nil
}

func (c *httpClient) ListResources(ctx context.Context) ([]Resource, error) {
	resp, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, fmt.Errorf("extension %q: list resources: %w", c.cfg.Name, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("extension %q: list resources error: %s", c.cfg.Name, resp.Error.Message)
	}
	resultMap, _ := resp.Result.(map[string]any)
	raw, _ := resultMap["resources"].([]any)
	out := make([]Resource, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		uri, _ := m["uri"].(string)
		name, _ := m["name"].(string)
		desc, _ := m["description"].(string)
		mime, _ := m["mimeType"].(string)
		out = append(out, Resource{URI: uri, Name: name, Description: desc, MimeType: mime})
	}
	return out, nil
}

func (c *httpClient) ReadResource(ctx context.Context, uri string) ([]session.ResultPart, error) {
	resp, err := c.call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, fmt.Errorf("extension %q: read resource %q: %w", c.cfg.Name, uri, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("extension %q: read resource error: %s", c.cfg.Name, resp.Error.Message)
	}
	resultMap, _ := resp.Result.(map[string]any)
	raw, _ := resultMap["contents"].([]any)
	var out []session.ResultPart
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text, _ := m["text"].(string)
		out = append(out, session.ResultPart{Kind: "text", Text: text, URI: uri})
	}
	return out, nil
}

// SubscribeNotifications is unsupported for the request/response JSON-RPC
// transport used here (true SSE push would require a long-lived GET
// stream, which the streamable-http variant of MCP does not mandate).
func (c *httpClient) SubscribeNotifications(ctx context.Context) (<-chan Notification, error) {
	return nil, nil
}

func (c *httpClient) Close() error { return nil }
