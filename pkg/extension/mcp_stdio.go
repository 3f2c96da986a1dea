package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/goose-run/agentcore/pkg/session"
)

const (
	clientName      = "agentcore"
	clientVersion   = "1.0.0"
	protocolVersion = "2024-11-05"
)

// stdioClient connects to a subprocess MCP server via mcp-go's stdio
// transport (§4.2 connection lifecycle: connect -> initialize -> steady
// state -> close).
type stdioClient struct {
	cfg Config

	mu     sync.Mutex
	client *mcpclient.Client
}

func newStdioClient(ctx context.Context, cfg Config) (Client, error) {
	c, err := mcpclient.NewStdioMCPClient(cfg.Cmd, envSlice(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("extension %q: create stdio mcp client: %w", cfg.Name, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("extension %q: start stdio mcp client: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	initReq.Params.ProtocolVersion = protocolVersion
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("extension %q: initialize: %w", cfg.Name, err)
	}

	return &stdioClient{cfg: cfg, client: c}, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (c *stdioClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("extension %q: list tools: %w", c.cfg.Name, err)
	}

	out := make([]ToolDescriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Schema:      convertSchema(t.InputSchema),
		})
	}
	return out, nil
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func (c *stdioClient) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := client.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return CallResult{}, context.Canceled
		}
		return CallResult{}, fmt.Errorf("extension %q: call tool %q: %w", c.cfg.Name, name, err)
	}

	result := CallResult{IsError: resp.IsError}
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			result.Content = append(result.Content, session.ResultPart{Kind: "text", Text: tc.Text})
		}
	}
	return result, nil
}

func (c *stdioClient) ListResources(ctx context.Context) ([]Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, fmt.Errorf("extension %q: list resources: %w", c.cfg.Name, err)
	}
	out := make([]Resource, 0, len(resp.Resources))
	for _, r := range resp.Resources {
		out = append(out, Resource{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MIMEType})
	}
	return out, nil
}

func (c *stdioClient) ReadResource(ctx context.Context, uri string) ([]session.ResultPart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	resp, err := c.client.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extension %q: read resource %q: %w", c.cfg.Name, uri, err)
	}

	var parts []session.ResultPart
	for _, content := range resp.Contents {
		if tc, ok := content.(mcp.TextResourceContents); ok {
			parts = append(parts, session.ResultPart{Kind: "text", Text: tc.Text, URI: tc.URI})
		}
	}
	return parts, nil
}

// SubscribeNotifications is unsupported over stdio in this build: mcp-go's
// stdio client notification channel is not wired up, so callers get a nil
// channel (§4.2: transports that don't support push notifications return
// none).
func (c *stdioClient) SubscribeNotifications(ctx context.Context) (<-chan Notification, error) {
	return nil, nil
}

func (c *stdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
