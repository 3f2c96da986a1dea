package extension

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/goose-run/agentcore/pkg/session"
)

// frontendClient exposes a static tool list supplied by the session's
// driving UI (§3 "frontend" descriptor variant: AvailableTools). Unlike
// every other transport, the tool body never executes inside this
// process — the manager forwards the request to the UI out-of-band and
// the UI calls Resolve with the outcome once the user (or client-side
// code) has handled it.
type frontendClient struct {
	cfg   Config
	tools []ToolDescriptor

	mu      sync.Mutex
	pending map[string]chan CallResult
}

func newFrontendClient(cfg Config) (Client, error) {
	tools := make([]ToolDescriptor, 0, len(cfg.AvailableTools))
	for _, name := range cfg.AvailableTools {
		tools = append(tools, ToolDescriptor{Name: name})
	}
	return &frontendClient{cfg: cfg, tools: tools, pending: map[string]chan CallResult{}}, nil
}

func (c *frontendClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return c.tools, nil
}

// CallTool registers a pending request and blocks until Resolve delivers
// the frontend's outcome or ctx is cancelled. The caller (the reply loop)
// is expected to have already surfaced a ToolRequestEmitted event so the
// UI knows to invoke Resolve.
func (c *frontendClient) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	id, ok := CallIDFromContext(ctx)
	if !ok || id == "" {
		id = uuid.NewString()
	}
	ch := make(chan CallResult, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return CallResult{}, context.Canceled
	}
}

// Resolve delivers a frontend-computed result for a pending call. callID
// is the tool-request id that Manager.Dispatch attaches to the call's
// context with WithCallID; a call made without one is keyed on a random
// id instead.
func (c *frontendClient) Resolve(callID string, result CallResult) error {
	c.mu.Lock()
	ch, ok := c.pending[callID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("extension %q: no pending call %q", c.cfg.Name, callID)
	}
	ch <- result
	return nil
}

func (c *frontendClient) ListResources(ctx context.Context) ([]Resource, error) {
	return nil, nil
}

func (c *frontendClient) ReadResource(ctx context.Context, uri string) ([]session.ResultPart, error) {
	return nil, fmt.Errorf("extension %q: no resources", c.cfg.Name)
}

func (c *frontendClient) SubscribeNotifications(ctx context.Context) (<-chan Notification, error) {
	return nil, nil
}

func (c *frontendClient) Close() error { return nil }
