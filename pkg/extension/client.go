// Package extension implements the tool/extension client (§4.2) and the
// per-session Extension Manager (§4.3) that aggregates tool catalogs and
// dispatches tool calls across every connected extension.
package extension

import (
	"context"
	"time"

	"github.com/goose-run/agentcore/pkg/session"
)

// ToolDescriptor is the extension-local view of one tool, before the
// manager prefixes its name (§3).
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      map[string]any
	Annotations Annotations
}

// Annotations mirror the §3 tool descriptor annotations.
type Annotations struct {
	ReadOnly     bool
	Destructive  bool
	Idempotent   bool
	OpenWorld    bool
	ParallelSafe bool
}

// CallResult is the outcome of one tool invocation (§4.2).
type CallResult struct {
	Content    []session.ResultPart
	IsError    bool
	Structured any
}

// Resource describes one MCP-style resource exposed by an extension.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// Notification is an opaque pass-through from an extension server,
// forwarded to the event plane as Event.Notification (§3).
type Notification struct {
	Method string
	Params map[string]any
}

// Client owns one transport to one tool server (§4.2). Every
// implementation must honor ctx cancellation by cancelling the in-flight
// RPC and surfacing context.Canceled.
type Client interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) ([]session.ResultPart, error)

	// SubscribeNotifications returns a channel of server-initiated
	// notifications, closed when the client is closed. Transports that
	// don't support push notifications return a nil channel.
	SubscribeNotifications(ctx context.Context) (<-chan Notification, error)

	// Close tears down the transport. Idempotent.
	Close() error
}

// Config is the connection configuration derived from a
// session.ExtensionDescriptor (§3, §6).
type Config struct {
	Name    string
	Kind    session.ExtensionKind
	Cmd     string
	Args    []string
	Env     map[string]string
	URL     string
	Headers map[string]string
	Timeout time.Duration

	// AvailableTools is used only by the frontend variant.
	AvailableTools []string

	// MaxRetries bounds the reconnect backoff (§4.2).
	MaxRetries int
}

// BuiltinFactory constructs an in-process Client for a named compiled-in
// server (the "builtin" descriptor variant).
type BuiltinFactory func(cfg Config) (Client, error)

// callIDKey carries the spawning tool-request id into a builtin
// handler's context so servers that themselves fan out work (e.g. the
// sub-agent spawn tool) can correlate their own notifications back to
// the call that triggered them (§4.8 "stable correlation id").
type callIDKey struct{}

// WithCallID attaches id to ctx under the package's correlation key.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallIDFromContext retrieves the tool-request id attached by
// WithCallID, if any.
func CallIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callIDKey{}).(string)
	return id, ok
}
