package extension

import (
	"context"
	"fmt"
	"sync"

	"github.com/goose-run/agentcore/pkg/session"
)

// Handler is one in-process tool exposed by a builtin extension. Builtin
// servers never cross a process boundary, so there is no transport to
// retry or reconnect (§4.2 "builtin" variant).
type Handler func(ctx context.Context, args map[string]any) (CallResult, error)

// BuiltinServer is the compiled-in registration surface for one builtin
// extension (e.g. a "developer" or "computercontroller" style bundle).
type BuiltinServer struct {
	Name  string
	Tools []ToolDescriptor
	Call  map[string]Handler
}

type builtinClient struct {
	cfg    Config
	server BuiltinServer
}

// registry is the process-wide set of compiled-in servers,
// populated by init() in whichever package assembles the runtime.
var (
	registryMu sync.RWMutex
	registry   = map[string]BuiltinServer{}
)

// RegisterBuiltin adds a compiled-in server to the registry. Call from an
// init() function; panics on duplicate names since that is a programming
// error, not a runtime condition.
func RegisterBuiltin(s BuiltinServer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[s.Name]; exists {
		panic(fmt.Sprintf("extension: builtin %q already registered", s.Name))
	}
	registry[s.Name] = s
}

// NewDirectBuiltinClient wraps server as a Client without touching the
// process-wide registry. It is the escape hatch for builtin extensions
// that must be constructed per-Manager-instance (e.g. a session's own
// sub-agent spawn tool, which closes over that session's task pool) and
// so cannot be registered once at process start via RegisterBuiltin.
func NewDirectBuiltinClient(name string, server BuiltinServer) Client {
	return &builtinClient{cfg: Config{Name: name}, server: server}
}

func newBuiltinClient(cfg Config) (Client, error) {
	// A builtin descriptor with a Cmd hosts a Go plugin binary
	// out-of-process via go-plugin rather than dispensing a compiled-in
	// BuiltinServer (§4.2 "builtin" variant, ambient stack: out-of-process
	// extension hosting).
	if cfg.Cmd != "" {
		return newGoPluginClient(cfg)
	}

	registryMu.RLock()
	s, ok := registry[cfg.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("extension %q: no builtin server registered", cfg.Name)
	}
	return &builtinClient{cfg: cfg, server: s}, nil
}

func (c *builtinClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return c.server.Tools, nil
}

func (c *builtinClient) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	h, ok := c.server.Call[name]
	if !ok {
		return CallResult{}, fmt.Errorf("extension %q: unknown tool %q", c.cfg.Name, name)
	}
	select {
	case <-ctx.Done():
		return CallResult{}, context.Canceled
	default:
	}
	return h(ctx, args)
}

func (c *builtinClient) ListResources(ctx context.Context) ([]Resource, error) {
	return nil, nil
}

func (c *builtinClient) ReadResource(ctx context.Context, uri string) ([]session.ResultPart, error) {
	return nil, fmt.Errorf("extension %q: no resources", c.cfg.Name)
}

func (c *builtinClient) SubscribeNotifications(ctx context.Context) (<-chan Notification, error) {
	return nil, nil
}

func (c *builtinClient) Close() error { return nil }
