package extension

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/goose-run/agentcore/pkg/session"
)

// handshakeConfig is the go-plugin handshake every out-of-process
// builtin binary must present before this process will talk to it,
// grounded on the teacher's plugins/grpc handshake pattern but using
// go-plugin's simpler net/rpc transport rather than gRPC+protobuf,
// since a tool server's surface here is just list/call/read.
var handshakeConfig = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "AGENTCORE_EXTENSION_PLUGIN",
	MagicCookieValue: "agentcore_v1",
}

// ToolProviderRPC is the net/rpc surface a "builtin" extension binary
// exposes when it is hosted out-of-process via go-plugin rather than
// compiled directly into this process (§4.2 "builtin" variant, §9
// global-mutable-state note: the registry stays process-wide, but a
// single entry in it may be a subprocess instead of an in-memory
// BuiltinServer).
type ToolProviderRPC interface {
	ListTools() ([]ToolDescriptor, error)
	CallTool(req ToolCallRequest) (CallResult, error)
}

// ToolCallRequest is the net/rpc argument shape for one CallTool
// invocation (net/rpc requires a single argument/reply pair per
// method).
type ToolCallRequest struct {
	Name string
	Args map[string]any
}

// ToolProviderPlugin is the go-plugin Plugin implementation for the
// extension-hosting net/rpc protocol. A plugin binary registers its own
// ToolProviderRPC implementation as Impl and calls goplugin.Serve with
// this type; this process only ever uses the Client half.
type ToolProviderPlugin struct {
	Impl ToolProviderRPC
}

func (p *ToolProviderPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &toolProviderRPCServer{impl: p.Impl}, nil
}

func (p *ToolProviderPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &toolProviderRPCClient{client: c}, nil
}

type toolProviderRPCServer struct {
	impl ToolProviderRPC
}

func (s *toolProviderRPCServer) ListTools(_ struct{}, resp *[]ToolDescriptor) error {
	tools, err := s.impl.ListTools()
	*resp = tools
	return err
}

func (s *toolProviderRPCServer) CallTool(req ToolCallRequest, resp *CallResult) error {
	res, err := s.impl.CallTool(req)
	*resp = res
	return err
}

// toolProviderRPCClient is the client-side stub dispensed by go-plugin;
// it satisfies ToolProviderRPC by making net/rpc calls into the
// subprocess.
type toolProviderRPCClient struct {
	client *rpc.Client
}

func (c *toolProviderRPCClient) ListTools() ([]ToolDescriptor, error) {
	var resp []ToolDescriptor
	err := c.client.Call("Plugin.ListTools", struct{}{}, &resp)
	return resp, err
}

func (c *toolProviderRPCClient) CallTool(req ToolCallRequest) (CallResult, error) {
	var resp CallResult
	err := c.client.Call("Plugin.CallTool", req, &resp)
	return resp, err
}

// goPluginClient adapts a hosted go-plugin subprocess to the Client
// interface (§4.2). Resources (no resource support) and notifications
// (no push-notification support) are not part of the net/rpc surface;
// both return empty/nil, matching other transports' treatment of
// optional capabilities.
type goPluginClient struct {
	cfg     Config
	client  *goplugin.Client
	rpcImpl ToolProviderRPC
}

func newGoPluginClient(cfg Config) (Client, error) {
	if cfg.Cmd == "" {
		return nil, fmt.Errorf("extension %q: go-plugin builtin requires cmd", cfg.Name)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "agentcore-plugin-" + cfg.Name,
		Level: hclog.Warn,
	})

	cmd := exec.Command(cfg.Cmd, cfg.Args...)
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: handshakeConfig,
		Plugins: map[string]goplugin.Plugin{
			cfg.Name: &ToolProviderPlugin{},
		},
		Cmd:              cmd,
		Logger:           logger,
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("extension %q: go-plugin handshake: %w", cfg.Name, err)
	}
	raw, err := rpcClient.Dispense(cfg.Name)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("extension %q: dispense plugin: %w", cfg.Name, err)
	}
	impl, ok := raw.(ToolProviderRPC)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("extension %q: plugin does not implement ToolProviderRPC", cfg.Name)
	}

	return &goPluginClient{cfg: cfg, client: client, rpcImpl: impl}, nil
}

func (c *goPluginClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return c.rpcImpl.ListTools()
}

func (c *goPluginClient) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	return c.rpcImpl.CallTool(ToolCallRequest{Name: name, Args: args})
}

func (c *goPluginClient) ListResources(ctx context.Context) ([]Resource, error) {
	return nil, nil
}

func (c *goPluginClient) ReadResource(ctx context.Context, uri string) ([]session.ResultPart, error) {
	return nil, fmt.Errorf("extension %q: no resources", c.cfg.Name)
}

func (c *goPluginClient) SubscribeNotifications(ctx context.Context) (<-chan Notification, error) {
	return nil, nil
}

func (c *goPluginClient) Close() error {
	c.client.Kill()
	return nil
}
