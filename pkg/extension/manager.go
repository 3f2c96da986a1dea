package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goose-run/agentcore/pkg/session"
)

// ErrToolNotFound is returned by dispatch when the prefix on a tool name
// does not match any connected extension (§4.3).
var ErrToolNotFound = errors.New("extension: tool not found")

const (
	degradedAfterFailures = 3
	suggestionLimit       = 3
	suggestionCooldown    = time.Hour
)

type entry struct {
	name      string
	client    Client
	tools     []ToolDescriptor
	degraded  bool
	initFails int
	addedAt   time.Time
}

// Manager is the per-session Extension Manager (C3): it owns one Client
// per connected extension, maintains the prefixed tool index, and routes
// dispatch calls by prefix.
type Manager struct {
	log *slog.Logger

	connectStdio   func(ctx context.Context, cfg Config) (Client, error)
	connectHTTP    func(ctx context.Context, cfg Config) (Client, error)
	connectBuiltin func(cfg Config) (Client, error)
	connectFront   func(cfg Config) (Client, error)

	mu      sync.RWMutex
	order   []string
	byName  map[string]*entry
	prefix  map[string]string // prefixed tool name -> extension name

	suggestMu      sync.Mutex
	suggestWindow  time.Time
	suggestionsLeft int
}

// NewManager builds a Manager with the default transport constructors.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:             log,
		connectStdio:    newStdioClient,
		connectHTTP:     newHTTPClient,
		connectBuiltin:  func(cfg Config) (Client, error) { return newBuiltinClient(cfg) },
		connectFront:    func(cfg Config) (Client, error) { return newFrontendClient(cfg) },
		byName:          map[string]*entry{},
		prefix:          map[string]string{},
		suggestionsLeft: suggestionLimit,
	}
}

func prefixedName(extName, toolName string) string {
	return extName + "__" + toolName
}

// Add connects descriptor's extension, fetches its tools, and installs
// its prefix. Re-adding the same name is idempotent: the existing client
// is reused as long as the descriptor is unchanged in substance (caller
// is expected to Remove first when reconfiguring parameters).
func (m *Manager) Add(ctx context.Context, d session.ExtensionDescriptor) error {
	m.mu.Lock()
	if _, exists := m.byName[d.Name]; exists {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	cfg := Config{
		Name:           d.Name,
		Kind:           d.Kind,
		Cmd:            d.Cmd,
		Args:           d.Args,
		Env:            d.Env,
		URL:            d.URL,
		Headers:        d.Headers,
		AvailableTools: d.AvailableTools,
	}

	client, err := m.connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("extension manager: add %q: %w", d.Name, err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("extension manager: add %q: list tools: %w", d.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[d.Name]; exists {
		client.Close()
		return nil
	}
	for _, t := range tools {
		pn := prefixedName(d.Name, t.Name)
		if _, collide := m.prefix[pn]; collide {
			client.Close()
			return fmt.Errorf("extension manager: add %q: tool prefix collision on %q", d.Name, pn)
		}
	}

	e := &entry{name: d.Name, client: client, tools: tools, addedAt: time.Now()}
	m.byName[d.Name] = e
	m.order = append(m.order, d.Name)
	for _, t := range tools {
		m.prefix[prefixedName(d.Name, t.Name)] = d.Name
	}
	return nil
}

// AddClient installs a pre-constructed Client under name, running the
// same tool-listing and prefix-collision checks as Add. It is used for
// extensions that are wired per-Manager-instance rather than looked up
// from the process-wide builtin registry (e.g. the sub-agent spawn
// tool, which must close over this session's own task pool).
func (m *Manager) AddClient(ctx context.Context, name string, client Client) error {
	m.mu.Lock()
	if _, exists := m.byName[name]; exists {
		m.mu.Unlock()
		client.Close()
		return nil
	}
	m.mu.Unlock()

	tools, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("extension manager: add %q: list tools: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[name]; exists {
		client.Close()
		return nil
	}
	for _, t := range tools {
		pn := prefixedName(name, t.Name)
		if _, collide := m.prefix[pn]; collide {
			client.Close()
			return fmt.Errorf("extension manager: add %q: tool prefix collision on %q", name, pn)
		}
	}

	e := &entry{name: name, client: client, tools: tools, addedAt: time.Now()}
	m.byName[name] = e
	m.order = append(m.order, name)
	for _, t := range tools {
		m.prefix[prefixedName(name, t.Name)] = name
	}
	return nil
}

func (m *Manager) connect(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Kind {
	case session.ExtensionBuiltin:
		return m.connectBuiltin(cfg)
	case session.ExtensionStdio:
		return m.connectStdio(ctx, cfg)
	case session.ExtensionSSE, session.ExtensionStreamableHTTP:
		return m.connectHTTP(ctx, cfg)
	case session.ExtensionFrontend:
		return m.connectFront(cfg)
	default:
		return nil, fmt.Errorf("unknown extension kind %q", cfg.Kind)
	}
}

// Remove cancels in-flight calls by closing the transport and drops the
// extension's prefix entries.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byName[name]
	if !ok {
		return nil
	}
	delete(m.byName, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for pn, owner := range m.prefix {
		if owner == name {
			delete(m.prefix, pn)
		}
	}
	return e.client.Close()
}

// ListTools returns the flattened, prefixed catalog in stable order:
// extensions in insertion order, tools within an extension in
// server-reported order.
func (m *Manager) ListTools() []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ToolDescriptor
	for _, name := range m.order {
		e := m.byName[name]
		for _, t := range e.tools {
			td := t
			td.Name = prefixedName(name, t.Name)
			out = append(out, td)
		}
	}
	return out
}

// Dispatch routes a single tool call by its prefixed name.
func (m *Manager) Dispatch(ctx context.Context, toolID, prefixedName string, args map[string]any) session.ToolResponseContent {
	m.mu.RLock()
	extName, ok := m.prefix[prefixedName]
	var e *entry
	if ok {
		e = m.byName[extName]
	}
	m.mu.RUnlock()

	if !ok || e == nil {
		return errorResponse(toolID, ErrToolNotFound)
	}
	if e.degraded {
		return errorResponse(toolID, fmt.Errorf("extension %q is degraded", extName))
	}

	localName := prefixedName[len(extName)+2:]
	res, err := e.client.CallTool(WithCallID(ctx, toolID), localName, args)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errorResponse(toolID, context.Canceled)
		}
		m.recordFailure(extName)
		return errorResponse(toolID, fmt.Errorf("upstream: %w", err))
	}
	return session.ToolResponseContent{ID: toolID, Result: res.Content, IsError: res.IsError, Structured: res.Structured}
}

func (m *Manager) recordFailure(extName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byName[extName]
	if !ok {
		return
	}
	e.initFails++
	if e.initFails >= degradedAfterFailures {
		e.degraded = true
		m.log.Warn("extension marked degraded", "extension", extName, "failures", e.initFails)
	}
}

func errorResponse(toolID string, err error) session.ToolResponseContent {
	return session.ToolResponseContent{
		ID:      toolID,
		Result:  []session.ResultPart{{Kind: "text", Text: err.Error()}},
		IsError: true,
	}
}

// Call is one pending dispatch request, used by DispatchParallel.
type Call struct {
	ToolID       string
	PrefixedName string
	Args         map[string]any
}

// DispatchParallel invokes every call concurrently, preserving call
// order in the returned slice. Cancelling ctx cancels every outstanding
// call.
func (m *Manager) DispatchParallel(ctx context.Context, calls []Call) []session.ToolResponseContent {
	out := make([]session.ToolResponseContent, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			out[i] = m.Dispatch(gctx, c.ToolID, c.PrefixedName, c.Args)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Annotations returns the annotations for a prefixed tool name, used by
// the reply loop to decide auto-approval and parallel-dispatch eligibility.
func (m *Manager) Annotations(prefixedToolName string) (Annotations, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	extName, ok := m.prefix[prefixedToolName]
	if !ok {
		return Annotations{}, false
	}
	e := m.byName[extName]
	localName := prefixedToolName[len(extName)+2:]
	for _, t := range e.tools {
		if t.Name == localName {
			return t.Annotations, true
		}
	}
	return Annotations{}, false
}

// Names returns connected extension names in insertion order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Suggest reports whether a "consider disabling an unused extension"
// hint may be emitted right now, consuming one slot of the per-cooldown
// budget if so.
func (m *Manager) Suggest() bool {
	m.suggestMu.Lock()
	defer m.suggestMu.Unlock()

	now := time.Now()
	if now.Sub(m.suggestWindow) > suggestionCooldown {
		m.suggestWindow = now
		m.suggestionsLeft = suggestionLimit
	}
	if m.suggestionsLeft <= 0 {
		return false
	}
	m.suggestionsLeft--
	return true
}

// UnusedExtensions returns extensions whose tools have not been invoked
// (as tracked externally) sorted by name, for use by the caller deciding
// whether to call Suggest.
func (m *Manager) UnusedExtensions(used map[string]bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, name := range m.order {
		if !used[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Close tears down every connected extension's transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, name := range m.order {
		if err := m.byName[name].client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.order = nil
	m.byName = map[string]*entry{}
	m.prefix = map[string]string{}
	return firstErr
}
