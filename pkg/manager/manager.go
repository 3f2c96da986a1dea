// Package manager implements the Agent Manager (C7): the session
// registry that enforces isolation, lifecycle, and shared-resource
// boundaries across every interactive, background, and sub-task session
// (§4.7, §9 "arena" design note).
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goose-run/agentcore/pkg/budget"
	"github.com/goose-run/agentcore/pkg/events"
	"github.com/goose-run/agentcore/pkg/extension"
	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/reply"
	"github.com/goose-run/agentcore/pkg/session"
	"github.com/goose-run/agentcore/pkg/tasks"
)

// SpawnToolExtension is the name of the extension whose tools spawn
// sub-agent tasks. Sub-agent sessions must never see its tools (§4.6
// safety rule, §8 property 8).
const SpawnToolExtension = "subagent"

// ErrSpawnToolLeaked is returned by GetOrCreate when a sub-task session's
// resolved tool catalog still contains the spawn extension's tools,
// i.e. the §4.6 isolation invariant failed at construction time.
var ErrSpawnToolLeaked = errors.New("manager: sub-agent session retained access to the spawn tool")

type entry struct {
	sess   *session.Session
	ext    *extension.Manager
	loop   *reply.Loop
	bus    *events.Bus
	cancel context.CancelFunc
}

// Manager is the Agent Manager (C7): it maps session ids to owned
// Session handles, constructing each Session's Extension Manager and
// reply Loop on first use and enforcing that no two sessions share a
// conversation or an extension client (§4.7).
type Manager struct {
	Store     session.Store
	Providers provider.Factory
	Catalog   *Catalog
	ModelCfg  provider.ModelConfig
	Env       Env
	Log       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
}

// New builds a Manager bound to its required collaborators. store may
// be nil (no persistence, matching spec.md's "the core does not
// guarantee durable message persistence" non-goal).
func New(store session.Store, providers provider.Factory, catalog *Catalog, modelCfg provider.ModelConfig) *Manager {
	return &Manager{
		Store:     store,
		Providers: providers,
		Catalog:   catalog,
		ModelCfg:  modelCfg,
		Env:       EnvFromOS(),
		Log:       slog.Default(),
		sessions:  map[string]*entry{},
	}
}

// GetOrCreate resolves id to a Session, constructing and registering a
// new one (loading persisted state via Store when available) if this is
// the first reference (§4.7). Sub-task sessions have the spawn
// extension filtered from their enabled set before their Extension
// Manager is populated.
func (m *Manager) GetOrCreate(ctx context.Context, id, workingDir string, mode session.ExecutionMode, parentSessionID string, extensions []session.ExtensionDescriptor) (*session.Session, error) {
	m.mu.RLock()
	if e, ok := m.sessions[id]; ok {
		m.mu.RUnlock()
		return e.sess, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e.sess, nil
	}

	sess, err := m.loadOrNew(ctx, id, workingDir, mode)
	if err != nil {
		return nil, err
	}
	sess.Mode = mode
	sess.ParentSessionID = parentSessionID
	if extensions != nil {
		sess.EnabledExtensions = extensions
	}

	extMgr := extension.NewManager(m.Log)
	for _, d := range sess.EnabledExtensions {
		// The spawn extension is always wired explicitly below (and
		// omitted entirely for sub-task sessions), never through the
		// descriptor/registry path.
		if d.Name == SpawnToolExtension {
			continue
		}
		if err := extMgr.Add(ctx, d); err != nil {
			m.Log.Warn("manager: failed to add extension", "session", id, "extension", d.Name, "error", err)
		}
	}
	if mode == session.ExecutionSubtask {
		if err := assertNoSpawnTool(extMgr); err != nil {
			return nil, err
		}
	}

	prov, err := m.Providers.Bind(sess.ProviderBinding)
	if err != nil {
		return nil, fmt.Errorf("manager: bind provider %q: %w", sess.ProviderBinding, err)
	}

	counter, err := budget.NewCounter(m.ModelCfg.Model)
	if err != nil {
		return nil, fmt.Errorf("manager: build token counter: %w", err)
	}
	b := budget.NewBudget(m.ModelCfg.ContextLimit, counter, prov, m.ModelCfg.Model)
	bus := events.NewBus(events.DefaultChannelCapacity)

	// Only non-sub-task sessions may spawn sub-agents (§4.6 safety
	// rule); the pool's own runner builds its sub-sessions through this
	// same Manager, isolated per §4.7.
	if mode != session.ExecutionSubtask {
		runner := &SubagentRunner{Manager: m, WorkingDir: workingDir, ParentExtensions: sess.EnabledExtensions}
		pool := tasks.NewPool(runner.NewRunner())
		if m.Env.MaxBackgroundTasks > 0 {
			pool.MaxWorkers = m.Env.MaxBackgroundTasks
		}
		spawnClient := extension.NewDirectBuiltinClient(SpawnToolExtension, NewSpawnBuiltin(pool, bus))
		if err := extMgr.AddClient(ctx, SpawnToolExtension, spawnClient); err != nil {
			m.Log.Warn("manager: failed to add spawn extension", "session", id, "error", err)
		}
	}

	loop := reply.NewLoop(sess, prov, extMgr, b, budget.NewPromptAssembler(), bus, m.ModelCfg)

	maxTurns := 0
	if mode == session.ExecutionSubtask {
		maxTurns = m.Env.SubagentMaxTurns
	}
	_ = maxTurns // consumed by Reply via reply.Options.MaxTurns per call, not stored here

	m.sessions[id] = &entry{sess: sess, ext: extMgr, loop: loop, bus: loop.Bus}
	return sess, nil
}

func (m *Manager) loadOrNew(ctx context.Context, id, workingDir string, mode session.ExecutionMode) (*session.Session, error) {
	if m.Store != nil {
		if loaded, err := m.Store.Load(ctx, id); err == nil && loaded != nil {
			return loaded, nil
		}
	}
	sess := session.New(workingDir, mode)
	sess.ID = id
	return sess, nil
}

// assertNoSpawnTool enforces §8 property 8: for every sub-agent
// session, its tool catalog excludes all tools whose name starts with
// the sub-agent spawn prefix.
func assertNoSpawnTool(extMgr *extension.Manager) error {
	prefix := SpawnToolExtension + "__"
	for _, t := range extMgr.ListTools() {
		if len(t.Name) >= len(prefix) && t.Name[:len(prefix)] == prefix {
			return ErrSpawnToolLeaked
		}
	}
	return nil
}

// ErrNotFound is returned by Reply when id has no registered session.
var ErrNotFound = &session.SessionError{Kind: session.KindSessionNotFound, Msg: "session not found"}

// Reply starts one reply invocation against an existing session,
// returning the session's event Bus immediately; the invocation runs on
// its own goroutine and streams onto the returned Bus. Concurrent Reply
// calls against the same session serialize per §4.7/§8 property 10: a
// second call observes the first still running and the loop itself
// surfaces `busy` onto the Bus rather than blocking the caller.
func (m *Manager) Reply(ctx context.Context, id string, msg *session.Message, opts reply.Options) (*events.Bus, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	m.mu.Unlock()

	if opts.MaxTurns <= 0 && e.sess.Mode == session.ExecutionSubtask {
		opts.MaxTurns = m.Env.SubagentMaxTurns
	}

	go func() {
		defer cancel()
		err := e.loop.Run(runCtx, msg, opts)
		if err != nil && errors.Is(err, reply.ErrBusy) {
			_ = e.bus.Emit(context.Background(), events.Error("busy"))
			_ = e.bus.Emit(context.Background(), events.Finish(events.FinishError, e.sess.TokenState()))
		}
	}()
	return e.bus, nil
}

// Cancel cancels the in-flight reply invocation (if any) for id.
func (m *Manager) Cancel(id string) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok && e.cancel != nil {
		e.cancel()
	}
}

// Extensions returns the Extension Manager owned by id's session, for
// callers (e.g. the sub-agent runner) that need to add extensions or
// read tool catalogs outside of a reply invocation.
func (m *Manager) Extensions(id string) (*extension.Manager, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.ext, true
}

// ApprovalWaiter exposes the session's approval gate so an HTTP front
// door can resolve pending ToolApprovalRequested calls (§6).
func (m *Manager) ApprovalWaiter(id string) (*reply.ApprovalWaiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.loop.Waiter, true
}

// Delete removes a session from the registry, cancelling any in-flight
// reply and closing its Extension Manager. It does not touch Store; the
// caller decides whether persisted state survives.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	_ = e.ext.Close()
}

// Shutdown cancels every live reply loop and closes every session's
// Extension Manager (§4.7 "Broadcast shutdown").
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = map[string]*entry{}
	m.mu.Unlock()

	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
		_ = e.ext.Close()
	}
}
