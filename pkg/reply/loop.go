// Package reply implements the Agent reply loop (C5): the per-session
// streaming reasoning loop that alternates provider completions with
// tool dispatch, enforcing the turn budget and emitting events onto an
// events.Bus (§4.5).
package reply

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/goose-run/agentcore/pkg/budget"
	"github.com/goose-run/agentcore/pkg/events"
	"github.com/goose-run/agentcore/pkg/extension"
	"github.com/goose-run/agentcore/pkg/observability"
	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/session"
)

const (
	// DefaultMaxTurns is the sub-agent turn cap from §3; top-level
	// sessions may override it via Options.MaxTurns.
	DefaultMaxTurns = 25

	// DefaultMaxRateLimitRetries bounds in-turn rate-limit backoff
	// before the loop escalates to Finish(error) (§4.5).
	DefaultMaxRateLimitRetries = 5

	// DefaultMaxOverflowRetries bounds mid-stream context-overflow
	// compaction retries before giving up with context_too_small. This
	// guards against a pathological compactor that never shrinks the
	// conversation (not named numerically in spec.md, but required to
	// keep property 5's turn cap meaningful).
	DefaultMaxOverflowRetries = 3

	// DefaultToolTimeout is the per-tool timeout for any extension that
	// has no entry in Loop.ToolTimeouts (§5).
	DefaultToolTimeout = 300 * time.Second
)

// errOverflow is the internal sentinel distinguishing a mid-stream
// provider context_length_exceeded from any other stream error.
var errOverflow = errors.New("reply: provider reported context_length_exceeded")

// Options configures one Run invocation.
type Options struct {
	MaxTurns                int
	MaxRateLimitRetries      int
	ExtensionInstructions    []budget.ExtensionInstructions
	RunningTaskResponseIDs   func() map[string]bool
}

// Loop is the Agent reply loop (C5) bound to one session's collaborators.
type Loop struct {
	Session    *session.Session
	Provider   provider.Provider
	Extensions *extension.Manager
	Budget     *budget.Budget
	Prompts    *budget.PromptAssembler
	Bus        *events.Bus
	Policy     ApprovalPolicy
	Waiter     *ApprovalWaiter
	ModelCfg   provider.ModelConfig

	// ToolTimeouts maps an extension name (not prefixed tool name) to
	// its per-tool timeout (§5). NewLoop leaves it empty and the Timeout
	// of an extension descriptor is not copied into it, so
	// DefaultToolTimeout applies unless a caller fills it in.
	ToolTimeouts map[string]time.Duration
}

// NewLoop builds a Loop with sane defaults for the optional fields.
func NewLoop(sess *session.Session, prov provider.Provider, ext *extension.Manager, b *budget.Budget, prompts *budget.PromptAssembler, bus *events.Bus, cfg provider.ModelConfig) *Loop {
	return &Loop{
		Session:      sess,
		Provider:     prov,
		Extensions:   ext,
		Budget:       b,
		Prompts:      prompts,
		Bus:          bus,
		Policy:       NewAllowListPolicy(),
		Waiter:       NewApprovalWaiter(),
		ModelCfg:     cfg,
		ToolTimeouts: map[string]time.Duration{},
	}
}

// ErrBusy is returned by Run when the session already has a reply loop
// in flight (§4.7, §8 property 10).
var ErrBusy = &session.SessionError{Kind: session.KindSessionBusy, Msg: "session has a reply already in progress"}

// Run drives one reply invocation to completion: it appends msg (if
// non-nil) to the session conversation, then loops provider turns until
// a stop condition is reached, emitting exactly one terminal Finish
// event onto l.Bus (§4.5, §8 property 6). Run does not close l.Bus;
// callers own the Bus lifecycle across multiple Run invocations on the
// same session.
func (l *Loop) Run(ctx context.Context, msg *session.Message, opts Options) error {
	if !l.Session.TryAcquire() {
		return ErrBusy
	}
	defer l.Session.Release()

	if msg != nil {
		l.Session.AppendMessage(*msg)
	}

	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	maxRateLimitRetries := opts.MaxRateLimitRetries
	if maxRateLimitRetries <= 0 {
		maxRateLimitRetries = DefaultMaxRateLimitRetries
	}
	runningTaskResponseIDs := opts.RunningTaskResponseIDs
	if runningTaskResponseIDs == nil {
		runningTaskResponseIDs = func() map[string]bool { return nil }
	}

	turn := 0
	overflowRetries := 0
	for {
		if ctx.Err() != nil {
			l.emitFinish(ctx, events.FinishCancelled)
			return nil
		}
		if turn >= maxTurns {
			l.emitFinish(ctx, events.FinishMaxTurns)
			return nil
		}

		messages := l.Session.Conversation()
		tools := l.toolDescriptors()

		assembled, err := l.Budget.Assemble(ctx, l.Prompts, l.Session.WorkingDir, opts.ExtensionInstructions, messages, tools, runningTaskResponseIDs())
		if err != nil {
			if errors.Is(err, budget.ErrContextTooSmall) {
				l.emitFinish(ctx, events.FinishError)
				return nil
			}
			l.emitFinish(ctx, events.FinishError)
			return err
		}
		if assembled.Compacted {
			l.Session.ReplaceConversation(assembled.Messages)
			if err := l.Bus.Emit(ctx, events.UpdateConversation(assembled.Messages)); err != nil {
				l.emitFinish(ctx, events.FinishCancelled)
				return nil
			}
		}

		assistantMsg, pendingTools, usage, err := l.streamTurn(ctx, assembled, maxRateLimitRetries)
		if err != nil {
			switch {
			case errors.Is(err, errOverflow):
				overflowRetries++
				if overflowRetries > DefaultMaxOverflowRetries {
					l.emitFinish(ctx, events.FinishError)
					return nil
				}
				compacted, cerr := l.Budget.Compact(ctx, assembled.Messages, runningTaskResponseIDs())
				if cerr != nil {
					l.emitFinish(ctx, events.FinishError)
					return cerr
				}
				l.Session.ReplaceConversation(compacted)
				if err := l.Bus.Emit(ctx, events.UpdateConversation(compacted)); err != nil {
					l.emitFinish(ctx, events.FinishCancelled)
					return nil
				}
				continue
			case errors.Is(err, context.Canceled):
				l.emitFinish(ctx, events.FinishCancelled)
				return nil
			default:
				var perr *provider.Error
				if errors.As(err, &perr) && perr.Kind == provider.ErrCancelled {
					l.emitFinish(ctx, events.FinishCancelled)
					return nil
				}
				l.emitFinish(ctx, events.FinishError)
				return err
			}
		}
		overflowRetries = 0

		if usage != nil {
			l.Session.SetTokenState(session.TokenState{
				InputTokens:  usage.InputTokens,
				OutputTokens: usage.OutputTokens,
				ContextLimit: l.ModelCfg.ContextLimit,
				Model:        usage.Model,
			})
		}

		l.Session.AppendMessage(assistantMsg)
		turn++

		if len(pendingTools) == 0 {
			l.emitFinish(ctx, events.FinishStop)
			return nil
		}

		responses, cancelled := l.approveAndDispatch(ctx, pendingTools)
		if cancelled || ctx.Err() != nil {
			l.emitFinish(ctx, events.FinishCancelled)
			return nil
		}

		respContent := make([]session.Content, 0, len(responses))
		for _, r := range responses {
			respContent = append(respContent, r)
		}
		l.Session.AppendMessage(session.NewMessage(session.RoleTool, respContent...))
	}
}

func (l *Loop) emitFinish(ctx context.Context, reason events.FinishReason) {
	// Finish is best-effort on a cancelled bus: the invariant is "at
	// most one Finish reaches the consumer", not that emission never
	// races a closed channel.
	_ = l.Bus.Emit(context.Background(), events.Finish(reason, l.Session.TokenState()))
	_ = ctx
}

func (l *Loop) toolDescriptors() []provider.ToolDescriptor {
	extTools := l.Extensions.ListTools()
	out := make([]provider.ToolDescriptor, len(extTools))
	for i, t := range extTools {
		out[i] = provider.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Schema:      t.Schema,
			Annotations: provider.Annotations(t.Annotations),
		}
	}
	return out
}

// streamTurn drives one provider.Stream call to completion, merging text
// fragments, collecting tool-requests, and transparently retrying on
// rate_limited up to maxRetries (§4.5).
func (l *Loop) streamTurn(ctx context.Context, assembled budget.Assembled, maxRetries int) (session.Message, []session.ToolRequestContent, *provider.Usage, error) {
	retries := 0
	for {
		msg, toolReqs, usage, err := l.streamOnce(ctx, assembled)
		if err == nil {
			return msg, toolReqs, usage, nil
		}

		var perr *provider.Error
		if errors.As(err, &perr) {
			switch perr.Kind {
			case provider.ErrRateLimited:
				retries++
				if retries > maxRetries {
					return session.Message{}, nil, nil, &session.SessionError{Kind: session.KindRateLimited, Msg: "rate limit retries exhausted", Err: err}
				}
				wait := perr.RetryAfter
				if wait <= 0 {
					wait = time.Duration(retries) * 500 * time.Millisecond
				}
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return session.Message{}, nil, nil, context.Canceled
				}
				continue
			case provider.ErrContextLengthExceeded:
				return session.Message{}, nil, nil, errOverflow
			case provider.ErrAuthFailed:
				return session.Message{}, nil, nil, &session.SessionError{Kind: session.KindAuthFailed, Msg: "provider auth failed", Err: err}
			case provider.ErrCancelled:
				return session.Message{}, nil, nil, context.Canceled
			default:
				return session.Message{}, nil, nil, err
			}
		}
		return session.Message{}, nil, nil, err
	}
}

func (l *Loop) streamOnce(ctx context.Context, assembled budget.Assembled) (session.Message, []session.ToolRequestContent, *provider.Usage, error) {
	start := time.Now()
	ctx, span := observability.GetTracer("agentcore.reply").Start(ctx, observability.SpanProviderCall, trace.WithAttributes(
		attribute.String(observability.AttrModel, l.ModelCfg.Model),
		attribute.String(observability.AttrSessionID, l.Session.ID),
	))
	defer span.End()

	msg, toolReqs, usage, err := l.streamOnceTraced(ctx, assembled)

	inputTokens, outputTokens := 0, 0
	if usage != nil {
		inputTokens, outputTokens = usage.InputTokens, usage.OutputTokens
	}
	observability.GlobalMetrics().RecordProviderCall(l.ModelCfg.Model, time.Since(start), inputTokens, outputTokens)
	if err != nil {
		span.RecordError(err)
	}
	return msg, toolReqs, usage, err
}

func (l *Loop) streamOnceTraced(ctx context.Context, assembled budget.Assembled) (session.Message, []session.ToolRequestContent, *provider.Usage, error) {
	out, errc := l.Provider.Stream(ctx, l.ModelCfg, assembled.SystemPrompt, assembled.Messages, assembled.Tools)

	var textBuf strings.Builder
	var toolReqs []session.ToolRequestContent
	var usage *provider.Usage

	for {
		select {
		case item, ok := <-out:
			if !ok {
				content := mergedContent(textBuf.String(), toolReqs)
				return session.NewMessage(session.RoleAssistant, content...), toolReqs, usage, nil
			}
			if item.Usage != nil {
				usage = item.Usage
			}
			if item.Partial == nil {
				continue
			}
			for _, c := range item.Partial.Content {
				switch v := c.(type) {
				case session.TextContent:
					textBuf.WriteString(v.Text)
					if err := l.Bus.Emit(ctx, events.Message(session.Message{Role: session.RoleAssistant, Content: []session.Content{v}}, l.Session.TokenState())); err != nil {
						return session.Message{}, nil, nil, context.Canceled
					}
				case session.ToolRequestContent:
					toolReqs = append(toolReqs, v)
				}
			}
		case err, ok := <-errc:
			if !ok {
				continue
			}
			return session.Message{}, nil, nil, err
		case <-ctx.Done():
			return session.Message{}, nil, nil, context.Canceled
		}
	}
}

func mergedContent(text string, toolReqs []session.ToolRequestContent) []session.Content {
	var out []session.Content
	if text != "" {
		out = append(out, session.TextContent{Text: text})
	}
	for _, tr := range toolReqs {
		out = append(out, tr)
	}
	return out
}
