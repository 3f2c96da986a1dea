package reply

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/goose-run/agentcore/pkg/events"
	"github.com/goose-run/agentcore/pkg/extension"
	"github.com/goose-run/agentcore/pkg/observability"
	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/session"
)

type decision struct {
	req      session.ToolRequestContent
	approved bool
	response session.ToolResponseContent
}

// approveAndDispatch runs the Approving and Dispatching states for one
// turn's pending tool requests (§4.5.f-h). It returns the tool
// responses in request order and reports whether the wait was cut
// short by cancellation (in which case the caller must not append
// anything and must emit Finish(cancelled) directly).
func (l *Loop) approveAndDispatch(ctx context.Context, pending []session.ToolRequestContent) ([]session.ToolResponseContent, bool) {
	decisions := make([]decision, len(pending))

	for i, req := range pending {
		ann, _ := l.Extensions.Annotations(req.Name)
		switch l.Policy.Classify(req.Name, provider.Annotations(ann)) {
		case OutcomeAutoApproved:
			decisions[i] = decision{req: req, approved: true}
		case OutcomeDenied:
			decisions[i] = decision{req: req, response: deniedResponse(req.ID)}
		case OutcomeNeedsApproval:
			if err := l.Bus.Emit(ctx, events.ToolApprovalRequested(req.ID, req.Name, req.Arguments)); err != nil {
				return nil, true
			}
			ch := l.Waiter.Register(req.ID)
			select {
			case perm := <-ch:
				if perm == PermissionDenyOnce {
					decisions[i] = decision{req: req, response: deniedResponse(req.ID)}
				} else {
					l.Policy.Remember(req.Name, perm)
					decisions[i] = decision{req: req, approved: true}
				}
			case <-ctx.Done():
				l.Waiter.Cancel(req.ID)
				return nil, true
			}
		}
	}

	responses := make([]session.ToolResponseContent, len(decisions))
	var parallel []extension.Call
	var parallelIdx []int
	var serialIdx []int

	for i, d := range decisions {
		if !d.approved {
			responses[i] = d.response
			continue
		}
		ann, _ := l.Extensions.Annotations(d.req.Name)
		if ann.ReadOnly || ann.ParallelSafe {
			parallel = append(parallel, extension.Call{ToolID: d.req.ID, PrefixedName: d.req.Name, Args: d.req.Arguments})
			parallelIdx = append(parallelIdx, i)
		} else {
			serialIdx = append(serialIdx, i)
		}
	}

	if len(parallel) > 0 {
		results := l.dispatchParallel(ctx, parallel)
		for k, idx := range parallelIdx {
			responses[idx] = results[k]
		}
	}

	for _, idx := range serialIdx {
		d := decisions[idx]
		resp := l.dispatchOne(ctx, d.req.ID, d.req.Name, d.req.Arguments)
		responses[idx] = resp
		if err := l.Bus.Emit(ctx, events.Message(toolResponseMessage(resp), l.Session.TokenState())); err != nil {
			return nil, true
		}
	}

	if ctx.Err() != nil {
		return nil, true
	}

	return responses, false
}

// dispatchParallel invokes every call concurrently via the Extension
// Manager, preserving request order in the returned slice while
// emitting each ToolResponse event in completion order (§3, §4.5.g,
// §8 property 9).
func (l *Loop) dispatchParallel(ctx context.Context, calls []extension.Call) []session.ToolResponseContent {
	type result struct {
		idx  int
		resp session.ToolResponseContent
	}

	resultCh := make(chan result, len(calls))
	for i, c := range calls {
		go func(i int, c extension.Call) {
			resultCh <- result{idx: i, resp: l.dispatchOne(ctx, c.ToolID, c.PrefixedName, c.Args)}
		}(i, c)
	}

	ordered := make([]session.ToolResponseContent, len(calls))
	for range calls {
		r := <-resultCh
		ordered[r.idx] = r.resp
		_ = l.Bus.Emit(ctx, events.Message(toolResponseMessage(r.resp), l.Session.TokenState()))
	}
	return ordered
}

// dispatchOne applies the per-extension tool timeout around a single
// Manager.Dispatch call, synthesizing a ToolResponse{error: timeout} on
// expiry instead of surfacing a bare upstream error (§4.5 failure
// semantics, §5 timeouts).
func (l *Loop) dispatchOne(ctx context.Context, id, name string, args map[string]any) session.ToolResponseContent {
	start := time.Now()
	dctx, span := observability.GetTracer("agentcore.reply").Start(ctx, observability.SpanToolCall, trace.WithAttributes(
		attribute.String(observability.AttrToolName, name),
	))
	defer span.End()

	resp := l.dispatchOneTraced(dctx, id, name, args)

	observability.GlobalMetrics().RecordToolCall(name, time.Since(start), resp.IsError)
	observability.RecordToolCallMeter(ctx, name, resp.IsError)
	if resp.IsError {
		span.SetAttributes(attribute.String(observability.AttrErrorType, "tool_error"))
	}
	return resp
}

func (l *Loop) dispatchOneTraced(ctx context.Context, id, name string, args map[string]any) session.ToolResponseContent {
	timeout := l.timeoutFor(name)
	dctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp := l.Extensions.Dispatch(dctx, id, name, args)
	if resp.IsError && dctx.Err() == context.DeadlineExceeded {
		return session.ToolResponseContent{
			ID:      id,
			IsError: true,
			Result:  []session.ResultPart{{Kind: "text", Text: "timeout"}},
		}
	}
	return resp
}

func (l *Loop) timeoutFor(prefixedName string) time.Duration {
	extName, _, ok := strings.Cut(prefixedName, "__")
	if !ok {
		return DefaultToolTimeout
	}
	if d, ok := l.ToolTimeouts[extName]; ok && d > 0 {
		return d
	}
	return DefaultToolTimeout
}

func deniedResponse(id string) session.ToolResponseContent {
	return session.ToolResponseContent{
		ID:      id,
		IsError: true,
		Result:  []session.ResultPart{{Kind: "text", Text: "denied"}},
	}
}

func toolResponseMessage(r session.ToolResponseContent) session.Message {
	return session.Message{Role: session.RoleTool, Content: []session.Content{r}}
}
