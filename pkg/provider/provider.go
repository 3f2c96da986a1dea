// Package provider defines the contract every LLM backend must satisfy
// (§4.1). The core never depends on a concrete vendor SDK: callers inject
// a Provider at session-construction time.
package provider

import (
	"context"
	"time"

	"github.com/goose-run/agentcore/pkg/session"
)

// ToolDescriptor is the provider-facing view of a callable tool.
type ToolDescriptor struct {
	Name        string // prefixed_name
	Description string
	Schema      map[string]any
	Annotations Annotations
}

// Annotations are the hints the reply loop uses to decide auto-approval
// and parallel-safety (§3, §4.5, §9 open question 2).
type Annotations struct {
	ReadOnly     bool
	Destructive  bool
	Idempotent   bool
	OpenWorld    bool
	ParallelSafe bool
}

// ModelConfig names the model and generation parameters for one call.
type ModelConfig struct {
	Model            string
	Temperature      float64
	MaxOutputTokens  int
	ContextLimit     int // model_context_limit, informs C4's budget math
}

// Usage reports token accounting for one provider call (§4.1).
type Usage struct {
	InputTokens  int
	OutputTokens int
	Model        string
}

// StreamItem is one element of a Provider.Stream sequence. The terminal
// item of a stream MUST carry a non-nil Usage.
type StreamItem struct {
	Partial *session.Message // incremental fragment, nil on the terminal item
	Usage   *Usage           // only set on the terminal item
}

// ErrorKind distinguishes provider failure modes (§4.1).
type ErrorKind string

const (
	ErrContextLengthExceeded ErrorKind = "context_length_exceeded"
	ErrRateLimited           ErrorKind = "rate_limited"
	ErrAuthFailed            ErrorKind = "auth_failed"
	ErrBadRequest            ErrorKind = "bad_request"
	ErrUpstreamUnavailable   ErrorKind = "upstream_unavailable"
	ErrCancelled             ErrorKind = "cancelled"
)

// Error is the typed error every Provider method must return on failure.
type Error struct {
	Kind       ErrorKind
	Msg        string
	RetryAfter time.Duration // only meaningful for ErrRateLimited
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Provider is the abstract complete/stream interface over a chat LLM
// (§4.1). Implementations must be idempotent with respect to their
// inputs: no hidden conversation state survives between calls.
type Provider interface {
	// Complete performs one non-streaming completion.
	Complete(ctx context.Context, cfg ModelConfig, system string, messages []session.Message, tools []ToolDescriptor) (session.Message, Usage, error)

	// Stream performs an incremental completion. The returned sequence
	// yields zero or more partial items followed by exactly one terminal
	// item carrying Usage. On ctx cancellation the provider must stop
	// producing items and release network resources.
	Stream(ctx context.Context, cfg ModelConfig, system string, messages []session.Message, tools []ToolDescriptor) (<-chan StreamItem, <-chan error)
}

// Factory builds a bound Provider for a session's ProviderBinding name.
// Bind does not have to return a fresh instance per call:
// SingleBindingFactory hands the same Provider to every session.
type Factory interface {
	Bind(name string) (Provider, error)
}
