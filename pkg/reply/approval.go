package reply

import (
	"fmt"
	"sync"

	"github.com/goose-run/agentcore/pkg/provider"
)

// Permission is the caller's answer to a ToolApprovalRequested event,
// delivered via POST /action-required/tool-confirmation (§6).
type Permission string

const (
	PermissionAllowOnce   Permission = "allow_once"
	PermissionAlwaysAllow Permission = "always_allow"
	PermissionDenyOnce    Permission = "deny_once"
)

// Outcome is the result of classifying one tool-request before it ever
// reaches an interactive approval gate (§4.5.f).
type Outcome int

const (
	OutcomeNeedsApproval Outcome = iota
	OutcomeAutoApproved
	OutcomeDenied
)

// ApprovalPolicy decides, without user interaction, whether a tool
// request auto-approves, is denied outright, or needs an interactive
// gate (§4.5.f).
type ApprovalPolicy interface {
	Classify(toolName string, ann provider.Annotations) Outcome
	// Remember records an interactive decision so future calls to the
	// same tool can skip the gate (e.g. always_allow).
	Remember(toolName string, perm Permission)
}

// AllowListPolicy is the default ApprovalPolicy: read-only tools and
// anything on the always-allow list auto-approve; anything on the
// operator deny-list is denied outright; everything else needs approval.
type AllowListPolicy struct {
	mu          sync.Mutex
	alwaysAllow map[string]bool
	denied      map[string]bool
}

// NewAllowListPolicy builds an AllowListPolicy with an empty allow/deny
// set and optional operator-supplied denials.
func NewAllowListPolicy(deniedTools ...string) *AllowListPolicy {
	p := &AllowListPolicy{
		alwaysAllow: map[string]bool{},
		denied:      map[string]bool{},
	}
	for _, t := range deniedTools {
		p.denied[t] = true
	}
	return p
}

func (p *AllowListPolicy) Classify(toolName string, ann provider.Annotations) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied[toolName] {
		return OutcomeDenied
	}
	if ann.ReadOnly || p.alwaysAllow[toolName] {
		return OutcomeAutoApproved
	}
	return OutcomeNeedsApproval
}

func (p *AllowListPolicy) Remember(toolName string, perm Permission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch perm {
	case PermissionAlwaysAllow:
		p.alwaysAllow[toolName] = true
	case PermissionDenyOnce:
		// Deny-once is not persisted; the next request re-prompts.
	}
}

// ErrStaleApproval is returned by Resolve for an id with no pending
// registration: already resolved, already timed out, or never
// requested. The HTTP front door maps this to "409 stale" (§6).
var ErrStaleApproval = fmt.Errorf("reply: stale or unknown approval id")

// ApprovalWaiter bridges the asynchronous
// POST /action-required/tool-confirmation callback to the reply loop's
// blocking wait inside approveAndDispatch (§4.5.f, §6).
type ApprovalWaiter struct {
	mu      sync.Mutex
	pending map[string]chan Permission
}

// NewApprovalWaiter builds an empty ApprovalWaiter.
func NewApprovalWaiter() *ApprovalWaiter {
	return &ApprovalWaiter{pending: map[string]chan Permission{}}
}

// Register opens a one-shot wait slot for callID and returns the
// channel the reply loop should block on.
func (w *ApprovalWaiter) Register(callID string) <-chan Permission {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan Permission, 1)
	w.pending[callID] = ch
	return ch
}

// Resolve delivers perm to the waiter registered for callID. Returns
// ErrStaleApproval if no (or no longer) pending registration exists,
// which the HTTP layer surfaces as 409.
func (w *ApprovalWaiter) Resolve(callID string, perm Permission) error {
	w.mu.Lock()
	ch, ok := w.pending[callID]
	if ok {
		delete(w.pending, callID)
	}
	w.mu.Unlock()
	if !ok {
		return ErrStaleApproval
	}
	ch <- perm
	return nil
}

// Cancel abandons a pending registration without resolving it, used
// when the enclosing reply is cancelled while awaiting approval.
func (w *ApprovalWaiter) Cancel(callID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, callID)
}
