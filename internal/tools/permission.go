package tools

import (
	"context"
	"log/slog"
	"sync"
)

// Decision is the outcome of a permission check.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// AskFunc resolves an "ask" decision interactively. Returning false denies
// the call.
type AskFunc func(ctx context.Context, toolName string, args map[string]interface{}) bool

// PermissionPolicy decides per-tool access. Overrides win over the default.
// Unattended runs resolve "ask" to allow-with-warning; interactive frontends
// install an AskFunc to escalate to the user instead.
type PermissionPolicy struct {
	mu        sync.RWMutex
	def       Decision
	overrides map[string]Decision
	ask       AskFunc
}

func NewPermissionPolicy(def Decision) *PermissionPolicy {
	if def == "" {
		def = DecisionAllow
	}
	return &PermissionPolicy{
		def:       def,
		overrides: make(map[string]Decision),
	}
}

func (p *PermissionPolicy) SetOverride(toolName string, d Decision) {
	p.mu.Lock()
	p.overrides[toolName] = d
	p.mu.Unlock()
}

func (p *PermissionPolicy) SetAskFunc(fn AskFunc) {
	p.mu.Lock()
	p.ask = fn
	p.mu.Unlock()
}

// Decide returns the configured decision for a tool, before ask resolution.
func (p *PermissionPolicy) Decide(toolName string) Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if d, ok := p.overrides[toolName]; ok {
		return d
	}
	return p.def
}

// Check resolves the decision to a boolean. "ask" goes through the AskFunc
// when one is installed, otherwise it is allowed with a warning.
func (p *PermissionPolicy) Check(ctx context.Context, toolName string, args map[string]interface{}) bool {
	d := p.Decide(toolName)

	p.mu.RLock()
	ask := p.ask
	p.mu.RUnlock()

	switch d {
	case DecisionDeny:
		return false
	case DecisionAsk:
		if ask != nil {
			return ask(ctx, toolName, args)
		}
		slog.Warn("tool requires confirmation but no prompt is available, allowing", "tool", toolName)
		return true
	default:
		return true
	}
}
