// Package tools implements the Tool Registry & Executor (§1, §4.5, §6):
// the typed surface of glob/grep/read/bash/web_fetch tools an agent's LLM
// call may invoke, mediated by permission and sandbox policy before any
// tool body runs. A tool definition never runs unmediated — Execute is the
// only entry point the executor loop calls.
package tools

import (
	"context"
	"fmt"
	"sync"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
	"agentcore/internal/permission"
)

// ExecuteFunc runs one tool call. profile carries the calling agent's
// sandbox and permission configuration, since a shared Registry serves
// every agent kind rather than one registry per agent.
type ExecuteFunc func(ctx context.Context, arguments string, profile domain.AgentProfile) (string, error)

// Definition describes a tool for both the LLM (name/description/schema)
// and the mediator (RequiredPermission).
type Definition struct {
	Name               string
	Description        string
	Parameters         any
	RequiredPermission domain.Permission
}

// Approver decides prompt-outcome tool calls, i.e. calls the Permission
// Mediator marked neither auto-allow nor auto-deny. This package provides
// AutoApprove and AlwaysDeny; it has no implementation that asks a person,
// and cmd/agentd builds its registries with AutoApprove.
type Approver interface {
	Approve(ctx context.Context, toolName string, agent domain.AgentKind, required domain.Permission) bool
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, toolName string, agent domain.AgentKind, required domain.Permission) bool

func (f ApproverFunc) Approve(ctx context.Context, toolName string, agent domain.AgentKind, required domain.Permission) bool {
	return f(ctx, toolName, agent, required)
}

// AutoApprove approves every prompt outcome without asking anyone.
var AutoApprove Approver = ApproverFunc(func(context.Context, string, domain.AgentKind, domain.Permission) bool { return true })

// AlwaysDeny declines every prompt outcome.
var AlwaysDeny Approver = ApproverFunc(func(context.Context, string, domain.AgentKind, domain.Permission) bool { return false })

type registration struct {
	def  Definition
	exec ExecuteFunc
}

// Registry holds the live set of registered tools. One Registry is shared
// across all agent kinds; Definitions filters and caches per agent kind,
// and any Register/Unregister call invalidates every cached list (§5).
type Registry struct {
	mediator *permission.Mediator
	approver Approver

	mu   sync.RWMutex
	regs map[string]registration

	cacheMu sync.Mutex
	cache   map[domain.AgentKind][]llm.Tool
}

// NewRegistry creates an empty Registry. approver resolves permission
// Mediator "prompt" outcomes; pass AutoApprove for non-interactive runs.
func NewRegistry(approver Approver) *Registry {
	if approver == nil {
		approver = AutoApprove
	}
	return &Registry{
		mediator: permission.New(),
		approver: approver,
		regs:     make(map[string]registration),
		cache:    make(map[domain.AgentKind][]llm.Tool),
	}
}

// Register adds or replaces a tool and invalidates every cached
// per-agent-kind tool list.
func (r *Registry) Register(def Definition, exec ExecuteFunc) error {
	if def.Name == "" {
		return fmt.Errorf("tools: definition has no name")
	}
	if exec == nil {
		return fmt.Errorf("tools: %s has no executor", def.Name)
	}

	r.mu.Lock()
	r.regs[def.Name] = registration{def: def, exec: exec}
	r.mu.Unlock()

	r.invalidateCache()
	return nil
}

// Unregister removes a tool, invalidating cached tool lists.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.regs, name)
	r.mu.Unlock()

	r.invalidateCache()
}

func (r *Registry) invalidateCache() {
	r.cacheMu.Lock()
	r.cache = make(map[domain.AgentKind][]llm.Tool)
	r.cacheMu.Unlock()
}

// Definitions returns the LLM-facing tool list for profile: every
// registered tool the profile's permission set grants, narrowed to
// AllowedTools when that list is non-empty. Results are cached by
// AgentKind until the next registry mutation.
func (r *Registry) Definitions(profile domain.AgentProfile) []llm.Tool {
	if r == nil {
		return nil
	}
	r.cacheMu.Lock()
	if cached, ok := r.cache[profile.Kind]; ok {
		r.cacheMu.Unlock()
		return cached
	}
	r.cacheMu.Unlock()

	allowed := make(map[string]bool, len(profile.AllowedTools))
	for _, name := range profile.AllowedTools {
		allowed[name] = true
	}
	restrictToAllowed := len(allowed) > 0

	r.mu.RLock()
	out := make([]llm.Tool, 0, len(r.regs))
	for _, reg := range r.regs {
		if !profile.Permissions.Has(reg.def.RequiredPermission) {
			continue
		}
		if restrictToAllowed && !allowed[reg.def.Name] {
			continue
		}
		out = append(out, llm.Tool{
			Name:        reg.def.Name,
			Description: reg.def.Description,
			Parameters:  reg.def.Parameters,
		})
	}
	r.mu.RUnlock()

	r.cacheMu.Lock()
	r.cache[profile.Kind] = out
	r.cacheMu.Unlock()

	return out
}

// Execute runs the named tool under profile's permissions and mode. A
// permission denial or a declined prompt is returned as a tool-result
// string (so the agent's own turn can react to it), not a Go error; a Go
// error means the tool name doesn't exist or the tool itself malfunctioned
// below the permission layer.
func (r *Registry) Execute(ctx context.Context, name, arguments string, profile domain.AgentProfile, mode permission.Mode) (string, error) {
	if r == nil {
		return "", fmt.Errorf("tools: no registry configured for tool %q", name)
	}
	r.mu.RLock()
	reg, ok := r.regs[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tools: unknown tool %q", name)
	}

	outcome := r.mediator.Decide(profile.Permissions, reg.def.RequiredPermission, mode)
	switch outcome {
	case permission.OutcomeDeny:
		return "ERROR: " + (&permission.DeniedError{Tool: name, Required: reg.def.RequiredPermission}).Error(), nil
	case permission.OutcomePrompt:
		if !r.approver.Approve(ctx, name, profile.Kind, reg.def.RequiredPermission) {
			return fmt.Sprintf("ERROR: permission declined: tool %s requires %s", name, reg.def.RequiredPermission), nil
		}
	}

	return reg.exec(ctx, arguments, profile)
}
