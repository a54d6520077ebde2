package permission

import (
	"strings"
	"sync"
)

// Level is the capability a tool needs before it may run.
type Level string

const (
	LevelRead    Level = "read"
	LevelWrite   Level = "write"
	LevelExecute Level = "execute"
)

// Decision is the outcome of a permission check.
type Decision int

const (
	Denied Decision = iota
	Allowed
	NeedsApproval
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case NeedsApproval:
		return "needs_approval"
	default:
		return "denied"
	}
}

// Checker decides whether a tool call may proceed. Args include the
// conversation scope under "conversation_id".
type Checker interface {
	Check(tool string, level Level, args map[string]interface{}) Decision
	Remember(tool string, level Level, scope string)
}

// Policy is the pattern configuration for PolicyChecker. Patterns are tool
// names, optionally ending in "*" for a prefix match.
type Policy struct {
	Allow           []string
	Deny            []string
	RequireApproval []string
}

// PolicyChecker checks tool calls against deny, allow and require-approval
// pattern lists, then falls back to a default decision per permission
// level: read is allowed, write and execute need approval. Approvals
// remembered via Remember become standing allows for (tool, scope).
type PolicyChecker struct {
	policy Policy

	mu         sync.RWMutex
	remembered map[string]bool
}

func NewPolicyChecker(policy Policy) *PolicyChecker {
	return &PolicyChecker{
		policy:     policy,
		remembered: make(map[string]bool),
	}
}

func (c *PolicyChecker) Check(tool string, level Level, args map[string]interface{}) Decision {
	if matchAny(c.policy.Deny, tool) {
		return Denied
	}
	if matchAny(c.policy.Allow, tool) {
		return Allowed
	}
	if c.isRemembered(tool, scopeOf(args)) {
		return Allowed
	}
	if matchAny(c.policy.RequireApproval, tool) {
		return NeedsApproval
	}
	if level == LevelRead {
		return Allowed
	}
	return NeedsApproval
}

func (c *PolicyChecker) Remember(tool string, _ Level, scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remembered[rememberKey(tool, scope)] = true
}

func (c *PolicyChecker) isRemembered(tool, scope string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remembered[rememberKey(tool, scope)]
}

func rememberKey(tool, scope string) string {
	return tool + "\x00" + scope
}

func scopeOf(args map[string]interface{}) string {
	if args == nil {
		return ""
	}
	if v, ok := args["conversation_id"].(string); ok {
		return v
	}
	return ""
}

func matchAny(patterns []string, tool string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(tool, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if p == tool {
			return true
		}
	}
	return false
}
