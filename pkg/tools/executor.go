package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nyukimin/picoagent/pkg/approval"
	"github.com/Nyukimin/picoagent/pkg/audit"
	"github.com/Nyukimin/picoagent/pkg/permission"
)

// ApprovalListener surfaces an approval request to a human. Listeners run
// synchronously before the wait begins; a panicking listener is recovered
// so a UI failure never breaks the pipeline.
type ApprovalListener func(req approval.Request)

// Executor runs one tool call through the audited, permission-gated
// pipeline: audit request, resolve, check permission, optionally wait for
// human approval, execute, audit the outcome.
type Executor struct {
	registry *Registry
	checker  permission.Checker
	waiter   approval.Waiter
	auditor  *audit.Logger
	timeout  time.Duration

	mu        sync.RWMutex
	listeners []ApprovalListener
}

func NewExecutor(registry *Registry, checker permission.Checker, waiter approval.Waiter, auditor *audit.Logger, approvalTimeout time.Duration) *Executor {
	if approvalTimeout <= 0 {
		approvalTimeout = 60 * time.Second
	}
	return &Executor{
		registry: registry,
		checker:  checker,
		waiter:   waiter,
		auditor:  auditor,
		timeout:  approvalTimeout,
	}
}

func (e *Executor) Registry() *Registry { return e.registry }

func (e *Executor) OnApprovalRequest(l ApprovalListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Execute never returns an error: every failure mode is folded into the
// ToolResult so the turn continues.
func (e *Executor) Execute(ctx context.Context, conversationID, name string, args map[string]interface{}) ToolResult {
	e.audit("request", name, args, "", conversationID)

	tool, ok := e.registry.Get(name)
	if !ok {
		e.audit("error", name, args, "unknown tool", conversationID)
		return Fail("unknown tool: %s", name)
	}

	if err := e.registry.ValidateArgs(name, args); err != nil {
		e.audit("error", name, args, err.Error(), conversationID)
		return Fail("%v", err)
	}

	scoped := withScope(args, conversationID)
	decision := e.checker.Check(name, tool.RequiredPermission(), scoped)

	switch decision {
	case permission.Denied:
		e.audit("denied", name, args, "permission denied", conversationID)
		return Fail("permission denied for tool %s", name)
	case permission.NeedsApproval:
		resp, err := e.awaitApproval(ctx, conversationID, name, args)
		if err != nil || resp == nil || !resp.Approved {
			reason := "approval denied"
			if errors.Is(err, approval.ErrTimeout) {
				reason = "approval timed out"
			} else if err != nil {
				reason = err.Error()
			}
			e.audit("denied", name, args, reason, conversationID)
			return Fail("tool %s not executed: %s", name, reason)
		}
		if resp.Remember {
			e.checker.Remember(name, tool.RequiredPermission(), conversationID)
		}
	}

	e.audit("allowed", name, args, "", conversationID)
	result := e.run(ctx, tool, scoped)
	if result.Success {
		e.audit("executed", name, args, result.Text(), conversationID)
	} else {
		e.audit("error", name, args, result.Error, conversationID)
	}
	return result
}

func (e *Executor) awaitApproval(ctx context.Context, conversationID, name string, args map[string]interface{}) (*approval.Response, error) {
	if e.waiter == nil {
		return nil, fmt.Errorf("no approval responder configured")
	}

	req := approval.Request{
		ID:             uuid.NewString(),
		Tool:           name,
		Params:         args,
		ConversationID: conversationID,
	}
	e.mu.RLock()
	listeners := make([]ApprovalListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()
	for _, l := range listeners {
		notify(l, req)
	}

	return e.waiter.Await(ctx, req.ID, e.timeout)
}

func notify(l ApprovalListener, req approval.Request) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("approval listener panicked", "tool", req.Tool, "panic", r)
		}
	}()
	l(req)
}

func (e *Executor) run(ctx context.Context, tool Tool, args map[string]interface{}) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", tool.Name(), "panic", r)
			result = Fail("tool %s panicked: %v", tool.Name(), r)
		}
	}()
	return tool.Execute(ctx, args)
}

func (e *Executor) audit(action, tool string, params map[string]interface{}, result, conversationID string) {
	if e.auditor == nil {
		return
	}
	e.auditor.Log(audit.Entry{
		Action:         action,
		Tool:           tool,
		Params:         params,
		Result:         result,
		ConversationID: conversationID,
	})
}

func withScope(args map[string]interface{}, conversationID string) map[string]interface{} {
	scoped := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		scoped[k] = v
	}
	scoped["conversation_id"] = conversationID
	return scoped
}
