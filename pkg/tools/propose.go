package tools

import (
	"context"
	"fmt"

	"github.com/Nyukimin/picoagent/pkg/permission"
	"github.com/Nyukimin/picoagent/pkg/storage"
)

// Proposer records a deferred tool invocation for later human approval.
// Implemented by the actions service.
type Proposer interface {
	Propose(ctx context.Context, conversationID, tool string, args map[string]interface{}, description string, expiresInHours float64) (*storage.PendingAction, error)
}

// ProposeActionTool lets the model defer a risky call instead of running
// it: the call is parked as a pending action until a human approves or
// rejects it.
type ProposeActionTool struct {
	Proposer Proposer
}

func (t *ProposeActionTool) Name() string { return "propose_action" }

func (t *ProposeActionTool) Description() string {
	return "Propose a tool invocation for human approval instead of running it now"
}

func (t *ProposeActionTool) Parameters() Schema {
	return ObjectSchema(map[string]interface{}{
		"tool": Prop("string", "Name of the tool to run once approved"),
		"arguments": map[string]interface{}{
			"type":        "object",
			"description": "Arguments to pass to the tool",
		},
		"description":      Prop("string", "Human-readable explanation of what the action will do"),
		"expires_in_hours": Prop("number", "Hours until the proposal expires (default 24)"),
	}, "tool", "description")
}

func (t *ProposeActionTool) RequiredPermission() permission.Level { return permission.LevelRead }

func (t *ProposeActionTool) Execute(ctx context.Context, args map[string]interface{}) ToolResult {
	toolName, err := requireString(args, "tool")
	if err != nil {
		return Fail("%v", err)
	}
	description, err := requireString(args, "description")
	if err != nil {
		return Fail("%v", err)
	}
	toolArgs, _ := args["arguments"].(map[string]interface{})
	hours, _ := args["expires_in_hours"].(float64)
	conversationID, _ := args["conversation_id"].(string)

	action, err := t.Proposer.Propose(ctx, conversationID, toolName, toolArgs, description, hours)
	if err != nil {
		return Fail("failed to record proposal: %v", err)
	}
	return Ok(fmt.Sprintf("Proposed action %s: %s %s (expires %s)",
		action.ID, action.Tool, action.Description, action.ExpiresAt.Format("2006-01-02 15:04")))
}
