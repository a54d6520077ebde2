package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Nyukimin/picoagent/pkg/approval"
	"github.com/Nyukimin/picoagent/pkg/audit"
	"github.com/Nyukimin/picoagent/pkg/permission"
)

// recordingTool remembers whether it ran.
type recordingTool struct {
	name     string
	level    permission.Level
	executed bool
	result   ToolResult
	panics   bool
}

func (t *recordingTool) Name() string                         { return t.name }
func (t *recordingTool) Description() string                  { return "test tool" }
func (t *recordingTool) RequiredPermission() permission.Level { return t.level }
func (t *recordingTool) Parameters() Schema {
	return ObjectSchema(map[string]interface{}{
		"value": Prop("string", "any value"),
	})
}

func (t *recordingTool) Execute(_ context.Context, _ map[string]interface{}) ToolResult {
	t.executed = true
	if t.panics {
		panic("tool blew up")
	}
	return t.result
}

type staticChecker struct {
	decision   permission.Decision
	remembered []string
}

func (c *staticChecker) Check(_ string, _ permission.Level, _ map[string]interface{}) permission.Decision {
	return c.decision
}

func (c *staticChecker) Remember(tool string, _ permission.Level, scope string) {
	c.remembered = append(c.remembered, tool+"/"+scope)
}

func auditActions(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var actions []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad audit line %q: %v", line, err)
		}
		actions = append(actions, entry["action"].(string))
	}
	return actions
}

func newTestExecutor(t *testing.T, tool Tool, checker permission.Checker, waiter approval.Waiter) (*Executor, *bytes.Buffer) {
	t.Helper()
	registry := NewRegistry()
	if tool != nil {
		if err := registry.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	return NewExecutor(registry, checker, waiter, audit.NewLogger(&buf), 200*time.Millisecond), &buf
}

func TestExecute_Allowed(t *testing.T) {
	tool := &recordingTool{name: "t", level: permission.LevelRead, result: Ok("fine")}
	exec, buf := newTestExecutor(t, tool, &staticChecker{decision: permission.Allowed}, nil)

	result := exec.Execute(context.Background(), "conv", "t", map[string]interface{}{"value": "x"})
	if !result.Success || result.Text() != "fine" {
		t.Fatalf("result = %+v", result)
	}
	if !tool.executed {
		t.Fatal("tool did not run")
	}
	want := []string{"request", "allowed", "executed"}
	got := auditActions(t, buf)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("audit trail = %v, want %v", got, want)
	}
}

func TestExecute_DeniedNeverRunsTool(t *testing.T) {
	tool := &recordingTool{name: "writer", level: permission.LevelWrite}
	exec, buf := newTestExecutor(t, tool, &staticChecker{decision: permission.Denied}, nil)

	result := exec.Execute(context.Background(), "conv", "writer", nil)
	if result.Success {
		t.Fatal("denied call must fail")
	}
	if tool.executed {
		t.Fatal("denied tool must never execute")
	}
	got := auditActions(t, buf)
	if len(got) != 2 || got[1] != "denied" {
		t.Errorf("audit trail = %v, want request then denied", got)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	exec, buf := newTestExecutor(t, nil, &staticChecker{decision: permission.Allowed}, nil)

	result := exec.Execute(context.Background(), "conv", "ghost", nil)
	if result.Success || !strings.Contains(result.Error, "unknown tool") {
		t.Fatalf("result = %+v", result)
	}
	got := auditActions(t, buf)
	if len(got) != 2 || got[1] != "error" {
		t.Errorf("audit trail = %v", got)
	}
}

func TestExecute_InvalidArgs(t *testing.T) {
	strict := &recordingTool{name: "strict", level: permission.LevelRead}
	registry := NewRegistry()
	if err := registry.Register(&schemaTool{inner: strict}); err != nil {
		t.Fatal(err)
	}
	exec := NewExecutor(registry, &staticChecker{decision: permission.Allowed}, nil, nil, time.Second)

	result := exec.Execute(context.Background(), "conv", "strict", map[string]interface{}{})
	if result.Success {
		t.Fatal("missing required argument must fail validation")
	}
	if strict.executed {
		t.Fatal("tool must not run on invalid args")
	}
}

// schemaTool wraps recordingTool with a required property.
type schemaTool struct{ inner *recordingTool }

func (t *schemaTool) Name() string                         { return t.inner.name }
func (t *schemaTool) Description() string                  { return "strict tool" }
func (t *schemaTool) RequiredPermission() permission.Level { return t.inner.level }
func (t *schemaTool) Parameters() Schema {
	return ObjectSchema(map[string]interface{}{
		"value": Prop("string", "required value"),
	}, "value")
}
func (t *schemaTool) Execute(ctx context.Context, args map[string]interface{}) ToolResult {
	return t.inner.Execute(ctx, args)
}

func TestExecute_ApprovalGranted(t *testing.T) {
	tool := &recordingTool{name: "risky", level: permission.LevelExecute, result: Ok("done")}
	checker := &staticChecker{decision: permission.NeedsApproval}
	broker := approval.NewBroker()
	exec, buf := newTestExecutor(t, tool, checker, broker)

	exec.OnApprovalRequest(func(req approval.Request) {
		go func() {
			for i := 0; i < 50; i++ {
				if broker.Respond(req.ID, approval.Response{Approved: true, Remember: true}) {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
	})

	result := exec.Execute(context.Background(), "conv", "risky", nil)
	if !result.Success {
		t.Fatalf("approved call failed: %+v", result)
	}
	if !tool.executed {
		t.Fatal("approved tool did not run")
	}
	if len(checker.remembered) != 1 || checker.remembered[0] != "risky/conv" {
		t.Errorf("remember not recorded: %v", checker.remembered)
	}
	got := auditActions(t, buf)
	if strings.Join(got, ",") != "request,allowed,executed" {
		t.Errorf("audit trail = %v", got)
	}
}

func TestExecute_ApprovalDenied(t *testing.T) {
	tool := &recordingTool{name: "risky", level: permission.LevelExecute}
	broker := approval.NewBroker()
	exec, buf := newTestExecutor(t, tool, &staticChecker{decision: permission.NeedsApproval}, broker)

	exec.OnApprovalRequest(func(req approval.Request) {
		go func() {
			for i := 0; i < 50; i++ {
				if broker.Respond(req.ID, approval.Response{Approved: false}) {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
	})

	result := exec.Execute(context.Background(), "conv", "risky", nil)
	if result.Success || tool.executed {
		t.Fatal("denied approval must not execute")
	}
	got := auditActions(t, buf)
	if got[len(got)-1] != "denied" {
		t.Errorf("audit trail = %v", got)
	}
}

func TestExecute_ApprovalTimeout(t *testing.T) {
	tool := &recordingTool{name: "risky", level: permission.LevelExecute}
	exec, _ := newTestExecutor(t, tool, &staticChecker{decision: permission.NeedsApproval}, approval.NewBroker())

	result := exec.Execute(context.Background(), "conv", "risky", nil)
	if result.Success || tool.executed {
		t.Fatal("timed-out approval must not execute")
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("error should mention the timeout: %q", result.Error)
	}
}

func TestExecute_PanicBecomesFailedResult(t *testing.T) {
	tool := &recordingTool{name: "bomb", level: permission.LevelRead, panics: true}
	exec, buf := newTestExecutor(t, tool, &staticChecker{decision: permission.Allowed}, nil)

	result := exec.Execute(context.Background(), "conv", "bomb", nil)
	if result.Success {
		t.Fatal("panicking tool must yield a failed result")
	}
	if !strings.Contains(result.Error, "panicked") {
		t.Errorf("error = %q", result.Error)
	}
	got := auditActions(t, buf)
	if got[len(got)-1] != "error" {
		t.Errorf("audit trail = %v", got)
	}
}

func TestExecute_PanickingListenerDoesNotBreakPipeline(t *testing.T) {
	tool := &recordingTool{name: "risky", level: permission.LevelExecute, result: Ok("ok")}
	broker := approval.NewBroker()
	exec, _ := newTestExecutor(t, tool, &staticChecker{decision: permission.NeedsApproval}, broker)

	exec.OnApprovalRequest(func(req approval.Request) { panic("listener broke") })
	exec.OnApprovalRequest(func(req approval.Request) {
		go func() {
			for i := 0; i < 50; i++ {
				if broker.Respond(req.ID, approval.Response{Approved: true}) {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
	})

	result := exec.Execute(context.Background(), "conv", "risky", nil)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
}
