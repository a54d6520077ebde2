package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAgentLoop_DirectPath(t *testing.T) {
	var phases []string
	loop := NewAgentLoop(nil, nil, func(_ context.Context, _, prompt string) (string, error) {
		return "answer to: " + prompt, nil
	})
	loop.AddStepListener(func(e StepEvent) { phases = append(phases, e.Phase) })

	result, err := loop.Run(context.Background(), "c1", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if result.UsedPlanning {
		t.Error("short request should not plan")
	}
	if result.Response != "answer to: hi" {
		t.Errorf("unexpected response %q", result.Response)
	}
	want := []string{PhaseExecuting, PhaseDone}
	if fmt.Sprint(phases) != fmt.Sprint(want) {
		t.Errorf("phases = %v, want %v", phases, want)
	}
}

func TestAgentLoop_PlannedPath(t *testing.T) {
	executions := 0
	loop := NewAgentLoop(
		NewPlanningStep(&fakeInvoker{response: "1. step one"}),
		NewReflectionStep(&fakeInvoker{response: "APPROVED"}),
		func(_ context.Context, _, prompt string) (string, error) {
			executions++
			return "done", nil
		},
	)
	result, err := loop.Run(context.Background(), "c1", "build a full website with tests")
	if err != nil {
		t.Fatal(err)
	}
	if !result.UsedPlanning {
		t.Error("expected planned path")
	}
	if executions != 1 {
		t.Errorf("executions = %d, want 1", executions)
	}
	if result.Retries != 0 {
		t.Errorf("retries = %d, want 0", result.Retries)
	}
	if result.Feedback != "" {
		t.Errorf("approved turn should carry no feedback, got %q", result.Feedback)
	}
}

func TestAgentLoop_RetryBound(t *testing.T) {
	// A reflection that never approves must cap at 2 retries, so 3 total
	// executions for the turn.
	executions := 0
	loop := NewAgentLoop(
		NewPlanningStep(&fakeInvoker{response: "1. plan"}),
		NewReflectionStep(&fakeInvoker{response: "REVISE: still wrong"}),
		func(_ context.Context, _, prompt string) (string, error) {
			executions++
			return fmt.Sprintf("attempt %d", executions), nil
		},
	)
	result, err := loop.Run(context.Background(), "c1", "build a full website with tests")
	if err != nil {
		t.Fatal(err)
	}
	if executions != 3 {
		t.Errorf("executions = %d, want 3", executions)
	}
	if result.Retries != 2 {
		t.Errorf("retries = %d, want 2", result.Retries)
	}
	if result.Response != "attempt 3" {
		t.Errorf("response = %q, want last attempt", result.Response)
	}
	if result.Feedback != "still wrong" {
		t.Errorf("feedback = %q, want the last reviewer comments", result.Feedback)
	}
}

func TestAgentLoop_RetryFailureKeepsPreviousResponse(t *testing.T) {
	executions := 0
	loop := NewAgentLoop(
		NewPlanningStep(&fakeInvoker{response: "1. plan"}),
		NewReflectionStep(&fakeInvoker{response: "REVISE: incomplete"}),
		func(_ context.Context, _, prompt string) (string, error) {
			executions++
			if executions > 1 {
				return "", errors.New("provider exploded")
			}
			return "first answer", nil
		},
	)
	result, err := loop.Run(context.Background(), "c1", "build a full website with tests")
	if err != nil {
		t.Fatal("retry failure must not error the turn")
	}
	if result.Response != "first answer" {
		t.Errorf("response = %q, want the pre-retry response", result.Response)
	}
}

func TestAgentLoop_PlanningFailureFallsBackToDirect(t *testing.T) {
	loop := NewAgentLoop(
		NewPlanningStep(&fakeInvoker{err: errors.New("planner down")}),
		NewReflectionStep(&fakeInvoker{response: "APPROVED"}),
		func(_ context.Context, _, prompt string) (string, error) {
			return "direct", nil
		},
	)
	result, err := loop.Run(context.Background(), "c1", "build a full website with tests")
	if err != nil {
		t.Fatal(err)
	}
	if result.UsedPlanning {
		t.Error("failed planning should fall back to the direct path")
	}
	if result.Response != "direct" {
		t.Errorf("response = %q", result.Response)
	}
}

func TestAgentLoop_ListenerPanicSwallowed(t *testing.T) {
	loop := NewAgentLoop(nil, nil, func(_ context.Context, _, _ string) (string, error) {
		return "ok", nil
	})
	loop.AddStepListener(func(e StepEvent) { panic("ui broke") })
	called := false
	loop.AddStepListener(func(e StepEvent) { called = true })

	result, err := loop.Run(context.Background(), "c1", "hi")
	if err != nil {
		t.Fatal("listener panic must not abort the loop")
	}
	if result.Response != "ok" {
		t.Errorf("response = %q", result.Response)
	}
	if !called {
		t.Error("later listeners should still run after a panic")
	}
}
