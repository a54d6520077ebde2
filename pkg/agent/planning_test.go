package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRequiresPlanning(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"short greeting", "hi", false},
		{"short question", "what time is it", false},
		{"keyword short", "please build the project now", true},
		{"keyword anywhere", "can you Build me a small website for my shop", true},
		{"long without keyword", strings.Repeat("word ", 20), true},
		{"five words no keyword", "tell me about the weather", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RequiresPlanning(tt.text); got != tt.want {
				t.Errorf("RequiresPlanning(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

type fakeInvoker struct {
	response string
	err      error
	calls    int
}

func (f *fakeInvoker) Invoke(_ context.Context, prompt string) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestGeneratePlan(t *testing.T) {
	step := NewPlanningStep(&fakeInvoker{response: "1. do this\n2. do that"})
	result := step.GeneratePlan(context.Background(), "build a website")
	if result.Skipped {
		t.Fatalf("unexpected skip: %s", result.Reason)
	}
	if !strings.Contains(result.Plan, "do this") {
		t.Errorf("plan missing content: %q", result.Plan)
	}
}

func TestGeneratePlan_DegradesOnFailure(t *testing.T) {
	step := NewPlanningStep(&fakeInvoker{err: errors.New("provider down")})
	result := step.GeneratePlan(context.Background(), "build a website")
	if !result.Skipped {
		t.Fatal("failed plan should degrade to skipped, not error")
	}
	if result.Reason == "" {
		t.Error("skip reason missing")
	}
}

func TestGeneratePlan_DegradesOnEmptyPlan(t *testing.T) {
	step := NewPlanningStep(&fakeInvoker{response: "   \n  "})
	result := step.GeneratePlan(context.Background(), "build a website")
	if !result.Skipped {
		t.Fatal("empty plan should degrade to skipped")
	}
}

func TestReflect(t *testing.T) {
	tests := []struct {
		name         string
		verdict      string
		err          error
		wantApproved bool
		wantSkipped  bool
	}{
		{"approved", "APPROVED", nil, true, false},
		{"approved with trailing text", "approved, looks complete", nil, true, false},
		{"revise", "REVISE: missing the error handling section", nil, false, false},
		{"sub-call failure degrades to approved", "", errors.New("timeout"), true, true},
		{"empty feedback degrades to approved", "REVISE:", nil, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := NewReflectionStep(&fakeInvoker{response: tt.verdict, err: tt.err})
			result := step.Reflect(context.Background(), "request", "response")
			if result.Approved != tt.wantApproved {
				t.Errorf("Approved = %v, want %v", result.Approved, tt.wantApproved)
			}
			if result.Skipped != tt.wantSkipped {
				t.Errorf("Skipped = %v, want %v", result.Skipped, tt.wantSkipped)
			}
			if !tt.wantApproved && result.Feedback == "" {
				t.Error("revision feedback missing")
			}
		})
	}
}
