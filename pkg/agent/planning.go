package agent

import (
	"context"
	"log/slog"
	"strings"
)

// planningKeywords are action verbs that mark a request as multi-step.
var planningKeywords = []string{
	"build", "create", "implement", "refactor", "migrate", "deploy",
	"analyze", "organize", "setup", "install", "configure", "fix",
	"write", "generate", "convert",
}

// RequiresPlanning decides whether a request is complex enough to plan
// first: short messages never are, any action keyword always is, and long
// messages are planned regardless.
func RequiresPlanning(text string) bool {
	words := strings.Fields(text)
	if len(words) < 5 {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range planningKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return len(words) >= 20
}

// Invoker runs one model call for a planning or reflection sub-step.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// PlanResult is the tagged outcome of plan generation. Failures never
// surface as errors: Skipped marks the degraded path and Reason says why.
type PlanResult struct {
	Plan    string
	Skipped bool
	Reason  string
}

// PlanningStep generates a short numbered plan before execution.
type PlanningStep struct {
	invoker Invoker
}

func NewPlanningStep(invoker Invoker) *PlanningStep {
	return &PlanningStep{invoker: invoker}
}

func (p *PlanningStep) GeneratePlan(ctx context.Context, request string) PlanResult {
	if p.invoker == nil {
		return PlanResult{Skipped: true, Reason: "no planner configured"}
	}
	prompt := "Create a short numbered plan (3-6 steps) for the following request. " +
		"Reply with only the plan.\n\nRequest: " + request
	plan, err := p.invoker.Invoke(ctx, prompt)
	if err != nil {
		slog.Debug("planning failed, executing directly", "error", err)
		return PlanResult{Skipped: true, Reason: err.Error()}
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return PlanResult{Skipped: true, Reason: "planner returned no plan"}
	}
	return PlanResult{Plan: plan}
}

// ReflectionResult is the tagged outcome of a reflection pass. A failed
// sub-call degrades to approved so the turn never dies on critique.
type ReflectionResult struct {
	Approved bool
	Feedback string
	Skipped  bool
}

// ReflectionStep critiques a draft answer against the original request.
type ReflectionStep struct {
	invoker Invoker
}

func NewReflectionStep(invoker Invoker) *ReflectionStep {
	return &ReflectionStep{invoker: invoker}
}

func (r *ReflectionStep) Reflect(ctx context.Context, request, response string) ReflectionResult {
	if r.invoker == nil {
		return ReflectionResult{Approved: true, Skipped: true}
	}
	prompt := "You are reviewing an assistant's answer.\n\nRequest:\n" + request +
		"\n\nAnswer:\n" + response +
		"\n\nIf the answer fully addresses the request, reply with exactly APPROVED. " +
		"Otherwise reply with REVISE: followed by what is missing."
	verdict, err := r.invoker.Invoke(ctx, prompt)
	if err != nil {
		slog.Debug("reflection failed, treating as approved", "error", err)
		return ReflectionResult{Approved: true, Skipped: true}
	}
	verdict = strings.TrimSpace(verdict)
	if strings.HasPrefix(strings.ToUpper(verdict), "APPROVED") {
		return ReflectionResult{Approved: true}
	}
	feedback := strings.TrimSpace(strings.TrimPrefix(verdict, "REVISE:"))
	if feedback == "" {
		return ReflectionResult{Approved: true, Skipped: true}
	}
	return ReflectionResult{Feedback: feedback}
}
