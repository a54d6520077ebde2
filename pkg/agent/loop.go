package agent

import (
	"context"
	"fmt"
	"log/slog"
)

const maxReflectionRetries = 2

// Loop phases, in the order a planned turn visits them.
const (
	PhasePlanning   = "planning"
	PhaseExecuting  = "executing"
	PhaseReflecting = "reflecting"
	PhaseRetrying   = "retrying"
	PhaseDone       = "done"
)

// StepEvent is one phase transition, surfaced to listeners for UI and
// telemetry.
type StepEvent struct {
	Phase  string
	Detail string
}

// StepListener observes phase transitions. A panicking listener is
// recovered so telemetry can never abort the loop.
type StepListener func(StepEvent)

// TurnExecutor runs the prompt through the tool-calling loop and returns
// the assistant's text. Implemented by the orchestrator.
type TurnExecutor func(ctx context.Context, conversationID, prompt string) (string, error)

// LoopResult is the outcome of one turn through the loop. Feedback holds
// the last reviewer comments when reflection asked for a revision.
type LoopResult struct {
	Response     string
	UsedPlanning bool
	Plan         string
	Feedback     string
	Retries      int
}

// AgentLoop is the plan, execute, reflect, retry state machine for a
// single turn. Simple requests go straight to execution; complex ones get
// a plan first and a bounded revision loop after.
type AgentLoop struct {
	planning   *PlanningStep
	reflection *ReflectionStep
	execute    TurnExecutor
	listeners  []StepListener
}

func NewAgentLoop(planning *PlanningStep, reflection *ReflectionStep, execute TurnExecutor) *AgentLoop {
	return &AgentLoop{
		planning:   planning,
		reflection: reflection,
		execute:    execute,
	}
}

func (l *AgentLoop) AddStepListener(fn StepListener) {
	l.listeners = append(l.listeners, fn)
}

func (l *AgentLoop) emit(phase, detail string) {
	for _, fn := range l.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("step listener panicked", "phase", phase, "panic", r)
				}
			}()
			fn(StepEvent{Phase: phase, Detail: detail})
		}()
	}
}

func (l *AgentLoop) Run(ctx context.Context, conversationID, request string) (LoopResult, error) {
	if !RequiresPlanning(request) {
		return l.runDirect(ctx, conversationID, request)
	}

	l.emit(PhasePlanning, request)
	plan := PlanResult{Skipped: true, Reason: "planning disabled"}
	if l.planning != nil {
		plan = l.planning.GeneratePlan(ctx, request)
	}
	if plan.Skipped {
		slog.Debug("plan unavailable, running direct path", "reason", plan.Reason)
		return l.runDirect(ctx, conversationID, request)
	}

	l.emit(PhaseExecuting, plan.Plan)
	prompt := fmt.Sprintf("Request: %s\n\nPlan:\n%s\n\nExecute all steps of the plan and report the outcome.",
		request, plan.Plan)
	response, err := l.execute(ctx, conversationID, prompt)
	if err != nil {
		return LoopResult{}, err
	}

	result := LoopResult{Response: response, UsedPlanning: true, Plan: plan.Plan}
	for result.Retries < maxReflectionRetries {
		l.emit(PhaseReflecting, result.Response)
		reflection := ReflectionResult{Approved: true, Skipped: true}
		if l.reflection != nil {
			reflection = l.reflection.Reflect(ctx, request, result.Response)
		}
		if reflection.Approved {
			break
		}

		result.Retries++
		result.Feedback = reflection.Feedback
		l.emit(PhaseRetrying, reflection.Feedback)
		revision := fmt.Sprintf("Request: %s\n\nPrevious answer:\n%s\n\nReviewer feedback:\n%s\n\nRevise the answer to address the feedback.",
			request, result.Response, reflection.Feedback)
		revised, err := l.execute(ctx, conversationID, revision)
		if err != nil {
			slog.Warn("retry failed, keeping previous response", "error", err)
			break
		}
		result.Response = revised
	}

	l.emit(PhaseDone, result.Response)
	return result, nil
}

func (l *AgentLoop) runDirect(ctx context.Context, conversationID, request string) (LoopResult, error) {
	l.emit(PhaseExecuting, request)
	response, err := l.execute(ctx, conversationID, request)
	if err != nil {
		return LoopResult{}, err
	}
	l.emit(PhaseDone, response)
	return LoopResult{Response: response}, nil
}
