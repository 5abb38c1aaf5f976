// Package pipeline implements the feasibility-report orchestration core: a
// linear state machine that drives one run through five ordered stages
// (extract, plan, analyze, risk, report), validating every stage's output
// and emitting progress events between transitions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/kestrel-eng/feasgen/pkg/llm"
	"github.com/kestrel-eng/feasgen/pkg/metrics"
	"github.com/kestrel-eng/feasgen/pkg/prompts"
	"github.com/kestrel-eng/feasgen/pkg/subagent"
)

// Sink receives the finished run for persistence. The pipeline writes to it
// exactly once per run, at termination, and never reads back mid-run.
type Sink interface {
	SaveRun(ctx context.Context, record *RunRecord) error
}

// Config holds the configuration for the Executor.
type Config struct {
	Logger      *slog.Logger
	LLM         llm.Client
	Prompts     *prompts.Registry
	Coordinator *subagent.Coordinator

	// PromptVersions pins the prompt version each stage uses for the
	// executor's lifetime. Nil selects v1 for every stage.
	PromptVersions map[Stage]string

	Validator *Validator
	Publisher Publisher
	Sink      Sink // optional; nil skips persistence
	Clock     clockwork.Clock
}

// DefaultPromptVersions pins every stage to v1.
func DefaultPromptVersions() map[Stage]string {
	versions := make(map[Stage]string, len(Stages()))
	for _, stage := range Stages() {
		versions[stage] = "v1"
	}
	return versions
}

func (cfg *Config) Validate() error {
	if cfg.LLM == nil {
		return errors.New("LLM client is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompt registry is required")
	}
	if cfg.Coordinator == nil {
		return errors.New("subagent coordinator is required")
	}
	if cfg.PromptVersions == nil {
		cfg.PromptVersions = DefaultPromptVersions()
	}
	for _, stage := range Stages() {
		if cfg.PromptVersions[stage] == "" {
			return fmt.Errorf("no prompt version configured for stage %s", stage)
		}
	}
	if cfg.Validator == nil {
		cfg.Validator = NewValidator(0, 0)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = NopPublisher{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Outcome is the terminal result of one run: either a completed (possibly
// degraded) report, or a fatal failure with everything gathered up to the
// failing stage.
type Outcome struct {
	RunID          string
	Phase          Phase
	FinalReport    string
	CompletedStage Stage
	Errors         []RunError
	Audit          []StageAudit
	State          *RunState
}

// Executor drives exactly one RunState per Run call through the five
// stages, exactly once each. It owns the RunState for the run's duration;
// no other component mutates it.
type Executor struct {
	log *slog.Logger
	cfg *Config
}

// New creates a new Executor.
func New(cfg *Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run executes the pipeline for the given inputs. The returned Outcome
// always carries the full errors list and audit trail; err is non-nil only
// when the surrounding context was canceled.
func (e *Executor) Run(ctx context.Context, inputs Inputs) (*Outcome, error) {
	return e.Execute(ctx, NewRunState(inputs, e.cfg.Clock.Now()))
}

// Execute drives a pre-created run state through the stages. Callers that
// need the run ID before completion (the async API) create the state
// themselves and hand it over; the state must not be touched while Execute
// runs.
func (e *Executor) Execute(ctx context.Context, state *RunState) (*Outcome, error) {
	metrics.RunsStarted.Inc()
	e.logInfo("pipeline: run starting", "run", state.ID, "documents", len(state.Inputs.Documents))

	for _, stage := range Stages() {
		if ctx.Err() != nil {
			state.Phase = PhaseFailed
			state.appendError(stage, "canceled", ctx.Err().Error(), true, e.cfg.Clock.Now())
			e.finish(ctx, state)
			return e.outcome(state), ctx.Err()
		}

		state.Phase = phaseFor(stage)
		e.publish(state, stage, EventStarted)
		start := e.cfg.Clock.Now()

		version, err := e.runStage(ctx, state, stage)
		duration := e.cfg.Clock.Since(start)

		if err == nil {
			state.Audit = append(state.Audit, StageAudit{
				Stage: stage, PromptVersion: version, Status: AuditCompleted, Duration: duration,
			})
			state.CompletedStage = stage
			metrics.StageDuration.WithLabelValues(string(stage), AuditCompleted).Observe(duration.Seconds())
			e.publish(state, stage, EventCompleted)
			e.logInfo("pipeline: stage complete", "run", state.ID, "stage", stage, "duration", duration)
			continue
		}

		state.appendError(stage, errorCode(err), err.Error(), e.required(stage), e.cfg.Clock.Now())

		if e.required(stage) {
			state.Audit = append(state.Audit, StageAudit{
				Stage: stage, PromptVersion: version, Status: AuditFailed, Duration: duration, ErrorDetail: err.Error(),
			})
			metrics.StageDuration.WithLabelValues(string(stage), AuditFailed).Observe(duration.Seconds())
			e.publish(state, stage, EventFailed)
			state.Phase = PhaseFailed
			e.logInfo("pipeline: required stage failed, run is fatal", "run", state.ID, "stage", stage, "error", err)
			e.finish(ctx, state)
			return e.outcome(state), nil
		}

		// Degradable stage: substitute a safe default so downstream
		// stages can still run.
		e.applyDefault(state, stage)
		state.Audit = append(state.Audit, StageAudit{
			Stage: stage, PromptVersion: version, Status: AuditDegraded, Duration: duration, ErrorDetail: err.Error(),
		})
		state.CompletedStage = stage
		metrics.StageDuration.WithLabelValues(string(stage), AuditDegraded).Observe(duration.Seconds())
		e.publish(state, stage, EventCompleted)
		e.logInfo("pipeline: stage degraded", "run", state.ID, "stage", stage, "error", err)
	}

	state.Phase = PhaseCompleted
	e.finish(ctx, state)
	e.logInfo("pipeline: run complete", "run", state.ID, "errors", len(state.Errors))
	return e.outcome(state), nil
}

// runStage resolves the stage's pinned prompt version and executes the
// stage step. It returns the resolved version for the audit trail.
func (e *Executor) runStage(ctx context.Context, state *RunState, stage Stage) (string, error) {
	version := e.cfg.PromptVersions[stage]
	prompt, err := e.cfg.Prompts.Resolve(string(stage), version)
	if err != nil {
		return version, fmt.Errorf("prompt resolution failed: %w", err)
	}

	switch stage {
	case StageExtract:
		return version, e.runExtract(ctx, state, prompt)
	case StagePlan:
		return version, e.runPlan(ctx, state, prompt)
	case StageAnalyze:
		return version, e.runAnalyze(ctx, state, prompt)
	case StageRisk:
		return version, e.runRisk(ctx, state, prompt)
	case StageReport:
		return version, e.runReport(ctx, state, prompt)
	}
	return version, fmt.Errorf("unknown stage %q", stage)
}

// required classifies stages: a required stage's validation failure is
// fatal, a degradable stage substitutes a default and the run continues.
// The analyze stage is never fatal by construction: its aggregated result
// list is always syntactically valid even when every task failed.
func (e *Executor) required(stage Stage) bool {
	switch stage {
	case StageExtract, StageReport:
		return true
	}
	return false
}

// applyDefault substitutes the safe default for a degraded stage.
func (e *Executor) applyDefault(state *RunState, stage Stage) {
	switch stage {
	case StagePlan:
		state.Plan = &Plan{Notes: "planning degraded, no analysis tasks were run"}
	case StageAnalyze:
		if state.SubagentResults == nil {
			state.SubagentResults = []subagent.Result{}
		}
	case StageRisk:
		// Conservative default: without a synthesized assessment the run
		// must not look investable.
		state.RiskAssessment = &RiskAssessment{
			Verdict:   VerdictNoGo,
			Rationale: "risk synthesis unavailable; defaulting to no-go pending manual review",
			Risks: []Risk{{
				Title:       "Risk synthesis failed",
				Severity:    SeverityCritical,
				Description: "The risk synthesis stage did not produce a valid assessment; the consolidated risk picture is unknown.",
				Mitigation:  "Review the subagent analyses manually before any decision.",
			}},
		}
	}
}

func (e *Executor) finish(ctx context.Context, state *RunState) {
	metrics.RunsFinished.WithLabelValues(string(state.Phase)).Inc()
	if e.cfg.Sink == nil {
		return
	}
	if err := e.cfg.Sink.SaveRun(ctx, state.Record(e.cfg.Clock.Now())); err != nil {
		e.logInfo("pipeline: failed to persist run", "run", state.ID, "error", err)
	}
}

func (e *Executor) outcome(state *RunState) *Outcome {
	return &Outcome{
		RunID:          state.ID.String(),
		Phase:          state.Phase,
		FinalReport:    state.FinalReport,
		CompletedStage: state.CompletedStage,
		Errors:         state.Errors,
		Audit:          state.Audit,
		State:          state,
	}
}

func (e *Executor) publish(state *RunState, stage Stage, status EventStatus) {
	e.cfg.Publisher.Publish(Event{
		RunID:     state.ID,
		Stage:     stage,
		Status:    status,
		Timestamp: e.cfg.Clock.Now(),
	})
}

// errorCode maps an error onto a stable code for the errors list.
func errorCode(err error) string {
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		return "validation_failed"
	}
	if errors.Is(err, prompts.ErrVersionNotFound) {
		return "prompt_version_not_found"
	}
	if kind := llm.Classify(err); kind != "" {
		return string(kind)
	}
	return "stage_failed"
}

func (e *Executor) logInfo(msg string, args ...any) {
	if e.log != nil {
		e.log.Info(msg, args...)
	}
}
