package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-eng/feasgen/pkg/subagent"
)

// Stage is one ordered step of the five-step pipeline.
type Stage string

const (
	StageExtract Stage = "extract"
	StagePlan    Stage = "plan"
	StageAnalyze Stage = "analyze"
	StageRisk    Stage = "risk"
	StageReport  Stage = "report"
)

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageExtract, StagePlan, StageAnalyze, StageRisk, StageReport}
}

// Phase is the run's position in the state machine. Transitions are strictly
// linear; PhaseCompleted and PhaseFailed are terminal.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseExtracting Phase = "extracting"
	PhasePlanning   Phase = "planning"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseAssessing  Phase = "assessing"
	PhaseWriting    Phase = "writing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

func phaseFor(stage Stage) Phase {
	switch stage {
	case StageExtract:
		return PhaseExtracting
	case StagePlan:
		return PhasePlanning
	case StageAnalyze:
		return PhaseAnalyzing
	case StageRisk:
		return PhaseAssessing
	case StageReport:
		return PhaseWriting
	}
	return PhaseNotStarted
}

// Inputs are the run's immutable inputs, set once at creation.
type Inputs struct {
	Documents []string          // ordered document text blobs
	Metadata  map[string]string // user-supplied project metadata
}

// RunError is one structured error recorded during a run. The errors list
// is append-only and never cleared.
type RunError struct {
	Stage   Stage     `json:"stage"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Fatal   bool      `json:"fatal"`
	Time    time.Time `json:"time"`
}

// Audit statuses for StageAudit.Status.
const (
	AuditCompleted = "completed"
	AuditDegraded  = "degraded"
	AuditFailed    = "failed"
)

// StageAudit correlates a stage's output with the exact prompt version that
// produced it.
type StageAudit struct {
	Stage         Stage         `json:"stage"`
	PromptVersion string        `json:"prompt_version"`
	Status        string        `json:"status"`
	Duration      time.Duration `json:"duration"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
}

// Fact is one extracted factual statement.
type Fact struct {
	Category  string `json:"category"`
	Statement string `json:"statement"`
	Source    string `json:"source"`
}

// ExtractedFacts is the extraction stage's output.
type ExtractedFacts struct {
	ProjectSummary string   `json:"project_summary"`
	Facts          []Fact   `json:"facts"`
	Unknowns       []string `json:"unknowns"`
}

// TaskDefinition is one planned unit of parallel analysis as proposed by
// the planning stage.
type TaskDefinition struct {
	Identifier   string   `json:"identifier"`
	Instructions string   `json:"instructions"`
	Context      string   `json:"context"`
	Tools        []string `json:"tools"`
}

// Plan is the planning stage's output.
type Plan struct {
	Tasks []TaskDefinition `json:"tasks"`
	Notes string           `json:"notes"`
}

// Severity levels for risks.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Verdict is the overall go/no-go outcome of the risk assessment.
type Verdict string

const (
	VerdictGo            Verdict = "go"
	VerdictConditionalGo Verdict = "conditional_go"
	VerdictNoGo          Verdict = "no_go"
)

// Risk is one consolidated risk.
type Risk struct {
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Mitigation  string   `json:"mitigation"`
}

// RiskAssessment is the risk synthesis stage's output.
type RiskAssessment struct {
	Verdict   Verdict `json:"verdict"`
	Rationale string  `json:"rationale"`
	Risks     []Risk  `json:"risks"`
}

// RunState is the single object threaded through the pipeline for one run.
// It is owned and mutated exclusively by the Executor; each per-stage field
// is written exactly once by its owning stage and read-only afterward.
type RunState struct {
	ID        uuid.UUID
	Inputs    Inputs
	CreatedAt time.Time

	ExtractedFacts  *ExtractedFacts
	Plan            *Plan
	SubagentResults []subagent.Result
	RiskAssessment  *RiskAssessment
	FinalReport     string

	Errors []RunError
	Audit  []StageAudit
	Phase  Phase

	// CompletedStage is the last stage that finished (completed or
	// degraded); empty until the first stage finishes.
	CompletedStage Stage
}

// NewRunState creates a RunState with only inputs populated.
func NewRunState(inputs Inputs, now time.Time) *RunState {
	return &RunState{
		ID:        uuid.New(),
		Inputs:    inputs,
		CreatedAt: now,
		Phase:     PhaseNotStarted,
	}
}

func (s *RunState) appendError(stage Stage, code, message string, fatal bool, now time.Time) {
	s.Errors = append(s.Errors, RunError{
		Stage:   stage,
		Code:    code,
		Message: message,
		Fatal:   fatal,
		Time:    now,
	})
}

// RunRecord is the persisted shape of a finished run: the final artifact,
// the errors list, and the per-stage prompt-version audit trail.
type RunRecord struct {
	ID          uuid.UUID    `json:"id"`
	Phase       Phase        `json:"phase"`
	FinalReport string       `json:"final_report,omitempty"`
	Errors      []RunError   `json:"errors"`
	Audit       []StageAudit `json:"audit"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Record converts the run state into its persisted shape.
func (s *RunState) Record(completedAt time.Time) *RunRecord {
	return &RunRecord{
		ID:          s.ID,
		Phase:       s.Phase,
		FinalReport: s.FinalReport,
		Errors:      s.Errors,
		Audit:       s.Audit,
		CreatedAt:   s.CreatedAt,
		CompletedAt: completedAt,
	}
}
