// Package subagent executes a variable-length batch of planned analysis
// tasks concurrently, bounded by a permit limiter, each with its own timeout
// and retry. One task's failure never affects its siblings.
package subagent

import "time"

// Status is the terminal state of one task execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Task is one planned unit of parallel analysis. Created by the planning
// stage, immutable afterwards, consumed exactly once by the Coordinator.
type Task struct {
	ID             string   // stable identifier correlating task and result
	Instructions   string   // what this subagent should analyze
	ContextPayload string   // read-only slice of the extracted facts, pre-serialized
	Tools          []string // subset of the fixed tool enumeration; empty means no tools
	SystemPrompt   string   // system prompt for this task's model calls
}

// Result is the outcome of one Task's execution. ExecuteAll returns exactly
// one Result per submitted Task, positionally matched.
type Result struct {
	ID          string
	Status      Status
	Output      string        // final text, empty unless succeeded
	ErrorDetail string        // present iff Status != StatusSucceeded
	Duration    time.Duration
	Attempts    int
}
