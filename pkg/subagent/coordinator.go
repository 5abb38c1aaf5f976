package subagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kestrel-eng/feasgen/pkg/llm"
	"github.com/kestrel-eng/feasgen/pkg/metrics"
	"github.com/kestrel-eng/feasgen/pkg/tools"
)

const (
	defaultMaxConcurrent = 5
	defaultTaskTimeout   = 60 * time.Second
)

// Config holds the configuration for the Coordinator.
type Config struct {
	Logger *slog.Logger
	LLM    llm.ToolClient
	Tools  *tools.Registry

	MaxConcurrent     int           // max simultaneously executing tasks (default 5)
	TaskTimeout       time.Duration // wall-clock bound per task (default 60s)
	MaxToolIterations int           // bound on the tool-calling loop per task
	Retry             llm.RetryPolicy
	Clock             clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.LLM == nil {
		return errors.New("LLM client is required")
	}
	if cfg.Tools == nil {
		return errors.New("tool registry is required")
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxConcurrent < 0 {
		return errors.New("max concurrent must be greater than 0")
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Coordinator fans a batch of tasks out to bounded-parallel execution and
// fans the results back in, preserving submission order.
type Coordinator struct {
	log     *slog.Logger
	cfg     *Config
	limiter *Limiter
}

// New creates a new Coordinator.
func New(cfg *Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limiter, err := NewLimiter(cfg.MaxConcurrent)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: limiter,
	}, nil
}

// ExecuteAll runs all tasks concurrently under the limiter and returns one
// Result per task in submission order, regardless of completion order.
// Individual failures are recorded on their Result; ExecuteAll itself never
// fails for a task-level error.
func (c *Coordinator) ExecuteAll(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	c.logInfo("subagent: executing batch", "tasks", len(tasks), "maxConcurrent", c.cfg.MaxConcurrent)

	results := make([]Result, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, task Task) {
			defer wg.Done()
			results[idx] = c.runTask(ctx, task)
		}(i, task)
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Status == StatusSucceeded {
			succeeded++
		}
	}
	c.logInfo("subagent: batch complete", "tasks", len(tasks), "succeeded", succeeded)

	return results
}

func (c *Coordinator) runTask(ctx context.Context, task Task) Result {
	result := c.executeTask(ctx, task)
	metrics.SubagentTasks.WithLabelValues(string(result.Status)).Inc()
	if result.Attempts > 1 {
		metrics.SubagentRetries.Add(float64(result.Attempts - 1))
	}
	return result
}

// executeTask runs one task: acquire a slot, then race the attempt (with
// retries) against the task timeout. The permit is released on every exit
// path.
func (c *Coordinator) executeTask(ctx context.Context, task Task) Result {
	start := c.cfg.Clock.Now()

	permit, err := c.limiter.Acquire(ctx)
	if err != nil {
		return Result{
			ID:          task.ID,
			Status:      StatusFailed,
			ErrorDetail: fmt.Sprintf("could not acquire execution slot: %v", err),
			Duration:    c.cfg.Clock.Since(start),
		}
	}
	defer permit.Release()

	metrics.SubagentsInFlight.Inc()
	defer metrics.SubagentsInFlight.Dec()

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		output   string
		attempts int
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		attempts, output, err := c.attemptWithRetry(attemptCtx, task)
		done <- outcome{output: output, attempts: attempts, err: err}
	}()

	select {
	case <-c.cfg.Clock.After(c.cfg.TaskTimeout):
		cancel()
		c.logInfo("subagent: task timed out", "task", task.ID, "timeout", c.cfg.TaskTimeout)
		return Result{
			ID:          task.ID,
			Status:      StatusTimedOut,
			ErrorDetail: fmt.Sprintf("task exceeded timeout of %s", c.cfg.TaskTimeout),
			Duration:    c.cfg.Clock.Since(start),
		}
	case <-ctx.Done():
		return Result{
			ID:          task.ID,
			Status:      StatusFailed,
			ErrorDetail: fmt.Sprintf("batch context canceled: %v", ctx.Err()),
			Duration:    c.cfg.Clock.Since(start),
		}
	case out := <-done:
		duration := c.cfg.Clock.Since(start)
		if out.err != nil {
			status := StatusFailed
			if llm.Classify(out.err) == llm.ErrorTimeout {
				status = StatusTimedOut
			}
			c.logInfo("subagent: task failed", "task", task.ID, "attempts", out.attempts, "error", out.err)
			return Result{
				ID:          task.ID,
				Status:      status,
				ErrorDetail: out.err.Error(),
				Duration:    duration,
				Attempts:    out.attempts,
			}
		}
		return Result{
			ID:       task.ID,
			Status:   StatusSucceeded,
			Output:   out.output,
			Duration: duration,
			Attempts: out.attempts,
		}
	}
}

// attemptWithRetry invokes the model for one task, retrying transient
// failures per the configured policy.
func (c *Coordinator) attemptWithRetry(ctx context.Context, task Task) (int, string, error) {
	var output string
	attempts, err := c.cfg.Retry.Do(ctx, func() error {
		var attemptErr error
		output, attemptErr = c.attempt(ctx, task)
		return attemptErr
	})
	return attempts, output, err
}

// attempt performs a single execution of the task: a plain completion when
// the task has no tools, otherwise a bounded tool-calling loop restricted to
// the task's granted tools.
func (c *Coordinator) attempt(ctx context.Context, task Task) (string, error) {
	userPrompt := buildUserPrompt(task)

	if len(task.Tools) == 0 {
		return c.cfg.LLM.Complete(ctx, task.SystemPrompt, userPrompt, llm.WithCacheControl())
	}

	specs, err := c.cfg.Tools.Specs(task.Tools)
	if err != nil {
		return "", err
	}
	executor, err := c.cfg.Tools.Executor(task.Tools)
	if err != nil {
		return "", err
	}

	loop, err := llm.NewToolLoop(&llm.ToolLoopConfig{
		Logger:        c.log,
		Client:        c.cfg.LLM,
		Executor:      executor,
		MaxIterations: c.cfg.MaxToolIterations,
	})
	if err != nil {
		return "", err
	}

	return loop.Run(ctx, task.SystemPrompt, userPrompt, specs)
}

func buildUserPrompt(task Task) string {
	var sb strings.Builder
	sb.WriteString(task.Instructions)
	if task.ContextPayload != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(task.ContextPayload)
	}
	return sb.String()
}

func (c *Coordinator) logInfo(msg string, args ...any) {
	if c.log != nil {
		c.log.Info(msg, args...)
	}
}
