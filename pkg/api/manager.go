// Package api exposes the pipeline over HTTP: starting runs, fetching
// results and streaming per-run progress events.
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kestrel-eng/feasgen/pkg/pipeline"
)

// ErrUnknownRun is returned when a run ID is neither active nor persisted.
var ErrUnknownRun = errors.New("unknown run")

// RunManager starts pipeline runs in the background and fans each run's
// progress events out to any number of subscribers. It implements
// pipeline.Publisher so it can be wired straight into the executor config.
type RunManager struct {
	log      *slog.Logger
	clock    clockwork.Clock
	executor *pipeline.Executor

	mu     sync.RWMutex
	active map[uuid.UUID]*activeRun
}

type activeRun struct {
	events []pipeline.Event
	subs   map[chan pipeline.Event]bool
	done   bool
}

// NewRunManager creates a RunManager. The executor is attached afterward
// with SetExecutor because the executor's Publisher is the manager itself.
func NewRunManager(log *slog.Logger, clock clockwork.Clock) *RunManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RunManager{
		log:    log,
		clock:  clock,
		active: make(map[uuid.UUID]*activeRun),
	}
}

// SetExecutor attaches the executor the manager starts runs on.
func (m *RunManager) SetExecutor(executor *pipeline.Executor) {
	m.executor = executor
}

// Start launches a run in the background and returns its ID immediately.
func (m *RunManager) Start(inputs pipeline.Inputs) (uuid.UUID, error) {
	if m.executor == nil {
		return uuid.Nil, errors.New("no executor attached")
	}

	state := pipeline.NewRunState(inputs, m.clock.Now())

	m.mu.Lock()
	m.active[state.ID] = &activeRun{subs: make(map[chan pipeline.Event]bool)}
	m.mu.Unlock()

	go func() {
		// The run outlives the originating HTTP request on purpose.
		if _, err := m.executor.Execute(context.Background(), state); err != nil {
			m.logInfo("run manager: run aborted", "run", state.ID, "error", err)
		}
		m.finishRun(state.ID)
	}()

	return state.ID, nil
}

// Publish routes a pipeline event to the run's subscribers. Slow consumers
// are skipped rather than blocking the pipeline.
func (m *RunManager) Publish(e pipeline.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.active[e.RunID]
	if !ok {
		return
	}
	run.events = append(run.events, e)
	for ch := range run.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that first replays the run's event history
// and then carries live events until the run finishes, plus a cancel
// function the caller must invoke when done.
func (m *RunManager) Subscribe(id uuid.UUID) (<-chan pipeline.Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.active[id]
	if !ok {
		return nil, nil, ErrUnknownRun
	}

	// Room for the full history plus a burst of live events.
	ch := make(chan pipeline.Event, len(run.events)+len(pipeline.Stages())*3)
	for _, e := range run.events {
		ch <- e
	}
	if run.done {
		close(ch)
		return ch, func() {}, nil
	}

	run.subs[ch] = true
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if run, ok := m.active[id]; ok {
			delete(run.subs, ch)
		}
	}
	return ch, cancel, nil
}

// LastEvent returns the most recent event for an active run.
func (m *RunManager) LastEvent(id uuid.UUID) (pipeline.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.active[id]
	if !ok || len(run.events) == 0 {
		return pipeline.Event{}, false
	}
	return run.events[len(run.events)-1], true
}

// Active reports whether the run is still executing.
func (m *RunManager) Active(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.active[id]
	return ok && !run.done
}

func (m *RunManager) finishRun(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.active[id]
	if !ok {
		return
	}
	run.done = true
	for ch := range run.subs {
		close(ch)
	}
	run.subs = make(map[chan pipeline.Event]bool)

	// The persisted record is the source of truth from here on.
	delete(m.active, id)
}

func (m *RunManager) logInfo(msg string, args ...any) {
	if m.log != nil {
		m.log.Info(msg, args...)
	}
}
