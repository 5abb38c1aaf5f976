package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the stage transition kind carried by a progress event.
type EventStatus string

const (
	EventStarted   EventStatus = "started"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// Event is emitted once per stage transition. Delivery is fire-and-forget:
// the pipeline neither knows nor cares how many consumers are attached.
type Event struct {
	RunID     uuid.UUID   `json:"run_id"`
	Stage     Stage       `json:"stage"`
	Status    EventStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher receives progress events. Implementations must not block; the
// pipeline calls Publish inline between stage transitions.
type Publisher interface {
	Publish(Event)
}

// NopPublisher discards all events. Used when no observer is attached.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }
