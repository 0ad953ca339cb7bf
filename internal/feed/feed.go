// Package feed carries sweep events from the measurement goroutine to the
// presentation layer.
//
// A Feed is a single-producer/single-consumer queue. Publish never blocks:
// the queue grows as needed, so a slow consumer can not stall the sweep. The
// consumer calls Drain on its own cadence and receives every pending event in
// publication order.
package feed

import (
	"sync"
	"time"

	"github.com/RMahshie/fetbench/pkg/models"
)

// Kind identifies the type of an Event.
type Kind int

const (
	KindData Kind = iota + 1
	KindStatus
	KindError
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	case KindComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is one message on the feed.
type Event struct {
	Kind Kind
	// Point is set for KindData.
	Point models.MeasurementPoint
	// Status is the engine status for KindStatus, KindError and KindComplete.
	Status  string
	Message string
	Time    time.Time
}

// Data wraps a measurement point.
func Data(p models.MeasurementPoint) Event {
	return Event{Kind: KindData, Point: p, Time: time.Now()}
}

// StatusChanged reports an engine state transition.
func StatusChanged(status, message string) Event {
	return Event{Kind: KindStatus, Status: status, Message: message, Time: time.Now()}
}

// Error reports a failed run.
func Error(message string) Event {
	return Event{Kind: KindError, Status: "failed", Message: message, Time: time.Now()}
}

// Complete reports a run that ended without error. status is "completed" or
// "stopped".
func Complete(status, message string) Event {
	return Event{Kind: KindComplete, Status: status, Message: message, Time: time.Now()}
}

// Feed is an unbounded ordered event queue.
type Feed struct {
	mu        sync.Mutex
	pending   []Event
	published uint64
	highWater int
}

// New creates an empty feed.
func New() *Feed {
	return &Feed{pending: make([]Event, 0, 256)}
}

// Publish appends an event. It never blocks on the consumer.
func (f *Feed) Publish(e Event) {
	f.mu.Lock()
	f.pending = append(f.pending, e)
	f.published++
	if len(f.pending) > f.highWater {
		f.highWater = len(f.pending)
	}
	f.mu.Unlock()
}

// Drain removes and returns all pending events in publication order. It
// returns nil when nothing is pending.
func (f *Feed) Drain() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return nil
	}
	out := f.pending
	f.pending = make([]Event, 0, cap(out))
	return out
}

// Len returns the number of undrained events.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Stats returns the total number of published events and the largest
// backlog observed.
func (f *Feed) Stats() (published uint64, highWater int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published, f.highWater
}
