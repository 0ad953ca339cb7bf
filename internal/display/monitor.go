// Package display consumes the sweep feed on a fixed cadence and keeps the
// state a presentation layer renders: the most recent points, the latest
// reading and the run status.
package display

import (
	"context"
	"sync"
	"time"

	"github.com/RMahshie/fetbench/internal/feed"
	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultInterval is the drain cadence.
	DefaultInterval = 50 * time.Millisecond
	// DefaultMaxPoints bounds the live buffer.
	DefaultMaxPoints = 1000
)

// Source is drained by the monitor.
type Source interface {
	Drain() []feed.Event
}

// Observer sees every event after the monitor has applied it.
type Observer interface {
	Observe(e feed.Event)
}

// Hooks are called from the polling goroutine.
type Hooks struct {
	// OnData runs for every measurement point.
	OnData func(e feed.Event)
	// OnStatus runs for every status transition.
	OnStatus func(e feed.Event)
	// OnFinish runs once per run with its Complete or Error event.
	OnFinish func(e feed.Event)
}

// View is a point-in-time copy of the monitor state.
type View struct {
	Status  string
	Message string
	Points  int
	Latest  *models.MeasurementPoint
	Updated time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the drain cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMaxPoints sets how many points the live buffer retains.
func WithMaxPoints(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.max = n
		}
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(m *Monitor) {
		m.observers = append(m.observers, o)
	}
}

// Monitor is the consumer side of the feed.
type Monitor struct {
	src       Source
	interval  time.Duration
	max       int
	observers []Observer

	mu      sync.RWMutex
	ring    []models.MeasurementPoint
	start   int
	n       int
	status  string
	message string
	latest  *models.MeasurementPoint
	updated time.Time
	hooks   Hooks
}

// New creates a monitor reading from src.
func New(src Source, opts ...Option) *Monitor {
	m := &Monitor{
		src:      src,
		interval: DefaultInterval,
		max:      DefaultMaxPoints,
		status:   "idle",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ring = make([]models.MeasurementPoint, m.max)
	return m
}

// SetHooks replaces the hooks.
func (m *Monitor) SetHooks(h Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// Run drains the source every interval until ctx is done, then drains once
// more so no event is lost.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Debug().Dur("interval", m.interval).Int("max_points", m.max).Msg("Display monitor started")
	for {
		select {
		case <-ctx.Done():
			m.Poll()
			return ctx.Err()
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll drains all pending events and applies them in order. It returns the
// number of events handled.
func (m *Monitor) Poll() int {
	events := m.src.Drain()
	for _, ev := range events {
		hooks := m.apply(ev)
		for _, o := range m.observers {
			o.Observe(ev)
		}

		switch ev.Kind {
		case feed.KindData:
			if hooks.OnData != nil {
				hooks.OnData(ev)
			}
		case feed.KindStatus:
			if hooks.OnStatus != nil {
				hooks.OnStatus(ev)
			}
		case feed.KindComplete, feed.KindError:
			if hooks.OnFinish != nil {
				hooks.OnFinish(ev)
			}
		}
	}
	return len(events)
}

func (m *Monitor) apply(ev feed.Event) Hooks {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updated = ev.Time
	switch ev.Kind {
	case feed.KindData:
		// The first point of a run clears the previous run's trace.
		if ev.Point.Seq == 1 {
			m.start, m.n = 0, 0
		}
		m.push(ev.Point)
		p := ev.Point
		m.latest = &p
	case feed.KindStatus:
		m.status = ev.Status
		m.message = ev.Message
	case feed.KindError:
		m.status = ev.Status
		m.message = ev.Message
		log.Error().Str("message", ev.Message).Msg("Sweep reported an error")
	case feed.KindComplete:
		m.status = ev.Status
		m.message = ev.Message
	}
	return m.hooks
}

func (m *Monitor) push(p models.MeasurementPoint) {
	if m.n < m.max {
		m.ring[(m.start+m.n)%m.max] = p
		m.n++
		return
	}
	m.ring[m.start] = p
	m.start = (m.start + 1) % m.max
}

// Reset clears the buffer and the latest reading.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start, m.n = 0, 0
	m.latest = nil
}

// Points returns buffered points with Seq greater than since, oldest first.
func (m *Monitor) Points(since int) []models.MeasurementPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.MeasurementPoint, 0, m.n)
	for i := 0; i < m.n; i++ {
		p := m.ring[(m.start+i)%m.max]
		if p.Seq > since {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot returns the current view.
func (m *Monitor) Snapshot() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := View{
		Status:  m.status,
		Message: m.message,
		Points:  m.n,
		Updated: m.updated,
	}
	if m.latest != nil {
		p := *m.latest
		v.Latest = &p
	}
	return v
}
