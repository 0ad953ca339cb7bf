package sweep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RMahshie/fetbench/internal/feed"
	"github.com/RMahshie/fetbench/internal/instrument"
	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is how often a paused run checks for resume or stop.
const DefaultPollInterval = 100 * time.Millisecond

// Instruments is the bench as seen by the engine.
type Instruments interface {
	Ramper
	ReadCurrent(ch instrument.Channel) (float64, error)
	// Prepare configures both units before the first command of a run.
	Prepare() error
	// Safe turns outputs off and resets both units.
	Safe() error
}

// Publisher receives engine events. It must not block.
type Publisher interface {
	Publish(e feed.Event)
}

// Sink is the ordered, durable record of a run.
type Sink interface {
	Append(p models.MeasurementPoint) error
	// MarkHold records an outer-loop boundary at hold volts.
	MarkHold(hold float64) error
	Close() error
}

// SinkOpener creates the sink for a run of the given kind.
type SinkOpener func(k Kind) (Sink, error)

// Session is a snapshot of the current or most recent run.
type Session struct {
	Kind       Kind
	Status     Status
	OuterIndex int
	InnerIndex int
	Direction  models.Direction
	HoldValue  float64
	Emitted    int
	Total      int
	Progress   float64
	Latest     *models.MeasurementPoint
	Message    string
	StartedAt  time.Time
	EndedAt    time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPollInterval sets the pause poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.poll = d
		}
	}
}

// Engine runs one sweep at a time.
type Engine struct {
	bench  Instruments
	events Publisher
	poll   time.Duration

	mu      sync.Mutex
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an idle engine driving bench and reporting to events.
func New(bench Instruments, events Publisher, opts ...Option) *Engine {
	e := &Engine{
		bench:  bench,
		events: events,
		poll:   DefaultPollInterval,
		done:   make(chan struct{}),
	}
	close(e.done)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start validates plan, opens its sink and launches the run. Configuration
// and sink errors are returned before any instrument command is issued.
func (e *Engine) Start(plan Plan, open SinkOpener) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status.Active() {
		return &AlreadyRunningError{Status: e.session.Status}
	}

	sink, err := open(plan.Kind)
	if err != nil {
		var ioErr *IOError
		var cfgErr *ConfigurationError
		if errors.As(err, &ioErr) || errors.As(err, &cfgErr) {
			return err
		}
		return &IOError{Op: "create", Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.session = Session{
		Kind:      plan.Kind,
		Status:    Running,
		Direction: models.Forward,
		Total:     plan.TotalPoints(),
		StartedAt: time.Now(),
		Message:   plan.Kind.String() + " sweep started",
	}

	log.Info().
		Str("type", plan.Kind.String()).
		Int("total_points", e.session.Total).
		Msg("Sweep started")
	e.events.Publish(feed.StatusChanged(Running.String(), e.session.Message))

	go e.run(ctx, plan, sink, done)
	return nil
}

// Pause holds the run at its next checkpoint. Pausing a paused run is a
// no-op.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.session.Status {
	case Paused:
		return nil
	case Running:
		e.session.Status = Paused
		e.session.Message = "paused"
		e.events.Publish(feed.StatusChanged(Paused.String(), "paused"))
		log.Info().Msg("Sweep paused")
		return nil
	default:
		return ErrNotRunning
	}
}

// Resume continues a paused run. Resuming a running run is a no-op.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.session.Status {
	case Running:
		return nil
	case Paused:
		e.session.Status = Running
		e.session.Message = "resumed"
		e.events.Publish(feed.StatusChanged(Running.String(), "resumed"))
		log.Info().Msg("Sweep resumed")
		return nil
	default:
		return ErrNotRunning
	}
}

// Stop asks the active run to unwind. It reports whether a run was
// signalled; with no active run it does nothing.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != Running && e.session.Status != Paused {
		return false
	}
	e.session.Status = Stopping
	e.session.Message = "stopping"
	e.cancel()
	e.events.Publish(feed.StatusChanged(Stopping.String(), "stopping"))
	log.Info().Msg("Sweep stop requested")
	return true
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Status
}

// Snapshot returns a copy of the current session.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s.Latest != nil {
		p := *s.Latest
		s.Latest = &p
	}
	return s
}

// Done is closed when the current run has ended and its instruments are
// safe. With no run it is already closed.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Wait blocks until the current run has ended.
func (e *Engine) Wait() {
	<-e.Done()
}

// checkpoint returns errStopped once the run is cancelled and holds while
// paused, polling at the configured interval.
func (e *Engine) checkpoint(ctx context.Context) error {
	var ticker *time.Ticker
	for {
		if ctx.Err() != nil {
			return errStopped
		}
		if e.Status() != Paused {
			return nil
		}
		if ticker == nil {
			ticker = time.NewTicker(e.poll)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return errStopped
		case <-ticker.C:
		}
	}
}

func (e *Engine) setPosition(outer, inner int, dir models.Direction, hold float64) {
	e.mu.Lock()
	e.session.OuterIndex = outer
	e.session.InnerIndex = inner
	e.session.Direction = dir
	e.session.HoldValue = hold
	e.mu.Unlock()
}

func (e *Engine) record(p models.MeasurementPoint) {
	e.mu.Lock()
	e.session.Emitted = p.Seq
	e.session.Progress = p.ProgressPct
	e.session.Latest = &p
	e.mu.Unlock()
}
