package sweep

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/RMahshie/fetbench/internal/feed"
	"github.com/RMahshie/fetbench/internal/instrument"
	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/rs/zerolog/log"
)

// run owns the sink and the instruments until the sweep ends, then returns
// the bench to a safe state and reports the outcome.
func (e *Engine) run(ctx context.Context, plan Plan, sink Sink, done chan struct{}) {
	defer close(done)

	err := e.execute(ctx, plan, sink)

	if cerr := sink.Close(); cerr != nil {
		log.Error().Err(cerr).Msg("Failed to close data log")
		if err == nil {
			err = &IOError{Op: "close", Err: cerr}
		}
	}
	if serr := e.bench.Safe(); serr != nil {
		log.Error().Err(serr).Msg("Failed to return instruments to safe state")
	}

	e.finish(err)
}

func (e *Engine) execute(ctx context.Context, plan Plan, sink Sink) error {
	t := plan.topology()
	outer := t.outer.Values()
	inner := t.inner.Values()
	reversed := make([]float64, len(inner))
	for i, v := range inner {
		reversed[len(inner)-1-i] = v
	}
	total := plan.TotalPoints()
	axis := plan.Kind.Axis()

	if err := e.checkpoint(ctx); err != nil {
		return err
	}
	if err := e.bench.Prepare(); err != nil {
		return err
	}

	emitted := 0
	for oi, hold := range outer {
		if err := e.checkpoint(ctx); err != nil {
			return err
		}
		e.setPosition(oi, 0, models.Forward, hold)

		if err := ramp(ctx, e.bench, t.outerCh, hold, t.outer.Delay, e.checkpoint); err != nil {
			return err
		}
		if plan.HoldMarkers {
			if err := sink.MarkHold(hold); err != nil {
				return &IOError{Op: "write", Err: err}
			}
		}
		if err := ramp(ctx, e.bench, t.innerCh, inner[0], t.inner.Delay, e.checkpoint); err != nil {
			return err
		}

		passes := []pass{{models.Forward, inner}}
		if t.bidirectional {
			passes = append(passes, pass{models.Reverse, reversed})
		}

		for _, leg := range passes {
			for ii, v := range leg.values {
				if err := e.checkpoint(ctx); err != nil {
					return err
				}
				e.setPosition(oi, ii, leg.dir, hold)

				innerI, err := e.bench.SetVoltageAndRead(t.innerCh, v)
				if err != nil {
					return err
				}
				outerI, err := e.bench.ReadCurrent(t.outerCh)
				if err != nil {
					return err
				}

				emitted++
				p := models.MeasurementPoint{
					Seq:         emitted,
					Axis:        axis,
					SweptValue:  v,
					FixedValue:  hold,
					OuterIndex:  oi,
					InnerIndex:  ii,
					Direction:   leg.dir,
					ProgressPct: progress(emitted, total),
					Timestamp:   time.Now(),
				}
				if t.innerCh == instrument.Drain {
					p.IDS, p.IG = innerI, outerI
				} else {
					p.IDS, p.IG = outerI, innerI
				}

				// The point is committed even if a stop arrived while it was
				// being measured.
				if err := sink.Append(p); err != nil {
					return &IOError{Op: "write", Err: err}
				}
				e.record(p)
				e.events.Publish(feed.Data(p))

				if err := sleep(ctx, t.inner.Delay); err != nil {
					return err
				}
			}
		}

		if t.returnInner {
			if err := ramp(ctx, e.bench, t.innerCh, 0, t.inner.Delay, e.checkpoint); err != nil {
				return err
			}
		}
		if err := sleep(ctx, t.outer.Delay); err != nil {
			return err
		}
	}
	return nil
}

type pass struct {
	dir    models.Direction
	values []float64
}

func progress(emitted, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(100, float64(emitted)/float64(total)*100)
}

func (e *Engine) finish(err error) {
	var status Status
	var msg string
	switch {
	case err == nil:
		status, msg = Completed, "sweep completed"
	case errors.Is(err, errStopped):
		status, msg = Stopped, "sweep stopped"
	default:
		status, msg = Failed, err.Error()
	}

	e.mu.Lock()
	e.session.Status = status
	e.session.Message = msg
	e.session.EndedAt = time.Now()
	emitted := e.session.Emitted
	kind := e.session.Kind
	e.cancel()
	e.events.Publish(feed.StatusChanged(status.String(), msg))
	if status == Failed {
		e.events.Publish(feed.Error(msg))
	} else {
		e.events.Publish(feed.Complete(status.String(), msg))
	}
	e.mu.Unlock()

	ev := log.Info()
	if status == Failed {
		ev = log.Error().Err(err)
	}
	ev.Str("type", kind.String()).
		Str("status", status.String()).
		Int("points", emitted).
		Msg("Sweep finished")
}
