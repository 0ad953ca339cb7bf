// Package sweep sequences FET characterization sweeps across the two
// source-measure units of the bench.
//
// An Engine runs one sweep at a time on its own goroutine. The outer loop
// holds one terminal at each of its values while the inner loop sweeps the
// other terminal, forward and back for ID-VD or forward only for ID-VG.
// Every voltage change on a hold or a pre-sweep move is ramped in ten
// sub-steps. Readings go to a Sink in order and to a Publisher for the
// display. Pause and stop are honored at loop boundaries and during settle
// delays.
package sweep

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/RMahshie/fetbench/internal/instrument"
	"github.com/RMahshie/fetbench/pkg/models"
)

// Kind selects the sweep topology.
type Kind int

const (
	// IDVD holds the gate and sweeps the drain forward then reverse.
	IDVD Kind = iota + 1
	// IDVG holds the drain and sweeps the gate forward.
	IDVG
)

func (k Kind) String() string {
	switch k {
	case IDVD:
		return "ID-VD"
	case IDVG:
		return "ID-VG"
	default:
		return "unknown"
	}
}

// Slug is the form used in file names and the API: IDVD or IDVG.
func (k Kind) Slug() string {
	return strings.ReplaceAll(k.String(), "-", "")
}

// Axis returns the voltage swept by the inner loop.
func (k Kind) Axis() models.Axis {
	if k == IDVG {
		return models.AxisVG
	}
	return models.AxisVD
}

func (k Kind) valid() bool {
	return k == IDVD || k == IDVG
}

// ParseKind accepts "idvd", "ID-VD", "IDVD" and the ID-VG equivalents.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case models.SweepIDVD:
		return IDVD, nil
	case models.SweepIDVG:
		return IDVG, nil
	default:
		return 0, &ConfigurationError{Field: "type", Reason: fmt.Sprintf("unknown sweep type %q", s)}
	}
}

// Status is the lifecycle state of the engine.
type Status int

const (
	Idle Status = iota
	Running
	Paused
	Stopping
	Stopped
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a run goroutine owns the session.
func (s Status) Active() bool {
	return s == Running || s == Paused || s == Stopping
}

// Terminal reports whether a run has ended.
func (s Status) Terminal() bool {
	return s == Stopped || s == Completed || s == Failed
}

// Spec is one voltage axis of a sweep.
type Spec struct {
	From  float64
	To    float64
	Step  float64
	Delay time.Duration
}

// SpecFromRange converts an API range, whose delay is in seconds.
func SpecFromRange(field string, r models.SweepRange) (Spec, error) {
	if math.IsNaN(r.Delay) || math.IsInf(r.Delay, 0) || r.Delay < 0 {
		return Spec{}, &ConfigurationError{Field: field + ".delay", Reason: "must be a finite, non-negative number of seconds"}
	}
	return Spec{
		From:  r.From,
		To:    r.To,
		Step:  r.Step,
		Delay: time.Duration(r.Delay * float64(time.Second)),
	}, nil
}

// Range converts back to the API form.
func (s Spec) Range() models.SweepRange {
	return models.SweepRange{From: s.From, To: s.To, Step: s.Step, Delay: s.Delay.Seconds()}
}

// Count returns the number of points on the axis: floor((to-from)/step)+1,
// or 1 when from equals to. A small tolerance absorbs float error in the
// quotient so that 0..0.3 step 0.1 yields 4 points, not 3.
func (s Spec) Count() int {
	if s.To == s.From {
		return 1
	}
	if s.Step <= 0 || s.To < s.From {
		return 0
	}
	return int(math.Floor((s.To-s.From)/s.Step+1e-9)) + 1
}

// Values returns Count points spaced evenly from From to To, both included.
func (s Spec) Values() []float64 {
	n := s.Count()
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{s.From}
	}
	out := make([]float64, n)
	span := s.To - s.From
	for i := range out {
		out[i] = s.From + float64(i)*span/float64(n-1)
	}
	out[n-1] = s.To
	return out
}

func (s Spec) validate(field string, inner bool) error {
	names := [...]string{"from", "to", "step"}
	for i, v := range [...]float64{s.From, s.To, s.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ConfigurationError{Field: field + "." + names[i], Reason: "must be finite"}
		}
	}
	if s.Step <= 0 {
		return &ConfigurationError{Field: field + ".step", Reason: "must be greater than 0"}
	}
	if s.Delay < 0 {
		return &ConfigurationError{Field: field + ".delay", Reason: "must not be negative"}
	}
	if s.To < s.From {
		return &ConfigurationError{Field: field + ".to", Reason: "must not be below from"}
	}
	if inner && s.To == s.From {
		return &ConfigurationError{Field: field + ".to", Reason: "swept axis needs at least two points"}
	}
	return nil
}

// Plan is everything the engine needs for one run.
type Plan struct {
	Kind  Kind
	Gate  Spec
	Drain Spec
	// HoldMarkers writes a boundary row to the sink at each outer value.
	HoldMarkers bool
}

// Validate checks both axes for the chosen topology.
func (p Plan) Validate() error {
	if !p.Kind.valid() {
		return &ConfigurationError{Field: "type", Reason: "unknown sweep type"}
	}
	t := p.topology()
	if err := t.outer.validate(t.outerField, false); err != nil {
		return err
	}
	return t.inner.validate(t.innerField, true)
}

// TotalPoints is outer count x inner count, doubled for ID-VD.
func (p Plan) TotalPoints() int {
	t := p.topology()
	n := t.outer.Count() * t.inner.Count()
	if t.bidirectional {
		n *= 2
	}
	return n
}

type topology struct {
	outerCh, innerCh       instrument.Channel
	outer, inner           Spec
	outerField, innerField string
	bidirectional          bool
	// returnInner ramps the swept channel back to 0V after each hold.
	returnInner bool
}

func (p Plan) topology() topology {
	if p.Kind == IDVG {
		return topology{
			outerCh: instrument.Drain, innerCh: instrument.Gate,
			outer: p.Drain, inner: p.Gate,
			outerField: "drain", innerField: "gate",
		}
	}
	return topology{
		outerCh: instrument.Gate, innerCh: instrument.Drain,
		outer: p.Gate, inner: p.Drain,
		outerField: "gate", innerField: "drain",
		bidirectional: true,
		returnInner:   true,
	}
}
