package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RMahshie/fetbench/internal/feed"
	"github.com/RMahshie/fetbench/internal/instrument"
	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type command struct {
	ch  instrument.Channel
	v   float64
	set bool
}

// fakeBench records every instrument call.
type fakeBench struct {
	mu         sync.Mutex
	last       [2]float64
	cmds       []command
	reads      int
	failReadAt int
	prepared   int
	safe       int
}

func (b *fakeBench) SetVoltageAndRead(ch instrument.Channel, v float64) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmds = append(b.cmds, command{ch: ch, v: v, set: true})
	b.last[ch] = v
	return v * 1e-3, nil
}

func (b *fakeBench) ReadCurrent(ch instrument.Channel) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmds = append(b.cmds, command{ch: ch})
	b.reads++
	if b.failReadAt > 0 && b.reads == b.failReadAt {
		return 0, &instrument.InstrumentError{Channel: ch, Op: "read", Err: errors.New("timeout")}
	}
	return 1e-9, nil
}

func (b *fakeBench) LastVoltage(ch instrument.Channel) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[ch]
}

func (b *fakeBench) Prepare() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prepared++
	b.last = [2]float64{}
	return nil
}

func (b *fakeBench) Safe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.safe++
	return nil
}

func (b *fakeBench) commands() []command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]command(nil), b.cmds...)
}

func (b *fakeBench) safeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.safe
}

// row is a sink entry; hold rows carry only the hold value.
type row struct {
	hold  bool
	value float64
	point models.MeasurementPoint
}

type memSink struct {
	mu     sync.Mutex
	rows   []row
	closed bool
}

func (s *memSink) Append(p models.MeasurementPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row{value: p.SweptValue, point: p})
	return nil
}

func (s *memSink) MarkHold(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row{hold: true, value: v})
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) points() []models.MeasurementPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MeasurementPoint
	for _, r := range s.rows {
		if !r.hold {
			out = append(out, r.point)
		}
	}
	return out
}

func opener(s Sink) SinkOpener {
	return func(Kind) (Sink, error) { return s, nil }
}

func waitDone(t *testing.T, e *Engine, within time.Duration) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(within):
		t.Fatalf("run did not finish within %s", within)
	}
}

func idvdPlan(drainDelay time.Duration) Plan {
	return Plan{
		Kind:        IDVD,
		Gate:        Spec{From: 0, To: 10, Step: 5},
		Drain:       Spec{From: -1, To: 1, Step: 0.5, Delay: drainDelay},
		HoldMarkers: true,
	}
}

func TestSpecCount(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want []float64
	}{
		{name: "gate holds", spec: Spec{From: 0, To: 10, Step: 5}, want: []float64{0, 5, 10}},
		{name: "drain sweep", spec: Spec{From: -1, To: 1, Step: 0.5}, want: []float64{-1, -0.5, 0, 0.5, 1}},
		{name: "single point", spec: Spec{From: 5, To: 5, Step: 1}, want: []float64{5}},
		{name: "idvg drain holds", spec: Spec{From: 0.2, To: 0.4, Step: 0.2}, want: []float64{0.2, 0.4}},
		{name: "inexact quotient keeps the endpoint", spec: Spec{From: 0, To: 0.3, Step: 0.1}, want: []float64{0, 0.1, 0.2, 0.3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, len(tt.want), tt.spec.Count())
			got := tt.spec.Values()
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-12)
			}
		})
	}

	fine := Spec{From: -1, To: 1, Step: 0.05}
	assert.Equal(t, 41, fine.Count())
	vals := fine.Values()
	assert.Equal(t, -1.0, vals[0])
	assert.Equal(t, 1.0, vals[40])

	assert.Equal(t, 4, Spec{From: 0, To: 1, Step: 0.3}.Count())
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name  string
		plan  Plan
		field string
	}{
		{name: "valid idvd", plan: idvdPlan(0)},
		{name: "zero step", plan: Plan{Kind: IDVD, Gate: Spec{To: 10, Step: 5}, Drain: Spec{From: -1, To: 1}}, field: "drain.step"},
		{name: "negative step", plan: Plan{Kind: IDVG, Gate: Spec{From: -1, To: 1, Step: -1}, Drain: Spec{From: 1, To: 1, Step: 1}}, field: "gate.step"},
		{name: "flat inner sweep", plan: Plan{Kind: IDVG, Gate: Spec{From: 2, To: 2, Step: 1}, Drain: Spec{From: 1, To: 1, Step: 1}}, field: "gate.to"},
		{name: "flat outer hold is fine", plan: Plan{Kind: IDVG, Gate: Spec{From: -1, To: 1, Step: 1}, Drain: Spec{From: 1, To: 1, Step: 1}}},
		{name: "descending", plan: Plan{Kind: IDVD, Gate: Spec{From: 10, To: 0, Step: 5}, Drain: Spec{From: -1, To: 1, Step: 1}}, field: "gate.to"},
		{name: "negative delay", plan: Plan{Kind: IDVD, Gate: Spec{To: 10, Step: 5, Delay: -time.Second}, Drain: Spec{From: -1, To: 1, Step: 1}}, field: "gate.delay"},
		{name: "unknown kind", plan: Plan{Gate: Spec{To: 1, Step: 1}, Drain: Spec{To: 1, Step: 1}}, field: "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cerr *ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestPlanTotalPoints(t *testing.T) {
	assert.Equal(t, 30, idvdPlan(0).TotalPoints())

	idvg := Plan{Kind: IDVG, Drain: Spec{From: 0.2, To: 0.4, Step: 0.2}, Gate: Spec{From: -10, To: 10, Step: 0.5}}
	assert.Equal(t, 2*41, idvg.TotalPoints())
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"idvd": IDVD, "ID-VD": IDVD, "IDVG": IDVG, " id-vg ": IDVG} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("cv")
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)

	assert.Equal(t, "IDVD", IDVD.Slug())
	assert.Equal(t, models.AxisVG, IDVG.Axis())
}

func TestSpecFromRange(t *testing.T) {
	s, err := SpecFromRange("gate", models.SweepRange{From: 0, To: 10, Step: 5, Delay: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, s.Delay)
	assert.Equal(t, 0.5, s.Range().Delay)

	_, err = SpecFromRange("gate", models.SweepRange{Step: 1, Delay: -1})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "gate.delay", cerr.Field)
}

func TestRampTo(t *testing.T) {
	t.Run("ten equal steps", func(t *testing.T) {
		b := &fakeBench{}
		require.NoError(t, RampTo(context.Background(), b, instrument.Gate, 10, 0))

		cmds := b.commands()
		require.Len(t, cmds, 10)
		for i, c := range cmds {
			assert.True(t, c.set)
			assert.Equal(t, instrument.Gate, c.ch)
			assert.InDelta(t, float64(i+1), c.v, 1e-12)
		}
		assert.Equal(t, 10.0, b.LastVoltage(instrument.Gate))
	})

	t.Run("no-op confirms target", func(t *testing.T) {
		b := &fakeBench{}
		b.last[instrument.Drain] = 5
		require.NoError(t, RampTo(context.Background(), b, instrument.Drain, 5, time.Second))

		assert.Equal(t, []command{{ch: instrument.Drain, v: 5, set: true}}, b.commands())
	})

	t.Run("starts from last commanded voltage", func(t *testing.T) {
		b := &fakeBench{}
		b.last[instrument.Drain] = 1
		require.NoError(t, RampTo(context.Background(), b, instrument.Drain, -1, 0))

		cmds := b.commands()
		require.Len(t, cmds, 10)
		assert.InDelta(t, 0.8, cmds[0].v, 1e-12)
		assert.Equal(t, -1.0, cmds[9].v)
	})

	t.Run("settles between steps", func(t *testing.T) {
		b := &fakeBench{}
		start := time.Now()
		require.NoError(t, RampTo(context.Background(), b, instrument.Gate, 1, 100*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("cancelled before first step", func(t *testing.T) {
		b := &fakeBench{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := RampTo(ctx, b, instrument.Gate, 10, 0)
		assert.ErrorIs(t, err, errStopped)
		assert.Empty(t, b.commands())
	})
}

func TestIDVDScenario(t *testing.T) {
	bench := &fakeBench{}
	events := feed.New()
	sink := &memSink{}
	e := New(bench, events)

	require.NoError(t, e.Start(idvdPlan(0), opener(sink)))
	waitDone(t, e, 5*time.Second)

	assert.Equal(t, Completed, e.Status())
	assert.True(t, sink.closed)
	assert.Equal(t, 1, bench.prepared)
	assert.Equal(t, 1, bench.safeCount())

	// Three hold markers, each followed by ten points.
	require.Len(t, sink.rows, 33)
	forward := []float64{-1, -0.5, 0, 0.5, 1}
	for g, hold := range []float64{0, 5, 10} {
		base := g * 11
		require.True(t, sink.rows[base].hold)
		assert.Equal(t, hold, sink.rows[base].value)

		var swept []float64
		for _, r := range sink.rows[base+1 : base+11] {
			require.False(t, r.hold)
			assert.Equal(t, hold, r.point.FixedValue)
			assert.Equal(t, models.AxisVD, r.point.Axis)
			swept = append(swept, r.value)
		}
		assert.Equal(t, append(append([]float64{}, forward...), 1, 0.5, 0, -0.5, -1), swept)
	}

	// Drain is the swept channel: IDS comes from the set-and-read.
	pts := sink.points()
	assert.InDelta(t, -1e-3, pts[0].IDS, 1e-12)
	assert.Equal(t, 1e-9, pts[0].IG)

	// Progress is monotonic and reaches 100 only on the last point.
	for i := 1; i < len(pts); i++ {
		assert.GreaterOrEqual(t, pts[i].ProgressPct, pts[i-1].ProgressPct)
		assert.Equal(t, i+1, pts[i].Seq)
	}
	for _, p := range pts[:len(pts)-1] {
		assert.Less(t, p.ProgressPct, 100.0)
	}
	assert.Equal(t, 100.0, pts[len(pts)-1].ProgressPct)

	// The last drain command before teardown returns it to 0V.
	cmds := bench.commands()
	var lastDrain command
	for _, c := range cmds {
		if c.set && c.ch == instrument.Drain {
			lastDrain = c
		}
	}
	assert.Equal(t, 0.0, lastDrain.v)

	var data, complete int
	evs := events.Drain()
	for _, ev := range evs {
		switch ev.Kind {
		case feed.KindData:
			data++
		case feed.KindComplete:
			complete++
			assert.Equal(t, "completed", ev.Status)
		case feed.KindError:
			t.Fatalf("unexpected error event: %s", ev.Message)
		}
	}
	assert.Equal(t, 30, data)
	assert.Equal(t, 1, complete)
	assert.Equal(t, feed.KindComplete, evs[len(evs)-1].Kind)

	snap := e.Snapshot()
	assert.Equal(t, 30, snap.Emitted)
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 30, snap.Latest.Seq)
}

func TestIDVDWithoutHoldMarkers(t *testing.T) {
	sink := &memSink{}
	e := New(&fakeBench{}, feed.New())
	plan := idvdPlan(0)
	plan.HoldMarkers = false

	require.NoError(t, e.Start(plan, opener(sink)))
	waitDone(t, e, 5*time.Second)

	assert.Len(t, sink.rows, 30)
	assert.Len(t, sink.points(), 30)
}

func TestIDVGScenario(t *testing.T) {
	bench := &fakeBench{}
	events := feed.New()
	sink := &memSink{}
	e := New(bench, events)

	plan := Plan{
		Kind:        IDVG,
		Drain:       Spec{From: 0.2, To: 0.4, Step: 0.2},
		Gate:        Spec{From: 0, To: 1, Step: 0.5},
		HoldMarkers: true,
	}
	require.NoError(t, e.Start(plan, opener(sink)))
	waitDone(t, e, 5*time.Second)

	assert.Equal(t, Completed, e.Status())
	assert.True(t, sink.closed)
	assert.Equal(t, 1, bench.safeCount())

	// One marker per drain hold, each followed by a forward-only gate sweep.
	require.Len(t, sink.rows, 8)
	for d, hold := range []float64{0.2, 0.4} {
		base := d * 4
		require.True(t, sink.rows[base].hold)
		assert.Equal(t, hold, sink.rows[base].value)

		var swept []float64
		for _, r := range sink.rows[base+1 : base+4] {
			require.False(t, r.hold)
			assert.Equal(t, hold, r.point.FixedValue)
			assert.Equal(t, models.AxisVG, r.point.Axis)
			assert.Equal(t, models.Forward, r.point.Direction)
			swept = append(swept, r.value)
		}
		assert.Equal(t, []float64{0, 0.5, 1}, swept)
	}

	// Gate is swept: IG comes from the set-and-read, IDS from the drain read.
	pts := sink.points()
	require.Len(t, pts, 6)
	assert.InDelta(t, 0.5e-3, pts[1].IG, 1e-12)
	assert.Equal(t, 1e-9, pts[1].IDS)
	assert.Equal(t, 100.0, pts[len(pts)-1].ProgressPct)

	// The gate stays at its last swept value until teardown.
	var gate []float64
	for _, c := range bench.commands() {
		if c.set && c.ch == instrument.Gate {
			gate = append(gate, c.v)
		}
	}
	require.GreaterOrEqual(t, len(gate), 3)
	assert.Equal(t, []float64{0, 0.5, 1}, gate[len(gate)-3:])

	var data int
	for _, ev := range events.Drain() {
		if ev.Kind == feed.KindData {
			data++
		}
		assert.NotEqual(t, feed.KindError, ev.Kind)
	}
	assert.Equal(t, 6, data)
}

func TestIDVGFailureOnFifthRead(t *testing.T) {
	bench := &fakeBench{failReadAt: 5}
	events := feed.New()
	sink := &memSink{}
	e := New(bench, events)

	plan := Plan{
		Kind:  IDVG,
		Drain: Spec{From: 0.2, To: 0.4, Step: 0.2},
		Gate:  Spec{From: -1, To: 1, Step: 0.5},
	}
	require.NoError(t, e.Start(plan, opener(sink)))
	waitDone(t, e, 5*time.Second)

	assert.Equal(t, Failed, e.Status())
	pts := sink.points()
	require.Len(t, pts, 4)
	for i, p := range pts {
		assert.Equal(t, models.AxisVG, p.Axis)
		assert.Equal(t, 0.2, p.FixedValue)
		// Gate is swept, so IDS comes from the drain read.
		assert.Equal(t, 1e-9, p.IDS)
		assert.Equal(t, i+1, p.Seq)
	}
	assert.True(t, sink.closed)
	assert.Equal(t, 1, bench.safeCount())

	var errorsSeen []feed.Event
	for _, ev := range events.Drain() {
		if ev.Kind == feed.KindError {
			errorsSeen = append(errorsSeen, ev)
		}
		assert.NotEqual(t, feed.KindComplete, ev.Kind)
	}
	require.Len(t, errorsSeen, 1)
	assert.Contains(t, errorsSeen[0].Message, "VDS read")
	assert.Contains(t, e.Snapshot().Message, "timeout")
}

func TestStopMidInnerLoop(t *testing.T) {
	bench := &fakeBench{}
	sink := &memSink{}
	e := New(bench, feed.New())

	require.NoError(t, e.Start(idvdPlan(time.Second), opener(sink)))
	require.Eventually(t, func() bool { return len(sink.points()) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, e.Stop())
	waitDone(t, e, 150*time.Millisecond)

	assert.Equal(t, Stopped, e.Status())
	assert.Len(t, sink.points(), 1)
	assert.True(t, sink.closed)
	assert.Equal(t, 1, bench.safeCount())

	// Nothing is issued after teardown.
	n := len(bench.commands())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, bench.commands(), n)
}

func TestStopIsIdempotent(t *testing.T) {
	e := New(&fakeBench{}, feed.New())
	assert.False(t, e.Stop())
	assert.Equal(t, Idle, e.Status())

	require.NoError(t, e.Start(idvdPlan(time.Second), opener(&memSink{})))
	assert.True(t, e.Stop())
	assert.False(t, e.Stop())
	waitDone(t, e, time.Second)

	assert.False(t, e.Stop())
	assert.Equal(t, Stopped, e.Status())
}

func TestStartWhileRunning(t *testing.T) {
	e := New(&fakeBench{}, feed.New())
	require.NoError(t, e.Start(idvdPlan(time.Second), opener(&memSink{})))

	opened := false
	err := e.Start(idvdPlan(0), func(Kind) (Sink, error) {
		opened = true
		return &memSink{}, nil
	})
	var already *AlreadyRunningError
	require.ErrorAs(t, err, &already)
	assert.False(t, opened)
	assert.Equal(t, Running, e.Status())

	e.Stop()
	waitDone(t, e, time.Second)

	// A finished engine accepts a new run.
	require.NoError(t, e.Start(idvdPlan(0), opener(&memSink{})))
	waitDone(t, e, 5*time.Second)
	assert.Equal(t, Completed, e.Status())
}

func TestPauseHoldsInstrumentTraffic(t *testing.T) {
	bench := &fakeBench{}
	sink := &memSink{}
	e := New(bench, feed.New(), WithPollInterval(10*time.Millisecond))

	require.NoError(t, e.Start(idvdPlan(20*time.Millisecond), opener(sink)))
	require.Eventually(t, func() bool { return len(sink.points()) >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Pause())
	require.NoError(t, e.Pause(), "pausing twice is a no-op")
	time.Sleep(60 * time.Millisecond)

	held := len(bench.commands())
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, bench.commands(), held, "no commands while paused")
	assert.Equal(t, Paused, e.Status())

	require.NoError(t, e.Resume())
	waitDone(t, e, 5*time.Second)
	assert.Equal(t, Completed, e.Status())
	assert.Len(t, sink.points(), 30)
}

func TestStopWhilePaused(t *testing.T) {
	sink := &memSink{}
	e := New(&fakeBench{}, feed.New(), WithPollInterval(10*time.Millisecond))

	require.NoError(t, e.Start(idvdPlan(10*time.Millisecond), opener(sink)))
	require.Eventually(t, func() bool { return len(sink.points()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Pause())

	assert.True(t, e.Stop())
	waitDone(t, e, 150*time.Millisecond)
	assert.Equal(t, Stopped, e.Status())
}

func TestPauseResumeWithoutRun(t *testing.T) {
	e := New(&fakeBench{}, feed.New())
	assert.ErrorIs(t, e.Pause(), ErrNotRunning)
	assert.ErrorIs(t, e.Resume(), ErrNotRunning)
}

func TestStartRejectsBadPlanWithoutIO(t *testing.T) {
	bench := &fakeBench{}
	e := New(bench, feed.New())

	plan := idvdPlan(0)
	plan.Drain.Step = 0
	opened := false
	err := e.Start(plan, func(Kind) (Sink, error) {
		opened = true
		return &memSink{}, nil
	})

	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, opened)
	assert.Empty(t, bench.commands())
	assert.Zero(t, bench.prepared)
	assert.Equal(t, Idle, e.Status())
}

func TestStartSinkFailureWithoutIO(t *testing.T) {
	bench := &fakeBench{}
	e := New(bench, feed.New())

	err := e.Start(idvdPlan(0), func(Kind) (Sink, error) {
		return nil, errors.New("permission denied")
	})

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Empty(t, bench.commands())
	assert.Zero(t, bench.prepared)
	assert.Equal(t, Idle, e.Status())
}
