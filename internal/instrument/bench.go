package instrument

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
)

// BenchConfig names the two units and their compliance limits.
type BenchConfig struct {
	DrainAddress int
	GateAddress  int
	DrainLimit   float64
	GateLimit    float64
}

// Bench owns both source-measure units and the last voltage commanded on
// each. The sweep engine is its only caller during a run; the mutex guards
// the voltage bookkeeping read by status queries.
type Bench struct {
	bus    Bus
	units  [2]*SourceMeter
	limits [2]float64

	mu   sync.Mutex
	last [2]float64
}

// NewBench binds both units on bus.
func NewBench(bus Bus, cfg BenchConfig) (*Bench, error) {
	if cfg.DrainAddress == cfg.GateAddress {
		return nil, fmt.Errorf("drain and gate share GPIB address %d", cfg.DrainAddress)
	}
	b := &Bench{bus: bus}
	b.units[Drain] = NewSourceMeter(bus, cfg.DrainAddress)
	b.units[Gate] = NewSourceMeter(bus, cfg.GateAddress)
	b.limits[Drain] = cfg.DrainLimit
	b.limits[Gate] = cfg.GateLimit
	return b, nil
}

// Prepare configures both units for a run and records 0V as their level.
func (b *Bench) Prepare() error {
	for _, ch := range Channels {
		if err := b.units[ch].Configure(b.limits[ch]); err != nil {
			return &InstrumentError{Channel: ch, Op: "configure", Err: err}
		}
		log.Debug().
			Str("channel", ch.String()).
			Int("address", b.units[ch].Address()).
			Float64("limit", b.limits[ch]).
			Msg("Source-measure unit configured")
	}

	b.mu.Lock()
	b.last = [2]float64{}
	b.mu.Unlock()
	return nil
}

// SetVoltageAndRead sources v on ch and returns the current it senses.
func (b *Bench) SetVoltageAndRead(ch Channel, v float64) (float64, error) {
	if !ch.valid() {
		return 0, &InstrumentError{Channel: ch, Op: "set voltage", Err: ErrUnknownChannel}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &InstrumentError{Channel: ch, Op: "set voltage", Err: ErrNonFinite}
	}

	if err := b.units[ch].SetVoltage(v); err != nil {
		return 0, &InstrumentError{Channel: ch, Op: "set voltage", Err: err}
	}
	b.mu.Lock()
	b.last[ch] = v
	b.mu.Unlock()

	i, err := b.units[ch].Read()
	if err != nil {
		return 0, &InstrumentError{Channel: ch, Op: "read", Err: err}
	}
	return i, nil
}

// ReadCurrent measures ch without changing its source level.
func (b *Bench) ReadCurrent(ch Channel) (float64, error) {
	if !ch.valid() {
		return 0, &InstrumentError{Channel: ch, Op: "read", Err: ErrUnknownChannel}
	}
	i, err := b.units[ch].Read()
	if err != nil {
		return 0, &InstrumentError{Channel: ch, Op: "read", Err: err}
	}
	return i, nil
}

// LastVoltage returns the level most recently commanded on ch.
func (b *Bench) LastVoltage(ch Channel) float64 {
	if !ch.valid() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[ch]
}

// Safe turns both outputs off and resets the units. Both units are attempted
// even if the first fails; the first error is returned.
func (b *Bench) Safe() error {
	var first error
	for _, ch := range Channels {
		if err := b.units[ch].Off(); err != nil {
			log.Error().Err(err).Str("channel", ch.String()).Msg("Failed to return unit to safe state")
			if first == nil {
				first = &InstrumentError{Channel: ch, Op: "safe", Err: err}
			}
		}
	}

	b.mu.Lock()
	b.last = [2]float64{}
	b.mu.Unlock()
	return first
}

// Close releases the bus.
func (b *Bench) Close() error {
	return b.bus.Close()
}
