package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SourceMeter issues the SCPI command set of a Keithley 2450 configured as a
// voltage source with current sensing.
type SourceMeter struct {
	bus  Bus
	addr int
}

// NewSourceMeter returns a driver for the unit at addr on bus.
func NewSourceMeter(bus Bus, addr int) *SourceMeter {
	return &SourceMeter{bus: bus, addr: addr}
}

// Address returns the GPIB primary address of the unit.
func (s *SourceMeter) Address() int {
	return s.addr
}

// Configure resets the unit, selects voltage sourcing with current sensing at
// one power-line cycle, applies the compliance limit and turns the output on.
func (s *SourceMeter) Configure(limit float64) error {
	cmds := []string{
		"*RST",
		":SOUR:FUNC VOLT",
		":SOUR:VOLT:DEL 0",
		`:SENS:FUNC "CURR"`,
		"SENS:CURR:NPLC 1",
		fmt.Sprintf(":SOUR:VOLT:ILIM:LEV %g", limit),
		":OUTP ON",
	}
	for _, cmd := range cmds {
		if err := s.bus.Write(s.addr, cmd); err != nil {
			return err
		}
	}
	return nil
}

// SetVoltage programs the source level.
func (s *SourceMeter) SetVoltage(v float64) error {
	return s.bus.Write(s.addr, fmt.Sprintf(":SOUR:VOLT %g", v))
}

// Read triggers a measurement and returns the sensed current.
func (s *SourceMeter) Read() (float64, error) {
	resp, err := s.bus.Query(s.addr, ":READ?")
	if err != nil {
		return 0, err
	}
	return parseReading(resp)
}

// Off turns the output off and resets the unit.
func (s *SourceMeter) Off() error {
	if err := s.bus.Write(s.addr, ":OUTP OFF"); err != nil {
		return err
	}
	return s.bus.Write(s.addr, "*RST")
}

// parseReading takes the first field of a reading; some formats append
// timestamp or status fields after a comma.
func parseReading(resp string) (float64, error) {
	field := strings.TrimSpace(resp)
	if i := strings.IndexByte(field, ','); i >= 0 {
		field = strings.TrimSpace(field[:i])
	}
	if field == "" {
		return 0, errors.New("empty reading")
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse reading %q", resp)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("non-finite reading %q", resp)
	}
	return v, nil
}
