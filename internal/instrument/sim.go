package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Square-law device parameters of the simulated transistor.
const (
	simThreshold    = 1.0   // V
	simGain         = 2e-3  // A/V^2
	simCLM          = 0.02  // 1/V
	simOffLeakage   = 1e-10 // A/V below threshold
	simGateLeakage  = 1e-12 // A/V
	simDefaultLimit = 0.1   // A
)

type simUnit struct {
	on      bool
	voltage float64
	limit   float64
}

// SimBus answers the source-measure command set with an n-channel FET wired
// between the drain unit and the gate unit. It lets the whole system run
// without hardware.
type SimBus struct {
	mu    sync.Mutex
	drain int
	gate  int
	units map[int]*simUnit
}

// NewSimBus builds a simulated bus with the drain and gate units at the given
// addresses.
func NewSimBus(drainAddr, gateAddr int) *SimBus {
	return &SimBus{
		drain: drainAddr,
		gate:  gateAddr,
		units: map[int]*simUnit{
			drainAddr: {limit: simDefaultLimit},
			gateAddr:  {limit: simDefaultLimit},
		},
	}
}

// Write applies a command to the unit at addr.
func (s *SimBus) Write(addr int, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[addr]
	if !ok {
		return errors.Errorf("no instrument at address %d", addr)
	}

	cmd = strings.TrimSpace(cmd)
	upper := strings.ToUpper(cmd)
	switch {
	case upper == "*RST":
		*u = simUnit{limit: simDefaultLimit}
	case upper == ":OUTP ON":
		u.on = true
	case upper == ":OUTP OFF":
		u.on = false
	case strings.HasPrefix(upper, ":SOUR:VOLT:ILIM:LEV "):
		v, err := parseArg(cmd)
		if err != nil {
			return err
		}
		u.limit = math.Abs(v)
	case strings.HasPrefix(upper, ":SOUR:VOLT "):
		v, err := parseArg(cmd)
		if err != nil {
			return err
		}
		u.voltage = v
	}
	return nil
}

// Query answers :READ? with the current sensed by the unit at addr.
func (s *SimBus) Query(addr int, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[addr]
	if !ok {
		return "", errors.Errorf("no instrument at address %d", addr)
	}
	switch strings.ToUpper(strings.TrimSpace(cmd)) {
	case ":READ?":
		return strconv.FormatFloat(s.current(addr, u), 'E', 6, 64), nil
	case "*IDN?":
		return fmt.Sprintf("SIMULATED,MODEL 2450,%d,1.0", addr), nil
	default:
		return "", errors.Errorf("unsupported query %q", cmd)
	}
}

// Close is a no-op.
func (s *SimBus) Close() error {
	return nil
}

// Voltage returns the level programmed on the unit at addr.
func (s *SimBus) Voltage(addr int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.units[addr]; ok {
		return u.voltage
	}
	return 0
}

// OutputOn reports whether the unit at addr is sourcing.
func (s *SimBus) OutputOn(addr int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.units[addr]; ok {
		return u.on
	}
	return false
}

func (s *SimBus) current(addr int, u *simUnit) float64 {
	if !u.on {
		return 0
	}
	vg := s.units[s.gate].voltage
	if !s.units[s.gate].on {
		vg = 0
	}

	var i float64
	if addr == s.gate {
		i = simGateLeakage * vg
	} else {
		vds := u.voltage
		i = math.Copysign(fetCurrent(vg, math.Abs(vds)), vds)
	}
	return math.Max(-u.limit, math.Min(u.limit, i))
}

func fetCurrent(vg, vds float64) float64 {
	vov := vg - simThreshold
	if vov <= 0 {
		return simOffLeakage * vds
	}
	if vds < vov {
		return simGain * (vov*vds - vds*vds/2)
	}
	return simGain / 2 * vov * vov * (1 + simCLM*vds)
}

func parseArg(cmd string) (float64, error) {
	fields := strings.Fields(cmd)
	if len(fields) < 2 {
		return 0, errors.Errorf("missing argument in %q", cmd)
	}
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse argument of %q", cmd)
	}
	return v, nil
}
