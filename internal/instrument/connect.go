package instrument

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Transport names accepted by Connect.
const (
	TransportSim            = "sim"
	TransportPrologixTCP    = "prologix-tcp"
	TransportPrologixSerial = "prologix-serial"
)

// ConnectConfig selects the transport and the two units.
type ConnectConfig struct {
	Transport    string
	PrologixAddr string
	SerialPort   string
	SerialBaud   int
	Timeout      time.Duration

	DrainResource string
	GateResource  string
	DrainLimit    float64
	GateLimit     float64
}

// Connect opens the configured transport and returns a bench bound to both
// units.
func Connect(cfg ConnectConfig) (*Bench, error) {
	drainAddr, err := ParseAddress(cfg.DrainResource)
	if err != nil {
		return nil, fmt.Errorf("drain resource: %w", err)
	}
	gateAddr, err := ParseAddress(cfg.GateResource)
	if err != nil {
		return nil, fmt.Errorf("gate resource: %w", err)
	}

	var bus Bus
	switch cfg.Transport {
	case TransportSim, "":
		bus = NewSimBus(drainAddr, gateAddr)
	case TransportPrologixTCP:
		bus, err = DialPrologix(cfg.PrologixAddr, cfg.Timeout)
	case TransportPrologixSerial:
		bus, err = OpenSerialPrologix(cfg.SerialPort, cfg.SerialBaud, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	bench, err := NewBench(bus, BenchConfig{
		DrainAddress: drainAddr,
		GateAddress:  gateAddr,
		DrainLimit:   cfg.DrainLimit,
		GateLimit:    cfg.GateLimit,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}

	log.Info().
		Str("transport", cfg.Transport).
		Int("drain_address", drainAddr).
		Int("gate_address", gateAddr).
		Msg("Instrument bench connected")
	return bench, nil
}
