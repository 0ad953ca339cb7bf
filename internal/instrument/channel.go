// Package instrument talks to the two source-measure units of the bench.
//
// Each unit sources a voltage and senses current. The drain unit biases the
// drain-source terminals and the gate unit biases the gate. Units sit on a
// shared GPIB bus reached through a Prologix controller, or on a simulated
// bus for development without hardware.
package instrument

// Channel identifies one of the two source-measure units.
type Channel int

const (
	// Drain biases drain-source and senses IDS.
	Drain Channel = iota
	// Gate biases the gate and senses IG.
	Gate
)

// Channels lists both channels in a stable order.
var Channels = [...]Channel{Drain, Gate}

func (c Channel) String() string {
	switch c {
	case Drain:
		return "VDS"
	case Gate:
		return "VG"
	default:
		return "unknown"
	}
}

func (c Channel) valid() bool {
	return c == Drain || c == Gate
}
