package instrument

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// DefaultBaud is used when no baud rate is configured. The GPIB-USB
// controller ignores it, but the serial driver requires a value.
const DefaultBaud = 115200

// OpenSerialPrologix opens a GPIB-USB controller on a virtual COM port.
func OpenSerialPrologix(port string, baud int, timeout time.Duration) (*Prologix, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	sp, err := serial.OpenPort(&serial.Config{
		Name:        port,
		Baud:        baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", port)
	}

	p, err := NewPrologix(sp, timeout)
	if err != nil {
		sp.Close()
		return nil, err
	}
	return p, nil
}
