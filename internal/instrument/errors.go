package instrument

import (
	"errors"
	"fmt"
)

// ErrNonFinite is returned when a voltage command is NaN or infinite.
var ErrNonFinite = errors.New("voltage must be a finite number")

// ErrUnknownChannel is returned for a channel other than Drain or Gate.
var ErrUnknownChannel = errors.New("unknown channel")

// InstrumentError reports a transport or parse failure on one channel.
type InstrumentError struct {
	Channel Channel
	Op      string
	Err     error
}

func (e *InstrumentError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Channel, e.Op, e.Err)
}

func (e *InstrumentError) Unwrap() error {
	return e.Err
}
