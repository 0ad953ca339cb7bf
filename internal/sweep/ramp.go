package sweep

import (
	"context"
	"time"

	"github.com/RMahshie/fetbench/internal/instrument"
)

// RampSteps is the number of sub-steps of every ramp.
const RampSteps = 10

// Ramper is the part of the bench a ramp needs.
type Ramper interface {
	SetVoltageAndRead(ch instrument.Channel, v float64) (float64, error)
	LastVoltage(ch instrument.Channel) float64
}

// RampTo moves ch from its last commanded voltage to target in RampSteps
// equal sub-steps, settling delay/RampSteps after each. When the channel is
// already at target it issues a single confirming command at target.
func RampTo(ctx context.Context, dev Ramper, ch instrument.Channel, target float64, delay time.Duration) error {
	return ramp(ctx, dev, ch, target, delay, func(ctx context.Context) error {
		if ctx.Err() != nil {
			return errStopped
		}
		return nil
	})
}

// ramp calls wait before each sub-step so the engine can hold it while paused.
func ramp(ctx context.Context, dev Ramper, ch instrument.Channel, target float64, delay time.Duration, wait func(context.Context) error) error {
	start := dev.LastVoltage(ch)
	if start == target {
		if err := wait(ctx); err != nil {
			return err
		}
		_, err := dev.SetVoltageAndRead(ch, target)
		return err
	}

	settle := delay / RampSteps
	inc := (target - start) / RampSteps
	for i := 1; i <= RampSteps; i++ {
		if err := wait(ctx); err != nil {
			return err
		}
		v := start + float64(i)*inc
		if i == RampSteps {
			v = target
		}
		if _, err := dev.SetVoltageAndRead(ch, v); err != nil {
			return err
		}
		if err := sleep(ctx, settle); err != nil {
			return err
		}
	}
	return nil
}

// sleep waits d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return errStopped
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errStopped
	case <-t.C:
		return nil
	}
}
