// Package actuator drives the weeding robot's drive motor and spray pump.
//
// Consumers depend on the small interfaces they need. The core only ever
// issues idealized duty-cycle commands; pin-level details stay in GPIO.
package actuator

import (
	"errors"
	"fmt"
)

// MotorDriver sets the drive motor duty cycle.
type MotorDriver interface {
	// SetMotorDuty sets the motor duty cycle in [0, 1].
	SetMotorDuty(duty float64) error
}

// PumpDriver switches the spray pump.
type PumpDriver interface {
	SetPump(on bool) error
}

// Driver is the composite interface for the physical actuators.
type Driver interface {
	MotorDriver
	PumpDriver
	Close() error
}

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("actuator: driver closed")

// Halt forces motor and pump outputs to zero. It attempts both commands even
// if the first fails. Call it on every exit path.
func Halt(d Driver) error {
	if d == nil {
		return nil
	}
	var errs []error
	if err := d.SetMotorDuty(0); err != nil {
		errs = append(errs, fmt.Errorf("motor: %w", err))
	}
	if err := d.SetPump(false); err != nil {
		errs = append(errs, fmt.Errorf("pump: %w", err))
	}
	return errors.Join(errs...)
}

// clampDuty restricts v to [0, 1].
func clampDuty(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Ensure implementations satisfy Driver.
var (
	_ Driver = (*GPIO)(nil)
	_ Driver = (*Sim)(nil)
)
