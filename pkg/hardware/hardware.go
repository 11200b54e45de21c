// Package hardware defines the collaborator interfaces the controller
// drives: the stepper motor driver, the limit switch, and the simple
// signal IO (status LED, buzzer). Step-pulse generation and
// acceleration ramps are owned by the driver, not the controller.
package hardware

import "time"

// MotorDriver is the motor-driver collaborator. Moves are relative
// signed step counts; positive steps turn clockwise.
type MotorDriver interface {
	// Move commands a relative move. The driver handles ramping and
	// returns immediately.
	Move(steps int64) error

	// RemainingSteps reports the unsigned distance left in the current
	// move. Zero means the motor is idle.
	RemainingSteps() (int64, error)

	// Position reports the absolute position counter in steps.
	Position() (int64, error)

	// SetPosition overwrites the absolute position counter (used when
	// homing establishes the zero).
	SetPosition(pos int64) error

	// SetSpeed sets the cruise speed in steps per second.
	SetSpeed(stepsPerSec uint) error

	// SetAcceleration sets the ramp acceleration in steps/s^2.
	SetAcceleration(stepsPerSec2 uint) error

	// Stop requests an immediate deceleration and halt.
	Stop() error

	// Enable powers the motor output on.
	Enable() error

	// Disable cuts the motor output power.
	Disable() error
}

// LimitSwitch is the limit-switch sensing collaborator.
type LimitSwitch interface {
	// Triggered reports whether the switch is currently pressed.
	Triggered() (bool, error)
}

// SignalIO is the indicator collaborator: a status LED and an audible
// buzzer.
type SignalIO interface {
	SetLED(on bool)
	Beep(d time.Duration)
}

// NopSignal is a SignalIO that does nothing, for machines without
// indicators and for tests.
type NopSignal struct{}

func (NopSignal) SetLED(bool)        {}
func (NopSignal) Beep(time.Duration) {}
