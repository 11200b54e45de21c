// Motor move tracking and homing
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package motor tracks the single outstanding stepper move and owns the
// homing and emergency-stop routines. A Tracker is loop-owned: all
// methods run from control-loop context.
package motor

import (
	"time"

	"knitterd/pkg/hardware"
	"knitterd/pkg/kniterr"
	"knitterd/pkg/log"
	"knitterd/pkg/machine"
)

const (
	// homingChunk is the per-iteration creep distance toward the limit
	// switch, in steps.
	homingChunk int64 = 200

	// homingBackoff is how far the carriage backs off the switch after
	// it triggers, in steps.
	homingBackoff int64 = 100

	// homingTimeout bounds the whole homing routine.
	homingTimeout = 30 * time.Second

	// homingPoll is the wait between completion polls while homing.
	homingPoll = 5 * time.Millisecond

	// EmergencyStopMessage is recorded as the machine fault when an
	// emergency stop fires without a more specific reason.
	EmergencyStopMessage = "emergency stop activated"
)

// Tracker issues relative moves to the driver and watches them to
// completion. It enforces the single-outstanding-move rule: a new move
// is rejected until the previous one has finished.
type Tracker struct {
	driver  hardware.MotorDriver
	sw      hardware.LimitSwitch
	state   *machine.State
	logger  *log.Logger
	moving  bool
	enabled bool

	// sleep is swapped out in tests to avoid real homing delays.
	sleep func(time.Duration)
}

// NewTracker creates a move tracker. sw may be nil when the machine has
// no limit switch.
func NewTracker(driver hardware.MotorDriver, sw hardware.LimitSwitch, state *machine.State) *Tracker {
	return &Tracker{
		driver:  driver,
		sw:      sw,
		state:   state,
		logger:  log.GetLogger("motor"),
		enabled: true,
		sleep:   time.Sleep,
	}
}

// Moving reports whether a move is outstanding.
func (t *Tracker) Moving() bool {
	return t.moving
}

// Enabled reports whether the motor output is powered.
func (t *Tracker) Enabled() bool {
	return t.enabled
}

// IssueMove commands a relative move of steps at the given speed.
// Rejected while another move is outstanding or the output is disabled.
func (t *Tracker) IssueMove(steps int64, speed uint) error {
	if t.moving {
		return kniterr.BadRequest("motor busy: move in progress")
	}
	if !t.enabled {
		return kniterr.BadRequest("motor output disabled")
	}
	if speed > 0 && speed != t.state.CurrentSpeed {
		if err := t.driver.SetSpeed(speed); err != nil {
			return kniterr.Wrap(err, kniterr.CodeHardwareFault, "set speed")
		}
		t.state.CurrentSpeed = speed
	}
	if err := t.driver.Move(steps); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "issue move")
	}
	t.moving = true
	t.state.TargetPosition = t.state.CurrentPosition + steps
	t.logger.Debug("move issued: %d steps, target %d", steps, t.state.TargetPosition)
	return nil
}

// PollCompletion checks the outstanding move once per tick. On the
// moving to idle transition it refreshes the position counter and
// returns completed=true exactly once.
func (t *Tracker) PollCompletion() (completed bool, err error) {
	if !t.moving {
		return false, nil
	}
	rem, err := t.driver.RemainingSteps()
	if err != nil {
		return false, kniterr.Wrap(err, kniterr.CodeHardwareFault, "poll move")
	}
	if rem != 0 {
		return false, nil
	}
	pos, err := t.driver.Position()
	if err != nil {
		return false, kniterr.Wrap(err, kniterr.CodeHardwareFault, "read position")
	}
	t.moving = false
	t.state.CurrentPosition = pos
	t.logger.Debug("move complete at %d", pos)
	return true, nil
}

// SetSpeed changes the cruise speed for subsequent moves.
func (t *Tracker) SetSpeed(speed uint) error {
	if speed == 0 {
		return kniterr.BadRequest("speed must be positive")
	}
	if err := t.driver.SetSpeed(speed); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "set speed")
	}
	t.state.CurrentSpeed = speed
	return nil
}

// Stop requests a decelerate-and-halt. The move is considered finished;
// the position counter resyncs on the next successful driver read.
func (t *Tracker) Stop() error {
	if err := t.driver.Stop(); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "stop motor")
	}
	t.moving = false
	if pos, err := t.driver.Position(); err == nil {
		t.state.CurrentPosition = pos
	}
	t.state.TargetPosition = t.state.CurrentPosition
	return nil
}

// EmergencyStop halts the motor, cuts output power and records the
// fault on the machine state. It never fails: driver errors during an
// emergency are logged and swallowed.
func (t *Tracker) EmergencyStop(reason string) {
	if reason == "" {
		reason = EmergencyStopMessage
	}
	t.logger.Error("emergency stop: %s", reason)
	if err := t.driver.Stop(); err != nil {
		t.logger.Error("emergency stop: halt failed: %v", err)
	}
	if err := t.driver.Disable(); err != nil {
		t.logger.Error("emergency stop: disable failed: %v", err)
	}
	t.moving = false
	t.enabled = false
	t.state.Homed = false
	if pos, err := t.driver.Position(); err == nil {
		t.state.CurrentPosition = pos
	}
	t.state.TargetPosition = t.state.CurrentPosition
	t.state.LastError = reason
}

// Enable powers the motor output on.
func (t *Tracker) Enable() error {
	if err := t.driver.Enable(); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "enable motor")
	}
	t.enabled = true
	return nil
}

// Disable cuts the motor output power. Rejected while a move is
// outstanding; stop the motor first.
func (t *Tracker) Disable() error {
	if t.moving {
		return kniterr.BadRequest("motor busy: stop before disabling")
	}
	if err := t.driver.Disable(); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "disable motor")
	}
	t.enabled = false
	return nil
}

// Home establishes the zero reference. With the limit switch in use
// the carriage creeps toward it at creepSpeed until it triggers, backs
// off a fixed offset and zeroes the counter; otherwise the counter is
// zeroed in place. Synchronous, bounded by homingTimeout.
func (t *Tracker) Home(creepSpeed uint, useSwitch bool) error {
	if t.moving {
		return kniterr.BadRequest("motor busy: stop before homing")
	}
	if !t.enabled {
		return kniterr.BadRequest("motor output disabled")
	}
	if useSwitch && t.sw != nil {
		cruise := t.state.CurrentSpeed
		if err := t.seekSwitch(creepSpeed); err != nil {
			return err
		}
		// seekSwitch drops the driver to the creep speed; put the
		// cruise speed back so later moves run at full rate.
		if cruise > 0 && cruise != t.state.CurrentSpeed {
			if err := t.driver.SetSpeed(cruise); err != nil {
				return kniterr.Wrap(err, kniterr.CodeHardwareFault, "restore speed")
			}
			t.state.CurrentSpeed = cruise
		}
	}
	if err := t.driver.SetPosition(0); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "zero position")
	}
	t.state.CurrentPosition = 0
	t.state.TargetPosition = 0
	t.state.Homed = true
	t.logger.Info("homing complete")
	return nil
}

// seekSwitch creeps toward the limit switch in short chunks and backs
// off once it triggers.
func (t *Tracker) seekSwitch(creepSpeed uint) error {
	if creepSpeed == 0 {
		creepSpeed = 1
	}
	if err := t.driver.SetSpeed(creepSpeed); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "homing speed")
	}
	t.state.CurrentSpeed = creepSpeed

	deadline := time.Now().Add(homingTimeout)
	for {
		triggered, err := t.sw.Triggered()
		if err != nil {
			return kniterr.Wrap(err, kniterr.CodeHardwareFault, "read limit switch")
		}
		if triggered {
			break
		}
		if time.Now().After(deadline) {
			return kniterr.HardwareFault("homing timed out after %s", homingTimeout)
		}
		if err := t.driver.Move(-homingChunk); err != nil {
			return kniterr.Wrap(err, kniterr.CodeHardwareFault, "homing move")
		}
		if err := t.waitIdle(deadline, true); err != nil {
			return err
		}
	}

	// Clear the switch again before zeroing.
	if err := t.driver.Move(homingBackoff); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "homing backoff")
	}
	return t.waitIdle(deadline, false)
}

// waitIdle polls the driver until the current move finishes. When
// stopOnSwitch is set the move is cut short as soon as the limit switch
// triggers.
func (t *Tracker) waitIdle(deadline time.Time, stopOnSwitch bool) error {
	for {
		if stopOnSwitch {
			triggered, err := t.sw.Triggered()
			if err != nil {
				return kniterr.Wrap(err, kniterr.CodeHardwareFault, "read limit switch")
			}
			if triggered {
				if err := t.driver.Stop(); err != nil {
					return kniterr.Wrap(err, kniterr.CodeHardwareFault, "stop at switch")
				}
				return nil
			}
		}
		rem, err := t.driver.RemainingSteps()
		if err != nil {
			return kniterr.Wrap(err, kniterr.CodeHardwareFault, "poll homing move")
		}
		if rem == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return kniterr.HardwareFault("homing timed out after %s", homingTimeout)
		}
		t.sleep(homingPoll)
	}
}
