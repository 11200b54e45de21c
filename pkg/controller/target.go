// Dispatch target implementation
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"knitterd/pkg/history"
	"knitterd/pkg/kniterr"
	"knitterd/pkg/machine"
	"knitterd/pkg/motor"
	"knitterd/pkg/pattern"
)

// GetStatus returns the status payload.
func (c *Controller) GetStatus() map[string]interface{} {
	return c.state.StatusPayload(c.lp.Monotonic())
}

// GetConfig returns the configuration payload.
func (c *Controller) GetConfig() map[string]interface{} {
	return c.cfg.Get().Payload()
}

// SetConfig merges a configuration patch.
func (c *Controller) SetConfig(patch machine.ConfigPatch) (map[string]interface{}, error) {
	cfg, err := c.cfg.Set(patch)
	if err != nil {
		return nil, err
	}
	c.state.CurrentSpeed = cfg.MaxSpeed
	return cfg.Payload(), nil
}

// MotorMove issues a manual relative move. speed 0 means the configured
// maximum; explicit speeds are clamped to [1, maxSpeed]. The applied
// speed is returned for the reply echo.
func (c *Controller) MotorMove(steps int64, speed uint) (uint, error) {
	if c.engine.Active() {
		return 0, kniterr.BadRequest("pattern in progress, stop it before manual moves")
	}
	max := c.cfg.MaxSpeed()
	if speed == 0 || speed > max {
		speed = max
	}
	if err := c.tracker.IssueMove(steps, speed); err != nil {
		return 0, err
	}
	c.met.MovesTotal.Inc(nil)
	abs := steps
	if abs < 0 {
		abs = -abs
	}
	c.met.StepsTotal.Add(nil, uint64(abs))
	c.moveStart = c.lp.Monotonic()
	c.moveOpen = true
	return speed, nil
}

// MotorStop halts the motor; an active pattern is stopped with it so it
// cannot wait forever on a move that will never finish.
func (c *Controller) MotorStop() error {
	if c.engine.Active() {
		return c.PatternStop()
	}
	return c.tracker.Stop()
}

// MotorHome runs the homing routine at a quarter of the configured
// maximum speed.
func (c *Controller) MotorHome() error {
	if c.engine.Active() {
		return kniterr.BadRequest("pattern in progress, stop it before homing")
	}
	cfg := c.cfg.Get()
	creep := cfg.MaxSpeed / 4
	if creep == 0 {
		creep = 1
	}
	return c.tracker.Home(creep, cfg.LimitSwitchEnabled)
}

// MotorEnable powers the motor output on.
func (c *Controller) MotorEnable() error {
	return c.tracker.Enable()
}

// MotorDisable cuts the motor output power.
func (c *Controller) MotorDisable() error {
	if c.engine.Active() {
		return kniterr.BadRequest("pattern in progress, stop it before disabling")
	}
	return c.tracker.Disable()
}

// PatternUpload stores a pattern file. The content is stored as-is;
// validation happens on start and the listing flags unparseable files.
func (c *Controller) PatternUpload(filename string, content []byte) error {
	if err := c.patterns.Write(filename, content); err != nil {
		return kniterr.StorageFault(err, "store pattern")
	}
	c.logger.Info("pattern %q uploaded (%d bytes)", filename, len(content))
	return nil
}

// PatternList lists stored patterns with best-effort metadata.
func (c *Controller) PatternList() (interface{}, error) {
	return pattern.Summaries(c.patterns)
}

// PatternStart loads and starts a pattern.
func (c *Controller) PatternStart(filename string) error {
	if !c.tracker.Enabled() {
		return kniterr.BadRequest("motor output disabled, enable it before starting a pattern")
	}
	if c.engine.Active() {
		// Replacing a run finishes its history row first.
		c.finishRun(history.OutcomeStopped, c.state.PatternStepIndex)
	}
	if err := c.engine.Start(filename); err != nil {
		return err
	}
	// The inactivity clock starts fresh so a run started over plain
	// HTTP gets its full grace period.
	c.lastClientSeen = c.lp.Monotonic()
	c.met.PatternActive.Set(nil, 1)
	if c.hist != nil {
		id, err := c.hist.RecordStart(filename, c.state.PatternStepCount)
		if err != nil {
			c.logger.Error("history: %v", err)
		} else {
			c.runID = id
		}
	}
	return nil
}

// PatternPause suspends the running pattern.
func (c *Controller) PatternPause() (bool, error) {
	return c.engine.Pause(), nil
}

// PatternResume continues a paused pattern.
func (c *Controller) PatternResume() (bool, error) {
	return c.engine.Resume(), nil
}

// PatternStop aborts the active pattern.
func (c *Controller) PatternStop() error {
	if c.engine.Active() {
		c.finishRun(history.OutcomeStopped, c.state.PatternStepIndex)
	}
	c.met.PatternActive.Set(nil, 0)
	return c.engine.Stop()
}

// SystemRestart clears transient state: motion stops, the pattern is
// discarded, the motor output comes back on and the persisted
// configuration is re-read. The zero reference is lost.
func (c *Controller) SystemRestart() error {
	c.logger.Warn("system restart requested")
	if c.engine.Active() {
		c.finishRun(history.OutcomeStopped, c.state.PatternStepIndex)
	}
	c.met.PatternActive.Set(nil, 0)
	if err := c.engine.Stop(); err != nil {
		c.logger.Error("restart: %v", err)
	}
	if err := c.tracker.Enable(); err != nil {
		return err
	}
	c.state.Homed = false
	c.state.LastError = ""
	if err := c.cfg.Load(); err != nil {
		return err
	}
	c.state.CurrentSpeed = c.cfg.MaxSpeed()
	return nil
}

// SystemReset is a restart plus factory configuration.
func (c *Controller) SystemReset() error {
	c.logger.Warn("factory reset requested")
	if err := c.SystemRestart(); err != nil {
		return err
	}
	cfg, err := c.cfg.Reset()
	if err != nil {
		return err
	}
	c.state.CurrentSpeed = cfg.MaxSpeed
	c.broadcast(cfg.Payload())
	return nil
}

// EmergencyStop is the commanded emergency stop.
func (c *Controller) EmergencyStop() {
	c.emergency(motor.EmergencyStopMessage)
}
