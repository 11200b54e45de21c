// Pattern execution engine
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pattern

import (
	"errors"

	"knitterd/pkg/kniterr"
	"knitterd/pkg/log"
	"knitterd/pkg/machine"
	"knitterd/pkg/motor"
	"knitterd/pkg/storage"
)

// Event tells the controller what a tick of the engine produced.
type Event int

const (
	// EventNone means nothing observable happened.
	EventNone Event = iota
	// EventProgress means the step index advanced.
	EventProgress
	// EventCompleted means the pattern ran to the end and the engine
	// is idle again.
	EventCompleted
)

// Engine steps a loaded pattern through the motor tracker, one command
// at a time. Loop-owned: every method runs from control-loop context.
// Running/paused phase lives on the machine state; the engine enforces
// that at most one physical move is outstanding.
type Engine struct {
	store    storage.Store
	tracker  *motor.Tracker
	state    *machine.State
	maxSpeed func() uint
	logger   *log.Logger

	commands []Command

	// waitingMove is set between issuing a move command and its
	// completion callback. The index advances only in OnMoveComplete,
	// so a move that finishes while the pattern is paused is not
	// re-issued on resume.
	waitingMove bool

	// pauseWait/pauseUntil model a pause command as a resume deadline
	// in monotonic loop seconds, keeping the loop responsive.
	pauseWait  bool
	pauseUntil float64
}

// NewEngine creates a pattern engine reading pattern files from store.
// maxSpeed supplies the configured speed ceiling for speed commands.
func NewEngine(store storage.Store, tracker *motor.Tracker, state *machine.State, maxSpeed func() uint) *Engine {
	return &Engine{
		store:    store,
		tracker:  tracker,
		state:    state,
		maxSpeed: maxSpeed,
		logger:   log.GetLogger("pattern"),
	}
}

// Active reports whether a pattern is loaded (running or paused).
func (e *Engine) Active() bool {
	return e.state.Running
}

// Start loads, parses and validates the named pattern and begins
// executing it. A pattern already in progress is replaced.
func (e *Engine) Start(name string) error {
	data, err := e.store.Read(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return kniterr.NotFound("pattern %q not found", name)
		}
		return kniterr.StorageFault(err, "read pattern")
	}
	f, err := Parse(data)
	if err != nil {
		return err
	}

	e.commands = f.Commands
	e.waitingMove = false
	e.pauseWait = false
	e.state.Running = true
	e.state.Paused = false
	e.state.CurrentPatternName = name
	e.state.PatternStepIndex = 0
	e.state.PatternStepCount = uint(len(f.Commands))
	e.state.LastError = ""
	e.logger.Info("pattern %q started: %d steps", name, len(f.Commands))
	return nil
}

// Advance runs one engine step. Called once per tick while the pattern
// is running and not paused; it issues at most one command and never
// blocks. now is the monotonic loop time in seconds.
func (e *Engine) Advance(now float64) (Event, error) {
	if !e.state.Running || e.state.Paused {
		return EventNone, nil
	}
	if e.waitingMove {
		return EventNone, nil
	}
	if e.pauseWait {
		if now < e.pauseUntil {
			return EventNone, nil
		}
		e.pauseWait = false
		e.state.PatternStepIndex++
		return EventProgress, nil
	}
	if e.state.PatternStepIndex >= e.state.PatternStepCount {
		return e.complete()
	}
	if e.tracker.Moving() {
		// Manual move still in flight; wait for the motor.
		return EventNone, nil
	}

	cmd := e.commands[e.state.PatternStepIndex]
	switch cmd.Kind {
	case KindMove:
		steps := cmd.Value
		if cmd.Reverse {
			steps = -steps
		}
		if err := e.tracker.IssueMove(steps, 0); err != nil {
			return EventNone, err
		}
		e.waitingMove = true
	case KindPause:
		e.pauseWait = true
		e.pauseUntil = now + float64(cmd.Value)/1000.0
	case KindSetSpeed:
		speed := uint(cmd.Value)
		if max := e.maxSpeed(); speed > max {
			speed = max
		}
		if speed == 0 {
			speed = 1
		}
		if err := e.tracker.SetSpeed(speed); err != nil {
			return EventNone, err
		}
		e.state.PatternStepIndex++
		return EventProgress, nil
	}
	return EventNone, nil
}

// OnMoveComplete advances past a move command once the tracker reports
// its completion. Safe to call while paused: the index moves so the
// finished move is not issued again on resume. Reports whether the
// index advanced.
func (e *Engine) OnMoveComplete() bool {
	if !e.state.Running || !e.waitingMove {
		return false
	}
	e.waitingMove = false
	e.state.PatternStepIndex++
	return true
}

// Pause suspends execution. No-op unless running and unpaused; reports
// whether the phase changed. An outstanding physical move finishes on
// its own.
func (e *Engine) Pause() bool {
	if !e.state.Running || e.state.Paused {
		return false
	}
	e.state.Paused = true
	e.logger.Info("pattern %q paused at step %d", e.state.CurrentPatternName, e.state.PatternStepIndex)
	return true
}

// Resume continues a paused pattern. No-op unless paused; reports
// whether the phase changed.
func (e *Engine) Resume() bool {
	if !e.state.Running || !e.state.Paused {
		return false
	}
	e.state.Paused = false
	return true
}

// Stop aborts the pattern and halts the motor. Valid from any state.
func (e *Engine) Stop() error {
	e.commands = nil
	e.waitingMove = false
	e.pauseWait = false
	e.state.ClearPattern()
	if err := e.tracker.Stop(); err != nil {
		return err
	}
	return nil
}

// complete finishes a pattern whose last step has run.
func (e *Engine) complete() (Event, error) {
	name := e.state.CurrentPatternName
	e.commands = nil
	e.state.ClearPattern()
	if err := e.tracker.Stop(); err != nil {
		return EventCompleted, err
	}
	e.logger.Info("pattern %q completed", name)
	return EventCompleted, nil
}
