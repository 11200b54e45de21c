// Machine controller
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package controller ties the machine state, configuration store, motor
// tracker and pattern engine together on the control loop. It is the
// dispatch target for both transports and owns every broadcast.
package controller

import (
	"time"

	"knitterd/pkg/config"
	"knitterd/pkg/dispatch"
	"knitterd/pkg/hardware"
	"knitterd/pkg/history"
	"knitterd/pkg/kniterr"
	"knitterd/pkg/log"
	"knitterd/pkg/loop"
	"knitterd/pkg/machine"
	"knitterd/pkg/metrics"
	"knitterd/pkg/motor"
	"knitterd/pkg/pattern"
	"knitterd/pkg/storage"
)

const (
	// inactivityPause is how long a pattern keeps running with zero
	// push clients before the controller pauses it.
	inactivityPause = 30.0

	// completionBeep is the buzzer duration on pattern completion.
	completionBeep = 200 * time.Millisecond

	// faultBeep is the buzzer duration on an emergency stop.
	faultBeep = time.Second
)

// Broadcaster pushes messages to every connected websocket client.
type Broadcaster interface {
	Broadcast(payload map[string]interface{})
	ClientCount() int
}

// Controller orchestrates the machine. All mutation happens on the
// control loop: transports call Execute, which enqueues the command and
// blocks the caller (never the loop) until the reply arrives.
type Controller struct {
	state    *machine.State
	cfg      *config.Store
	tracker  *motor.Tracker
	engine   *pattern.Engine
	patterns storage.Store
	lp       *loop.Loop
	hub      Broadcaster
	signal   hardware.SignalIO
	sw       hardware.LimitSwitch
	hist     *history.Store
	met      *metrics.Set
	logger   *log.Logger

	lastBroadcast  float64
	lastClientSeen float64
	swTriggered    bool

	// runID tracks the open history row for the active pattern run.
	runID     int64
	moveStart float64
	moveOpen  bool
}

// Options carries the controller's collaborators. Signal, History and
// Switch may be nil.
type Options struct {
	State    *machine.State
	Config   *config.Store
	Tracker  *motor.Tracker
	Engine   *pattern.Engine
	Patterns storage.Store
	Loop     *loop.Loop
	Hub      Broadcaster
	Signal   hardware.SignalIO
	Switch   hardware.LimitSwitch
	History  *history.Store
	Metrics  *metrics.Set
}

// New creates the controller and registers its tick task on the loop.
func New(opts Options) *Controller {
	c := &Controller{
		state:    opts.State,
		cfg:      opts.Config,
		tracker:  opts.Tracker,
		engine:   opts.Engine,
		patterns: opts.Patterns,
		lp:       opts.Loop,
		hub:      opts.Hub,
		signal:   opts.Signal,
		sw:       opts.Switch,
		hist:     opts.History,
		met:      opts.Metrics,
		logger:   log.GetLogger("controller"),
	}
	if c.signal == nil {
		c.signal = hardware.NopSignal{}
	}
	if c.met == nil {
		c.met = metrics.NewSet()
	}
	c.state.Connected = true
	c.lp.AddTask(c.tick)
	return c
}

// Execute decodes and runs one command on the control loop, blocking
// the calling goroutine until the loop replies.
func (c *Controller) Execute(raw []byte) dispatch.Result {
	ch := make(chan dispatch.Result, 1)
	err := c.lp.Enqueue(func(now float64) {
		res := dispatch.Dispatch(c, raw)
		c.countCommand(res)
		if res.Err == nil {
			if res.BroadcastStatus {
				c.broadcastStatus(now)
			}
			if res.BroadcastConfig {
				c.broadcast(c.cfg.Get().Payload())
			}
		}
		ch <- res
	})
	if err != nil {
		return dispatch.Result{Err: kniterr.New(kniterr.CodeHardwareFault, "controller is shutting down")}
	}
	select {
	case res := <-ch:
		return res
	case <-c.lp.Done():
		// The loop's final drain ran; prefer a reply it produced.
		select {
		case res := <-ch:
			return res
		default:
			return dispatch.Result{Err: kniterr.New(kniterr.CodeHardwareFault, "controller is shutting down")}
		}
	}
}

func (c *Controller) countCommand(res dispatch.Result) {
	op := res.Op
	if op == "" {
		op = "invalid"
	}
	c.met.CommandsTotal.Inc(metrics.Labels{"op": op})
	if res.Err != nil {
		code, ok := kniterr.CodeOf(res.Err)
		if !ok {
			code = "INTERNAL"
		}
		c.met.CommandErrorsTotal.Inc(metrics.Labels{"code": string(code)})
	}
}

// tick runs once per loop iteration, after queued commands drained.
func (c *Controller) tick(now float64) {
	c.met.TicksTotal.Inc(nil)

	clients := c.hub.ClientCount()
	c.state.ConnectedClientCount = uint(clients)
	c.met.WSClients.Set(nil, float64(clients))
	if clients > 0 {
		c.lastClientSeen = now
	}

	c.pollMotor(now)
	c.advancePattern(now)

	interval := float64(c.cfg.Get().BroadcastIntervalMs) / 1000.0
	if now-c.lastBroadcast >= interval {
		c.broadcastStatus(now)
	}
	c.flushError()

	c.checkInactivity(now)
	c.checkLimitSwitch()
}

func (c *Controller) pollMotor(now float64) {
	done, err := c.tracker.PollCompletion()
	if err != nil {
		c.emergency(err.Error())
		return
	}
	if !done {
		return
	}
	if c.moveOpen {
		c.met.MoveSeconds.Observe(nil, now-c.moveStart)
		c.moveOpen = false
	}
	if c.engine.Active() && c.engine.OnMoveComplete() {
		c.broadcast(c.state.ProgressPayload())
	}
}

func (c *Controller) advancePattern(now float64) {
	if !c.engine.Active() {
		return
	}
	ev, err := c.engine.Advance(now)
	if err != nil {
		if kniterr.Is(err, kniterr.CodeHardwareFault) {
			c.emergency(err.Error())
			return
		}
		// A pattern that cannot advance will not recover on its own;
		// stop it so the error broadcast stays a one-shot instead of
		// repeating every tick.
		c.logger.Error("pattern advance: %v", err)
		c.finishRun(history.OutcomeFault, c.state.PatternStepIndex)
		c.met.PatternActive.Set(nil, 0)
		if serr := c.engine.Stop(); serr != nil {
			c.logger.Error("stopping faulted pattern: %v", serr)
		}
		c.state.LastError = err.Error()
		return
	}
	switch ev {
	case pattern.EventProgress:
		c.broadcast(c.state.ProgressPayload())
	case pattern.EventCompleted:
		c.finishRun(history.OutcomeCompleted, c.state.PatternStepCount)
		c.met.PatternActive.Set(nil, 0)
		if c.cfg.Get().BuzzerEnabled {
			c.signal.Beep(completionBeep)
		}
		c.broadcastStatus(now)
	}
}

// flushError sends the one-shot error broadcast and clears lastError.
func (c *Controller) flushError() {
	if c.state.LastError == "" {
		return
	}
	c.broadcast(machine.ErrorPayload(c.state.LastError))
	c.state.LastError = ""
}

func (c *Controller) checkInactivity(now float64) {
	if !c.state.Running || c.state.Paused {
		return
	}
	if now-c.lastClientSeen <= inactivityPause {
		return
	}
	c.logger.Warn("no push clients for %.0fs, pausing pattern", now-c.lastClientSeen)
	if c.engine.Pause() {
		c.broadcastStatus(now)
	}
}

func (c *Controller) checkLimitSwitch() {
	if c.sw == nil || !c.cfg.Get().LimitSwitchEnabled {
		c.swTriggered = false
		return
	}
	triggered, err := c.sw.Triggered()
	if err != nil {
		c.logger.Error("limit switch read: %v", err)
		return
	}
	if triggered && !c.swTriggered {
		c.emergency("limit switch triggered")
	}
	c.swTriggered = triggered
}

// emergency halts everything and records the fault. The error
// broadcast goes out on this tick's flushError pass.
func (c *Controller) emergency(reason string) {
	c.met.EmergencyStops.Inc(nil)
	if c.engine.Active() {
		c.finishRun(history.OutcomeFault, c.state.PatternStepIndex)
		c.met.PatternActive.Set(nil, 0)
		_ = c.engine.Stop()
	}
	c.tracker.EmergencyStop(reason)
	if c.cfg.Get().BuzzerEnabled {
		c.signal.Beep(faultBeep)
	}
	c.signal.SetLED(false)
}

func (c *Controller) broadcast(payload map[string]interface{}) {
	if t, ok := payload["type"].(string); ok {
		c.met.BroadcastsTotal.Inc(metrics.Labels{"type": t})
	}
	c.hub.Broadcast(payload)
}

func (c *Controller) broadcastStatus(now float64) {
	c.state.LastHeartbeat = now
	c.lastBroadcast = now
	c.signal.SetLED(c.state.Running && !c.state.Paused)
	c.broadcast(c.state.StatusPayload(now))
}

func (c *Controller) finishRun(outcome string, stepsDone uint) {
	if c.hist == nil || c.runID == 0 {
		return
	}
	if err := c.hist.RecordEnd(c.runID, outcome, stepsDone); err != nil {
		c.logger.Error("history: %v", err)
	}
	c.runID = 0
	c.met.PatternRunsTotal.Inc(metrics.Labels{"outcome": outcome})
}

// History lists recent pattern runs. Safe off-loop; the history store
// does its own locking.
func (c *Controller) History(limit int) ([]history.Run, error) {
	if c.hist == nil {
		return nil, kniterr.New(kniterr.CodeNotFound, "run history is not enabled")
	}
	runs, err := c.hist.List(limit)
	if err != nil {
		return nil, kniterr.StorageFault(err, "list history")
	}
	return runs, nil
}
