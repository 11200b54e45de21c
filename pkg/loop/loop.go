// Cooperative control loop
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package loop runs the single cooperative control loop. All machine
// state mutation happens on this loop: transports hand work in through
// Enqueue and the registered tick tasks run in order on every tick.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Enqueue after the loop has ended.
var ErrClosed = errors.New("loop: closed")

// Task is one tick task. eventtime is the monotonic loop time in
// seconds.
type Task func(eventtime float64)

// Loop is a single-goroutine tick loop. Tasks are registered before
// Run and execute in registration order; queued commands drain ahead
// of the tasks on every tick.
type Loop struct {
	interval time.Duration
	tasks    []Task
	commands chan func(eventtime float64)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	running atomic.Bool
	wg      sync.WaitGroup

	startTime time.Time
}

// New creates a loop ticking at the given interval.
func New(interval time.Duration) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		interval:  interval,
		commands:  make(chan func(eventtime float64), 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
}

// Monotonic returns the current monotonic loop time in seconds.
func (l *Loop) Monotonic() float64 {
	return time.Since(l.startTime).Seconds()
}

// AddTask appends a tick task. Must be called before Run.
func (l *Loop) AddTask(t Task) {
	l.tasks = append(l.tasks, t)
}

// Enqueue hands a command to the loop. It blocks while the queue is
// full and fails with ErrClosed once the loop has ended. A queued
// command triggers an immediate tick, so replies do not wait for the
// next interval.
func (l *Loop) Enqueue(fn func(eventtime float64)) error {
	select {
	case <-l.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case l.commands <- fn:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	}
}

// Run starts the loop goroutine.
func (l *Loop) Run() {
	if l.running.Swap(true) {
		return
	}
	l.wg.Add(1)
	go l.dispatchLoop()
}

// End signals the loop to stop.
func (l *Loop) End() {
	l.running.Store(false)
	l.cancel()
}

// Wait blocks until the loop goroutine has exited.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// Done is closed after the loop goroutine has run its final drain.
// A command that raced past Enqueue's shutdown check but never ran
// will not run once Done is closed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) dispatchLoop() {
	// A command can slip into the queue between the shutdown drain
	// and Enqueue observing the cancel. Drain once more so its reply
	// is not stranded, then signal Done.
	defer func() {
		l.drainCommands(l.Monotonic())
		close(l.done)
		l.wg.Done()
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for l.running.Load() {
		select {
		case <-ticker.C:
			l.tick(nil)
		case fn := <-l.commands:
			// Run a full tick right away so command replies are not
			// delayed by the tick interval.
			l.tick(fn)
		case <-l.ctx.Done():
			l.drainCommands(l.Monotonic())
			return
		}
	}
}

// tick drains queued commands and runs every task once, in order.
func (l *Loop) tick(first func(eventtime float64)) {
	eventtime := l.Monotonic()
	if first != nil {
		first(eventtime)
	}
	l.drainCommands(eventtime)
	for _, t := range l.tasks {
		t(eventtime)
	}
}

func (l *Loop) drainCommands(eventtime float64) {
	for {
		select {
		case fn := <-l.commands:
			fn(eventtime)
		default:
			return
		}
	}
}
