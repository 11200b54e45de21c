// Daemon metric set
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

// Set holds the daemon's metrics, registered on one registry.
type Set struct {
	registry *Registry

	// Loop
	TicksTotal *Counter

	// Commands, labelled by op and by error code.
	CommandsTotal      *Counter
	CommandErrorsTotal *Counter

	// Motion
	MovesTotal     *Counter
	StepsTotal     *Counter
	MoveSeconds    *Histogram
	EmergencyStops *Counter

	// Patterns, runs labelled by outcome.
	PatternRunsTotal *Counter
	PatternActive    *Gauge

	// Transport
	WSClients       *Gauge
	BroadcastsTotal *Counter
}

// NewSet creates and registers the daemon metric set.
func NewSet() *Set {
	s := &Set{registry: NewRegistry()}

	s.TicksTotal = NewCounter("knitterd_loop_ticks_total",
		"Control loop ticks executed")
	s.CommandsTotal = NewCounter("knitterd_commands_total",
		"Commands dispatched, by operation")
	s.CommandErrorsTotal = NewCounter("knitterd_command_errors_total",
		"Commands rejected or failed, by error code")
	s.MovesTotal = NewCounter("knitterd_moves_total",
		"Motor moves issued")
	s.StepsTotal = NewCounter("knitterd_steps_total",
		"Motor steps commanded")
	s.MoveSeconds = NewHistogram("knitterd_move_seconds",
		"Wall time of completed motor moves", DefaultBuckets())
	s.EmergencyStops = NewCounter("knitterd_emergency_stops_total",
		"Emergency stops triggered")
	s.PatternRunsTotal = NewCounter("knitterd_pattern_runs_total",
		"Pattern runs finished, by outcome")
	s.PatternActive = NewGauge("knitterd_pattern_active",
		"Whether a pattern is loaded (1) or not (0)")
	s.WSClients = NewGauge("knitterd_ws_clients",
		"Connected websocket push clients")
	s.BroadcastsTotal = NewCounter("knitterd_broadcasts_total",
		"Push broadcasts sent, by message type")

	for _, m := range []Metric{
		s.TicksTotal, s.CommandsTotal, s.CommandErrorsTotal,
		s.MovesTotal, s.StepsTotal, s.MoveSeconds, s.EmergencyStops,
		s.PatternRunsTotal, s.PatternActive,
		s.WSClients, s.BroadcastsTotal,
	} {
		s.registry.MustRegister(m)
	}
	return s
}

// Registry returns the set's registry, for the /metrics handler.
func (s *Set) Registry() *Registry {
	return s.registry
}
