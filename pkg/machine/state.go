// Package machine defines the in-memory machine state and configuration
// models shared by the controller components.
package machine

// State is the process-wide machine state snapshot. It is owned by the
// control loop: every mutation happens from loop context, so no locking
// is needed. Other goroutines observe it only through payloads built on
// the loop (status broadcasts, command replies).
type State struct {
	Connected bool
	Running   bool
	Paused    bool
	Homed     bool

	// Positions are in motor step units. TargetPosition is only
	// meaningful while a move is outstanding.
	CurrentPosition int64
	TargetPosition  int64

	// CurrentSpeed is in steps per second.
	CurrentSpeed uint

	CurrentPatternName string
	PatternStepIndex   uint
	PatternStepCount   uint

	// LastError is a one-shot fault string: it is cleared again after
	// the corresponding error broadcast goes out.
	LastError string

	// LastHeartbeat is the monotonic loop time of the last status
	// broadcast, in seconds.
	LastHeartbeat float64

	ConnectedClientCount uint
}

// NewState returns a zeroed machine state.
func NewState() *State {
	return &State{}
}

// StatusPayload builds the status broadcast payload. timestamp is the
// monotonic loop time in seconds.
func (s *State) StatusPayload(timestamp float64) map[string]interface{} {
	return map[string]interface{}{
		"type":         "status",
		"connected":    s.Connected,
		"running":      s.Running,
		"paused":       s.Paused,
		"homed":        s.Homed,
		"position":     s.CurrentPosition,
		"target":       s.TargetPosition,
		"speed":        s.CurrentSpeed,
		"pattern":      s.CurrentPatternName,
		"pattern_step": s.PatternStepIndex,
		"total_steps":  s.PatternStepCount,
		"timestamp":    timestamp,
	}
}

// ProgressPayload builds the pattern-progress broadcast payload.
// Percent uses integer truncation.
func (s *State) ProgressPayload() map[string]interface{} {
	var percent uint
	if s.PatternStepCount > 0 {
		percent = s.PatternStepIndex * 100 / s.PatternStepCount
	}
	return map[string]interface{}{
		"type":    "pattern_progress",
		"step":    s.PatternStepIndex,
		"total":   s.PatternStepCount,
		"percent": percent,
	}
}

// ErrorPayload builds the error broadcast payload.
func ErrorPayload(message string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "error",
		"message": message,
	}
}

// ClearPattern resets the pattern-progress fields alongside the running
// flags. Called when pattern execution reaches Idle.
func (s *State) ClearPattern() {
	s.Running = false
	s.Paused = false
	s.CurrentPatternName = ""
	s.PatternStepIndex = 0
	s.PatternStepCount = 0
}
