// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package machine

import "testing"

func TestProgressPayloadTruncates(t *testing.T) {
	tests := []struct {
		step, total uint
		want        uint
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{0, 0, 0},
	}

	for _, tt := range tests {
		s := &State{PatternStepIndex: tt.step, PatternStepCount: tt.total}
		got := s.ProgressPayload()
		if got["percent"] != tt.want {
			t.Errorf("percent at %d/%d = %v, want %d", tt.step, tt.total, got["percent"], tt.want)
		}
	}
}

func TestClearPattern(t *testing.T) {
	s := &State{
		Running:            true,
		Paused:             true,
		CurrentPatternName: "scarf.json",
		PatternStepIndex:   4,
		PatternStepCount:   9,
		CurrentPosition:    250,
		Homed:              true,
	}
	s.ClearPattern()

	if s.Running || s.Paused || s.CurrentPatternName != "" ||
		s.PatternStepIndex != 0 || s.PatternStepCount != 0 {
		t.Errorf("pattern fields not cleared: %+v", s)
	}
	// Position and homing survive a pattern reset.
	if s.CurrentPosition != 250 || !s.Homed {
		t.Errorf("motor fields clobbered: %+v", s)
	}
}
