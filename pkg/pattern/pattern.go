// Knitting pattern model and parser
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package pattern implements the knitting pattern file format and the
// engine that steps a loaded pattern through the motor.
package pattern

import (
	"encoding/json"

	"knitterd/pkg/kniterr"
)

// Kind is the command discriminator inside a pattern.
type Kind int

const (
	// KindMove commands a relative carriage move.
	KindMove Kind = iota
	// KindPause waits for a duration before the next command.
	KindPause
	// KindSetSpeed changes the cruise speed for subsequent moves.
	KindSetSpeed
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindPause:
		return "pause"
	case KindSetSpeed:
		return "speed"
	}
	return "unknown"
}

// Command is one parsed pattern step. Commands are immutable once
// parsed; the slice is rebuilt on every load and discarded on stop.
type Command struct {
	Kind Kind

	// Value is steps for Move, milliseconds for Pause and steps per
	// second for SetSpeed.
	Value int64

	// Reverse negates the move direction. Move only.
	Reverse bool

	Description string
}

// File is a parsed pattern file.
type File struct {
	Name        string
	Description string
	Commands    []Command
}

// rawStep mirrors the on-disk step object. Value is a pointer so a
// missing field can be told apart from an explicit zero.
type rawStep struct {
	Type        string `json:"type"`
	Value       *int64 `json:"value"`
	Direction   string `json:"direction"`
	Description string `json:"description"`
}

type rawFile struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Steps       []rawStep `json:"steps"`
}

// Parse decodes and validates a pattern file. All failures carry the
// VALIDATION code; decode failures are distinguished by message.
func Parse(data []byte) (*File, error) {
	var raw rawFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, kniterr.Wrap(err, kniterr.CodeValidation, "pattern is not valid JSON")
	}
	if len(raw.Steps) == 0 {
		return nil, kniterr.Validation("pattern has no steps")
	}

	f := &File{
		Name:        raw.Name,
		Description: raw.Description,
		Commands:    make([]Command, 0, len(raw.Steps)),
	}
	for i, step := range raw.Steps {
		if step.Value == nil {
			return nil, kniterr.Validation("step %d: missing value", i)
		}
		cmd := Command{Value: *step.Value, Description: step.Description}
		switch step.Type {
		case "move":
			cmd.Kind = KindMove
			switch step.Direction {
			case "", "CW":
			case "CCW":
				cmd.Reverse = true
			default:
				return nil, kniterr.Validation("step %d: unknown direction %q", i, step.Direction)
			}
			if cmd.Value < 0 {
				return nil, kniterr.Validation("step %d: negative move, use direction CCW", i)
			}
		case "pause":
			cmd.Kind = KindPause
			if cmd.Value < 0 {
				return nil, kniterr.Validation("step %d: negative pause", i)
			}
		case "speed":
			cmd.Kind = KindSetSpeed
			if cmd.Value <= 0 {
				return nil, kniterr.Validation("step %d: speed must be positive", i)
			}
		default:
			return nil, kniterr.Validation("step %d: unknown step type %q", i, step.Type)
		}
		f.Commands = append(f.Commands, cmd)
	}
	return f, nil
}
