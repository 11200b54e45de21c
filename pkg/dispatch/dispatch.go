// Command decoding and routing
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package dispatch decodes transport commands and routes them to the
// controller. Both transports speak the same envelope: a JSON object
// whose "type" field names the operation. Decoding is all-or-nothing; a
// malformed or out-of-range field rejects the command before anything
// mutates.
package dispatch

import (
	"bytes"
	"encoding/json"

	"knitterd/pkg/kniterr"
	"knitterd/pkg/machine"
)

// Operation names shared by the REST routes and the websocket channel.
const (
	OpGetStatus     = "get_status"
	OpGetConfig     = "get_config"
	OpSetConfig     = "set_config"
	OpMotorMove     = "motor_move"
	OpMotorStop     = "motor_stop"
	OpMotorHome     = "motor_home"
	OpMotorEnable   = "motor_enable"
	OpMotorDisable  = "motor_disable"
	OpPatternUpload = "pattern_upload"
	OpPatternList   = "pattern_list"
	OpPatternStart  = "pattern_start"
	OpPatternPause  = "pattern_pause"
	OpPatternResume = "pattern_resume"
	OpPatternStop   = "pattern_stop"
	OpSystemRestart = "system_restart"
	OpSystemReset   = "system_reset"
	OpEmergencyStop = "emergency_stop"
	OpPing          = "ping"
)

// MaxMoveSteps bounds a single commanded move.
const MaxMoveSteps = 100000

// Target is the command surface the dispatcher drives. The controller
// implements it on the control loop.
type Target interface {
	GetStatus() map[string]interface{}
	GetConfig() map[string]interface{}
	SetConfig(patch machine.ConfigPatch) (map[string]interface{}, error)

	// MotorMove commands a relative move. speed 0 means the configured
	// maximum; the speed actually applied (after defaulting and
	// clamping) is returned so the reply can echo it.
	MotorMove(steps int64, speed uint) (uint, error)
	MotorStop() error
	MotorHome() error
	MotorEnable() error
	MotorDisable() error

	PatternUpload(filename string, content []byte) error
	PatternList() (interface{}, error)
	PatternStart(filename string) error

	// PatternPause and PatternResume report whether the phase actually
	// changed; pausing a paused pattern is a silent no-op.
	PatternPause() (bool, error)
	PatternResume() (bool, error)
	PatternStop() error

	SystemRestart() error
	SystemReset() error
	EmergencyStop()
}

// Result is the outcome of one dispatched command.
type Result struct {
	// Op is the decoded operation name, empty when the envelope itself
	// was unreadable.
	Op string

	// Payload is the reply sent to the requester.
	Payload map[string]interface{}

	// BroadcastStatus asks for a status broadcast to all push clients.
	BroadcastStatus bool

	// BroadcastConfig asks for a config broadcast to all push clients.
	BroadcastConfig bool

	Err error
}

func fail(err error) Result {
	return Result{Err: err}
}

func ok() map[string]interface{} {
	return map[string]interface{}{"result": "ok"}
}

// decode unmarshals raw into dst rejecting unknown fields.
func decode(raw []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return kniterr.BadRequest("malformed command: %v", err)
	}
	return nil
}

type envelope struct {
	Type string `json:"type"`
}

type moveRequest struct {
	Type      string `json:"type"`
	Steps     *int64 `json:"steps"`
	Direction string `json:"direction"`
	Speed     *uint  `json:"speed"`
}

type setConfigRequest struct {
	Type string `json:"type"`
	machine.ConfigPatch
}

type patternStartRequest struct {
	Type     string  `json:"type"`
	Filename *string `json:"filename"`
}

type patternUploadRequest struct {
	Type     string  `json:"type"`
	Filename *string `json:"filename"`
	Content  *string `json:"content"`
}

// Dispatch decodes one command envelope and executes it against the
// target. It must run on the control loop; the Target methods mutate
// loop-owned state.
func Dispatch(t Target, raw []byte) Result {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fail(kniterr.BadRequest("malformed command: %v", err))
	}
	res := dispatchOp(t, env.Type, raw)
	res.Op = env.Type
	return res
}

func dispatchOp(t Target, op string, raw []byte) Result {
	switch op {
	case OpPing:
		return Result{Payload: map[string]interface{}{"type": "pong"}}

	case OpGetStatus:
		return Result{Payload: t.GetStatus()}

	case OpGetConfig:
		return Result{Payload: t.GetConfig()}

	case OpSetConfig:
		var req setConfigRequest
		if err := decode(raw, &req); err != nil {
			return fail(err)
		}
		payload, err := t.SetConfig(req.ConfigPatch)
		if err != nil {
			return fail(err)
		}
		return Result{Payload: payload, BroadcastConfig: true}

	case OpMotorMove:
		return dispatchMove(t, raw)

	case OpMotorStop:
		return simple(t.MotorStop)

	case OpMotorHome:
		return simple(t.MotorHome)

	case OpMotorEnable:
		return simple(t.MotorEnable)

	case OpMotorDisable:
		return simple(t.MotorDisable)

	case OpPatternUpload:
		var req patternUploadRequest
		if err := decode(raw, &req); err != nil {
			return fail(err)
		}
		if req.Filename == nil || *req.Filename == "" {
			return fail(kniterr.BadRequest("missing filename"))
		}
		if req.Content == nil {
			return fail(kniterr.BadRequest("missing content"))
		}
		if err := t.PatternUpload(*req.Filename, []byte(*req.Content)); err != nil {
			return fail(err)
		}
		return Result{Payload: ok()}

	case OpPatternList:
		patterns, err := t.PatternList()
		if err != nil {
			return fail(err)
		}
		return Result{Payload: map[string]interface{}{
			"type":     "pattern_list",
			"patterns": patterns,
		}}

	case OpPatternStart:
		var req patternStartRequest
		if err := decode(raw, &req); err != nil {
			return fail(err)
		}
		if req.Filename == nil || *req.Filename == "" {
			return fail(kniterr.BadRequest("missing filename"))
		}
		if err := t.PatternStart(*req.Filename); err != nil {
			return fail(err)
		}
		return Result{Payload: ok(), BroadcastStatus: true}

	case OpPatternPause:
		return phased(t.PatternPause)

	case OpPatternResume:
		return phased(t.PatternResume)

	case OpPatternStop:
		return simple(t.PatternStop)

	case OpSystemRestart:
		return simple(t.SystemRestart)

	case OpSystemReset:
		return simple(t.SystemReset)

	case OpEmergencyStop:
		t.EmergencyStop()
		return Result{Payload: ok(), BroadcastStatus: true}

	default:
		return fail(kniterr.BadRequest("unknown operation %q", op))
	}
}

// phased runs a pause or resume command; a no-op succeeds without a
// broadcast.
func phased(fn func() (bool, error)) Result {
	changed, err := fn()
	if err != nil {
		return fail(err)
	}
	return Result{Payload: ok(), BroadcastStatus: changed}
}

// simple runs a no-argument command and asks for a status broadcast on
// success.
func simple(fn func() error) Result {
	if err := fn(); err != nil {
		return fail(err)
	}
	return Result{Payload: ok(), BroadcastStatus: true}
}

func dispatchMove(t Target, raw []byte) Result {
	var req moveRequest
	if err := decode(raw, &req); err != nil {
		return fail(err)
	}
	if req.Steps == nil {
		return fail(kniterr.BadRequest("missing steps"))
	}
	steps := *req.Steps
	if steps <= 0 {
		return fail(kniterr.BadRequest("steps must be positive, use direction CCW to reverse"))
	}
	if steps > MaxMoveSteps {
		return fail(kniterr.BadRequest("steps exceeds limit of %d", MaxMoveSteps))
	}
	direction := req.Direction
	switch direction {
	case "":
		direction = "CW"
	case "CW":
	case "CCW":
		steps = -steps
	default:
		return fail(kniterr.BadRequest("unknown direction %q", req.Direction))
	}
	var speed uint
	if req.Speed != nil {
		if *req.Speed == 0 {
			return fail(kniterr.BadRequest("speed must be positive"))
		}
		speed = *req.Speed
	}
	applied, err := t.MotorMove(steps, speed)
	if err != nil {
		return fail(err)
	}
	// The reply echoes the resolved move so clients see what was
	// actually commanded.
	payload := ok()
	payload["steps"] = *req.Steps
	payload["direction"] = direction
	payload["speed"] = applied
	return Result{Payload: payload, BroadcastStatus: true}
}
