package dispatch

import (
	"testing"

	"knitterd/pkg/kniterr"
	"knitterd/pkg/machine"
)

// recordingTarget records every call for the decode tests.
type recordingTarget struct {
	calls []string

	moveSteps int64
	moveSpeed uint

	uploadName    string
	uploadContent string
	startName     string
	patch         machine.ConfigPatch

	// noopPhase makes pause/resume report no phase change.
	noopPhase bool

	err error
}

func (r *recordingTarget) record(name string) {
	r.calls = append(r.calls, name)
}

func (r *recordingTarget) GetStatus() map[string]interface{} {
	r.record("get_status")
	return map[string]interface{}{"type": "status"}
}

func (r *recordingTarget) GetConfig() map[string]interface{} {
	r.record("get_config")
	return map[string]interface{}{"type": "config"}
}

func (r *recordingTarget) SetConfig(patch machine.ConfigPatch) (map[string]interface{}, error) {
	r.record("set_config")
	r.patch = patch
	return map[string]interface{}{"type": "config"}, r.err
}

func (r *recordingTarget) MotorMove(steps int64, speed uint) (uint, error) {
	r.record("motor_move")
	r.moveSteps = steps
	r.moveSpeed = speed
	if speed == 0 {
		// Stand-in for the configured maximum.
		speed = 800
	}
	return speed, r.err
}

func (r *recordingTarget) MotorStop() error    { r.record("motor_stop"); return r.err }
func (r *recordingTarget) MotorHome() error    { r.record("motor_home"); return r.err }
func (r *recordingTarget) MotorEnable() error  { r.record("motor_enable"); return r.err }
func (r *recordingTarget) MotorDisable() error { r.record("motor_disable"); return r.err }

func (r *recordingTarget) PatternUpload(name string, content []byte) error {
	r.record("pattern_upload")
	r.uploadName = name
	r.uploadContent = string(content)
	return r.err
}

func (r *recordingTarget) PatternList() (interface{}, error) {
	r.record("pattern_list")
	return []string{"a.json"}, r.err
}

func (r *recordingTarget) PatternStart(name string) error {
	r.record("pattern_start")
	r.startName = name
	return r.err
}

func (r *recordingTarget) PatternPause() (bool, error) {
	r.record("pattern_pause")
	return !r.noopPhase, r.err
}

func (r *recordingTarget) PatternResume() (bool, error) {
	r.record("pattern_resume")
	return !r.noopPhase, r.err
}
func (r *recordingTarget) PatternStop() error   { r.record("pattern_stop"); return r.err }
func (r *recordingTarget) SystemRestart() error { r.record("system_restart"); return r.err }
func (r *recordingTarget) SystemReset() error   { r.record("system_reset"); return r.err }
func (r *recordingTarget) EmergencyStop()       { r.record("emergency_stop") }

func TestDispatchMove(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantSteps int64
		wantSpeed uint
	}{
		{"plain move", `{"type":"motor_move","steps":500}`, false, 500, 0},
		{"cw explicit", `{"type":"motor_move","steps":500,"direction":"CW"}`, false, 500, 0},
		{"ccw negates", `{"type":"motor_move","steps":500,"direction":"CCW"}`, false, -500, 0},
		{"with speed", `{"type":"motor_move","steps":10,"speed":250}`, false, 10, 250},
		{"missing steps", `{"type":"motor_move"}`, true, 0, 0},
		{"zero steps", `{"type":"motor_move","steps":0}`, true, 0, 0},
		{"negative steps", `{"type":"motor_move","steps":-5}`, true, 0, 0},
		{"steps over limit", `{"type":"motor_move","steps":100001}`, true, 0, 0},
		{"steps at limit", `{"type":"motor_move","steps":100000}`, false, 100000, 0},
		{"bad direction", `{"type":"motor_move","steps":10,"direction":"UP"}`, true, 0, 0},
		{"zero speed", `{"type":"motor_move","steps":10,"speed":0}`, true, 0, 0},
		{"unknown field", `{"type":"motor_move","steps":10,"stepz":1}`, true, 0, 0},
		{"wrong field type", `{"type":"motor_move","steps":"ten"}`, true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &recordingTarget{}
			res := Dispatch(target, []byte(tt.raw))
			if tt.wantErr {
				if !kniterr.Is(res.Err, kniterr.CodeBadRequest) {
					t.Fatalf("err = %v, want BAD_REQUEST", res.Err)
				}
				if len(target.calls) != 0 {
					t.Errorf("target called on rejected command: %v", target.calls)
				}
				return
			}
			if res.Err != nil {
				t.Fatalf("err = %v", res.Err)
			}
			if target.moveSteps != tt.wantSteps || target.moveSpeed != tt.wantSpeed {
				t.Errorf("move(%d, %d), want (%d, %d)",
					target.moveSteps, target.moveSpeed, tt.wantSteps, tt.wantSpeed)
			}
			if !res.BroadcastStatus {
				t.Error("move did not request a status broadcast")
			}
		})
	}
}

func TestDispatchMoveReplyEchoesResolvedMove(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantSteps     int64
		wantDirection string
		wantSpeed     uint
	}{
		{"defaults applied", `{"type":"motor_move","steps":100}`, 100, "CW", 800},
		{"explicit speed", `{"type":"motor_move","steps":100,"speed":250}`, 100, "CW", 250},
		{"ccw keeps positive steps", `{"type":"motor_move","steps":50,"direction":"CCW"}`, 50, "CCW", 800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Dispatch(&recordingTarget{}, []byte(tt.raw))
			if res.Err != nil {
				t.Fatalf("err = %v", res.Err)
			}
			if res.Payload["result"] != "ok" {
				t.Errorf("result = %v, want ok", res.Payload["result"])
			}
			if res.Payload["steps"] != tt.wantSteps {
				t.Errorf("steps = %v, want %d", res.Payload["steps"], tt.wantSteps)
			}
			if res.Payload["direction"] != tt.wantDirection {
				t.Errorf("direction = %v, want %s", res.Payload["direction"], tt.wantDirection)
			}
			if res.Payload["speed"] != tt.wantSpeed {
				t.Errorf("speed = %v, want %d", res.Payload["speed"], tt.wantSpeed)
			}
		})
	}
}

func TestDispatchRouting(t *testing.T) {
	tests := []struct {
		raw      string
		wantCall string
	}{
		{`{"type":"get_status"}`, "get_status"},
		{`{"type":"get_config"}`, "get_config"},
		{`{"type":"motor_stop"}`, "motor_stop"},
		{`{"type":"motor_home"}`, "motor_home"},
		{`{"type":"motor_enable"}`, "motor_enable"},
		{`{"type":"motor_disable"}`, "motor_disable"},
		{`{"type":"pattern_list"}`, "pattern_list"},
		{`{"type":"pattern_pause"}`, "pattern_pause"},
		{`{"type":"pattern_resume"}`, "pattern_resume"},
		{`{"type":"pattern_stop"}`, "pattern_stop"},
		{`{"type":"system_restart"}`, "system_restart"},
		{`{"type":"system_reset"}`, "system_reset"},
		{`{"type":"emergency_stop"}`, "emergency_stop"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCall, func(t *testing.T) {
			target := &recordingTarget{}
			res := Dispatch(target, []byte(tt.raw))
			if res.Err != nil {
				t.Fatalf("err = %v", res.Err)
			}
			if len(target.calls) != 1 || target.calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", target.calls, tt.wantCall)
			}
		})
	}
}

func TestDispatchPingLocal(t *testing.T) {
	target := &recordingTarget{}
	res := Dispatch(target, []byte(`{"type":"ping"}`))
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if res.Payload["type"] != "pong" {
		t.Errorf("payload = %v, want pong", res.Payload)
	}
	if len(target.calls) != 0 {
		t.Errorf("ping reached the target: %v", target.calls)
	}
}

func TestDispatchUnknownOperation(t *testing.T) {
	res := Dispatch(&recordingTarget{}, []byte(`{"type":"reboot"}`))
	if !kniterr.Is(res.Err, kniterr.CodeBadRequest) {
		t.Fatalf("err = %v, want BAD_REQUEST", res.Err)
	}
}

func TestDispatchMalformedJSON(t *testing.T) {
	res := Dispatch(&recordingTarget{}, []byte(`{"type":`))
	if !kniterr.Is(res.Err, kniterr.CodeBadRequest) {
		t.Fatalf("err = %v, want BAD_REQUEST", res.Err)
	}
}

func TestDispatchSetConfig(t *testing.T) {
	target := &recordingTarget{}
	res := Dispatch(target, []byte(`{"type":"set_config","max_speed":800,"buzzer":false}`))
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if target.patch.MaxSpeed == nil || *target.patch.MaxSpeed != 800 {
		t.Errorf("patch.MaxSpeed = %v", target.patch.MaxSpeed)
	}
	if target.patch.BuzzerEnabled == nil || *target.patch.BuzzerEnabled {
		t.Errorf("patch.BuzzerEnabled = %v", target.patch.BuzzerEnabled)
	}
	if target.patch.DeviceName != nil {
		t.Error("absent field decoded as present")
	}
	if !res.BroadcastConfig {
		t.Error("set_config did not request a config broadcast")
	}
}

func TestDispatchPatternStart(t *testing.T) {
	target := &recordingTarget{}
	res := Dispatch(target, []byte(`{"type":"pattern_start","filename":"scarf.json"}`))
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if target.startName != "scarf.json" {
		t.Errorf("startName = %q", target.startName)
	}

	res = Dispatch(target, []byte(`{"type":"pattern_start"}`))
	if !kniterr.Is(res.Err, kniterr.CodeBadRequest) {
		t.Fatalf("missing filename err = %v, want BAD_REQUEST", res.Err)
	}
}

func TestDispatchPatternUpload(t *testing.T) {
	target := &recordingTarget{}
	res := Dispatch(target, []byte(`{"type":"pattern_upload","filename":"p.json","content":"{\"steps\":[]}"}`))
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if target.uploadName != "p.json" || target.uploadContent != `{"steps":[]}` {
		t.Errorf("upload = %q %q", target.uploadName, target.uploadContent)
	}

	res = Dispatch(target, []byte(`{"type":"pattern_upload","filename":"p.json"}`))
	if !kniterr.Is(res.Err, kniterr.CodeBadRequest) {
		t.Fatalf("missing content err = %v, want BAD_REQUEST", res.Err)
	}
}

func TestDispatchPauseNoopSkipsBroadcast(t *testing.T) {
	target := &recordingTarget{noopPhase: true}
	res := Dispatch(target, []byte(`{"type":"pattern_pause"}`))
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if res.BroadcastStatus {
		t.Error("no-op pause requested a broadcast")
	}

	target = &recordingTarget{}
	res = Dispatch(target, []byte(`{"type":"pattern_resume"}`))
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if !res.BroadcastStatus {
		t.Error("effective resume did not request a broadcast")
	}
}

func TestDispatchResultOp(t *testing.T) {
	res := Dispatch(&recordingTarget{}, []byte(`{"type":"get_status"}`))
	if res.Op != OpGetStatus {
		t.Errorf("Op = %q, want %q", res.Op, OpGetStatus)
	}
}

func TestDispatchTargetErrorPropagates(t *testing.T) {
	target := &recordingTarget{err: kniterr.NotFound("pattern missing")}
	res := Dispatch(target, []byte(`{"type":"pattern_start","filename":"x.json"}`))
	if !kniterr.Is(res.Err, kniterr.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", res.Err)
	}
	if res.BroadcastStatus {
		t.Error("broadcast requested despite failure")
	}
}
