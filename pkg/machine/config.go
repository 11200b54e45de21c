package machine

import (
	"fmt"
)

// Configuration holds the tunable machine parameters. It is persisted
// as a flat JSON document, one file per device, and mutated only
// through the configuration store.
type Configuration struct {
	MaxSpeed            uint   `json:"max_speed"`
	Acceleration        uint   `json:"acceleration"`
	StepsPerRevolution  uint   `json:"steps_per_rev"`
	LimitSwitchEnabled  bool   `json:"limit_switch"`
	BuzzerEnabled       bool   `json:"buzzer"`
	DeviceName          string `json:"device_name"`
	BroadcastIntervalMs uint   `json:"websocket_interval"`
}

// DefaultConfiguration returns the factory configuration written on
// first boot.
func DefaultConfiguration() Configuration {
	return Configuration{
		MaxSpeed:            1000,
		Acceleration:        500,
		StepsPerRevolution:  200,
		LimitSwitchEnabled:  false,
		BuzzerEnabled:       true,
		DeviceName:          "knitting-machine",
		BroadcastIntervalMs: 1000,
	}
}

// Validate checks the positivity rules on numeric fields.
func (c Configuration) Validate() error {
	if c.MaxSpeed == 0 {
		return fmt.Errorf("max_speed must be positive")
	}
	if c.Acceleration == 0 {
		return fmt.Errorf("acceleration must be positive")
	}
	if c.StepsPerRevolution == 0 {
		return fmt.Errorf("steps_per_rev must be positive")
	}
	if c.BroadcastIntervalMs == 0 {
		return fmt.Errorf("websocket_interval must be positive")
	}
	return nil
}

// Payload builds the config broadcast / reply payload.
func (c Configuration) Payload() map[string]interface{} {
	return map[string]interface{}{
		"type":               "config",
		"max_speed":          c.MaxSpeed,
		"acceleration":       c.Acceleration,
		"steps_per_rev":      c.StepsPerRevolution,
		"limit_switch":       c.LimitSwitchEnabled,
		"buzzer":             c.BuzzerEnabled,
		"device_name":        c.DeviceName,
		"websocket_interval": c.BroadcastIntervalMs,
	}
}

// ConfigPatch is a partial configuration update. Nil fields are left
// unchanged: Set is a merge, not a replace.
type ConfigPatch struct {
	MaxSpeed            *uint   `json:"max_speed"`
	Acceleration        *uint   `json:"acceleration"`
	StepsPerRevolution  *uint   `json:"steps_per_rev"`
	LimitSwitchEnabled  *bool   `json:"limit_switch"`
	BuzzerEnabled       *bool   `json:"buzzer"`
	DeviceName          *string `json:"device_name"`
	BroadcastIntervalMs *uint   `json:"websocket_interval"`
}

// IsEmpty reports whether the patch carries no fields at all.
func (p ConfigPatch) IsEmpty() bool {
	return p.MaxSpeed == nil && p.Acceleration == nil &&
		p.StepsPerRevolution == nil && p.LimitSwitchEnabled == nil &&
		p.BuzzerEnabled == nil && p.DeviceName == nil &&
		p.BroadcastIntervalMs == nil
}

// Apply merges the patch into c and returns the result.
func (p ConfigPatch) Apply(c Configuration) Configuration {
	if p.MaxSpeed != nil {
		c.MaxSpeed = *p.MaxSpeed
	}
	if p.Acceleration != nil {
		c.Acceleration = *p.Acceleration
	}
	if p.StepsPerRevolution != nil {
		c.StepsPerRevolution = *p.StepsPerRevolution
	}
	if p.LimitSwitchEnabled != nil {
		c.LimitSwitchEnabled = *p.LimitSwitchEnabled
	}
	if p.BuzzerEnabled != nil {
		c.BuzzerEnabled = *p.BuzzerEnabled
	}
	if p.DeviceName != nil {
		c.DeviceName = *p.DeviceName
	}
	if p.BroadcastIntervalMs != nil {
		c.BroadcastIntervalMs = *p.BroadcastIntervalMs
	}
	return c
}
