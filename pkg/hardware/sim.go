package hardware

import (
	"errors"
	"sync"
	"time"
)

// ErrDisabled is returned when a move is commanded while the motor
// output is off.
var ErrDisabled = errors.New("hardware: motor output disabled")

// SimDriver is a simulated stepper driver. It advances the position
// toward the target at the configured speed whenever it is queried, so
// callers see the same moving-then-idle progression a real driver
// reports. The clock is injectable for deterministic tests.
type SimDriver struct {
	mu sync.Mutex

	position  int64
	target    int64
	speed     uint
	accel     uint
	enabled   bool
	lastTick  time.Time
	carry     float64 // fractional steps not yet applied
	nowFn     func() time.Time
}

// NewSimDriver creates an enabled simulated driver at position zero.
func NewSimDriver() *SimDriver {
	d := &SimDriver{
		speed:   1000,
		accel:   500,
		enabled: true,
		nowFn:   time.Now,
	}
	d.lastTick = d.nowFn()
	return d
}

// SetClock injects a clock function; tests use this to advance the
// simulation deterministically.
func (d *SimDriver) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nowFn = now
	d.lastTick = now()
}

// advance moves the simulated position toward the target based on the
// elapsed time. Callers must hold d.mu.
func (d *SimDriver) advance() {
	now := d.nowFn()
	elapsed := now.Sub(d.lastTick).Seconds()
	d.lastTick = now
	if d.position == d.target || elapsed <= 0 {
		return
	}

	travel := elapsed*float64(d.speed) + d.carry
	steps := int64(travel)
	d.carry = travel - float64(steps)

	if d.target > d.position {
		d.position += steps
		if d.position > d.target {
			d.position = d.target
		}
	} else {
		d.position -= steps
		if d.position < d.target {
			d.position = d.target
		}
	}
}

// Move commands a relative move.
func (d *SimDriver) Move(steps int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return ErrDisabled
	}
	d.advance()
	d.target = d.position + steps
	return nil
}

// RemainingSteps reports the distance left in the current move.
func (d *SimDriver) RemainingSteps() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advance()
	rem := d.target - d.position
	if rem < 0 {
		rem = -rem
	}
	return rem, nil
}

// Position reports the absolute position counter.
func (d *SimDriver) Position() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advance()
	return d.position, nil
}

// SetPosition overwrites the position counter and cancels any pending
// travel.
func (d *SimDriver) SetPosition(pos int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = pos
	d.target = pos
	d.carry = 0
	return nil
}

// SetSpeed sets the cruise speed in steps per second.
func (d *SimDriver) SetSpeed(stepsPerSec uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advance()
	d.speed = stepsPerSec
	return nil
}

// SetAcceleration sets the ramp acceleration.
func (d *SimDriver) SetAcceleration(stepsPerSec2 uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accel = stepsPerSec2
	return nil
}

// Stop halts the simulated motor where it stands.
func (d *SimDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advance()
	d.target = d.position
	d.carry = 0
	return nil
}

// Enable powers the simulated output on.
func (d *SimDriver) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = true
	return nil
}

// Disable cuts the simulated output and halts.
func (d *SimDriver) Disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advance()
	d.target = d.position
	d.enabled = false
	return nil
}

// Enabled reports whether the output is on.
func (d *SimDriver) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Speed reports the configured cruise speed.
func (d *SimDriver) Speed() uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speed
}

// SimSwitch is a settable LimitSwitch for the simulated machine and for
// tests.
type SimSwitch struct {
	mu        sync.Mutex
	triggered bool

	// TriggerAfter, when positive, makes the switch report triggered
	// once the linked driver's position drops to or below it. Used to
	// simulate homing toward the switch.
	driver      *SimDriver
	triggerAtLE *int64
}

// NewSimSwitch creates an untriggered switch.
func NewSimSwitch() *SimSwitch {
	return &SimSwitch{}
}

// SetTriggered forces the switch state.
func (s *SimSwitch) SetTriggered(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = on
}

// LinkDriver makes the switch trigger whenever the driver position is
// at or below pos.
func (s *SimSwitch) LinkDriver(d *SimDriver, pos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driver = d
	s.triggerAtLE = &pos
}

// Triggered reports whether the switch is pressed.
func (s *SimSwitch) Triggered() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver != nil && s.triggerAtLE != nil {
		pos, err := s.driver.Position()
		if err != nil {
			return false, err
		}
		if pos <= *s.triggerAtLE {
			return true, nil
		}
	}
	return s.triggered, nil
}
