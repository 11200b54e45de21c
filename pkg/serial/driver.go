package serial

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Driver implements hardware.MotorDriver over the stepper board's line
// protocol. Each command is a single text line; the board answers
// "OK", "OK <value>" or "ERR <message>".
//
// Commands understood by the board firmware:
//
//	MOVE <steps>     relative move (sign encodes direction)
//	SPEED <sps>      cruise speed, steps/second
//	ACCEL <sps2>     ramp acceleration, steps/second^2
//	STOP             decelerate and halt
//	EN <0|1>         motor output power
//	SETPOS <pos>     overwrite the position counter
//	POS?             query absolute position
//	REM?             query remaining move distance
//	SW?              query limit switch (1 = triggered)
type Driver struct {
	mu sync.Mutex
	rw io.ReadWriter
	br *bufio.Reader
}

// NewDriver creates a Driver over an open port (or any ReadWriter, for
// tests).
func NewDriver(rw io.ReadWriter) *Driver {
	return &Driver{
		rw: rw,
		br: bufio.NewReader(rw),
	}
}

// roundTrip sends one command line and reads one reply line.
func (d *Driver) roundTrip(cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := io.WriteString(d.rw, cmd+"\n"); err != nil {
		return "", fmt.Errorf("serial: send %q: %w", cmd, err)
	}
	line, err := d.br.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("serial: reply to %q: %w", cmd, err)
	}
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "ERR") {
		return "", fmt.Errorf("serial: board error for %q: %s", cmd, strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	}
	if !strings.HasPrefix(line, "OK") {
		return "", fmt.Errorf("serial: unexpected reply to %q: %q", cmd, line)
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "OK")), nil
}

// command sends a command expecting a bare OK.
func (d *Driver) command(cmd string) error {
	_, err := d.roundTrip(cmd)
	return err
}

// queryInt sends a query expecting "OK <integer>".
func (d *Driver) queryInt(cmd string) (int64, error) {
	val, err := d.roundTrip(cmd)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("serial: bad integer reply to %q: %q", cmd, val)
	}
	return n, nil
}

// Move commands a relative move.
func (d *Driver) Move(steps int64) error {
	return d.command(fmt.Sprintf("MOVE %d", steps))
}

// RemainingSteps reports the distance left in the current move.
func (d *Driver) RemainingSteps() (int64, error) {
	return d.queryInt("REM?")
}

// Position reports the absolute position counter.
func (d *Driver) Position() (int64, error) {
	return d.queryInt("POS?")
}

// SetPosition overwrites the position counter.
func (d *Driver) SetPosition(pos int64) error {
	return d.command(fmt.Sprintf("SETPOS %d", pos))
}

// SetSpeed sets the cruise speed in steps per second.
func (d *Driver) SetSpeed(stepsPerSec uint) error {
	return d.command(fmt.Sprintf("SPEED %d", stepsPerSec))
}

// SetAcceleration sets the ramp acceleration.
func (d *Driver) SetAcceleration(stepsPerSec2 uint) error {
	return d.command(fmt.Sprintf("ACCEL %d", stepsPerSec2))
}

// Stop requests an immediate deceleration and halt.
func (d *Driver) Stop() error {
	return d.command("STOP")
}

// Enable powers the motor output on.
func (d *Driver) Enable() error {
	return d.command("EN 1")
}

// Disable cuts the motor output power.
func (d *Driver) Disable() error {
	return d.command("EN 0")
}

// Triggered reports the limit switch state, read through the board.
// Driver therefore also satisfies hardware.LimitSwitch.
func (d *Driver) Triggered() (bool, error) {
	n, err := d.queryInt("SW?")
	if err != nil {
		return false, err
	}
	return n != 0, nil
}
