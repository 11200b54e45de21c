// Daemon bootstrap configuration
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package config holds the daemon bootstrap configuration (read once at
// startup) and the runtime configuration store (mutable over the API).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Driver selection values for Daemon.Driver.
const (
	DriverSim    = "sim"
	DriverSerial = "serial"
)

// Daemon is the startup configuration, read from knitterd.yaml. It
// covers everything that cannot change while the daemon runs; the
// machine parameters live in the runtime Store instead.
type Daemon struct {
	// HTTPAddr is the REST + websocket listen address.
	HTTPAddr string `yaml:"http_addr"`

	// WSAddr optionally serves a second websocket-only listener, for
	// clients that expect the push channel on its own port.
	WSAddr string `yaml:"ws_addr"`

	// DataDir holds patterns/, config.json and history.db.
	DataDir string `yaml:"data_dir"`

	// Driver selects the motor backend: "sim" or "serial".
	Driver string `yaml:"driver"`

	SerialDevice string `yaml:"serial_device"`
	SerialBaud   uint   `yaml:"serial_baud"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// MDNS advertises the HTTP service via zeroconf when set.
	MDNS bool `yaml:"mdns"`
}

// DefaultDaemon returns the built-in daemon defaults.
func DefaultDaemon() Daemon {
	return Daemon{
		HTTPAddr:   ":8080",
		DataDir:    "./data",
		Driver:     DriverSim,
		SerialBaud: 115200,
		MDNS:       true,
	}
}

// LoadDaemon reads the daemon configuration from path, falling back to
// defaults when the file does not exist, then applies KNITTERD_*
// environment overrides.
func LoadDaemon(path string) (Daemon, error) {
	cfg := DefaultDaemon()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Daemon) applyEnv() {
	if v := os.Getenv("KNITTERD_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("KNITTERD_WS_ADDR"); v != "" {
		c.WSAddr = v
	}
	if v := os.Getenv("KNITTERD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("KNITTERD_DRIVER"); v != "" {
		c.Driver = v
	}
	if v := os.Getenv("KNITTERD_SERIAL_DEVICE"); v != "" {
		c.SerialDevice = v
	}
	if v := os.Getenv("KNITTERD_SERIAL_BAUD"); v != "" {
		if baud, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.SerialBaud = uint(baud)
		}
	}
	if v := os.Getenv("KNITTERD_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("KNITTERD_MDNS"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.MDNS = on
		}
	}
}

// Validate checks the daemon configuration for startup.
func (c Daemon) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	switch c.Driver {
	case DriverSim:
	case DriverSerial:
		if c.SerialDevice == "" {
			return fmt.Errorf("serial driver requires serial_device")
		}
		if c.SerialBaud == 0 {
			return fmt.Errorf("serial_baud must be positive")
		}
	default:
		return fmt.Errorf("unknown driver %q (want %q or %q)", c.Driver, DriverSim, DriverSerial)
	}
	return nil
}
