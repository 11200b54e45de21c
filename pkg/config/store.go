// Runtime configuration store
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"encoding/json"
	"errors"

	"knitterd/pkg/hardware"
	"knitterd/pkg/kniterr"
	"knitterd/pkg/log"
	"knitterd/pkg/machine"
	"knitterd/pkg/storage"
)

// configFile is the name of the persisted configuration document.
const configFile = "config.json"

// Store owns the runtime machine configuration. It is loop-owned like
// the machine state: Get and Set run from control-loop context only, so
// no locking is needed. Persist failures are reported but never roll
// back the in-memory configuration.
type Store struct {
	store   storage.Store
	driver  hardware.MotorDriver
	logger  *log.Logger
	current machine.Configuration
}

// NewStore creates a configuration store persisting through st and
// applying motion parameters to driver.
func NewStore(st storage.Store, driver hardware.MotorDriver) *Store {
	return &Store{
		store:   st,
		driver:  driver,
		logger:  log.GetLogger("config"),
		current: machine.DefaultConfiguration(),
	}
}

// Load reads the persisted configuration, writing the defaults when no
// document exists yet, and applies speed and acceleration to the
// driver. An unreadable or invalid document is replaced by defaults.
func (s *Store) Load() error {
	data, err := s.store.Read(configFile)
	switch {
	case err == nil:
		var cfg machine.Configuration
		if jerr := json.Unmarshal(data, &cfg); jerr != nil {
			s.logger.Warn("persisted config unreadable, using defaults: %v", jerr)
		} else if verr := cfg.Validate(); verr != nil {
			s.logger.Warn("persisted config invalid, using defaults: %v", verr)
		} else {
			s.current = cfg
		}
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("no persisted config, writing defaults")
		if perr := s.persist(); perr != nil {
			return perr
		}
	default:
		return kniterr.StorageFault(err, "read config")
	}
	return s.applyDriver()
}

// Get returns a snapshot of the current configuration.
func (s *Store) Get() machine.Configuration {
	return s.current
}

// MaxSpeed returns the configured speed ceiling.
func (s *Store) MaxSpeed() uint {
	return s.current.MaxSpeed
}

// Set merges the patch into the configuration. The merged result is
// validated before anything mutates; on success the motion parameters
// are re-applied to the driver and the full document is persisted. A
// persist failure is returned but the merged configuration stays in
// effect.
func (s *Store) Set(patch machine.ConfigPatch) (machine.Configuration, error) {
	if patch.IsEmpty() {
		return s.current, kniterr.BadRequest("config patch has no recognized fields")
	}
	merged := patch.Apply(s.current)
	if err := merged.Validate(); err != nil {
		return s.current, kniterr.BadRequest("invalid config: %v", err)
	}
	s.current = merged
	if err := s.applyDriver(); err != nil {
		return s.current, err
	}
	if err := s.persist(); err != nil {
		s.logger.Error("config persist failed: %v", err)
		return s.current, err
	}
	return s.current, nil
}

// Reset restores the factory configuration and persists it.
func (s *Store) Reset() (machine.Configuration, error) {
	s.current = machine.DefaultConfiguration()
	if err := s.applyDriver(); err != nil {
		return s.current, err
	}
	if err := s.persist(); err != nil {
		s.logger.Error("config persist failed: %v", err)
		return s.current, err
	}
	return s.current, nil
}

func (s *Store) applyDriver() error {
	if err := s.driver.SetSpeed(s.current.MaxSpeed); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "apply max speed")
	}
	if err := s.driver.SetAcceleration(s.current.Acceleration); err != nil {
		return kniterr.Wrap(err, kniterr.CodeHardwareFault, "apply acceleration")
	}
	return nil
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return kniterr.StorageFault(err, "encode config")
	}
	if err := s.store.Write(configFile, data); err != nil {
		return kniterr.StorageFault(err, "persist config")
	}
	return nil
}
