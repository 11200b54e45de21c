// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"knitterd/pkg/config"
	"knitterd/pkg/controller"
	"knitterd/pkg/discovery"
	"knitterd/pkg/hardware"
	"knitterd/pkg/history"
	"knitterd/pkg/log"
	"knitterd/pkg/loop"
	"knitterd/pkg/machine"
	"knitterd/pkg/metrics"
	"knitterd/pkg/motor"
	"knitterd/pkg/pattern"
	"knitterd/pkg/serial"
	"knitterd/pkg/server"
	"knitterd/pkg/storage"
)

const tickInterval = 50 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Local overrides from .env, if present.
	godotenv.Load()

	cfgPath, _ := cmd.Flags().GetString("config")
	dcfg, err := config.LoadDaemon(cfgPath)
	if err != nil {
		return err
	}

	logger := log.Default()
	if dcfg.LogLevel != "" {
		logger.SetLevel(log.ParseLevel(dcfg.LogLevel))
	}
	log.ConfigureFromEnv(logger)
	if dcfg.LogFile != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: dcfg.LogFile})
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer w.Close()
		logger.SetWriter(w)
		logger.SetColorize(false)
	}

	logger.Info("knitterd %s starting (driver=%s)", Version, dcfg.Driver)

	if err := os.MkdirAll(dcfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	driver, sw, cleanup, err := openDriver(dcfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	configFiles, err := storage.NewFileStore(dcfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening data dir: %w", err)
	}
	patterns, err := storage.NewFileStore(filepath.Join(dcfg.DataDir, "patterns"))
	if err != nil {
		return fmt.Errorf("opening pattern dir: %w", err)
	}

	state := machine.NewState()
	cfgStore := config.NewStore(configFiles, driver)
	if err := cfgStore.Load(); err != nil {
		logger.Warn("loading machine config: %v", err)
	}

	tracker := motor.NewTracker(driver, sw, state)
	engine := pattern.NewEngine(patterns, tracker, state, cfgStore.MaxSpeed)
	lp := loop.New(tickInterval)
	met := metrics.NewSet()

	hist, err := history.Open(filepath.Join(dcfg.DataDir, "history.db"))
	if err != nil {
		logger.Warn("run history disabled: %v", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	hub := server.NewHub(nil, nil)
	ctrl := controller.New(controller.Options{
		State:    state,
		Config:   cfgStore,
		Tracker:  tracker,
		Engine:   engine,
		Patterns: patterns,
		Loop:     lp,
		Hub:      hub,
		Switch:   sw,
		History:  hist,
		Metrics:  met,
	})
	hub.SetExecutor(ctrl)

	srv := server.New(server.Options{
		Addr:     dcfg.HTTPAddr,
		WSAddr:   dcfg.WSAddr,
		Executor: ctrl,
		Hub:      hub,
		Metrics:  met.Registry().Handler(),
	})

	if dcfg.MDNS {
		adv, err := discovery.Advertise(cfgStore.Get().DeviceName, dcfg.HTTPAddr, nil)
		if err != nil {
			logger.Warn("mDNS advertisement failed: %v", err)
		} else {
			defer adv.Shutdown()
		}
	}

	lp.Run()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			lp.End()
			lp.Wait()
			return err
		}
	}

	srv.Stop()
	lp.End()
	lp.Wait()
	logger.Info("knitterd stopped")
	return nil
}

// openDriver selects the motor backend. The serial board carries the
// limit switch input, so in serial mode the driver doubles as the
// switch collaborator.
func openDriver(dcfg config.Daemon, logger *log.Logger) (hardware.MotorDriver, hardware.LimitSwitch, func(), error) {
	switch dcfg.Driver {
	case config.DriverSerial:
		port, err := serial.Open(serial.Config{
			Device:      dcfg.SerialDevice,
			BaudRate:    int(dcfg.SerialBaud),
			ReadTimeout: 2 * time.Second,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening serial port %s: %w", dcfg.SerialDevice, err)
		}
		logger.Info("serial motor board on %s at %d baud", dcfg.SerialDevice, dcfg.SerialBaud)
		drv := serial.NewDriver(port)
		return drv, drv, func() { port.Close() }, nil

	case config.DriverSim:
		logger.Info("simulated motor driver")
		return hardware.NewSimDriver(), hardware.NewSimSwitch(), func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown driver %q", dcfg.Driver)
	}
}
