// mDNS service advertisement for the knitterd daemon
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package discovery advertises the daemon on the local network so
// client apps can find the machine without knowing its address. The
// instance name carries the configured device name; clients match on
// the "knitting" substring.
package discovery

import (
	"fmt"
	"net"
	"strings"

	"github.com/grandcat/zeroconf"

	"knitterd/pkg/log"
)

const (
	serviceType   = "_http._tcp"
	serviceDomain = "local."
)

// Advertiser keeps one registered mDNS service alive.
type Advertiser struct {
	server *zeroconf.Server
	logger *log.Logger
}

// Advertise registers the HTTP service under the device name. The
// name is sanitized for DNS-SD and always contains "knitting" so
// discovery keeps working after a rename.
func Advertise(deviceName, addr string, logger *log.Logger) (*Advertiser, error) {
	if logger == nil {
		logger = log.GetLogger("mdns")
	}

	port, err := listenPort(addr)
	if err != nil {
		return nil, err
	}

	instance := sanitizeInstance(deviceName)
	server, err := zeroconf.Register(instance, serviceType, serviceDomain, port,
		[]string{"path=/api", "ws=/ws"}, nil)
	if err != nil {
		return nil, fmt.Errorf("registering mDNS service: %w", err)
	}

	logger.Info("advertising %q as %s on port %d", instance, serviceType, port)
	return &Advertiser{server: server, logger: logger}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
	a.logger.Info("mDNS advertisement withdrawn")
}

func sanitizeInstance(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "knitting-machine"
	}
	name = strings.ReplaceAll(name, ".", "-")
	if !strings.Contains(strings.ToLower(name), "knitting") {
		name = "knitting-" + name
	}
	return name
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return port, nil
}
