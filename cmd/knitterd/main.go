// knitterd is the controller daemon for a motorized knitting machine.
// It drives a stepper motor directly or through a serial motor board,
// executes uploaded knitting patterns, and exposes the machine over a
// REST and websocket API on the local network.
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

func main() {
	Execute()
}
