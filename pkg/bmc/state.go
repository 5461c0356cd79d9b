// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmc

// State is the protocol state of a Session. Discovery and reading each
// have their own terminal states.
type State int

const (
	StateInit State = iota
	StateReserve
	StateWalk // walking records; may hold a partial record
	StateUncancel
	StateDiscovered
	StateDiscoveryFailed
	StateReading
	StateReadDone
	StateReadFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReserve:
		return "reserve"
	case StateWalk:
		return "sdr"
	case StateUncancel:
		return "uncancel"
	case StateDiscovered:
		return "discovered"
	case StateDiscoveryFailed:
		return "discovery-failed"
	case StateReading:
		return "reading"
	case StateReadDone:
		return "read-done"
	case StateReadFailed:
		return "read-failed"
	default:
		return "unknown"
	}
}

// Discovering reports whether a discovery cycle is running
func (s State) Discovering() bool {
	return s == StateReserve || s == StateWalk || s == StateUncancel
}

// Active reports whether a request-driven cycle is running
func (s State) Active() bool {
	return s.Discovering() || s == StateReading
}

// Terminal reports whether s ends a cycle
func (s State) Terminal() bool {
	switch s {
	case StateDiscovered, StateDiscoveryFailed, StateReadDone, StateReadFailed:
		return true
	}
	return false
}

// HasSensors reports whether discovery produced a usable sensor table
func (s State) HasSensors() bool {
	switch s {
	case StateDiscovered, StateReading, StateReadDone, StateReadFailed:
		return true
	}
	return false
}
