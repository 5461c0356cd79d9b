// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmc

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/bmcstat/pkg/ipmi"
)

// Fatal conditions of a discovery or reading cycle
var (
	ErrNoSensors            = errors.New("no recognized sensors found")
	ErrBuffersTooSmall      = errors.New("IPMI buffers too small, giving up")
	ErrTooManyCancellations = errors.New("too many reservations cancelled, giving up")
	ErrShortResponse        = errors.New("response too short")
	ErrResponseTimeout      = errors.New("no response from BMC")
	ErrTransportClosed      = errors.New("transport closed")
)

// Caller-facing errors
var (
	ErrRequestInFlight = errors.New("request already in flight")
	ErrNotDiscovered   = errors.New("sensor discovery has not completed")
	ErrAlreadyStarted  = errors.New("discovery already started")
	ErrUpdateTimeout   = errors.New("sensor update timed out, values may be stale")
	ErrUnknownSensor   = errors.New("no such sensor")
	ErrClosed          = errors.New("client closed")
)

// CompletionError is a response with a completion code the session cannot recover from
type CompletionError struct {
	NetFn uint8
	Cmd   uint8
	Code  uint8
	State State
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("error 0x%02x (%s) on cmd 0x%x/0x%x in state %s",
		e.Code, ipmi.FormatCompletionCode(e.Code), e.NetFn, e.Cmd, e.State)
}
