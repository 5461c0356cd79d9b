// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// bmcstat - IPMI BMC Sensor Monitor
//
// A CLI tool for discovering the sensors of a baseboard management
// controller and polling their readings as converted values.

package main

import (
	"os"

	"github.com/Thermoquad/bmcstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
