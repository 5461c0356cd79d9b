// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmcstat/internal/snapshot"
)

var (
	scanTimeout int
	scanSave    string
	scanRead    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover the sensors of a BMC",
	Long: `Walk the sensor data repository of the BMC and list every temperature,
voltage, current and fan sensor with a threshold-based reading.

The walk reserves the repository, fetches each record in chunks and
restarts the reservation whenever the BMC cancels it. Chunks are halved
when the BMC reports that its buffers are too small.

With --save the discovered sensors are written to a snapshot file that
the read command can load without walking the repository again.

Examples:
  # Discover over serial
  bmcstat scan --port /dev/ttyS1

  # Discover, read once and save a snapshot
  bmcstat scan --url ws://bmc.local/ipmi --read --save sensors.cbor

Exit codes:
  0 - Discovery successful (at least one sensor found)
  1 - Discovery failed (no sensors, timeout or BMC error)
  2 - Connection error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 30, "Timeout in seconds for discovery")
	scanCmd.Flags().StringVar(&scanSave, "save", "", "Write the discovered sensors to a snapshot file")
	scanCmd.Flags().BoolVar(&scanRead, "read", false, "Poll every sensor once after discovery")
}

func runScan(cmd *cobra.Command, args []string) error {
	link, connInfo, err := OpenLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	fmt.Printf("bmcstat - Sensor Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", scanTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(scanTimeout)*time.Second)
	defer cancel()
	client := NewClient(ctx, link)

	start := time.Now()
	sensors, err := client.Discover(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DISCOVERY FAILED: %v\n", err)
		os.Exit(1)
	}

	if scanRead {
		if err := client.Refresh(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "READ FAILED: %v\n", err)
		}
		if sensors, err = client.Sensors(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "READ FAILED: %v\n", err)
			os.Exit(1)
		}
	}

	printSensorTable(sensors, scanRead)

	// Summary
	stats, _ := client.Stats(ctx)
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Sensors found: %d\n", len(sensors))
	fmt.Printf("Chunk size: %d bytes\n", stats.Chunk)
	fmt.Printf("Reservations cancelled: %d\n", stats.Cancellations)
	fmt.Printf("Requests: %d, dropped responses: %d\n", stats.Link.Requests, stats.Link.Dropped)
	fmt.Printf("Elapsed: %v\n", time.Since(start).Round(time.Millisecond))

	if scanSave != "" {
		if err := snapshot.Save(scanSave, snapshot.New(connInfo, sensors, time.Now())); err != nil {
			fmt.Fprintf(os.Stderr, "SAVE FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Snapshot written to %s\n", scanSave)
	}

	return nil
}
