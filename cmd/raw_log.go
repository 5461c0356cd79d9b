// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmcstat/pkg/ipmi"
)

var rawLogStatsInterval int

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw IPMI frame log in human-readable format",
	Long: `Continuously decode and display serial basic-mode IPMI frames as they
arrive, showing each message with timestamp, command, addresses, sequence
number, completion code and data bytes.

This command only listens. Run it on a line shared with another client to
watch its traffic.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().IntVar(&rawLogStatsInterval, "stats-interval", 0, "Print frame statistics every N seconds (0 disables)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("bmcstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := ipmi.NewDecoder()
	stats := ipmi.NewStatistics()
	lastStats := time.Now()
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, ErrConnectionClosed) {
				log.Info("Connection closed")
				return nil
			}
			log.WithError(err).Warn("read error")
			continue
		}

		for i := 0; i < n; i++ {
			msg, err := decoder.DecodeByte(buf[i])
			if msg == nil && err == nil {
				continue
			}
			stats.Update(msg, err)
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			fmt.Print(ipmi.FormatMessage(msg))
		}

		if rawLogStatsInterval > 0 && time.Since(lastStats) >= time.Duration(rawLogStatsInterval)*time.Second {
			fmt.Print("\n" + stats.String() + "\n")
			lastStats = time.Now()
		}
	}
}
