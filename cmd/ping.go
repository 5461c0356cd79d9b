// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmcstat/pkg/ipmi"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the link by sending Get Device ID requests",
	Long: `Send Get Device ID requests to the BMC and wait for each response.

This is useful for verifying:
  - The serial port or WebSocket bridge is reachable
  - HTTP Basic authentication works
  - The BMC and software addresses are configured correctly
  - Bidirectional frame flow works

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	link, connInfo, err := OpenLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	fmt.Printf("bmcstat - Link Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	responses := link.Responses()
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		seq, err := link.Send(ipmi.NetFnApp, ipmi.CmdGetDeviceID, nil)
		if err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		timeout := time.After(time.Duration(pingTimeout) * time.Second)
	wait:
		for {
			select {
			case msg, ok := <-responses:
				if !ok {
					fmt.Printf("LINK CLOSED\n")
					os.Exit(2)
				}
				// stale answers to an earlier, timed-out ping
				if msg.Seq() != seq || msg.Cmd() != ipmi.CmdGetDeviceID {
					continue
				}
				rtt := time.Since(startTime).Round(time.Millisecond)
				if msg.Completion() != ipmi.CompletionOK {
					fmt.Printf("FAILED: %s, rtt=%v\n", ipmi.FormatCompletionCode(msg.Completion()), rtt)
					failCount++
					break wait
				}
				fmt.Printf("reply from %02X, %s, rtt=%v\n", msg.SrcAddr(), formatDeviceID(msg.Data()), rtt)
				successCount++
				break wait

			case <-timeout:
				fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
				failCount++
				break wait
			}
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// formatDeviceID summarizes a Get Device ID response
func formatDeviceID(data []byte) string {
	if len(data) < 5 {
		return fmt.Sprintf("short reply (% X)", data)
	}
	return fmt.Sprintf("device 0x%02X rev %d, firmware %d.%02x, IPMI %d.%d",
		data[0], data[1]&0x0F, data[2]&0x7F, data[3], data[4]&0x0F, data[4]>>4)
}
