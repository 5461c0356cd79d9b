// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	watchInterval int
	watchTimeout  int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive sensor monitor",
	Long: `Discover the sensors of the BMC and keep their converted readings on
screen, refreshed at a fixed interval.

Readings younger than the staleness window are not polled again, so a
short interval does not load the BMC more than the configured
stale_after_ms allows.

Keys:
  r - refresh now
  q - quit`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().IntVar(&watchInterval, "interval", 0, "Refresh interval in milliseconds (default from config)")
	watchCmd.Flags().IntVar(&watchTimeout, "timeout", 30, "Timeout in seconds for discovery and each refresh")
}

func runWatch(cmd *cobra.Command, args []string) error {
	link, connInfo, err := OpenLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	// log lines would tear the alternate screen
	log.Logger.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := NewClient(ctx, link)

	interval := cfg.Readings.PollInterval()
	if watchInterval > 0 {
		interval = time.Duration(watchInterval) * time.Millisecond
	}

	m := newWatchModel(client, connInfo, interval, time.Duration(watchTimeout)*time.Second)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		return fmt.Errorf("error running TUI: %v", err)
	}
	return nil
}
