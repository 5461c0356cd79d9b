// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmcstat/internal/snapshot"
	"github.com/Thermoquad/bmcstat/pkg/bmc"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

var (
	readTimeout int
	readFrom    string
)

var readCmd = &cobra.Command{
	Use:   "read [sensor...]",
	Short: "Read converted sensor values",
	Long: `Discover the sensors of the BMC, poll their readings and print the
converted values together with the selected upper and lower limits.

Sensors are named by kind and position: temp1, in2, curr1, fan3. Without
arguments every sensor is printed.

With --from the values stored in a snapshot file are printed instead and
no connection is opened.

Examples:
  bmcstat read --port /dev/ttyS1
  bmcstat read --simulate temp1 fan2
  bmcstat read --from sensors.cbor

Exit codes:
  0 - Values read
  1 - Discovery or reading failed, or values are stale
  2 - Connection error`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().IntVar(&readTimeout, "timeout", 30, "Timeout in seconds for discovery and reading")
	readCmd.Flags().StringVar(&readFrom, "from", "", "Print the values stored in a snapshot file")
}

// parseSensorName splits a name such as "in3" into its kind and 0-based index
func parseSensorName(name string) (sdr.Kind, int, error) {
	i := strings.IndexAny(name, "0123456789")
	if i <= 0 {
		return sdr.KindUnspecified, 0, fmt.Errorf("invalid sensor name %q", name)
	}
	kind, err := sdr.ParseKind(name[:i])
	if err != nil {
		return sdr.KindUnspecified, 0, err
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil || n < 1 {
		return sdr.KindUnspecified, 0, fmt.Errorf("invalid sensor number in %q", name)
	}
	return kind, n - 1, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	type selected struct {
		kind  sdr.Kind
		index int
	}
	var wanted []selected
	for _, arg := range args {
		kind, index, err := parseSensorName(arg)
		if err != nil {
			return err
		}
		wanted = append(wanted, selected{kind, index})
	}

	if readFrom != "" {
		snap, err := snapshot.Load(readFrom)
		if err != nil {
			fmt.Fprintf(os.Stderr, "LOAD FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("bmcstat - Snapshot %s\n", readFrom)
		fmt.Printf("Source: %s\n", snap.Source)
		fmt.Printf("Taken: %s\n\n", snap.Taken.Format(time.RFC3339))

		sensors := snap.Sensors
		if len(wanted) > 0 {
			sensors = nil
			for _, w := range wanted {
				for _, d := range snap.Sensors {
					if d.Kind == w.kind && d.Index == w.index {
						sensors = append(sensors, d)
					}
				}
			}
		}
		printSensorTable(sensors, true)
		return nil
	}

	link, connInfo, err := OpenLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	log.WithField("connection", connInfo).Debug("connected")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(readTimeout)*time.Second)
	defer cancel()
	client := NewClient(ctx, link)

	if _, err := client.Discover(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "DISCOVERY FAILED: %v\n", err)
		os.Exit(1)
	}

	if len(wanted) == 0 {
		refreshErr := client.Refresh(ctx)
		sensors, err := client.Sensors(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "READ FAILED: %v\n", err)
			os.Exit(1)
		}
		printSensorTable(sensors, true)
		if refreshErr != nil {
			fmt.Fprintf(os.Stderr, "\nWARNING: %v\n", refreshErr)
			os.Exit(1)
		}
		return nil
	}

	failed := false
	for i, w := range wanted {
		v, err := client.Scaled(ctx, w.kind, w.index)
		switch {
		case errors.Is(err, bmc.ErrUnknownSensor):
			fmt.Fprintf(os.Stderr, "%s: no such sensor\n", args[i])
			failed = true
			continue
		case err != nil && !errors.Is(err, bmc.ErrUpdateTimeout):
			fmt.Fprintf(os.Stderr, "%s: %v\n", args[i], err)
			failed = true
			continue
		case err != nil:
			failed = true
		}
		fmt.Printf("%s: %s\n", args[i], formatValues(w.kind, v))
	}
	if failed {
		os.Exit(1)
	}
	return nil
}

// formatValues prints a Scaled result as reading followed by its limits
func formatValues(kind sdr.Kind, v sdr.Values) string {
	u := unit(kind)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", sdr.FormatFixed(v.Reading(), v.DecimalPlaces), u)
	if kind != sdr.KindFan {
		fmt.Fprintf(&b, " (upper %s %s", sdr.FormatFixed(v.Upper(), v.DecimalPlaces), u)
		fmt.Fprintf(&b, ", lower %s %s)", sdr.FormatFixed(v.Lower(), v.DecimalPlaces), u)
	} else {
		fmt.Fprintf(&b, " (lower %s %s)", sdr.FormatFixed(v.Lower(), v.DecimalPlaces), u)
	}
	return b.String()
}
