// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmcstat/internal/exporter"
	"github.com/Thermoquad/bmcstat/internal/publish"
	"github.com/Thermoquad/bmcstat/internal/snapshot"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Export sensor readings to Prometheus and MQTT",
	Long: `Discover the sensors of the BMC once, then serve their readings.

Every scrape of the metrics endpoint refreshes stale readings before the
values are exported. When an MQTT broker is configured, readings are also
published every poll interval, one retained message per sensor.

After discovery the sensor list is written to the configured snapshot path
so it can be inspected offline with "bmcstat read --from".

Exit codes:
  0 - Stopped by signal
  1 - Discovery or server failure
  2 - Connection error`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Metrics listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link, connInfo, err := OpenLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	client := NewClient(ctx, link, func(sensors []sdr.Descriptor) {
		if len(sensors) == 0 || cfg.Snapshot.Path == "" {
			return
		}
		if err := snapshot.Save(cfg.Snapshot.Path, snapshot.New(connInfo, sensors, time.Now())); err != nil {
			log.WithError(err).Warn("cannot write snapshot")
		}
	})

	discoverCtx, cancel := context.WithTimeout(ctx, time.Minute)
	sensors, err := client.Discover(discoverCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "DISCOVERY FAILED: %v\n", err)
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{
		"connection": connInfo,
		"sensors":    len(sensors),
	}).Info("discovery complete")

	if cfg.MQTT.Enabled() {
		pub, err := publish.Connect(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		go func() {
			err := pub.Run(ctx, client, cfg.Readings.PollInterval())
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Error("publisher stopped")
			}
		}()
	}

	handler, err := exporter.Handler(exporter.NewCollector(client, cfg.Readings.UpdateTimeout()+time.Second, log))
	if err != nil {
		return err
	}

	listen := cfg.Exporter.Listen
	if serveListen != "" {
		listen = serveListen
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Exporter.Path, handler)

	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{"listen": listen, "path": cfg.Exporter.Path}).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
