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

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmcstat/internal/sim"
)

var (
	simListen      string
	simPath        string
	simMaxChunk    int
	simCancelEvery int
	simJitter      int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve a simulated BMC over serial or WebSocket",
	Long: `Run the built-in simulated BMC as a serial basic-mode peer.

With --port the simulator answers on a serial device, for example one end
of a null-modem pair. Otherwise it listens for WebSocket clients and
answers each connection independently, so other bmcstat commands can be
pointed at it with --url.

Fault injection:
  --max-chunk     answer larger Get SDR requests with 0xCA
  --cancel-every  cancel the reservation before every n-th Get SDR
  --jitter        vary readings by up to this many counts

Examples:
  bmcstat simulate --listen :9623 --max-chunk 16
  bmcstat read --url ws://localhost:9623/ipmi`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simListen, "listen", ":9623", "WebSocket listen address")
	simulateCmd.Flags().StringVar(&simPath, "path", "/ipmi", "WebSocket endpoint path")
	simulateCmd.Flags().IntVar(&simMaxChunk, "max-chunk", 0, "Largest Get SDR chunk answered (0 = unlimited)")
	simulateCmd.Flags().IntVar(&simCancelEvery, "cancel-every", 0, "Cancel the reservation before every n-th Get SDR")
	simulateCmd.Flags().IntVar(&simJitter, "jitter", 2, "Reading jitter in raw counts")
}

func simOptions() sim.Options {
	return sim.Options{
		MaxChunk:    simMaxChunk,
		CancelEvery: simCancelEvery,
		Jitter:      simJitter,
		Seed:        time.Now().UnixNano(),
		Logger:      log,
	}
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Connection.Port != "" {
		conn, err := OpenSerialConnection(cfg.Connection.Port, cfg.Connection.Baud)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
		defer conn.Close()

		log.WithField("port", cfg.Connection.Port).Info("simulated BMC serving on serial port")
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		if err := sim.Demo(simOptions()).Serve(ctx, conn); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(simPath, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		conn := newFrameStream(ws)
		defer conn.Close()

		clientLog := log.WithField("remote", r.RemoteAddr)
		clientLog.Info("client connected")

		// every client gets its own BMC so reservations do not interfere
		err = sim.Demo(simOptions()).Serve(r.Context(), conn)
		switch {
		case err == nil, errors.Is(err, ErrConnectionClosed):
			clientLog.Info("client disconnected")
		default:
			clientLog.WithError(err).Warn("client connection failed")
		}
	})

	srv := &http.Server{Addr: simListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{"listen": simListen, "path": simPath}).Info("simulated BMC serving WebSocket clients")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Listen error: %v\n", err)
		os.Exit(2)
	}
	return nil
}
