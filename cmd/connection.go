// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/bmcstat/internal/config"
	"github.com/Thermoquad/bmcstat/internal/sim"
	"github.com/Thermoquad/bmcstat/pkg/bmc"
	"github.com/Thermoquad/bmcstat/pkg/ipmi"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

// Connection is a byte stream carrying serial basic-mode frames
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrConnectionClosed is returned once the peer has gone away
var ErrConnectionClosed = errors.New("connection closed")

// OpenSerialConnection opens a port at 8N1. Bytes already queued by the
// driver are dropped so the decoder starts on a frame boundary.
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port %s: %v", portName, err)
	}
	return port, nil
}

// frameStream carries the serial byte stream over WebSocket binary
// messages. Each Write goes out as one message, which keeps an encoded
// frame together; Read does not rely on that and streams message bodies
// back to back.
type frameStream struct {
	ws  *websocket.Conn
	cur io.Reader
	err error
}

func newFrameStream(ws *websocket.Conn) *frameStream {
	return &frameStream{ws: ws}
}

func (f *frameStream) Read(p []byte) (int, error) {
	for f.err == nil {
		if f.cur == nil {
			kind, r, err := f.ws.NextReader()
			if err != nil {
				f.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
				break
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			f.cur = r
		}

		n, err := f.cur.Read(p)
		if errors.Is(err, io.EOF) {
			f.cur = nil
			err = nil
		}
		if err != nil {
			f.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		if n > 0 {
			return n, nil
		}
	}
	return 0, f.err
}

func (f *frameStream) Write(p []byte) (int, error) {
	if err := f.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *frameStream) Close() error {
	return f.ws.Close()
}

// OpenWebSocketConnection dials a BMC bridge that relays the serial port
// over WebSocket, authenticating with HTTP Basic auth when a username is set
func OpenWebSocketConnection(c config.ConnectionConfig, password string) (Connection, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: c.NoSSLVerify}
	}

	headers := http.Header{}
	if c.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + password))
		headers.Set("Authorization", "Basic "+token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ws, resp, err := dialer.DialContext(ctx, c.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}
	return newFrameStream(ws), nil
}

// GetPassword returns BMCSTAT_PASSWORD, or prompts on the terminal
func GetPassword() (string, error) {
	if pw := os.Getenv("BMCSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		return string(pw), nil
	}

	// piped input
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %v", err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the serial port or WebSocket bridge named by the
// configuration and describes it for the banner line
func OpenConnection() (Connection, string, error) {
	c := cfg.Connection
	switch {
	case c.URL != "":
		var password string
		if c.Username != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, "", err
			}
		}
		conn, err := OpenWebSocketConnection(c, password)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", c.URL), nil

	case c.Port != "":
		conn, err := OpenSerialConnection(c.Port, c.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", c.Port, c.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port, --url or --simulate must be specified")
}

// Link is a request transport to the BMC that can be shut down
type Link interface {
	bmc.Transport
	io.Closer
}

// OpenLink opens the configured connection and frames IPMI messages on it.
// With --simulate the link is an in-process simulated BMC.
func OpenLink() (Link, string, error) {
	if simulate {
		b := sim.Demo(sim.Options{Jitter: 2, Seed: time.Now().UnixNano(), Logger: log})
		return b.Transport(), "Simulated BMC", nil
	}

	conn, info, err := OpenConnection()
	if err != nil {
		return nil, "", err
	}
	link := ipmi.NewConn(conn)
	link.SetAddresses(cfg.IPMI.BMCAddress, cfg.IPMI.SoftwareAddress)
	return link, info, nil
}

// NewClient starts a client on link. The client stops when ctx is cancelled.
// onDiscovered callbacks are registered before the client starts.
func NewClient(ctx context.Context, link Link, onDiscovered ...func([]sdr.Descriptor)) *bmc.Client {
	c := bmc.NewClient(link, bmc.ClientOptions{
		StaleAfter:      cfg.Readings.StaleAfter(),
		UpdateTimeout:   cfg.Readings.UpdateTimeout(),
		ResponseTimeout: cfg.Readings.ResponseTimeout(),
		Session:         bmc.SessionConfig{InitialChunk: cfg.IPMI.InitialChunk},
		Logger:          log,
	})
	for _, fn := range onDiscovered {
		c.OnDiscovered(fn)
	}
	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("client stopped")
		}
	}()
	return c
}
