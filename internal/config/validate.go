// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

// Validate checks configuration correctness.
// It performs declarative validation only and never mutates cfg.
// Zero values are valid; Normalize fills them in.
func Validate(cfg *Config) error {
	c := cfg.Connection
	if c.Port != "" && c.URL != "" {
		return fmt.Errorf("connection: port and url are mutually exclusive")
	}
	if c.Baud < 0 {
		return fmt.Errorf("connection: baud must be positive, got %d", c.Baud)
	}
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("connection: url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("connection: url scheme must be ws or wss, got %q", u.Scheme)
		}
	}

	// slave addresses are 7-bit values shifted left, so they are even
	if a := cfg.IPMI.BMCAddress; a&0x01 != 0 {
		return fmt.Errorf("ipmi: bmc_address 0x%02x must be even", a)
	}
	if a := cfg.IPMI.SoftwareAddress; a != 0 && a&0x01 == 0 {
		return fmt.Errorf("ipmi: software_address 0x%02x must be odd", a)
	}
	if n := cfg.IPMI.InitialChunk; n != 0 && (n < sdr.MinChunk || n > 0xff) {
		return fmt.Errorf("ipmi: initial_chunk must be %d-255, got %d", sdr.MinChunk, n)
	}

	r := cfg.Readings
	for name, v := range map[string]int{
		"stale_after_ms":      r.StaleAfterMs,
		"update_timeout_ms":   r.UpdateTimeoutMs,
		"response_timeout_ms": r.ResponseTimeoutMs,
		"poll_interval_ms":    r.PollIntervalMs,
	} {
		if v < 0 {
			return fmt.Errorf("readings: %s must not be negative, got %d", name, v)
		}
	}

	if p := cfg.Exporter.Path; p != "" && !strings.HasPrefix(p, "/") {
		return fmt.Errorf("exporter: path must start with /, got %q", p)
	}

	m := cfg.MQTT
	if m.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", m.QoS)
	}
	if m.Broker == "" && (m.Topic != "" || m.ClientID != "") {
		return fmt.Errorf("mqtt: topic and client_id require a broker")
	}
	if strings.ContainsAny(m.Topic, "+#") {
		return fmt.Errorf("mqtt: topic %q must not contain wildcards", m.Topic)
	}

	return nil
}
