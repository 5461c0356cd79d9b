// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---- load ----

func TestLoad_File(t *testing.T) {
	doc := `
connection:
  port: /dev/ttyUSB0
  baud: 19200
ipmi:
  bmc_address: 0x20
readings:
  stale_after_ms: 1500
mqtt:
  broker: tcp://localhost:1883
  qos: 1
`
	path := filepath.Join(t.TempDir(), "bmcstat.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Connection.Port != "/dev/ttyUSB0" || cfg.Connection.Baud != 19200 {
		t.Errorf("unexpected connection %+v", cfg.Connection)
	}
	if cfg.Readings.StaleAfter() != 1500*time.Millisecond {
		t.Errorf("expected 1.5s staleness, got %v", cfg.Readings.StaleAfter())
	}
	if cfg.Readings.UpdateTimeout() != 4*time.Second {
		t.Errorf("expected default update timeout, got %v", cfg.Readings.UpdateTimeout())
	}
	if !cfg.MQTT.Enabled() || cfg.MQTT.Topic != DefaultTopic || cfg.MQTT.ClientID != DefaultClientID {
		t.Errorf("unexpected mqtt %+v", cfg.MQTT)
	}
	if cfg.IPMI.SoftwareAddress != DefaultSoftwareAddress {
		t.Errorf("expected default software address, got 0x%02x", cfg.IPMI.SoftwareAddress)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Default()
	if *cfg != *want {
		t.Errorf("expected defaults\n got %+v\nwant %+v", cfg, want)
	}
	if cfg.MQTT.Enabled() || cfg.MQTT.Topic != "" {
		t.Errorf("mqtt should stay disabled, got %+v", cfg.MQTT)
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("readings:\n  stale_after: 3\n"))
	if err == nil || !strings.Contains(err.Error(), "stale_after") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

// ---- validate ----

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"zero", Config{}, ""},
		{"both links", Config{Connection: ConnectionConfig{Port: "/dev/ttyS0", URL: "ws://bmc"}}, "mutually exclusive"},
		{"bad scheme", Config{Connection: ConnectionConfig{URL: "http://bmc"}}, "scheme"},
		{"wss", Config{Connection: ConnectionConfig{URL: "wss://bmc/ipmi"}}, ""},
		{"odd bmc address", Config{IPMI: IPMIConfig{BMCAddress: 0x21}}, "bmc_address"},
		{"even software address", Config{IPMI: IPMIConfig{SoftwareAddress: 0x80}}, "software_address"},
		{"chunk too large", Config{IPMI: IPMIConfig{InitialChunk: 300}}, "initial_chunk"},
		{"chunk below floor", Config{IPMI: IPMIConfig{InitialChunk: 4}}, "initial_chunk"},
		{"negative chunk", Config{IPMI: IPMIConfig{InitialChunk: -1}}, "initial_chunk"},
		{"smallest chunk", Config{IPMI: IPMIConfig{InitialChunk: 8}}, ""},
		{"negative timeout", Config{Readings: ReadingsConfig{UpdateTimeoutMs: -1}}, "update_timeout_ms"},
		{"relative path", Config{Exporter: ExporterConfig{Path: "metrics"}}, "exporter"},
		{"qos", Config{MQTT: MQTTConfig{Broker: "tcp://b:1883", QoS: 3}}, "qos"},
		{"topic without broker", Config{MQTT: MQTTConfig{Topic: "x"}}, "broker"},
		{"wildcard topic", Config{MQTT: MQTTConfig{Broker: "tcp://b:1883", Topic: "a/#"}}, "wildcards"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.cfg
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			} else if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if tt.cfg != before {
				t.Error("Validate mutated the configuration")
			}
		})
	}
}

// ---- normalize ----

func TestNormalize_KeepsValues(t *testing.T) {
	cfg := &Config{
		Readings: ReadingsConfig{PollIntervalMs: 250},
		Exporter: ExporterConfig{Listen: "127.0.0.1:9000"},
	}
	Normalize(cfg)

	if cfg.Readings.PollInterval() != 250*time.Millisecond {
		t.Errorf("poll interval overwritten: %v", cfg.Readings.PollInterval())
	}
	if cfg.Exporter.Listen != "127.0.0.1:9000" || cfg.Exporter.Path != DefaultMetricsPath {
		t.Errorf("unexpected exporter %+v", cfg.Exporter)
	}
	if cfg.IPMI.InitialChunk != DefaultInitialChunk {
		t.Errorf("expected chunk %d, got %d", DefaultInitialChunk, cfg.IPMI.InitialChunk)
	}

	Normalize(nil)
}
