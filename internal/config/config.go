// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the bmcstat YAML configuration file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	IPMI       IPMIConfig       `yaml:"ipmi"`
	Readings   ReadingsConfig   `yaml:"readings"`
	Exporter   ExporterConfig   `yaml:"exporter"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
}

// ---- CONNECTION ----

// ConnectionConfig selects the link to the BMC. Exactly one of Port and
// URL is used; flags override both.
type ConnectionConfig struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// ---- IPMI ----

type IPMIConfig struct {
	BMCAddress      uint8 `yaml:"bmc_address"`
	SoftwareAddress uint8 `yaml:"software_address"`
	InitialChunk    int   `yaml:"initial_chunk"`
}

// ---- READINGS ----

type ReadingsConfig struct {
	StaleAfterMs      int `yaml:"stale_after_ms"`
	UpdateTimeoutMs   int `yaml:"update_timeout_ms"`
	ResponseTimeoutMs int `yaml:"response_timeout_ms"`
	PollIntervalMs    int `yaml:"poll_interval_ms"`
}

func (r ReadingsConfig) StaleAfter() time.Duration {
	return time.Duration(r.StaleAfterMs) * time.Millisecond
}

func (r ReadingsConfig) UpdateTimeout() time.Duration {
	return time.Duration(r.UpdateTimeoutMs) * time.Millisecond
}

func (r ReadingsConfig) ResponseTimeout() time.Duration {
	return time.Duration(r.ResponseTimeoutMs) * time.Millisecond
}

func (r ReadingsConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

// ---- EXPORTER ----

type ExporterConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// ---- MQTT (optional) ----

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// ---- SNAPSHOT ----

type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// Load reads, validates and normalizes the file at path
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document, rejecting unknown keys, then validates
// and normalizes it. An empty document yields the defaults.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	Normalize(cfg)
	return cfg, nil
}

// Default returns the normalized zero configuration
func Default() *Config {
	cfg := &Config{}
	Normalize(cfg)
	return cfg
}
