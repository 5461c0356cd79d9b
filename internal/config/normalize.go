// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

// Defaults applied by Normalize
const (
	DefaultBaud              = 115200
	DefaultBMCAddress        = 0x20
	DefaultSoftwareAddress   = 0x81
	DefaultInitialChunk      = 67
	DefaultStaleAfterMs      = 3000
	DefaultUpdateTimeoutMs   = 4000
	DefaultResponseTimeoutMs = 2000
	DefaultPollIntervalMs    = 5000
	DefaultListen            = ":9290"
	DefaultMetricsPath       = "/metrics"
	DefaultClientID          = "bmcstat"
	DefaultTopic             = "bmcstat/sensors"
	DefaultSnapshotPath      = "sensors.cbor"
)

// Normalize fills unset fields with defaults.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	setInt(&cfg.Connection.Baud, DefaultBaud)

	if cfg.IPMI.BMCAddress == 0 {
		cfg.IPMI.BMCAddress = DefaultBMCAddress
	}
	if cfg.IPMI.SoftwareAddress == 0 {
		cfg.IPMI.SoftwareAddress = DefaultSoftwareAddress
	}
	setInt(&cfg.IPMI.InitialChunk, DefaultInitialChunk)

	setInt(&cfg.Readings.StaleAfterMs, DefaultStaleAfterMs)
	setInt(&cfg.Readings.UpdateTimeoutMs, DefaultUpdateTimeoutMs)
	setInt(&cfg.Readings.ResponseTimeoutMs, DefaultResponseTimeoutMs)
	setInt(&cfg.Readings.PollIntervalMs, DefaultPollIntervalMs)

	setString(&cfg.Exporter.Listen, DefaultListen)
	setString(&cfg.Exporter.Path, DefaultMetricsPath)

	// MQTT stays disabled without a broker
	if cfg.MQTT.Enabled() {
		setString(&cfg.MQTT.ClientID, DefaultClientID)
		setString(&cfg.MQTT.Topic, DefaultTopic)
	}

	setString(&cfg.Snapshot.Path, DefaultSnapshotPath)
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
