// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish sends scaled sensor readings to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmcstat/internal/config"
	"github.com/Thermoquad/bmcstat/pkg/bmc"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

const publishTimeout = 5 * time.Second

// Reading is the JSON payload published per sensor
type Reading struct {
	Sensor        string   `json:"sensor"`
	Label         string   `json:"label"`
	Kind          string   `json:"kind"`
	Value         *float64 `json:"value,omitempty"`
	Upper         *float64 `json:"upper,omitempty"`
	Lower         *float64 `json:"lower,omitempty"`
	DecimalPlaces int      `json:"decimal_places"`
	Degraded      bool     `json:"degraded,omitempty"`
	Timestamp     int64    `json:"timestamp,omitempty"`
}

// broker is the part of mqtt.Client the publisher uses
type broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher publishes one message per sensor under a topic prefix
type Publisher struct {
	client broker
	topic  string
	qos    byte
	retain bool
	log    *logrus.Entry
}

// Connect dials the configured broker
func Connect(cfg config.MQTTConfig, log *logrus.Entry) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return newPublisher(client, cfg, log), nil
}

func newPublisher(client broker, cfg config.MQTTConfig, log *logrus.Entry) *Publisher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Publisher{
		client: client,
		topic:  cfg.Topic,
		qos:    cfg.QoS,
		retain: cfg.Retain,
		log:    log.WithField("component", "mqtt"),
	}
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// Publish sends every sensor as <topic>/<name>
func (p *Publisher) Publish(sensors []sdr.Descriptor) error {
	var errs []error
	for i := range sensors {
		d := &sensors[i]
		body, err := json.Marshal(NewReading(d))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
			continue
		}

		topic := p.topic + "/" + d.Name
		token := p.client.Publish(topic, p.qos, p.retain, body)
		if !token.WaitTimeout(publishTimeout) {
			errs = append(errs, fmt.Errorf("%s: publish timed out", topic))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// NewReading converts a descriptor into its published form
func NewReading(d *sdr.Descriptor) Reading {
	v := sdr.Scale(d)
	r := Reading{
		Sensor:        d.Name,
		Label:         d.Label(),
		Kind:          d.Kind.String(),
		DecimalPlaces: v.DecimalPlaces,
		Degraded:      d.Degraded(),
	}
	value := func(x int64) *float64 {
		f := sdr.Float(x, v.DecimalPlaces)
		return &f
	}
	if d.Valid {
		r.Value = value(v.Reading())
		r.Timestamp = d.Updated.Unix()
	}
	if d.Kind != sdr.KindFan && d.Upper.Valid() {
		r.Upper = value(v.Upper())
	}
	if d.Lower.Valid() {
		r.Lower = value(v.Lower())
	}
	return r
}

// Source is the part of bmc.Client the loop reads from
type Source interface {
	Refresh(ctx context.Context) error
	Sensors(ctx context.Context) ([]sdr.Descriptor, error)
}

// Run refreshes and publishes every interval until ctx is cancelled.
// A timed-out refresh still publishes the last known values.
func (p *Publisher) Run(ctx context.Context, src Source, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.cycle(ctx, src); err != nil {
			if ctx.Err() != nil || errors.Is(err, bmc.ErrClosed) {
				return err
			}
			p.log.WithError(err).Warn("publish cycle failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Publisher) cycle(ctx context.Context, src Source) error {
	refreshErr := src.Refresh(ctx)
	if refreshErr != nil && !errors.Is(refreshErr, bmc.ErrUpdateTimeout) {
		return refreshErr
	}
	if refreshErr != nil {
		p.log.Warn(refreshErr)
	}

	sensors, err := src.Sensors(ctx)
	if err != nil {
		return err
	}
	if err := p.Publish(sensors); err != nil {
		return err
	}
	p.log.WithField("sensors", len(sensors)).Debug("published readings")
	return nil
}
