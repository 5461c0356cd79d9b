// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package exporter exposes BMC sensor readings as Prometheus metrics.
package exporter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmcstat/pkg/bmc"
	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

const namespace = "bmc"

// Source is the part of bmc.Client the collector reads from
type Source interface {
	Refresh(ctx context.Context) error
	Sensors(ctx context.Context) ([]sdr.Descriptor, error)
	Stats(ctx context.Context) (bmc.Stats, error)
}

var sensorLabels = []string{"sensor", "kind", "label"}

// Collector polls a Source on every scrape
type Collector struct {
	src     Source
	log     *logrus.Entry
	timeout time.Duration

	up            *prometheus.Desc
	reading       *prometheus.Desc
	upperLimit    *prometheus.Desc
	lowerLimit    *prometheus.Desc
	degraded      *prometheus.Desc
	writable      *prometheus.Desc
	lastRead      *prometheus.Desc
	cancellations *prometheus.Desc
	requests      *prometheus.Desc
	responses     *prometheus.Desc
	dropped       *prometheus.Desc
}

// NewCollector creates a collector. timeout bounds each scrape.
func NewCollector(src Source, timeout time.Duration, log *logrus.Entry) *Collector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Collector{
		src:     src,
		log:     log.WithField("component", "exporter"),
		timeout: timeout,

		up: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "up"),
			"Whether the last reading cycle succeeded", nil, nil),
		reading: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sensor", "reading"),
			"Converted sensor reading", sensorLabels, nil),
		upperLimit: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sensor", "upper_limit"),
			"Converted upper threshold", sensorLabels, nil),
		lowerLimit: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sensor", "lower_limit"),
			"Converted lower threshold", sensorLabels, nil),
		degraded: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sensor", "degraded"),
			"Whether converted values are approximate or unavailable", sensorLabels, nil),
		writable: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sensor", "thresholds_writable"),
			"Whether a selected threshold may be written", sensorLabels, nil),
		lastRead: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "last_read_timestamp_seconds"),
			"Completion time of the last reading cycle", nil, nil),
		cancellations: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sdr", "reservations_cancelled"),
			"Reservations cancelled during discovery", nil, nil),
		requests: prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "requests_total"),
			"Requests sent to the BMC", nil, nil),
		responses: prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "responses_total"),
			"Responses matched to a request", nil, nil),
		dropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "dropped_total"),
			"Responses dropped for not matching the outstanding request", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.up, c.reading, c.upperLimit, c.lowerLimit, c.degraded, c.writable,
		c.lastRead, c.cancellations, c.requests, c.responses, c.dropped,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	up := 1.0
	if err := c.src.Refresh(ctx); err != nil {
		up = 0
		if errors.Is(err, bmc.ErrUpdateTimeout) {
			c.log.Warn(err)
		} else {
			c.log.WithError(err).Error("refresh failed")
		}
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)

	sensors, err := c.src.Sensors(ctx)
	if err != nil {
		c.log.WithError(err).Error("cannot list sensors")
		return
	}
	for i := range sensors {
		c.collectSensor(ch, &sensors[i])
	}

	st, err := c.src.Stats(ctx)
	if err != nil {
		c.log.WithError(err).Debug("cannot read stats")
		return
	}
	if !st.LastRead.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastRead, prometheus.GaugeValue, float64(st.LastRead.UnixNano())/1e9)
	}
	ch <- prometheus.MustNewConstMetric(c.cancellations, prometheus.GaugeValue, float64(st.Cancellations))
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(st.Link.Requests))
	ch <- prometheus.MustNewConstMetric(c.responses, prometheus.CounterValue, float64(st.Link.Responses))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.Link.Dropped))
}

func (c *Collector) collectSensor(ch chan<- prometheus.Metric, d *sdr.Descriptor) {
	labels := []string{d.Name, d.Kind.String(), d.Label()}
	v := sdr.Scale(d)

	ch <- prometheus.MustNewConstMetric(c.degraded, prometheus.GaugeValue, boolValue(d.Degraded()), labels...)
	ch <- prometheus.MustNewConstMetric(c.writable, prometheus.GaugeValue, boolValue(d.Writable()), labels...)

	if d.Valid {
		ch <- prometheus.MustNewConstMetric(c.reading, prometheus.GaugeValue,
			sdr.Float(v.Reading(), v.DecimalPlaces), labels...)
	}
	if d.Kind != sdr.KindFan && d.Upper.Valid() {
		ch <- prometheus.MustNewConstMetric(c.upperLimit, prometheus.GaugeValue,
			sdr.Float(v.Upper(), v.DecimalPlaces), labels...)
	}
	if d.Lower.Valid() {
		ch <- prometheus.MustNewConstMetric(c.lowerLimit, prometheus.GaugeValue,
			sdr.Float(v.Lower(), v.DecimalPlaces), labels...)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler returns an HTTP handler serving the collector from its own registry
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
