// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmc

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmcstat/pkg/sdr"
)

// Default timing of reading cycles
const (
	DefaultStaleAfter      = 3 * time.Second
	DefaultUpdateTimeout   = 4 * time.Second
	DefaultResponseTimeout = 2 * time.Second
)

// ClientOptions tunes a Client. Zero values select the defaults.
type ClientOptions struct {
	// StaleAfter is how old readings may be before Refresh starts a cycle
	StaleAfter time.Duration
	// UpdateTimeout bounds how long Refresh waits for a cycle
	UpdateTimeout time.Duration
	// ResponseTimeout fails the running cycle when the BMC stops answering
	ResponseTimeout time.Duration
	Session         SessionConfig
	Logger          *logrus.Entry
}

// Stats is a point-in-time view of a client's session
type Stats struct {
	State         State
	Sensors       int
	Chunk         int
	Reservation   uint16
	Cancellations int
	LastRead      time.Time
	Link          LinkStats
}

// Client owns a Session from a single goroutine. Every public method runs
// its work on that goroutine, so the session needs no locking. Run must be
// running for any call to make progress.
type Client struct {
	t       Transport
	opts    ClientOptions
	log     *logrus.Entry
	session *Session

	calls chan func()
	done  chan struct{}

	// owned by the Run goroutine
	discovered chan struct{}
	cycle      chan struct{}
	onDiscover []func([]sdr.Descriptor)
}

// NewClient creates a client for the BMC behind t
func NewClient(t Transport, opts ClientOptions) *Client {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = DefaultUpdateTimeout
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	c := &Client{
		t:          t,
		opts:       opts,
		log:        opts.Logger,
		calls:      make(chan func()),
		done:       make(chan struct{}),
		discovered: make(chan struct{}),
	}

	scfg := opts.Session
	if scfg.Logger == nil {
		scfg.Logger = opts.Logger
	}
	userDiscovered := scfg.OnDiscovered
	scfg.OnDiscovered = func(sensors []sdr.Descriptor) {
		if userDiscovered != nil {
			userDiscovered(sensors)
		}
		for _, fn := range c.onDiscover {
			fn(sensors)
		}
	}
	userDone := scfg.OnDone
	scfg.OnDone = func(state State, err error) {
		c.cycleEnded(state)
		if userDone != nil {
			userDone(state, err)
		}
	}
	c.session = NewSession(t, scfg)
	return c
}

// Run drives the session until ctx is cancelled or the transport closes
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)

	tick := time.NewTicker(c.opts.ResponseTimeout / 2)
	defer tick.Stop()

	responses := c.t.Responses()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fn := <-c.calls:
			fn()

		case m, ok := <-responses:
			if !ok {
				c.session.Abort(ErrTransportClosed)
				return ErrTransportClosed
			}
			c.session.Deliver(m)

		case <-tick.C:
			if c.session.Overdue(c.opts.ResponseTimeout) {
				c.session.Abort(ErrResponseTimeout)
			}
		}
	}
}

// Done is closed when Run returns
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// OnDiscovered registers fn to receive the sensor list when discovery
// completes. Must be called before Run.
func (c *Client) OnDiscovered(fn func([]sdr.Descriptor)) {
	c.onDiscover = append(c.onDiscover, fn)
}

// Discover starts discovery if needed and waits for it to finish
func (c *Client) Discover(ctx context.Context) ([]sdr.Descriptor, error) {
	var wait chan struct{}
	var startErr error
	err := c.do(ctx, func() {
		if c.session.State() == StateInit {
			startErr = c.session.Start()
		}
		wait = c.discovered
	})
	if err != nil {
		return nil, err
	}
	if startErr != nil {
		return nil, startErr
	}

	if err := c.wait(ctx, wait, nil); err != nil {
		return nil, err
	}

	var sensors []sdr.Descriptor
	var discoveryErr error
	err = c.do(ctx, func() {
		sensors = c.session.Sensors()
		discoveryErr = c.session.DiscoveryErr()
	})
	if err != nil {
		return nil, err
	}
	return sensors, discoveryErr
}

// Refresh starts a reading cycle when readings are stale or missing and
// waits for it. It returns ErrUpdateTimeout if the cycle does not finish
// within the update timeout; the cycle keeps running in that case.
func (c *Client) Refresh(ctx context.Context) error {
	var wait chan struct{}
	var startErr error
	err := c.do(ctx, func() {
		if c.fresh() {
			return
		}
		if c.cycle == nil {
			started, err := c.session.StartReading()
			if err != nil {
				startErr = err
				return
			}
			if started {
				c.cycle = make(chan struct{})
			}
		}
		wait = c.cycle
	})
	if err != nil {
		return err
	}
	if startErr != nil || wait == nil {
		return startErr
	}

	timer := time.NewTimer(c.opts.UpdateTimeout)
	defer timer.Stop()
	if err := c.wait(ctx, wait, timer.C); err != nil {
		return err
	}

	var readErr error
	if err := c.do(ctx, func() { readErr = c.session.ReadErr() }); err != nil {
		return err
	}
	return readErr
}

// Scaled refreshes stale readings and returns the converted values of the
// index-th sensor of kind. When the refresh times out or fails the last
// known values are still returned together with the error.
func (c *Client) Scaled(ctx context.Context, kind sdr.Kind, index int) (sdr.Values, error) {
	refreshErr := c.Refresh(ctx)
	if errors.Is(refreshErr, ErrClosed) || ctx.Err() != nil {
		return sdr.Values{}, refreshErr
	}

	var v sdr.Values
	found := false
	err := c.do(ctx, func() {
		if d := c.session.Sensor(kind, index); d != nil {
			v = sdr.Scale(d)
			found = true
		}
	})
	if err != nil {
		return sdr.Values{}, err
	}
	if !found {
		if refreshErr != nil {
			return sdr.Values{}, refreshErr
		}
		return sdr.Values{}, ErrUnknownSensor
	}
	return v, refreshErr
}

// Sensors returns a copy of every sensor with its last reading
func (c *Client) Sensors(ctx context.Context) ([]sdr.Descriptor, error) {
	var out []sdr.Descriptor
	err := c.do(ctx, func() { out = c.session.Sensors() })
	return out, err
}

// Stats returns the session counters
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := c.do(ctx, func() {
		st = Stats{
			State:         c.session.State(),
			Sensors:       len(c.session.Sensors()),
			Chunk:         c.session.Chunk(),
			Reservation:   c.session.Reservation(),
			Cancellations: c.session.Cancellations(),
			LastRead:      c.session.LastRead(),
			Link:          c.session.LinkStats(),
		}
	})
	return st, err
}

// fresh reports whether the last completed cycle is within the staleness window
func (c *Client) fresh() bool {
	last := c.session.LastRead()
	if last.IsZero() {
		return false
	}
	now := c.session.cfg.Now()
	return !now.Before(last) && now.Sub(last) <= c.opts.StaleAfter
}

// cycleEnded runs on the Run goroutine whenever the session reaches a terminal state
func (c *Client) cycleEnded(state State) {
	switch state {
	case StateDiscovered, StateDiscoveryFailed:
		select {
		case <-c.discovered:
		default:
			close(c.discovered)
		}
	case StateReadDone, StateReadFailed:
		if c.cycle != nil {
			close(c.cycle)
			c.cycle = nil
		}
	}
}

// do runs fn on the Run goroutine and waits for it
func (c *Client) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		fn()
		close(finished)
	}

	select {
	case c.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// wait blocks until ch closes, ctx ends, Run exits or timeout fires
func (c *Client) wait(ctx context.Context, ch <-chan struct{}, timeout <-chan time.Time) error {
	select {
	case <-ch:
		return nil
	case <-timeout:
		return ErrUpdateTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}
