// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ipmi

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send after Close
var ErrClosed = errors.New("ipmi: connection closed")

// Conn sends requests and delivers decoded responses over a byte stream.
//
// A reader goroutine feeds every received byte to a Decoder and forwards
// responses addressed to the software address on Responses(). The channel
// is closed when the stream fails or the connection is closed.
type Conn struct {
	rw io.ReadWriter

	mu      sync.Mutex // guards seq, writes and stats
	seq     uint8
	bmcAddr uint8
	swAddr  uint8
	stats   *Statistics
	err     error

	responses chan *Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn starts reading from rw and returns the connection
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		rw:        rw,
		bmcAddr:   BMCAddress,
		swAddr:    SoftwareAddress,
		stats:     NewStatistics(),
		responses: make(chan *Message, 4),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// SetAddresses overrides the BMC and software slave addresses
func (c *Conn) SetAddresses(bmc, software uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bmcAddr = bmc
	c.swAddr = software
}

// Send encodes and writes one request. It returns the sequence number
// the response will carry.
func (c *Conn) Send(netFn, cmd uint8, data []byte) (uint8, error) {
	select {
	case <-c.done:
		return 0, ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq
	c.seq = (c.seq + 1) & SeqMask

	frame, err := Encode(NewRequest(netFn, seq, cmd, data).WithAddresses(c.bmcAddr, c.swAddr))
	if err != nil {
		return seq, err
	}
	if _, err := c.rw.Write(frame); err != nil {
		return seq, err
	}
	return seq, nil
}

// Responses returns the channel of decoded responses
func (c *Conn) Responses() <-chan *Message {
	return c.responses
}

// Stats returns a copy of the link statistics
func (c *Conn) Stats() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.stats
}

// Err returns the error that stopped the reader, if any
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the reader and closes the stream if it is an io.Closer
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.responses)

	decoder := NewDecoder()
	buf := make([]byte, 256)

	for {
		n, readErr := c.rw.Read(buf)
		for i := 0; i < n; i++ {
			msg, err := decoder.DecodeByte(buf[i])
			if msg == nil && err == nil {
				continue
			}

			c.mu.Lock()
			c.stats.Update(msg, err)
			swAddr := c.swAddr
			c.mu.Unlock()

			// requests echoed on a shared line are not ours
			if msg == nil || !msg.IsResponse() || msg.DstAddr() != swAddr {
				continue
			}
			select {
			case c.responses <- msg:
			case <-c.done:
				return
			}
		}

		if readErr != nil {
			c.mu.Lock()
			c.err = readErr
			c.mu.Unlock()
			return
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}
