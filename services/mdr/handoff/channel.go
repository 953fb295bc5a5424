// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sender delivers an envelope to the listener identified by pid without
// blocking. It returns ErrBufferFull when the listener's queue is full and
// ErrListenerGone when no connection exists for pid.
type Sender interface {
	Send(pid int, env Envelope) error
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithLivenessCheck replaces the process liveness probe.
func WithLivenessCheck(alive func(pid int) bool) ChannelOption {
	return func(c *Channel) {
		if alive != nil {
			c.alive = alive
		}
	}
}

// WithChannelLogger sets the logger. The default is slog.Default().
func WithChannelLogger(logger *slog.Logger) ChannelOption {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Channel tracks the listener process and its acknowledgement flags.
//
// # Description
//
// Push delivers report records to the most recently announced listener.
// Acknowledgements arrive through HandleControl and are consumed by Wait.
// Every flag change closes the current broadcast channel and installs a
// fresh one, so waiters wake without polling.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Send is called with no lock held.
type Channel struct {
	mu      sync.Mutex
	sender  Sender
	pid     int
	known   bool
	gone    bool
	seq     uint64
	flags   Flag
	changed chan struct{}

	alive  func(pid int) bool
	logger *slog.Logger
}

// NewChannel creates a channel that hands envelopes to sender.
func NewChannel(sender Sender, opts ...ChannelOption) *Channel {
	c := &Channel{
		sender:  sender,
		changed: make(chan struct{}),
		alive:   ProcessAlive,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Push sends one record payload to the listener.
//
// # Outputs
//
//   - int: Number of payload bytes accepted.
//   - error: ErrPayloadTooLarge, ErrNoListener, ErrListenerGone or
//     ErrBufferFull.
func (c *Channel) Push(payload []byte) (int, error) {
	if len(payload) > MaxPayloadLen {
		return 0, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadLen)
	}

	c.mu.Lock()
	if !c.known {
		c.mu.Unlock()
		return 0, ErrNoListener
	}
	if c.gone {
		c.mu.Unlock()
		return 0, ErrListenerGone
	}
	pid := c.pid
	c.seq++
	env := Envelope{Type: CodeRecord, PID: pid, Seq: c.seq, Payload: string(payload)}
	c.mu.Unlock()

	if !c.alive(pid) {
		c.invalidate(pid)
		return 0, fmt.Errorf("%w: pid %d", ErrListenerGone, pid)
	}
	if c.sender == nil {
		return 0, ErrNoListener
	}
	if err := c.sender.Send(pid, env); err != nil {
		if errors.Is(err, ErrListenerGone) {
			c.invalidate(pid)
		}
		return 0, err
	}
	return len(payload), nil
}

// HandshakeListener records pid as the current listener. A later handshake
// replaces an earlier one.
func (c *Channel) HandshakeListener(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	c.mu.Lock()
	prev := c.pid
	c.pid = pid
	c.known = true
	c.gone = false
	c.mu.Unlock()

	if prev != 0 && prev != pid {
		c.logger.Info("handoff listener replaced", "previous_pid", prev, "pid", pid)
	} else {
		c.logger.Info("handoff listener registered", "pid", pid)
	}
	return nil
}

// ListenerExited invalidates pid if it is the current listener.
func (c *Channel) ListenerExited(pid int) {
	if c.invalidate(pid) {
		c.logger.Info("handoff listener exited", "pid", pid)
	}
}

func (c *Channel) invalidate(pid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known || c.gone || c.pid != pid {
		return false
	}
	c.gone = true
	return true
}

// Listener returns the current listener pid, if one is live.
func (c *Channel) Listener() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known || c.gone {
		return 0, false
	}
	return c.pid, true
}

// HandleControl applies an inbound envelope.
func (c *Channel) HandleControl(env Envelope) error {
	if env.Type == CodeAnnounce {
		return c.HandshakeListener(env.PID)
	}
	flag, ok := FlagFor(env.Type)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCode, env.Type)
	}
	c.SetFlag(flag)
	return nil
}

// SetFlag raises f and wakes every waiter.
func (c *Channel) SetFlag(f Flag) {
	c.mu.Lock()
	c.flags |= f
	c.broadcastLocked()
	c.mu.Unlock()
}

// ClearFlags drops all pending acknowledgements.
func (c *Channel) ClearFlags() {
	c.mu.Lock()
	c.flags = 0
	c.broadcastLocked()
	c.mu.Unlock()
}

// Flags returns the currently raised flags.
func (c *Channel) Flags() Flag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

func (c *Channel) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Wait blocks until every flag in want is raised, the timeout elapses, or
// ctx is done.
//
// # Description
//
// Flags in want that were observed are consumed, including on timeout, so
// each acknowledgement satisfies exactly one Wait.
//
// # Outputs
//
//   - Flag: The consumed flags.
//   - error: nil when all of want arrived, ErrAckTimeout on timeout, or the
//     context error.
func (c *Channel) Wait(ctx context.Context, want Flag, timeout time.Duration) (Flag, error) {
	if want == 0 {
		return 0, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if c.flags&want == want {
			c.flags &^= want
			c.mu.Unlock()
			return want, nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			c.mu.Lock()
			got := c.flags & want
			c.flags &^= got
			c.mu.Unlock()
			return got, fmt.Errorf("%w: have %s, want %s", ErrAckTimeout, got, want)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
