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
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is the listener side of the handoff transport.
//
// Writes are serialized; Next must be called from a single goroutine.
type Client struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Dial connects to a hub endpoint such as ws://127.0.0.1:8087/v1/mdr/handoff.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial handoff %s: %w", url, err)
	}
	return &Client{ws: ws}, nil
}

// Announce registers pid as the engine's listener.
func (c *Client) Announce(pid int) error {
	return c.write(Envelope{Type: CodeAnnounce, PID: pid})
}

// Ack reports that a log class has been saved. code must be one of the
// *Saved codes.
func (c *Client) Ack(code Code) error {
	if _, ok := FlagFor(code); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCode, code)
	}
	return c.write(Envelope{Type: code})
}

func (c *Client) write(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("write handoff envelope: %w", err)
	}
	return nil
}

// Next blocks until the hub sends an envelope or ctx is done. Cancelling
// ctx closes the connection.
func (c *Client) Next(ctx context.Context) (Envelope, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.ws.Close() })
	defer stop()

	var env Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		if ctx.Err() != nil {
			return Envelope{}, ctx.Err()
		}
		return Envelope{}, fmt.Errorf("read handoff envelope: %w", err)
	}
	return env, nil
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
	c.mu.Unlock()
	return c.ws.Close()
}
