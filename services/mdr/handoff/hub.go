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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianMDR/internal/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultBufferSize is the per-connection outbound queue depth.
const DefaultBufferSize = 64

// ControlSink receives inbound traffic from listener connections.
// *Channel implements it.
type ControlSink interface {
	HandleControl(env Envelope) error
	ListenerExited(pid int)
}

// HubConfig configures a Hub.
type HubConfig struct {
	BufferSize   int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Hub is the websocket transport between the engine and listener daemons.
//
// # Description
//
// Each connection gets a bounded outbound queue drained by its own writer
// goroutine. Send never blocks: a full queue is reported as ErrBufferFull.
// A connection becomes addressable once it announces its pid.
//
// # Thread Safety
//
// Safe for concurrent use.
type Hub struct {
	mu    sync.Mutex
	conns map[int]*hubConn

	upgrader websocket.Upgrader
	cfg      HubConfig
	logger   *slog.Logger
}

type hubConn struct {
	id   string
	ws   *websocket.Conn
	out  chan Envelope
	done chan struct{}
	once sync.Once
}

func (c *hubConn) close() {
	c.once.Do(func() { close(c.done) })
}

var _ Sender = (*Hub)(nil)

// NewHub creates a hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns: make(map[int]*hubConn),
		upgrader: websocket.Upgrader{
			// Listeners are local daemons; the route is not browser facing.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Send queues env for the connection that announced pid.
func (h *Hub) Send(pid int, env Envelope) error {
	h.mu.Lock()
	conn := h.conns[pid]
	h.mu.Unlock()
	if conn == nil {
		return ErrListenerGone
	}
	select {
	case <-conn.done:
		return ErrListenerGone
	default:
	}
	select {
	case conn.out <- env:
		return nil
	default:
		return ErrBufferFull
	}
}

// Connections returns the number of announced connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Handler upgrades the request and serves one listener connection,
// routing inbound envelopes to sink.
func (h *Hub) Handler(sink ControlSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Error("failed to upgrade handoff websocket", "error", err)
			return
		}
		h.serve(ws, sink)
	}
}

func (h *Hub) serve(ws *websocket.Conn, sink ControlSink) {
	conn := &hubConn{
		id:   uuid.NewString(),
		ws:   ws,
		out:  make(chan Envelope, h.cfg.BufferSize),
		done: make(chan struct{}),
	}
	h.logger.Info("handoff connection opened", "conn_id", conn.id, "remote", ws.RemoteAddr().String())

	writerDone := make(chan struct{})
	util.SafeGo(func() {
		defer close(writerDone)
		h.writeLoop(conn)
	}, util.LogPanic(h.logger, "handoff.writer"))

	pid := 0
	defer func() {
		conn.close()
		<-writerDone
		ws.Close()
		if pid != 0 && h.detach(pid, conn) {
			sink.ListenerExited(pid)
		}
		h.logger.Info("handoff connection closed", "conn_id", conn.id, "pid", pid)
	}()

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("handoff read failed", "conn_id", conn.id, "error", err)
			}
			return
		}
		if env.Type == CodeAnnounce && env.PID > 0 {
			if pid != 0 && pid != env.PID && h.detach(pid, conn) {
				sink.ListenerExited(pid)
			}
			pid = env.PID
			h.attach(pid, conn)
		}
		if err := sink.HandleControl(env); err != nil {
			h.logger.Warn("rejected handoff control message", "conn_id", conn.id, "type", env.Type, "error", err)
		}
	}
}

func (h *Hub) writeLoop(conn *hubConn) {
	for {
		select {
		case env := <-conn.out:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.ws.WriteJSON(env); err != nil {
				h.logger.Warn("handoff write failed", "conn_id", conn.id, "error", err)
				conn.close()
				// Unblock the reader so the connection is torn down.
				_ = conn.ws.Close()
				return
			}
		case <-conn.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

func (h *Hub) attach(pid int, conn *hubConn) {
	h.mu.Lock()
	prev := h.conns[pid]
	h.conns[pid] = conn
	h.mu.Unlock()
	if prev != nil && prev != conn {
		prev.close()
	}
}

// detach removes conn as the owner of pid. It reports false when pid has
// since been claimed by another connection.
func (h *Hub) detach(pid int, conn *hubConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[pid] != conn {
		return false
	}
	delete(h.conns, pid)
	return true
}
