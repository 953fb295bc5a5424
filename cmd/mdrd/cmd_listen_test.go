// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMDR/pkg/ux"
	"github.com/AleutianAI/AleutianMDR/services/mdr/handoff"
)

type fakeConn struct {
	announced int
	pending   []handoff.Envelope
	acks      []handoff.Code
	ackErr    error
}

func (f *fakeConn) Announce(pid int) error {
	f.announced = pid
	return nil
}

func (f *fakeConn) Ack(code handoff.Code) error {
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acks = append(f.acks, code)
	return nil
}

func (f *fakeConn) Next(context.Context) (handoff.Envelope, error) {
	if len(f.pending) == 0 {
		return handoff.Envelope{}, context.Canceled
	}
	env := f.pending[0]
	f.pending = f.pending[1:]
	return env, nil
}

func TestListen_WritesAndAcksRecords(t *testing.T) {
	conn := &fakeConn{pending: []handoff.Envelope{
		{Type: handoff.CodeRecord, Seq: 1, Payload: "category=MDR,core=CP"},
		{Type: handoff.CodeAnnounce},
		{Type: handoff.CodeRecord, Seq: 2, Payload: "category=MDR,core=AP\n"},
	}}
	var out, status bytes.Buffer

	err := listen(context.Background(), conn, &out, 42, false, ux.NewPrinter(&status, true))
	require.NoError(t, err)

	assert.Equal(t, 42, conn.announced)
	assert.Equal(t, "category=MDR,core=CP\ncategory=MDR,core=AP\n", out.String())
	assert.Equal(t, []handoff.Code{
		handoff.CodeGeneralSaved, handoff.CodeHistorySaved, handoff.CodeSubsystemSaved,
		handoff.CodeGeneralSaved, handoff.CodeHistorySaved, handoff.CodeSubsystemSaved,
	}, conn.acks)
	assert.Contains(t, status.String(), "record 2 saved")
}

func TestListen_Once(t *testing.T) {
	conn := &fakeConn{pending: []handoff.Envelope{
		{Type: handoff.CodeRecord, Seq: 1, Payload: "a"},
		{Type: handoff.CodeRecord, Seq: 2, Payload: "b"},
	}}
	var out bytes.Buffer
	require.NoError(t, listen(context.Background(), conn, &out, 1, true, ux.NewPrinter(&bytes.Buffer{}, true)))
	assert.Equal(t, "a\n", out.String())
	assert.Len(t, conn.pending, 1)
}

func TestListen_AckFailure(t *testing.T) {
	boom := errors.New("connection reset")
	conn := &fakeConn{
		pending: []handoff.Envelope{{Type: handoff.CodeRecord, Payload: "a"}},
		ackErr:  boom,
	}
	err := listen(context.Background(), conn, &bytes.Buffer{}, 1, false, ux.NewPrinter(&bytes.Buffer{}, true))
	assert.ErrorIs(t, err, boom)
}

func TestListen_AgainstHub(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := handoff.NewHub(handoff.HubConfig{})
	channel := handoff.NewChannel(hub)
	router := gin.New()
	router.GET("/handoff", hub.Handler(channel))
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := handoff.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/handoff")
	require.NoError(t, err)
	defer client.Close()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- listen(ctx, client, &out, 4242, true, ux.NewPrinter(&bytes.Buffer{}, true))
	}()

	require.Eventually(t, func() bool {
		pid, ok := channel.Listener()
		return ok && pid == 4242
	}, 2*time.Second, 10*time.Millisecond)

	channel.ClearFlags()
	_, err = channel.Push([]byte("category=MDR,core=CP,reset=false"))
	require.NoError(t, err)

	want := handoff.FlagGeneral | handoff.FlagHistory | handoff.FlagSubsystem
	got, err := channel.Wait(ctx, want, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, <-done)
	assert.Equal(t, "category=MDR,core=CP,reset=false\n", out.String())
}
