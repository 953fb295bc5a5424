// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMDR/services/mdr"
	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	"github.com/AleutianAI/AleutianMDR/services/mdr/field"
	"github.com/AleutianAI/AleutianMDR/services/mdr/history"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Helpers
// =============================================================================

func newEngine(t *testing.T) *mdr.Engine {
	t.Helper()
	caps := make([]uint64, datatypes.CoreCount)
	caps[datatypes.CoreCP.Index()] = 4096
	st, err := field.Open(field.NewMemoryRegion(64<<10), field.Options{Capacities: caps})
	require.NoError(t, err)

	cfg := mdr.DefaultConfig()
	cfg.AckTimeout = 10 * time.Millisecond
	cfg.DumpTimeout = 10 * time.Millisecond
	cfg.DumpDir = ""
	eng, err := mdr.New(cfg, mdr.Options{Field: st})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func modemClass() *datatypes.FaultDescriptor {
	return &datatypes.FaultDescriptor{
		ModIDLo:          0x100,
		ModIDHi:          0x1ff,
		ProcessPriority:  10,
		RebootPriority:   datatypes.NoReboot,
		OriginCore:       datatypes.CoreCP,
		FaultType:        datatypes.FaultCPException,
		OriginModuleName: "modem",
		Description:      "modem watchdog",
	}
}

func serve(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

type failingStore struct{ history.NopStore }

func (failingStore) List(context.Context, int) ([]history.Entry, error) {
	return nil, errors.New("disk on fire")
}

type storeEngine struct {
	*mdr.Engine
	store history.Store
}

func (s storeEngine) History() history.Store { return s.store }

// =============================================================================
// Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := serve(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestRaiseFault(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantPending int
	}{
		{name: "queued", body: `{"modid":256,"arg1":1,"arg2":2}`, wantCode: http.StatusAccepted, wantPending: 1},
		{name: "modid zero is a value", body: `{"modid":0}`, wantCode: http.StatusAccepted, wantPending: 1},
		{name: "missing modid", body: `{"arg1":1}`, wantCode: http.StatusBadRequest},
		{name: "malformed", body: `{"modid":`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newEngine(t)
			router := gin.New()
			router.POST("/faults", RaiseFault(eng))

			w := serve(router, "POST", "/faults", []byte(tt.body))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantPending, eng.Pending())
		})
	}
}

func TestGetCurrentFault_AfterProcessing(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.RegisterFaultClass(modemClass())
	require.NoError(t, err)

	eng.RaiseFault(0x120, 7, 8)
	require.NoError(t, eng.ProcessPending(context.Background()))

	router := gin.New()
	router.GET("/current", GetCurrentFault(eng))
	w := serve(router, "GET", "/current", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cf map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cf))
	assert.EqualValues(t, 0x120, cf["modid"])
	assert.EqualValues(t, 7, cf["arg1"])
	assert.Equal(t, "CP", cf["origin_core"])
	assert.Equal(t, "modem", cf["module_name"])
}

func TestGetLastBoot_FreshRegion(t *testing.T) {
	eng := newEngine(t)
	router := gin.New()
	router.GET("/last-boot", GetLastBoot(eng))

	w := serve(router, "GET", "/last-boot", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, true, view["cold_boot"])
	require.Contains(t, view, "current_fault")
	assert.EqualValues(t, 0, view["current_fault"].(map[string]any)["modid"])
}

func TestGetBaseInfo_AppendsWindow(t *testing.T) {
	eng := newEngine(t)
	window := []byte("line one\nline two\n")

	router := gin.New()
	router.GET("/baseinfo", GetBaseInfo(eng, func() []byte { return window }))

	w := serve(router, "GET", "/baseinfo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	require.Len(t, w.Body.Bytes(), field.BaseInfoSize+len(window))
	assert.Equal(t, window, w.Body.Bytes()[field.BaseInfoSize:])
}

func TestListAreas(t *testing.T) {
	eng := newEngine(t)
	router := gin.New()
	router.GET("/areas", ListAreas(eng))

	w := serve(router, "GET", "/areas", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Areas []AreaView `json:"areas"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Areas, datatypes.CoreCount)
	assert.Equal(t, "AP", body.Areas[0].Core)
	assert.Equal(t, "CP", body.Areas[1].Core)
	assert.Equal(t, uint64(4096), body.Areas[1].Length)
}

func TestListClasses(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.RegisterFaultClass(modemClass())
	require.NoError(t, err)

	router := gin.New()
	router.GET("/classes", ListClasses(eng))

	w := serve(router, "GET", "/classes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"description":"modem watchdog"`)
}

func TestListPending(t *testing.T) {
	eng := newEngine(t)
	router := gin.New()
	router.GET("/pending", ListPending(eng))

	w := serve(router, "GET", "/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pending":[]}`, w.Body.String())

	eng.RaiseFault(0x120, 1, 2)
	eng.RaiseFault(0x121, 3, 4)

	w = serve(router, "GET", "/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Pending []datatypes.PendingFault `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Pending, 2)
	assert.Equal(t, uint32(0x120), body.Pending[0].ModID)
	assert.Equal(t, uint32(0x121), body.Pending[1].ModID)
	assert.Equal(t, uint32(4), body.Pending[1].Arg2)
}

func TestListHistory(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		store    history.Store
		wantCode int
	}{
		{name: "default limit", query: "", wantCode: http.StatusOK},
		{name: "explicit limit", query: "?limit=5", wantCode: http.StatusOK},
		{name: "bad limit", query: "?limit=abc", wantCode: http.StatusBadRequest},
		{name: "negative limit", query: "?limit=-1", wantCode: http.StatusBadRequest},
		{name: "store failure", query: "", store: failingStore{}, wantCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var eng Engine = newEngine(t)
			if tt.store != nil {
				eng = storeEngine{Engine: eng.(*mdr.Engine), store: tt.store}
			}
			router := gin.New()
			router.GET("/history", ListHistory(eng))

			w := serve(router, "GET", "/history"+tt.query, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"entries":[]`)
			}
		})
	}
}
