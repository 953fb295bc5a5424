// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMDR/services/mdr"
	"github.com/AleutianAI/AleutianMDR/services/mdr/field"
	"github.com/AleutianAI/AleutianMDR/services/mdr/handoff"
	"github.com/AleutianAI/AleutianMDR/services/mdr/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(t *testing.T) *mdr.Engine {
	t.Helper()
	caps := make([]uint64, 11)
	caps[1] = 4096
	st, err := field.Open(field.NewMemoryRegion(64<<10), field.Options{Capacities: caps})
	require.NoError(t, err)
	eng, err := mdr.New(mdr.DefaultConfig(), mdr.Options{Field: st})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func hasRoute(routes gin.RoutesInfo, method, path string) bool {
	for _, r := range routes {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

func TestSetupRoutes_RegistersSurface(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewPrometheusMetrics(reg)
	require.NoError(t, err)
	channel := handoff.NewChannel(nil)
	hub := handoff.NewHub(handoff.HubConfig{})

	router := gin.New()
	SetupRoutes(router, Deps{
		Engine:   newEngine(t),
		Hub:      hub,
		Control:  channel,
		Gatherer: reg,
	})

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/mdr/faults"},
		{"GET", "/v1/mdr/faults/current"},
		{"GET", "/v1/mdr/faults/last-boot"},
		{"GET", "/v1/mdr/baseinfo"},
		{"GET", "/v1/mdr/areas"},
		{"GET", "/v1/mdr/classes"},
		{"GET", "/v1/mdr/pending"},
		{"GET", "/v1/mdr/history"},
		{"GET", "/v1/mdr/handoff"},
	}
	routes := router.Routes()
	for _, e := range expected {
		assert.True(t, hasRoute(routes, e.method, e.path), "missing route %s %s", e.method, e.path)
	}
}

func TestSetupRoutes_OptionalRoutesSkipped(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{Engine: newEngine(t)})

	routes := router.Routes()
	assert.False(t, hasRoute(routes, "GET", "/metrics"))
	assert.False(t, hasRoute(routes, "GET", "/v1/mdr/handoff"))
	assert.True(t, hasRoute(routes, "GET", "/v1/mdr/areas"))
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewPrometheusMetrics(reg)
	require.NoError(t, err)
	m.FaultRaised("CP")

	router := gin.New()
	SetupRoutes(router, Deps{Engine: newEngine(t), Gatherer: reg})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_mdr_faults_raised_total")
}
