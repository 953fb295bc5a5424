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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianMDR/services/mdr/handlers"
	"github.com/AleutianAI/AleutianMDR/services/mdr/handoff"
)

// Deps are the collaborators the routes need. Hub and Gatherer are
// optional; their routes are skipped when nil.
type Deps struct {
	Engine   handlers.Engine
	Hub      *handoff.Hub
	Control  handoff.ControlSink
	Window   handlers.WindowFunc
	Gatherer prometheus.Gatherer
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1/mdr")
	{
		v1.POST("/faults", handlers.RaiseFault(deps.Engine))
		v1.GET("/faults/current", handlers.GetCurrentFault(deps.Engine))
		v1.GET("/faults/last-boot", handlers.GetLastBoot(deps.Engine))
		v1.GET("/baseinfo", handlers.GetBaseInfo(deps.Engine, deps.Window))
		v1.GET("/areas", handlers.ListAreas(deps.Engine))
		v1.GET("/classes", handlers.ListClasses(deps.Engine))
		v1.GET("/pending", handlers.ListPending(deps.Engine))
		v1.GET("/history", handlers.ListHistory(deps.Engine))
		if deps.Hub != nil && deps.Control != nil {
			v1.GET("/handoff", deps.Hub.Handler(deps.Control))
		}
	}
}
