// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers serves the MDR diagnostic and raise endpoints over gin.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	"github.com/AleutianAI/AleutianMDR/services/mdr/field"
	"github.com/AleutianAI/AleutianMDR/services/mdr/history"
)

// DefaultHistoryLimit bounds /history when no limit is given.
const DefaultHistoryLimit = 50

// Engine is the part of *mdr.Engine the HTTP surface uses.
type Engine interface {
	RaiseFault(modid, arg1, arg2 uint32)
	FaultClasses() []datatypes.FaultDescriptor
	Field() *field.State
	History() history.Store
	Pending() int
	PendingFaults() []datatypes.PendingFault
}

// WindowFunc returns the recent log window appended to /baseinfo.
type WindowFunc func() []byte

// RaiseRequest is the body of POST /v1/mdr/faults.
type RaiseRequest struct {
	ModID *uint32 `json:"modid" binding:"required"`
	Arg1  uint32  `json:"arg1"`
	Arg2  uint32  `json:"arg2"`
}

// AreaView is one row of the area table.
type AreaView struct {
	Index  int    `json:"index"`
	Core   string `json:"core"`
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// LastBootView reports what the previous boot left in the region.
type LastBootView struct {
	Cold            bool                   `json:"cold_boot"`
	CurrentFault    field.CurrentFault     `json:"current_fault"`
	RebootReason    datatypes.FaultType    `json:"reboot_reason"`
	RebootSubReason datatypes.FaultSubtype `json:"reboot_sub_reason"`
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RaiseFault queues a fault. The response only means the fault was handed
// to the queue; processing is asynchronous.
func RaiseFault(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RaiseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "modid is required", "details": err.Error()})
			return
		}
		slog.Info("Received raise request", "modid", *req.ModID, "arg1", req.Arg1, "arg2", req.Arg2)
		eng.RaiseFault(*req.ModID, req.Arg1, req.Arg2)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "modid": *req.ModID, "pending": eng.Pending()})
	}
}

func GetCurrentFault(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Field().CurrentFault())
	}
}

func GetLastBoot(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := eng.Field()
		last := st.LastBoot()
		c.JSON(http.StatusOK, LastBootView{
			Cold:            st.Cold(),
			CurrentFault:    last.CurrentFault,
			RebootReason:    last.RebootReason,
			RebootSubReason: last.RebootSubReason,
		})
	}
}

// GetBaseInfo returns the snapshot base-info block followed by the log
// window, as raw bytes.
func GetBaseInfo(eng Engine, window WindowFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := eng.Field().BaseInfoSnapshot()
		if window != nil {
			body = append(body, window()...)
		}
		c.Header("X-MDR-BaseInfo-Size", strconv.Itoa(field.BaseInfoSize))
		c.Data(http.StatusOK, "application/octet-stream", body)
	}
}

func ListAreas(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		areas := eng.Field().Areas()
		out := make([]AreaView, 0, len(areas))
		for _, a := range areas {
			out = append(out, AreaView{Index: a.Index, Core: a.Core.String(), Offset: a.Offset, Length: a.Length})
		}
		c.JSON(http.StatusOK, gin.H{"areas": out})
	}
}

func ListClasses(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"classes": eng.FaultClasses()})
	}
}

// ListPending returns the faults still waiting for the worker, oldest first.
func ListPending(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": eng.PendingFaults()})
	}
}

func ListHistory(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		entries, err := eng.History().List(c.Request.Context(), limit)
		if err != nil {
			slog.Error("failed to list fault history", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list fault history"})
			return
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "boot_seq": eng.History().BootSequence()})
	}
}
