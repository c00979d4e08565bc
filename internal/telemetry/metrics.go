// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires up the runtime's logging, metrics, and tracing
// surfaces shared by every component: a structured slog.Logger, a set of
// Prometheus counters/histograms for the router and mission scheduler,
// and an OpenTelemetry TracerProvider.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	// RouterCallsTotal counts router dispatches by backend and outcome.
	// Labels: backend, status (ok, error)
	RouterCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "missioncore",
		Subsystem: "router",
		Name:      "calls_total",
		Help:      "Total router dispatches by backend and outcome",
	}, []string{"backend", "status"})

	// RouterLatencySeconds measures router call latency by backend.
	RouterLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "missioncore",
		Subsystem: "router",
		Name:      "latency_seconds",
		Help:      "Router call latency by backend",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"backend"})

	// MissionTasksTotal counts completed/failed tasks by terminal status.
	// Labels: status (completed, failed)
	MissionTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "missioncore",
		Subsystem: "scheduler",
		Name:      "tasks_total",
		Help:      "Total tasks reaching a terminal status",
	}, []string{"status"})

	// BusMessagesTotal counts messages sent, labeled by whether the
	// injection screen flagged them.
	// Labels: flagged ("true", "false")
	BusMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "missioncore",
		Subsystem: "bus",
		Name:      "messages_total",
		Help:      "Total messages sent through the bus, by injection-flag status",
	}, []string{"flagged"})

	// VectorMemoryEntries tracks the current size of the in-memory vector store.
	VectorMemoryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "missioncore",
		Subsystem: "vectormemory",
		Name:      "entries",
		Help:      "Current number of entries held in the vector memory store",
	})
)

// RecordRouterCall records one router dispatch outcome and its latency.
func RecordRouterCall(backend string, durationSec float64, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	RouterCallsTotal.WithLabelValues(backend, status).Inc()
	RouterLatencySeconds.WithLabelValues(backend).Observe(durationSec)
}

// RecordTaskTerminal records a task reaching completed or failed status.
func RecordTaskTerminal(status string) {
	MissionTasksTotal.WithLabelValues(status).Inc()
}

// RecordBusMessage records one message send, noting whether it was
// flagged by the prompt-injection screen.
func RecordBusMessage(flagged bool) {
	label := "false"
	if flagged {
		label = "true"
	}
	BusMessagesTotal.WithLabelValues(label).Inc()
}
