// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxLatencyRecorder writes one point per router call to an InfluxDB
// bucket, for operators who want a time-series view of per-backend
// health. It is purely additive observability: a nil *InfluxLatencyRecorder,
// or omitting one from Router entirely, changes no routing behavior.
//
// Thread Safety: safe for concurrent use — the underlying write API is a
// non-blocking client-side buffer.
type InfluxLatencyRecorder struct {
	writeAPI influxapi.WriteAPI
	logger   *slog.Logger
}

// NewInfluxLatencyRecorder builds a recorder against an already-configured
// influxdb2.Client, writing into org/bucket.
func NewInfluxLatencyRecorder(client influxdb2.Client, org, bucket string, logger *slog.Logger) *InfluxLatencyRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxLatencyRecorder{writeAPI: client.WriteAPI(org, bucket), logger: logger}
}

// Record writes one latency point tagged by backend, alias, and success.
func (r *InfluxLatencyRecorder) Record(ctx context.Context, backend, alias string, latency time.Duration, success bool) {
	if r == nil {
		return
	}
	p := write.NewPoint(
		"router_call_latency",
		map[string]string{"backend": backend, "alias": alias, "success": boolLabel(success)},
		map[string]interface{}{"latency_ms": float64(latency.Microseconds()) / 1000.0},
		time.Now(),
	)
	r.writeAPI.WritePoint(p)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
