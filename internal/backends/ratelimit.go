// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backends

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles outbound calls to a single backend. A nil *Limiter is
// valid and never throttles — callers do not need to special-case the
// unconfigured case.
//
// Thread Safety: safe for concurrent use.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter builds a Limiter allowing perMinute requests per minute, with
// bursts up to perMinute. perMinute <= 0 means unlimited.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		return &Limiter{}
	}
	perSecond := float64(perMinute) / 60.0
	return &Limiter{rl: rate.NewLimiter(rate.Limit(perSecond), perMinute)}
}

// Wait blocks until a request may proceed, or ctx is done. A nil receiver
// or an unlimited Limiter returns immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.rl == nil {
		return nil
	}
	return l.rl.Wait(ctx)
}
