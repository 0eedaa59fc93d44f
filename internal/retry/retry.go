// Package retry implements the jittered exponential backoff shared by the
// Extractor's transient-batch retries and the relational source's connection
// retries. The Uploader's HTTP-facing retry loop uses cenkalti/backoff/v4
// instead, since it talks to an arbitrary control plane rather than one
// well-understood error class; this package is for the narrower,
// locally-classified retry loops.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Wait sleeps for an exponentially increasing duration with jitter before
// attempt (0-based). Returns false if ctx is cancelled during the wait.
func Wait(ctx context.Context, attempt int, base, max time.Duration) bool {
	delay := base * time.Duration(1<<uint(attempt))
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int64N(int64(time.Second)))
	delay += jitter
	if delay > max {
		delay = max
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// ExtractorBackoff implements the Extractor's batch-level retry schedule:
// 1/2/4 second waits before attempts 1, 2, 3.
func ExtractorBackoff(ctx context.Context, attempt int) bool {
	return Wait(ctx, attempt, time.Second, 8*time.Second)
}

// SourceBackoff implements the SourceUnavailable retry schedule: 2/4/8
// second waits.
func SourceBackoff(ctx context.Context, attempt int) bool {
	return Wait(ctx, attempt, 2*time.Second, 8*time.Second)
}
