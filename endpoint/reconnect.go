// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package endpoint

import (
	"context"
	"math/rand"
	"time"

	"github.com/libp2p/go-libp2p/p2p/discovery/backoff"
)

// reconnectPolicy builds a fresh, reset jittered backoff strategy for each
// connection attempt cycle, the same exponential-decorrelated-jitter
// helper the teacher uses to pace its AutoRelay peer feed.
type reconnectPolicy struct {
	factory backoff.BackoffFactory
}

func newReconnectPolicy(initial, max time.Duration, factor float64) *reconnectPolicy {
	return &reconnectPolicy{
		factory: backoff.NewExponentialDecorrelatedJitter(initial, max, factor, rand.NewSource(time.Now().UnixMilli())),
	}
}

func (p *reconnectPolicy) newStrategy() backoff.BackoffStrategy {
	return p.factory()
}

// sleepBackoff waits out one backoff interval, returning early if ctx is done.
func sleepBackoff(ctx context.Context, strategy backoff.BackoffStrategy) {
	select {
	case <-time.After(strategy.Delay()):
	case <-ctx.Done():
	}
}
