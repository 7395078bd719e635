// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package relay

import (
	"context"
	"testing"
	"time"

	"github.com/flymesh/relaycast/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, policy Policy) (*Router, context.CancelFunc) {
	t.Helper()
	r := NewRouter(policy, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	return r, cancel
}

func requireDelivery(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func requireNoDelivery(t *testing.T, ch <-chan Delivery) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery: %v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouterRestrictedPolicyRejectsUnknownGroup(t *testing.T) {
	r, cancel := newTestRouter(t, RestrictedPolicy(map[string]GroupLimits{"alerts": {}}))
	defer cancel()

	res := r.Admit(context.Background(), []string{"not-allowed"})
	require.Error(t, res.Err)
	assert.False(t, res.Accepted)
}

func TestRouterBroadcastDeliveredOnceAndShownToLateJoiners(t *testing.T) {
	r, cancel := newTestRouter(t, OpenPolicy())
	defer cancel()

	first := r.Admit(context.Background(), []string{"news"})
	require.True(t, first.Accepted)

	r.Send(first.ClientID, wire.Targets{"news": -1}, []byte("headline"))
	d := requireDelivery(t, first.Out)
	assert.Equal(t, []byte("headline"), d.Payload)
	requireNoDelivery(t, first.Out)

	// A client joining after the broadcast still sees the latest value.
	late := r.Admit(context.Background(), []string{"news"})
	require.True(t, late.Accepted)
	d = requireDelivery(t, late.Out)
	assert.Equal(t, []byte("headline"), d.Payload)
}

func TestRouterConsumableFIFOSingleProducerSingleConsumer(t *testing.T) {
	r, cancel := newTestRouter(t, OpenPolicy())
	defer cancel()

	producer := r.Admit(context.Background(), []string{"jobs"})
	require.True(t, producer.Accepted)
	consumer := r.Admit(context.Background(), []string{"jobs"})
	require.True(t, consumer.Accepted)

	r.Notify(consumer.ClientID, wire.Targets{"jobs": 2})
	r.Send(producer.ClientID, wire.Targets{"jobs": 1}, []byte("job-1"))
	r.Send(producer.ClientID, wire.Targets{"jobs": 1}, []byte("job-2"))

	first := requireDelivery(t, consumer.Out)
	second := requireDelivery(t, consumer.Out)
	assert.Equal(t, []byte("job-1"), first.Payload)
	assert.Equal(t, []byte("job-2"), second.Payload)
	requireNoDelivery(t, consumer.Out)
	requireNoDelivery(t, producer.Out)
}

func TestRouterDropRemovesClientFromGroup(t *testing.T) {
	r, cancel := newTestRouter(t, OpenPolicy())
	defer cancel()

	member := r.Admit(context.Background(), []string{"jobs"})
	require.True(t, member.Accepted)
	r.Drop(member.ClientID)

	// Dropping twice must stay a no-op.
	r.Drop(member.ClientID)

	// A fresh producer's send must not panic or block even though the
	// only consumer already left.
	producer := r.Admit(context.Background(), []string{"jobs"})
	require.True(t, producer.Accepted)
	r.Send(producer.ClientID, wire.Targets{"jobs": 1}, []byte("orphaned"))
	requireNoDelivery(t, producer.Out)
}
