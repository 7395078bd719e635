// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package relaycast_test

import (
	"context"
	"testing"
	"time"

	"github.com/flymesh/relaycast/endpoint"
	"github.com/flymesh/relaycast/relay"
	"github.com/stretchr/testify/require"
)

func startTestRelay(t *testing.T) (*relay.Relay, string) {
	t.Helper()
	r, err := relay.New(relay.Config{
		ListenAddr: "127.0.0.1:0",
		Password:   "integration-test-password",
		Policy:     relay.OpenPolicy(),
		Security:   relay.SecurityTCP,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	t.Cleanup(func() {
		cancel()
		r.Stop()
	})
	return r, r.Addr().String()
}

func newTestEndpoint(t *testing.T, addr string, groups []string) *endpoint.Endpoint {
	t.Helper()
	ep := endpoint.New(endpoint.Config{
		ServerAddr: addr,
		Password:   "integration-test-password",
		Groups:     groups,
		Security:   endpoint.SecurityTCP,
	})
	ctx, cancel := context.WithCancel(context.Background())
	ep.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ep.Stop()
	})
	return ep
}

func waitForPayload(t *testing.T, ep *endpoint.Endpoint) []byte {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a payload to arrive")
		default:
		}
		got := ep.Pop(1, false)
		if len(got) == 1 {
			return got[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEndToEndBroadcast(t *testing.T) {
	_, addr := startTestRelay(t)

	publisher := newTestEndpoint(t, addr, nil)
	subscriber := newTestEndpoint(t, addr, []string{"news"})

	require.Eventually(t, func() bool {
		return publisher.Broadcast([]byte("headline"), "news") == nil
	}, 2*time.Second, 20*time.Millisecond)

	payload := waitForPayload(t, subscriber)
	require.Equal(t, []byte("headline"), payload)
}

// TestEndToEndReconnectReplaysThenFlushesStoreInOrder kills the Relay out
// from under a live session, produces while the Endpoint is disconnected,
// restarts a fresh Relay on the same address, and checks that everything
// the producer tried to send survives the outage and arrives in the
// order it was sent. A standing Notify balance set up before the kill
// means any delivery racing the shutdown lands in the consumer's inbox
// the moment it is dispatched, whether that happens on the dying Relay or
// the replacement one, so the assertions hold regardless of exactly when
// the kill interrupts the connection.
func TestEndToEndReconnectReplaysThenFlushesStoreInOrder(t *testing.T) {
	const password = "integration-test-password"

	r1, err := relay.New(relay.Config{
		ListenAddr: "127.0.0.1:0",
		Password:   password,
		Policy:     relay.OpenPolicy(),
		Security:   relay.SecurityTCP,
	})
	require.NoError(t, err)
	ctx1, cancel1 := context.WithCancel(context.Background())
	require.NoError(t, r1.Start(ctx1))
	addr := r1.Addr().String()

	producer := endpoint.New(endpoint.Config{
		ServerAddr:        addr,
		Password:          password,
		Security:          endpoint.SecurityTCP,
		ReconInitialDelay: 20 * time.Millisecond,
		ReconMaxDelay:     150 * time.Millisecond,
		ReconFactor:       1.2,
	})
	prodCtx, prodCancel := context.WithCancel(context.Background())
	producer.Start(prodCtx)
	t.Cleanup(func() { prodCancel(); producer.Stop() })

	consumer := endpoint.New(endpoint.Config{
		ServerAddr:        addr,
		Password:          password,
		Groups:            []string{"jobs"},
		Security:          endpoint.SecurityTCP,
		ReconInitialDelay: 20 * time.Millisecond,
		ReconMaxDelay:     150 * time.Millisecond,
		ReconFactor:       1.2,
	})
	subCtx, subCancel := context.WithCancel(context.Background())
	consumer.Start(subCtx)
	t.Cleanup(func() { subCancel(); consumer.Stop() })

	// A large standing balance means nothing produced from here on is
	// ever left sitting in a group's queue with no claimant.
	require.Eventually(t, func() bool {
		return consumer.Notify(map[string]int{"jobs": 100}) == nil
	}, 2*time.Second, 20*time.Millisecond)

	// Prove the round trip works before breaking anything.
	require.Eventually(t, func() bool {
		return producer.Produce([]byte("warmup"), "jobs") == nil
	}, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, []byte("warmup"), waitForPayload(t, consumer))

	// Kill the Relay mid-session: both live connections die under the
	// Endpoints without any cooperation from them.
	cancel1()
	r1.Stop()

	inFlight := []byte("produced-right-at-the-kill")
	require.NoError(t, producer.Produce(inFlight, "jobs"))

	// Give both Endpoints time to notice their sockets are gone and fall
	// back to the offline store for anything produced from here on.
	time.Sleep(300 * time.Millisecond)

	stored := []byte("produced-while-disconnected")
	require.NoError(t, producer.Produce(stored, "jobs"))

	r2, err := relay.New(relay.Config{
		ListenAddr: addr,
		Password:   password,
		Policy:     relay.OpenPolicy(),
		Security:   relay.SecurityTCP,
	})
	require.NoError(t, err)
	ctx2, cancel2 := context.WithCancel(context.Background())
	require.NoError(t, r2.Start(ctx2))
	t.Cleanup(func() { cancel2(); r2.Stop() })

	// The fresh Relay starts with empty group state, so the consumer must
	// re-declare readiness once it reconnects. This call is itself
	// replay-safe: it is fine to issue it before the reconnect lands.
	require.Eventually(t, func() bool {
		return consumer.Notify(map[string]int{"jobs": 100}) == nil
	}, 2*time.Second, 20*time.Millisecond)

	// pending_acks is replayed before the offline store is flushed (see
	// endpoint.onHandshakeComplete), so inFlight — captured in pending_acks
	// no later than the moment it was produced — can never arrive after
	// stored, no matter how the kill and the reconnect actually interleaved.
	require.Equal(t, inFlight, waitForPayload(t, consumer))
	require.Equal(t, stored, waitForPayload(t, consumer))
}

func TestEndToEndProduceConsume(t *testing.T) {
	_, addr := startTestRelay(t)

	producer := newTestEndpoint(t, addr, []string{"jobs"})
	consumer := newTestEndpoint(t, addr, []string{"jobs"})

	require.Eventually(t, func() bool {
		return consumer.Notify("jobs") == nil
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return producer.Produce([]byte("task-1"), "jobs") == nil
	}, 2*time.Second, 20*time.Millisecond)

	payload := waitForPayload(t, consumer)
	require.Equal(t, []byte("task-1"), payload)
}
