// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingAcksAddAckEmpty(t *testing.T) {
	p := NewPendingAcks()
	assert.True(t, p.Empty())

	p.Add(1, []byte("frame-1"))
	p.Add(2, []byte("frame-2"))
	assert.False(t, p.Empty())
	assert.Equal(t, 2, p.Len())

	_, ok := p.Ack(1)
	require.True(t, ok)
	assert.Equal(t, 1, p.Len())

	_, ok = p.Ack(1)
	assert.False(t, ok, "acking twice reports unknown the second time")

	_, ok = p.Ack(2)
	require.True(t, ok)
	assert.True(t, p.Empty())
}

func TestPendingAcksReplayPreservesOrder(t *testing.T) {
	p := NewPendingAcks()
	p.Add(1, []byte("a"))
	p.Add(2, []byte("b"))
	p.Add(3, []byte("c"))

	var replayed [][]byte
	err := p.Replay(func(frame []byte) error {
		replayed = append(replayed, frame)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, replayed, 3)
	assert.Equal(t, []byte("a"), replayed[0])
	assert.Equal(t, []byte("b"), replayed[1])
	assert.Equal(t, []byte("c"), replayed[2])
}

func TestPendingAcksReplaySkipsConcurrentlyAcked(t *testing.T) {
	p := NewPendingAcks()
	p.Add(1, []byte("a"))
	p.Add(2, []byte("b"))
	_, _ = p.Ack(1)

	var replayed [][]byte
	err := p.Replay(func(frame []byte) error {
		replayed = append(replayed, frame)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b")}, replayed)
}
