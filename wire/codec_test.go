// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBORCodecRoundTrip(t *testing.T) {
	codec := MustCBORCodec()

	in := PeerEnvelope{
		Stamp:       42,
		Command:     CmdObj,
		Destination: Targets{"telemetry": -1},
		Payload:     []byte("payload bytes"),
	}
	data, err := codec.Marshal(in)
	require.NoError(t, err)

	var out PeerEnvelope
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestCBORCodecIsCanonicalAndDeterministic(t *testing.T) {
	codec := MustCBORCodec()
	env := RelayEnvelope{Stamp: 7, Command: CmdAck}

	a, err := codec.Marshal(env)
	require.NoError(t, err)
	b, err := codec.Marshal(env)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizeTargets(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		targets, err := NormalizeTargets("alerts", -1)
		require.NoError(t, err)
		assert.Equal(t, Targets{"alerts": -1}, targets)
	})

	t.Run("slice", func(t *testing.T) {
		targets, err := NormalizeTargets([]string{"a", "b"}, 1)
		require.NoError(t, err)
		assert.Equal(t, Targets{"a": 1, "b": 1}, targets)
	})

	t.Run("map", func(t *testing.T) {
		targets, err := NormalizeTargets(map[string]int{"a": 3}, 1)
		require.NoError(t, err)
		assert.Equal(t, Targets{"a": 3}, targets)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NormalizeTargets(42, -1)
		assert.ErrorIs(t, err, ErrBadDestination)
	})
}
