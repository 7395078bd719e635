// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package endpoint

import (
	"testing"

	"github.com/flymesh/relaycast/wire"
	"github.com/stretchr/testify/assert"
)

func TestStoreDrainReturnsInAppendOrderAndEmpties(t *testing.T) {
	s := newStore()
	s.append(outboxEntry{command: wire.CmdObj, destination: wire.Targets{"a": 1}, payload: []byte("1")})
	s.append(outboxEntry{command: wire.CmdObj, destination: wire.Targets{"a": 1}, payload: []byte("2")})

	got := s.drain()
	assert.Equal(t, []byte("1"), got[0].payload)
	assert.Equal(t, []byte("2"), got[1].payload)
	assert.Empty(t, s.drain(), "a second drain must return nothing")
}
