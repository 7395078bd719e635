// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenPolicyAllowsAnyName(t *testing.T) {
	p := OpenPolicy()
	limits, ok := p.Allows("whatever")
	assert.True(t, ok)
	assert.Equal(t, GroupLimits{}, limits)
	assert.True(t, p.IsOpen())
}

func TestRestrictedPolicyOnlyAllowsDeclaredNames(t *testing.T) {
	p := RestrictedPolicy(map[string]GroupLimits{
		"alerts": {MaxCount: 5},
	})
	limits, ok := p.Allows("alerts")
	assert.True(t, ok)
	assert.Equal(t, GroupLimits{MaxCount: 5}, limits)

	_, ok = p.Allows("unknown")
	assert.False(t, ok)
	assert.False(t, p.IsOpen())
}
