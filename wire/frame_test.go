// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRelayFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello relay")
	require.NoError(t, WriteRelayFrame(&buf, DefaultHeaderSize, body))

	got, err := ReadRelayFrame(&buf, DefaultHeaderSize, 0)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestWriteReadPeerFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	password := []byte("s3cr3t!!!!") // 10 bytes, matches header width intentionally
	body := []byte("produce payload")
	require.NoError(t, WritePeerFrame(&buf, DefaultHeaderSize, password, body))

	gotPassword, gotBody, err := ReadPeerFrame(&buf, DefaultHeaderSize, len(password), 0)
	require.NoError(t, err)
	assert.Equal(t, password, gotPassword)
	assert.Equal(t, body, gotBody)
}

func TestWriteFrameRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	body := make([]byte, 1_000_000_000) // length needs more digits than a tiny header allows
	err := WriteRelayFrame(&buf, 2, body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadHeaderRejectsNonNumeric(t *testing.T) {
	buf := bytes.NewBufferString("not-a-num ")
	_, err := ReadHeader(buf, DefaultHeaderSize, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
