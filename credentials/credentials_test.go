// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package credentials

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWritesKeyAndCertificate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Generate(dir, Params{CommonName: "test.relaycast"}))

	assert.FileExists(t, filepath.Join(dir, "key.pem"))
	assert.FileExists(t, filepath.Join(dir, "certificate.pem"))
}

func TestLoadOrGenerateGeneratesOnceThenLoads(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir, Params{CommonName: "test.relaycast"})
	require.NoError(t, err)
	require.NotEmpty(t, first.Certificate)

	second, err := LoadOrGenerate(dir, Params{CommonName: "test.relaycast"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate, second.Certificate, "second call must load the same cert, not regenerate")
}

func TestSecretRoundTrips(t *testing.T) {
	s := NewSecret([]byte("super-secret-password"))
	got, err := s.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "super-secret-password", string(got))
}
