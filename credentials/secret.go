// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package credentials

import (
	"github.com/awnumar/memguard"
)

// Secret holds the shared password between construction and the moment a
// Relay or Endpoint copies it into a wire frame. Backed by memguard's
// locked, zeroed memory so it never lands in a core dump or gets paged
// to swap while idle.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret copies password into a locked enclave and wipes the input
// slice's backing array.
func NewSecret(password []byte) *Secret {
	buf := memguard.NewBufferFromBytes(password)
	return &Secret{enclave: buf.Seal()}
}

// Open decrypts the secret into a LockedBuffer for the duration of one
// use; the caller must call Destroy when done (typically immediately
// after copying out the plaintext bytes).
func (s *Secret) Open() (*memguard.LockedBuffer, error) {
	return s.enclave.Open()
}

// Bytes returns the plaintext password, copied out of a short-lived
// locked buffer. Callers that need the password repeatedly (e.g. on
// every outbound frame) should prefer this over holding Open's buffer
// open indefinitely.
func (s *Secret) Bytes() ([]byte, error) {
	buf, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	out := make([]byte, buf.Size())
	copy(out, buf.Bytes())
	return out, nil
}

// Purge wipes memguard's global memory, called once at process exit.
func Purge() {
	memguard.Purge()
}
