// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package wire

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Codec turns envelopes into opaque bytes and back. The embedder supplies
// one; the engine never branches on payload content. Payload itself is
// always carried as an already-opaque []byte — Codec only (de)serializes
// the envelope wrapping it and, for the default implementation, whatever
// user object produced that []byte in the first place.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// PeerEnvelope is the peer->Relay wire tuple: (stamp, command, destination,
// payload). Groups is only populated for a HELLO reply, carrying the
// peer's declared group set in place of Destination/Payload.
type PeerEnvelope struct {
	Stamp       uint64
	Command     Command
	Destination Targets  `cbor:",omitempty"`
	Payload     []byte   `cbor:",omitempty"`
	Groups      []string `cbor:",omitempty"`
}

// RelayEnvelope is the Relay->peer wire tuple: (stamp, command, payload).
type RelayEnvelope struct {
	Stamp   uint64
	Command Command
	Payload []byte
}

// CBORCodec is the default Codec, backed by fxamacker/cbor.
type CBORCodec struct {
	encMode cbor.EncMode
}

// NewCBORCodec builds a CBORCodec using canonical encoding so that two
// semantically identical envelopes always serialize to the same bytes
// (useful for replay-after-reconnect determinism in tests).
func NewCBORCodec() (*CBORCodec, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, errors.Wrap(err, "build cbor encode mode")
	}
	return &CBORCodec{encMode: mode}, nil
}

func (c *CBORCodec) Marshal(v any) ([]byte, error) {
	b, err := c.encMode.Marshal(v)
	return b, errors.Wrap(err, "cbor marshal")
}

func (c *CBORCodec) Unmarshal(data []byte, v any) error {
	return errors.Wrap(cbor.Unmarshal(data, v), "cbor unmarshal")
}

// MustCBORCodec is a convenience constructor for call sites (tests, default
// configs) that treat a canonical-mode build failure as unreachable.
func MustCBORCodec() *CBORCodec {
	c, err := NewCBORCodec()
	if err != nil {
		panic(err)
	}
	return c
}
