// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package endpoint

import (
	"sync"

	"github.com/flymesh/relaycast/wire"
)

// outboxEntry is one user command buffered while the Endpoint has no live
// connection at all. Commands already written to a (possibly now dead)
// connection are tracked separately in wire.PendingAcks and are replayed
// from there instead, per the wire protocol's reconnection rule: "replay
// pending_acks, then flush store".
type outboxEntry struct {
	command     wire.Command
	destination wire.Targets
	payload     []byte
}

// store is the offline command buffer described in the Endpoint Network
// Process component.
type store struct {
	mu    sync.Mutex
	items []outboxEntry
}

func newStore() *store {
	return &store{}
}

func (s *store) append(e outboxEntry) {
	s.mu.Lock()
	s.items = append(s.items, e)
	s.mu.Unlock()
}

// drain removes and returns every buffered entry, oldest first.
func (s *store) drain() []outboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items
	s.items = nil
	return out
}
