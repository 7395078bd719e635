// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package wire

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// pendingEntry is a copy of a sent, not-yet-acknowledged frame.
type pendingEntry struct {
	sentAt time.Time
	frame  []byte
}

// PendingAcks is the sender-local map described in the wire engine: every
// non-ACK frame's stamp is recorded here until a matching ACK arrives. It
// survives reconnection and is replayed, in stamp order, on the new
// connection. Insertion order is preserved with an auxiliary slice so that
// replay is cheap and deterministic without requiring a sorted map.
type PendingAcks struct {
	mu      sync.Mutex
	order   []uint64
	entries map[uint64]*pendingEntry
}

// NewPendingAcks constructs an empty pending-acknowledgement tracker.
func NewPendingAcks() *PendingAcks {
	return &PendingAcks{
		entries: make(map[uint64]*pendingEntry),
	}
}

// Add records a freshly sent frame under stamp.
func (p *PendingAcks) Add(stamp uint64, frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[stamp]; !exists {
		p.order = append(p.order, stamp)
	}
	p.entries[stamp] = &pendingEntry{sentAt: time.Now(), frame: frame}
}

// Ack removes the entry for stamp, reporting whether it was present. A
// false return corresponds to an "unknown ACK stamp" — logged, not fatal.
func (p *PendingAcks) Ack(stamp uint64) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[stamp]
	if !ok {
		return 0, false
	}
	delete(p.entries, stamp)
	p.order = removeStamp(p.order, stamp)
	return time.Since(e.sentAt), true
}

// Empty reports whether no acknowledgements are outstanding — the
// condition the bounded-retry shutdown helper polls.
func (p *PendingAcks) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) == 0
}

// Len reports how many acknowledgements are outstanding.
func (p *PendingAcks) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Replay invokes send, in stamp order, for every outstanding frame. It is
// called once per reconnection, before the offline store is flushed.
func (p *PendingAcks) Replay(send func(frame []byte) error) error {
	p.mu.Lock()
	order := make([]uint64, len(p.order))
	copy(order, p.order)
	p.mu.Unlock()

	for _, stamp := range order {
		p.mu.Lock()
		e, ok := p.entries[stamp]
		p.mu.Unlock()
		if !ok {
			continue // acked concurrently with the reconnect
		}
		if err := send(e.frame); err != nil {
			return err
		}
	}
	return nil
}

// LogUnknownAck is a small helper so every call site logs the same shape.
func LogUnknownAck(logger *zap.Logger, stamp uint64) {
	logger.Warn("received ACK for stamp not present in pending acks", zap.Uint64("stamp", stamp))
}

func removeStamp(order []uint64, stamp uint64) []uint64 {
	for i, s := range order {
		if s == stamp {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
