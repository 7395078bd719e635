// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package relay

// group is a named routing bucket. It is only ever touched from the
// Router's single actor goroutine, so it carries no locking of its own.
type group struct {
	name string

	// members preserves join order; it is both the iteration order for
	// dispatch fairness and the delivery list for broadcast fan-out.
	members   []uint64
	memberSet map[uint64]struct{}

	hasBroadcast  bool
	broadcastSlot []byte

	consumables    [][]byte
	maxConsumables int

	pendingConsumers map[uint64]int

	limits GroupLimits
}

func newGroup(name string, limits GroupLimits) *group {
	return &group{
		name:             name,
		memberSet:        make(map[uint64]struct{}),
		pendingConsumers: make(map[uint64]int),
		maxConsumables:   limits.MaxConsumables,
		limits:           limits,
	}
}

func (g *group) addMember(id uint64) {
	if _, ok := g.memberSet[id]; ok {
		return
	}
	g.memberSet[id] = struct{}{}
	g.members = append(g.members, id)
	g.pendingConsumers[id] = 0
}

func (g *group) removeMember(id uint64) {
	if _, ok := g.memberSet[id]; !ok {
		return
	}
	delete(g.memberSet, id)
	delete(g.pendingConsumers, id)
	for i, m := range g.members {
		if m == id {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
}

func (g *group) isFull() bool {
	return g.limits.MaxCount > 0 && len(g.members) >= g.limits.MaxCount
}

// enqueueConsumable appends payload, dropping the oldest entry if the
// queue would exceed maxConsumables.
func (g *group) enqueueConsumable(payload []byte) {
	g.consumables = append(g.consumables, payload)
	if g.maxConsumables > 0 {
		for len(g.consumables) > g.maxConsumables {
			g.consumables = g.consumables[1:]
		}
	}
}

// dispatch drains consumables to members with an outstanding
// pendingConsumers balance, in member (join) order, until either the
// queue empties or no member is owed anything. It returns the set of
// (member, payload) sends to perform.
func (g *group) dispatch() []delivery {
	var out []delivery
	for len(g.consumables) > 0 {
		sentAny := false
		for _, member := range g.members {
			if len(g.consumables) == 0 {
				break
			}
			if g.pendingConsumers[member] <= 0 {
				continue
			}
			payload := g.consumables[0]
			g.consumables = g.consumables[1:]
			g.pendingConsumers[member]--
			out = append(out, delivery{client: member, payload: payload})
			sentAny = true
		}
		if !sentAny {
			break
		}
	}
	return out
}

// delivery is a single group->member send the Router needs to push to a
// connection handler.
type delivery struct {
	client  uint64
	payload []byte
}
