// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package relay

import (
	"context"

	"github.com/flymesh/relaycast/wire"
	"go.uber.org/zap"
)

// Delivery is one payload the Router has decided to push down to a given
// client's connection handler, either a broadcast fan-out or a dispatched
// consumable.
type Delivery struct {
	Payload []byte
}

// clientRecord is the Router's live-clients entry: which groups a member
// belongs to, and the channel its connection handler drains deliveries
// from. Owned exclusively by the Router goroutine.
type clientRecord struct {
	id     uint64
	groups map[string]struct{}
	out    chan Delivery
}

// outboxDepth bounds the per-client delivery channel. Sends onto it from
// the actor goroutine (see deliver) never block: a value large enough to
// absorb ordinary bursts keeps a merely-bursty client from being dropped,
// while a client whose outbox is still full after outboxDepth deliveries
// is disconnected rather than allowed to stall everyone else.
const outboxDepth = 256

// Router is the single authority for all group state described in the
// wire protocol's Relay Router component: group membership, broadcast
// slots, consumable queues and pending-consumer bookkeeping. It is driven
// by a single goroutine (Run) reading a command channel, so none of its
// internal state needs locking.
type Router struct {
	policy  Policy
	logger  *zap.Logger
	metrics *Metrics

	groups  map[string]*group
	clients map[uint64]*clientRecord
	nextID  uint64

	cmds chan routerCmd
}

// NewRouter constructs a Router. Call Run in its own goroutine before
// issuing any of the public operations.
func NewRouter(policy Policy, logger *zap.Logger, metrics *Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		policy:  policy,
		logger:  logger,
		metrics: metrics,
		groups:  make(map[string]*group),
		clients: make(map[uint64]*clientRecord),
		cmds:    make(chan routerCmd, 64),
	}
}

// Run is the Router's single actor goroutine; it must not be called more
// than once. It returns when ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.cmds:
			cmd.apply(r)
		}
	}
}

// routerCmd is the internal command-channel element. Each concrete command
// below captures its own reply channel and applies itself against Router
// state from within the actor goroutine.
type routerCmd interface {
	apply(r *Router)
}

// --- Admit -----------------------------------------------------------------

// AdmitResult is returned to the connection handler once the actor
// goroutine has processed an admit request.
type AdmitResult struct {
	Accepted bool
	ClientID uint64
	Out      <-chan Delivery
	Err      error
}

type admitCmd struct {
	groups []string
	reply  chan AdmitResult
}

func (c *admitCmd) apply(r *Router) {
	for _, name := range c.groups {
		limits, ok := r.policy.Allows(name)
		if !ok {
			c.reply <- AdmitResult{Err: wire.ErrPolicyRejected}
			return
		}
		g := r.groups[name]
		if g != nil && g.isFull() {
			c.reply <- AdmitResult{Err: wire.ErrPolicyRejected}
			return
		}
		_ = limits
	}

	r.nextID++
	id := r.nextID
	rec := &clientRecord{
		id:     id,
		groups: make(map[string]struct{}, len(c.groups)),
		out:    make(chan Delivery, outboxDepth),
	}
	r.clients[id] = rec

	var initial []Delivery
	for _, name := range c.groups {
		g := r.groupFor(name)
		g.addMember(id)
		rec.groups[name] = struct{}{}
		if g.hasBroadcast {
			initial = append(initial, Delivery{Payload: g.broadcastSlot})
		}
	}
	if r.metrics != nil {
		r.metrics.ClientsAdmitted.Inc()
		r.metrics.GroupsGauge.Set(float64(len(r.groups)))
	}

	// Deliver any current broadcast slots before handing the channel back,
	// so the joiner sees them immediately after handshake completes,
	// ahead of anything sent to it afterwards.
	for _, d := range initial {
		r.deliver(id, d)
	}

	c.reply <- AdmitResult{Accepted: true, ClientID: id, Out: rec.out}
}

// groupFor returns the named group, creating it lazily on first reference
// under either policy; callers check Allows first, so under a restricted
// policy only declared names reach it.
func (r *Router) groupFor(name string) *group {
	g, ok := r.groups[name]
	if !ok {
		limits, _ := r.policy.Allows(name)
		g = newGroup(name, limits)
		r.groups[name] = g
		if r.metrics != nil {
			r.metrics.GroupsGauge.Set(float64(len(r.groups)))
		}
	}
	return g
}

// Admit validates declaredGroups against policy and, on success, creates a
// client record and returns its id and delivery channel.
func (r *Router) Admit(ctx context.Context, declaredGroups []string) AdmitResult {
	reply := make(chan AdmitResult, 1)
	cmd := &admitCmd{groups: declaredGroups, reply: reply}
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return AdmitResult{Err: ctx.Err()}
	}
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return AdmitResult{Err: ctx.Err()}
	}
}

// --- Drop --------------------------------------------------------------

type dropCmd struct {
	client uint64
}

func (c *dropCmd) apply(r *Router) {
	r.dropLocked(c.client)
}

// Drop removes a client from every group it joined. Idempotent.
func (r *Router) Drop(clientID uint64) {
	r.cmds <- &dropCmd{client: clientID}
}

// dropLocked removes a client from every group and the client table, and
// closes its delivery channel so a forwardDeliveries goroutine still
// waiting on it returns instead of leaking. Must only be called from the
// actor goroutine, and at most once per client (the client table entry
// guards against a double-close).
func (r *Router) dropLocked(id uint64) {
	rec, ok := r.clients[id]
	if !ok {
		return // idempotent
	}
	for name := range rec.groups {
		if g, ok := r.groups[name]; ok {
			g.removeMember(id)
		}
	}
	delete(r.clients, id)
	close(rec.out)
	if r.metrics != nil {
		r.metrics.ClientsAdmitted.Dec()
	}
}

// deliver pushes d to id's outbox without ever blocking the actor
// goroutine, and reports whether it was actually delivered. The outbox is
// sized generously (outboxDepth) to absorb ordinary bursts; a full outbox
// means the client's connection handler isn't draining it, most likely
// because its socket write is stuck. Since nothing else drains it either,
// the only way to keep that one client from stalling delivery to
// everybody else is to drop it. id is looked up fresh rather than taking
// a *clientRecord, so a client dropped earlier in the same apply (its
// outbox already closed) is simply skipped instead of panicking on a send
// to a closed channel.
func (r *Router) deliver(id uint64, d Delivery) bool {
	rec, ok := r.clients[id]
	if !ok {
		return false
	}
	select {
	case rec.out <- d:
		return true
	default:
		r.logger.Warn("client outbox full, disconnecting", zap.Uint64("client", id))
		if r.metrics != nil {
			r.metrics.ClientsOverflowed.Inc()
		}
		r.dropLocked(id)
		return false
	}
}

// --- Send ----------------------------------------------------------------

type sendCmd struct {
	client      uint64
	destination wire.Targets
	payload     []byte
}

func (c *sendCmd) apply(r *Router) {
	if _, ok := r.clients[c.client]; !ok {
		return
	}
	for name, n := range c.destination {
		if n == 0 {
			continue
		}
		limits, allowed := r.policy.Allows(name)
		if !allowed {
			r.logger.Warn("send referenced a group outside the restricted policy", zap.String("group", name), zap.Uint64("client", c.client))
			continue
		}
		g := r.groupFor(name)
		g.limits = limits

		if n < 0 {
			g.hasBroadcast = true
			g.broadcastSlot = c.payload
			// Snapshot membership before fanning out: deliver can drop a
			// slow member mid-loop, and dropLocked mutates g.members in
			// place, which would otherwise shift elements under this
			// range.
			for _, member := range append([]uint64(nil), g.members...) {
				r.deliver(member, Delivery{Payload: c.payload})
			}
			if r.metrics != nil {
				r.metrics.BroadcastsTotal.Inc()
			}
			continue
		}

		for i := 0; i < n; i++ {
			g.enqueueConsumable(c.payload)
		}
		if r.metrics != nil {
			r.metrics.ConsumablesProduced.Add(float64(n))
			r.metrics.QueueDepth.WithLabelValues(name).Set(float64(len(g.consumables)))
		}
		r.runDispatch(g)
	}
}

// Send forwards a produce/broadcast destined for one or more groups.
func (r *Router) Send(clientID uint64, destination wire.Targets, payload []byte) {
	r.cmds <- &sendCmd{client: clientID, destination: destination, payload: payload}
}

// --- Notify ----------------------------------------------------------------

type notifyCmd struct {
	client  uint64
	origins wire.Targets
}

func (c *notifyCmd) apply(r *Router) {
	rec, ok := r.clients[c.client]
	if !ok {
		return
	}
	for name, n := range c.origins {
		if _, member := rec.groups[name]; !member {
			r.logger.Warn("notify referenced a group the client never joined", zap.String("group", name), zap.Uint64("client", c.client))
			continue
		}
		g := r.groups[name]
		if g == nil {
			continue
		}
		switch {
		case n > 0:
			g.pendingConsumers[c.client] += n
			r.runDispatch(g)
		case n < 0:
			for len(g.consumables) > 0 {
				payload := g.consumables[0]
				g.consumables = g.consumables[1:]
				if !r.deliver(c.client, Delivery{Payload: payload}) {
					break
				}
			}
		}
	}
}

// Notify signals that a client is ready to receive consumables from one or
// more groups it belongs to.
func (r *Router) Notify(clientID uint64, origins wire.Targets) {
	r.cmds <- &notifyCmd{client: clientID, origins: origins}
}

// runDispatch applies group.dispatch and forwards the resulting sends to
// each target's delivery channel. Must only be called from the actor
// goroutine.
func (r *Router) runDispatch(g *group) {
	for _, d := range g.dispatch() {
		if r.deliver(d.client, Delivery{Payload: d.payload}) && r.metrics != nil {
			r.metrics.DispatchTotal.Inc()
		}
	}
	if r.metrics != nil {
		r.metrics.QueueDepth.WithLabelValues(g.name).Set(float64(len(g.consumables)))
	}
}
