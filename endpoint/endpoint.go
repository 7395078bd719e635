// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package endpoint

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/flymesh/relaycast/wire"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Security selects whether the Endpoint's connection to the Relay is
// TLS-wrapped. TCP is documented as unsafe on untrusted networks.
type Security int

const (
	SecurityTLS Security = iota
	SecurityTCP
)

// DeserializerMode decides where inbound OBJ frames are handed off to the
// optional Decode hook: Synchronous runs it inline on the read-loop
// goroutine (the safer default — backpressures the connection if the
// embedder's hook is slow); Asynchronous hands it to a bounded worker
// pool so a slow hook cannot stall ACKing of subsequent frames.
type DeserializerMode int

const (
	Synchronous DeserializerMode = iota
	Asynchronous
)

// defaultAsyncWorkers is used when Config.AsyncWorkers is left at zero and
// DeserializerMode is Asynchronous.
const defaultAsyncWorkers = 8

// idleReadTimeout bounds every frame read on the Relay-facing connection.
const idleReadTimeout = 2 * time.Minute

// closeRetryLimit bounds Stop's pending-ack drain, exactly as on the
// Relay side.
const closeRetryLimit = 10

// Config constructs an Endpoint.
type Config struct {
	ServerAddr string
	Password   string
	Groups     []string

	HeaderSize int
	Codec      wire.Codec

	Security  Security
	TLSConfig *tls.Config
	Hostname  string

	ReconInitialDelay time.Duration
	ReconMaxDelay     time.Duration
	ReconFactor       float64

	DeserializerMode DeserializerMode
	AsyncWorkers     int
	// Decode is an optional embedder hook run on every inbound OBJ
	// payload before it reaches the receive buffer (e.g. decompression).
	// A nil Decode is the identity function.
	Decode func([]byte) ([]byte, error)

	Logger *zap.Logger
}

func (c *Config) setDefaults() {
	if c.HeaderSize == 0 {
		c.HeaderSize = wire.DefaultHeaderSize
	}
	if c.Codec == nil {
		c.Codec = wire.MustCBORCodec()
	}
	if c.ReconInitialDelay == 0 {
		c.ReconInitialDelay = 10 * time.Second
	}
	if c.ReconMaxDelay == 0 {
		c.ReconMaxDelay = 60 * time.Second
	}
	if c.ReconFactor == 0 {
		c.ReconFactor = 1.5
	}
	if c.AsyncWorkers == 0 {
		c.AsyncWorkers = defaultAsyncWorkers
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Endpoint is the embedder-facing client: a persistent, reconnecting,
// password-and-TLS-authenticated connection to a Relay, with an offline
// command buffer and a blocking-capable receive buffer.
type Endpoint struct {
	cfg    Config
	logger *zap.Logger

	stamp   wire.StampCounter
	pending *wire.PendingAcks
	store   *store
	in      *inbox

	asyncCh chan []byte

	mu     sync.Mutex
	active *endpointConn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// endpointConn wraps the live net.Conn and its write mutex; a fresh one is
// created for every successful dial.
type endpointConn struct {
	nc      net.Conn
	writeMu sync.Mutex
}

// New constructs an Endpoint. Call Start to begin connecting.
func New(cfg Config) *Endpoint {
	cfg.setDefaults()
	e := &Endpoint{
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("component", "endpoint")),
		pending: wire.NewPendingAcks(),
		store:   newStore(),
		in:      newInbox(),
	}
	if cfg.DeserializerMode == Asynchronous {
		e.asyncCh = make(chan []byte, 256)
	}
	return e
}

// Start launches the reconnecting connection goroutine (and, in
// Asynchronous mode, the decode worker pool) and returns immediately.
func (e *Endpoint) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.asyncCh != nil {
		for i := 0; i < e.cfg.AsyncWorkers; i++ {
			e.wg.Add(1)
			go e.decodeWorker()
		}
	}

	e.wg.Add(1)
	go e.run(e.ctx)
}

// Stop begins graceful shutdown: it polls pending_acks with bounded
// retries to give in-flight deliveries a chance to be acknowledged, then
// closes the connection unconditionally.
func (e *Endpoint) Stop() {
	for attempt := 0; ; attempt++ {
		if e.pending.Empty() || attempt >= closeRetryLimit {
			break
		}
		time.Sleep(time.Second)
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Lock()
	ac := e.active
	e.mu.Unlock()
	if ac != nil {
		_ = ac.nc.Close()
	}
	e.wg.Wait()
	if e.asyncCh != nil {
		close(e.asyncCh)
	}
}

// SendObject either broadcasts payload to, or enqueues it as a consumable
// on, destination, which accepts a group name, a slice of group names, or
// a map[string]int (negative = broadcast, positive = produce-N).
func (e *Endpoint) SendObject(payload []byte, destination any) error {
	targets, err := wire.NormalizeTargets(destination, -1)
	if err != nil {
		return err
	}
	e.send(wire.CmdObj, targets, payload)
	return nil
}

// Produce is an alias for SendObject(payload, map[string]int{group: 1}).
func (e *Endpoint) Produce(payload []byte, group string) error {
	e.send(wire.CmdObj, wire.Targets{group: 1}, payload)
	return nil
}

// Broadcast is an alias for SendObject(payload, map[string]int{group: -1}).
func (e *Endpoint) Broadcast(payload []byte, group string) error {
	e.send(wire.CmdObj, wire.Targets{group: -1}, payload)
	return nil
}

// Notify signals readiness to receive consumables from origins, which
// accepts the same three shapes as SendObject's destination.
func (e *Endpoint) Notify(origins any) error {
	targets, err := wire.NormalizeTargets(origins, 1)
	if err != nil {
		return err
	}
	e.send(wire.CmdNtf, targets, nil)
	return nil
}

// ReceiveAll returns every received payload, oldest to newest.
func (e *Endpoint) ReceiveAll(blocking bool) [][]byte { return e.in.receiveAll(blocking) }

// Pop returns at most maxItems oldest received payloads, removing them.
func (e *Endpoint) Pop(maxItems int, blocking bool) [][]byte { return e.in.pop(maxItems, blocking) }

// PopLIFO returns at most maxItems newest received payloads, newest first,
// removing them (or clearing the whole buffer when clear is set).
func (e *Endpoint) PopLIFO(maxItems int, clear bool, blocking bool) [][]byte {
	return e.in.popLIFO(maxItems, clear, blocking)
}

// GetLast returns at most maxItems newest received payloads, newest
// first, without removing them.
func (e *Endpoint) GetLast(maxItems int, blocking bool) [][]byte {
	return e.in.getLast(maxItems, blocking)
}

func (e *Endpoint) setActive(ac *endpointConn) {
	e.mu.Lock()
	e.active = ac
	e.mu.Unlock()
}

func (e *Endpoint) getActive() *endpointConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// send either writes a stamped, pending-ack-tracked frame to the live
// connection, or — when disconnected — appends to the offline store for
// replay after the next successful reconnect.
func (e *Endpoint) send(cmd wire.Command, dest wire.Targets, payload []byte) {
	ac := e.getActive()
	if ac == nil {
		e.store.append(outboxEntry{command: cmd, destination: dest, payload: payload})
		return
	}
	if err := e.writeFrame(ac, cmd, dest, payload); err != nil {
		e.logger.Debug("write failed, will replay on reconnect", zap.Error(err))
	}
}

func (e *Endpoint) writeFrame(ac *endpointConn, cmd wire.Command, dest wire.Targets, payload []byte) error {
	stamp := e.stamp.Next()
	body, err := e.cfg.Codec.Marshal(wire.PeerEnvelope{Stamp: stamp, Command: cmd, Destination: dest, Payload: payload})
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}
	e.pending.Add(stamp, body)

	ac.writeMu.Lock()
	defer ac.writeMu.Unlock()
	return wire.WritePeerFrame(ac.nc, e.cfg.HeaderSize, []byte(e.cfg.Password), body)
}
