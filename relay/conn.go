// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package relay

import (
	"context"
	"crypto/subtle"
	"net"
	"sync"
	"time"

	"github.com/flymesh/relaycast/wire"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// handshakeTimeout bounds how long a freshly accepted connection has to
// complete the HELLO exchange before it is dropped.
const handshakeTimeout = 15 * time.Second

// idleReadTimeout bounds every subsequent frame read so a half-dead peer
// does not tie up a goroutine forever; it is refreshed on every frame.
const idleReadTimeout = 2 * time.Minute

type connConfig struct {
	headerSize int
	password   []byte
	codec      wire.Codec
	router     *Router
	logger     *zap.Logger
	relay      *Relay
}

// connHandler is the per-connection authority described in the wire
// protocol engine's state machine, on the Relay side. A single read-loop
// goroutine drives it; a second goroutine forwards Router deliveries. Both
// share writeMu, the stamp counter and the pending-ack tracker, since both
// write stamped, non-ACK frames to the same socket.
type connHandler struct {
	nc     net.Conn
	cfg    connConfig
	logger *zap.Logger

	writeMu sync.Mutex
	stamp   wire.StampCounter
	pending *wire.PendingAcks

	admitted bool
	clientID uint64
	out      <-chan Delivery

	stateMu sync.Mutex
	state   wire.ConnState
}

// serve drives one accepted connection to completion. It never returns an
// error to the caller: every failure mode is logged and ends the
// connection, per "a single misbehaving peer must not bring down the
// router".
func serve(ctx context.Context, nc net.Conn, cfg connConfig) {
	traceID := uuid.New().String()
	logger := cfg.logger.With(zap.String("component", "relay"), zap.String("conn", traceID), zap.String("remote", nc.RemoteAddr().String()))
	h := &connHandler{
		nc:      nc,
		cfg:     cfg,
		logger:  logger,
		pending: wire.NewPendingAcks(),
		state:   wire.StateHandshake,
	}
	defer nc.Close()

	cfg.relay.track(h)
	defer cfg.relay.untrack(h)

	if err := h.sendRelayFrame(wire.CmdHello, nil); err != nil {
		logger.Debug("failed to send initial HELLO", zap.Error(err))
		return
	}

	h.readLoop(ctx)

	if h.admitted {
		h.cfg.router.Drop(h.clientID)
	}
}

// pendingLen reports how many of this connection's sent frames are still
// awaiting an ACK — used by Relay.Stop's bounded-retry drain.
func (h *connHandler) pendingLen() int {
	return h.pending.Len()
}

func (h *connHandler) closeConn() {
	_ = h.nc.Close()
}

func (h *connHandler) setState(s wire.ConnState) {
	h.stateMu.Lock()
	h.state = s
	h.stateMu.Unlock()
}

func (h *connHandler) getState() wire.ConnState {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state
}

func (h *connHandler) kill(reason string, err error) {
	h.setState(wire.StateKilled)
	h.logger.Info("killing connection", zap.String("reason", reason), zap.Error(err))
}

// readLoop consumes frames until the connection dies or is killed. It is
// protected by a catch-all recover, mirroring the source's
// `except Exception` handler in dataReceived.
func (h *connHandler) readLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.kill("panic in read loop", errors.Errorf("%v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		readTimeout := idleReadTimeout
		if !h.admitted {
			readTimeout = handshakeTimeout
		}
		password, body, err := wire.ReadPeerFrame(h.nc, h.cfg.headerSize, len(h.cfg.password), readTimeout)
		if err != nil {
			if errors.Is(err, wire.ErrMalformedFrame) {
				h.kill("malformed frame header", err)
				return
			}
			h.setState(wire.StateDead)
			return
		}

		if subtle.ConstantTimeCompare(password, h.cfg.password) != 1 {
			h.kill("bad password", wire.ErrBadPassword)
			return
		}

		var env wire.PeerEnvelope
		if err := h.cfg.codec.Unmarshal(body, &env); err != nil {
			h.kill("codec unmarshal failed", err)
			return
		}

		if env.Command == wire.CmdAck {
			if _, ok := h.pending.Ack(env.Stamp); !ok {
				wire.LogUnknownAck(h.logger, env.Stamp)
			}
			continue
		}

		// Every non-ACK frame is ACKed by the receiver before processing.
		if err := h.sendAck(env.Stamp); err != nil {
			h.setState(wire.StateDead)
			return
		}

		if !h.admitted {
			if env.Command != wire.CmdHello {
				h.kill("command received outside ALIVE", wire.ErrUnknownCommand)
				return
			}
			if !h.handleHello(ctx, env.Groups) {
				return
			}
			continue
		}

		if h.getState() != wire.StateAlive {
			h.logger.Warn("received a command in a bad state", zap.String("state", h.getState().String()))
		}

		switch env.Command {
		case wire.CmdObj:
			h.cfg.router.Send(h.clientID, env.Destination, env.Payload)
		case wire.CmdNtf:
			h.cfg.router.Notify(h.clientID, env.Destination)
		default:
			h.kill("invalid command in ALIVE", wire.ErrUnknownCommand)
			return
		}
	}
}

// handleHello validates the peer's declared groups against Router policy.
// On acceptance it admits the client, starts the delivery forwarder and
// transitions to ALIVE; on rejection it logs and returns false so the
// caller closes the connection cleanly.
func (h *connHandler) handleHello(ctx context.Context, groups []string) bool {
	res := h.cfg.router.Admit(ctx, groups)
	if res.Err != nil || !res.Accepted {
		h.logger.Info("handshake rejected by policy", zap.Strings("groups", groups), zap.Error(res.Err))
		return false
	}
	h.admitted = true
	h.clientID = res.ClientID
	h.out = res.Out
	h.setState(wire.StateAlive)
	h.logger.Info("client admitted", zap.Uint64("client_id", h.clientID), zap.Strings("groups", groups))

	go h.forwardDeliveries(ctx)
	return true
}

// forwardDeliveries drains the Router's per-client channel and frames each
// payload as a stamped OBJ, tracked in pending_acks like any other
// non-ACK send. The Router closes this channel instead of blocking a
// full send on it (see router.go's deliver), which forwardDeliveries
// treats as a forced disconnect: it closes the socket so readLoop's
// blocked read unblocks and the connection actually goes away, rather
// than just leaking this goroutine.
func (h *connHandler) forwardDeliveries(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-h.out:
			if !ok {
				h.setState(wire.StateDead)
				h.closeConn()
				return
			}
			if err := h.sendRelayFrame(wire.CmdObj, d.Payload); err != nil {
				return
			}
		}
	}
}

func (h *connHandler) sendAck(stamp uint64) error {
	body, err := h.cfg.codec.Marshal(wire.RelayEnvelope{Stamp: stamp, Command: wire.CmdAck})
	if err != nil {
		return errors.Wrap(err, "marshal ack")
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return wire.WriteRelayFrame(h.nc, h.cfg.headerSize, body)
}

// sendRelayFrame stamps, marshals, writes and pending-ack-tracks a non-ACK
// Relay->peer frame.
func (h *connHandler) sendRelayFrame(cmd wire.Command, payload []byte) error {
	stamp := h.stamp.Next()
	body, err := h.cfg.codec.Marshal(wire.RelayEnvelope{Stamp: stamp, Command: cmd, Payload: payload})
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.pending.Add(stamp, body)
	return wire.WriteRelayFrame(h.nc, h.cfg.headerSize, body)
}
