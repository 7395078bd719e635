// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package endpoint

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/flymesh/relaycast/wire"
	"go.uber.org/zap"
)

// run is the Endpoint's reconnecting-client goroutine: dial, handshake,
// serve until the connection dies, back off, repeat indefinitely until
// ctx is cancelled.
func (e *Endpoint) run(ctx context.Context) {
	defer e.wg.Done()
	policy := newReconnectPolicy(e.cfg.ReconInitialDelay, e.cfg.ReconMaxDelay, e.cfg.ReconFactor)
	strategy := policy.newStrategy()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nc, err := e.dial(ctx)
		if err != nil {
			e.logger.Info("connect failed", zap.Error(err))
			sleepBackoff(ctx, strategy)
			continue
		}
		e.logger.Info("connected")
		strategy = policy.newStrategy() // resetDelay on success

		ac := &endpointConn{nc: nc}
		e.setActive(ac)
		e.serve(ctx, ac)
		e.setActive(nil)
		_ = nc.Close()
		e.logger.Info("lost connection")

		select {
		case <-ctx.Done():
			return
		default:
		}
		sleepBackoff(ctx, strategy)
	}
}

func (e *Endpoint) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	if e.cfg.Security == SecurityTCP {
		return d.DialContext(ctx, "tcp", e.cfg.ServerAddr)
	}
	tlsCfg := e.cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: e.cfg.Hostname}
	}
	tlsDialer := tls.Dialer{NetDialer: &d, Config: tlsCfg}
	return tlsDialer.DialContext(ctx, "tcp", e.cfg.ServerAddr)
}

// serve reads frames from ac until the connection dies, protected by a
// catch-all recover mirroring the source's `except Exception` handler.
func (e *Endpoint) serve(ctx context.Context, ac *endpointConn) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in connection read loop", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		body, err := wire.ReadRelayFrame(ac.nc, e.cfg.HeaderSize, idleReadTimeout)
		if err != nil {
			return
		}

		var env wire.RelayEnvelope
		if err := e.cfg.Codec.Unmarshal(body, &env); err != nil {
			e.logger.Warn("codec unmarshal failed, dropping connection", zap.Error(err))
			return
		}

		if env.Command == wire.CmdAck {
			if _, ok := e.pending.Ack(env.Stamp); !ok {
				wire.LogUnknownAck(e.logger, env.Stamp)
			}
			continue
		}

		if err := e.sendAck(ac, env.Stamp); err != nil {
			return
		}

		switch env.Command {
		case wire.CmdHello:
			if err := e.sendHelloReply(ac); err != nil {
				return
			}
			e.onHandshakeComplete(ac)
		case wire.CmdObj:
			e.deliver(env.Payload)
		default:
			e.logger.Warn("unexpected command from relay", zap.String("command", string(env.Command)))
		}
	}
}

func (e *Endpoint) sendAck(ac *endpointConn, stamp uint64) error {
	body, err := e.cfg.Codec.Marshal(wire.PeerEnvelope{Stamp: stamp, Command: wire.CmdAck})
	if err != nil {
		return err
	}
	ac.writeMu.Lock()
	defer ac.writeMu.Unlock()
	return wire.WritePeerFrame(ac.nc, e.cfg.HeaderSize, []byte(e.cfg.Password), body)
}

// sendHelloReply answers the Relay's HELLO with the declared group set. The
// reply is not recorded in pending acks: it belongs to this connection's
// handshake only, and a HELLO replayed on an already ALIVE connection gets
// that connection killed by the Relay. The Relay's ACK for it is therefore
// logged as an unknown stamp.
func (e *Endpoint) sendHelloReply(ac *endpointConn) error {
	stamp := e.stamp.Next()
	body, err := e.cfg.Codec.Marshal(wire.PeerEnvelope{Stamp: stamp, Command: wire.CmdHello, Groups: e.cfg.Groups})
	if err != nil {
		return err
	}
	ac.writeMu.Lock()
	defer ac.writeMu.Unlock()
	return wire.WritePeerFrame(ac.nc, e.cfg.HeaderSize, []byte(e.cfg.Password), body)
}

// onHandshakeComplete replays outstanding pending_acks in stamp order,
// then flushes whatever accumulated in the offline store while
// disconnected, exactly as specified for reconnection.
func (e *Endpoint) onHandshakeComplete(ac *endpointConn) {
	err := e.pending.Replay(func(frame []byte) error {
		ac.writeMu.Lock()
		defer ac.writeMu.Unlock()
		return wire.WritePeerFrame(ac.nc, e.cfg.HeaderSize, []byte(e.cfg.Password), frame)
	})
	if err != nil {
		e.logger.Warn("failed to replay pending acknowledgements", zap.Error(err))
		return
	}

	for _, entry := range e.store.drain() {
		if err := e.writeFrame(ac, entry.command, entry.destination, entry.payload); err != nil {
			e.logger.Warn("failed to flush stored command after reconnect", zap.Error(err))
			return
		}
	}
}

// deliver routes an inbound OBJ payload to the receive buffer, either
// inline (Synchronous) or through the decode worker pool (Asynchronous).
func (e *Endpoint) deliver(payload []byte) {
	if e.asyncCh == nil {
		e.pushDecoded(payload)
		return
	}
	select {
	case e.asyncCh <- payload:
	case <-e.ctx.Done():
	}
}

func (e *Endpoint) pushDecoded(payload []byte) {
	if e.cfg.Decode != nil {
		decoded, err := e.cfg.Decode(payload)
		if err != nil {
			e.logger.Warn("payload decode hook failed, dropping payload", zap.Error(err))
			return
		}
		payload = decoded
	}
	e.in.push(payload)
}

func (e *Endpoint) decodeWorker() {
	defer e.wg.Done()
	for payload := range e.asyncCh {
		e.pushDecoded(payload)
	}
}
