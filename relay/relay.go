// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package relay

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

// Security selects whether the Relay's listener requires TLS.
type Security int

const (
	SecurityTLS Security = iota
	SecurityTCP
)

// closeRetryLimit bounds Stop's drain loop, mirroring the source's
// close(counter) helper: after this many ~1s polls of outstanding
// acknowledgements, the Relay closes unconditionally.
const closeRetryLimit = 10

// Config constructs a Relay.
type Config struct {
	ListenAddr string
	Password   string
	Policy     Policy
	HeaderSize int
	Codec      wire.Codec
	Security   Security
	TLSConfig  *tls.Config
	Logger     *zap.Logger
	Metrics    *Metrics
}

// Relay is the embedder-facing entry point: a TLS-secured listener backed
// by a single Router actor goroutine.
type Relay struct {
	cfg    Config
	router *Router
	logger *zap.Logger

	ln net.Listener

	mu    sync.Mutex
	conns map[*connHandler]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and constructs a Relay. Call Start to begin accepting
// connections.
func New(cfg Config) (*Relay, error) {
	if cfg.HeaderSize == 0 {
		cfg.HeaderSize = wire.DefaultHeaderSize
	}
	if cfg.Codec == nil {
		cfg.Codec = wire.MustCBORCodec()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Security == SecurityTLS && cfg.TLSConfig == nil {
		return nil, errors.New("TLS security requires a TLSConfig (see credentials.LoadOrGenerate)")
	}

	r := &Relay{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "relay")),
		conns:  make(map[*connHandler]struct{}),
	}
	r.router = NewRouter(cfg.Policy, r.logger, cfg.Metrics)
	return r, nil
}

// Start begins listening and accepting connections in the background. It
// returns once the listener is bound.
func (r *Relay) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	var ln net.Listener
	var err error
	if r.cfg.Security == SecurityTLS {
		ln, err = tls.Listen("tcp", r.cfg.ListenAddr, r.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", r.cfg.ListenAddr)
	}
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	r.ln = ln
	r.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Bool("tls", r.cfg.Security == SecurityTLS))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.router.Run(r.ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.acceptLoop()
	}()

	return nil
}

// Addr returns the listener's bound address.
func (r *Relay) Addr() net.Addr {
	return r.ln.Addr()
}

func (r *Relay) acceptLoop() {
	for {
		nc, err := r.ln.Accept()
		if err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
			}
			r.logger.Warn("accept error", zap.Error(err))
			continue
		}

		connCfg := connConfig{
			headerSize: r.cfg.HeaderSize,
			password:   []byte(r.cfg.Password),
			codec:      r.cfg.Codec,
			router:     r.router,
			logger:     r.logger,
			relay:      r,
		}
		r.wg.Add(1)
		go func(c net.Conn) {
			defer r.wg.Done()
			serve(r.ctx, c, connCfg)
		}(nc)
	}
}

func (r *Relay) track(h *connHandler) {
	r.mu.Lock()
	r.conns[h] = struct{}{}
	r.mu.Unlock()
}

func (r *Relay) untrack(h *connHandler) {
	r.mu.Lock()
	delete(r.conns, h)
	r.mu.Unlock()
}

// pendingTotal sums outstanding pending-ack counts across every live
// connection, the Relay-wide equivalent of the source's check_acks().
func (r *Relay) pendingTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for h := range r.conns {
		total += h.pendingLen()
	}
	return total
}

// Stop drains outstanding acknowledgements with bounded retries, then
// closes every connection and the listener unconditionally. Delivery
// degrades to best-effort once the bound is exceeded, exactly as
// documented for the wire protocol's at-least-once guarantee.
func (r *Relay) Stop() {
	for attempt := 0; ; attempt++ {
		if r.pendingTotal() == 0 || attempt >= closeRetryLimit {
			break
		}
		r.logger.Debug("waiting for in-flight acknowledgements before stopping", zap.Int("attempt", attempt))
		time.Sleep(time.Second)
	}

	if r.cancel != nil {
		r.cancel()
	}
	if r.ln != nil {
		_ = r.ln.Close()
	}

	r.mu.Lock()
	for h := range r.conns {
		h.closeConn()
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("relay stopped")
}
