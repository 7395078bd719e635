// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package credentials

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BroadcastCertificate serves certificate.pem over plain TCP to the first
// peer that connects, then closes the listener and returns, letting an
// Endpoint bootstrap trust in a Relay's self-signed certificate without an
// out-of-band file copy. If ctx is cancelled before anyone connects it
// returns nil without serving anyone.
func BroadcastCertificate(ctx context.Context, addr, dir string, logger *zap.Logger) error {
	certPath := filepath.Join(dir, "certificate.pem")
	if _, err := os.Stat(certPath); err != nil {
		return errors.Wrap(err, "certificate.pem not found, generate credentials first")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listen for credentials distribution")
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return nil
		default:
			return errors.Wrap(err, "accept credentials connection")
		}
	}
	sendCertificate(conn, certPath, logger)
	return nil
}

func sendCertificate(conn net.Conn, certPath string, logger *zap.Logger) {
	defer conn.Close()
	f, err := os.Open(certPath)
	if err != nil {
		logger.Warn("failed to open certificate for distribution", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := io.Copy(conn, f); err != nil {
		logger.Warn("failed to send certificate", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	logger.Info("sent TLS certificate", zap.String("remote", conn.RemoteAddr().String()))
}

// RetrieveCertificate dials a BroadcastCertificate server and writes the
// received certificate.pem into dir.
func RetrieveCertificate(ctx context.Context, addr, dir string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "dial credentials server")
	}
	defer conn.Close()

	data, err := io.ReadAll(conn)
	if err != nil {
		return errors.Wrap(err, "read certificate")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "create credentials dir")
	}
	certPath := filepath.Join(dir, "certificate.pem")
	if err := os.WriteFile(certPath, data, 0644); err != nil {
		return errors.Wrap(err, "write certificate")
	}
	return nil
}
