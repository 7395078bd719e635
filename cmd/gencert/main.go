// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/flymesh/relaycast/credentials"
	"go.uber.org/zap"
)

func main() {
	dir := flag.String("dir", "", "credentials directory, defaults to the platform cache dir")
	commonName := flag.String("common-name", "relaycast", "certificate common name / SAN entry")
	validity := flag.Duration("validity", 10*365*24*time.Hour, "certificate validity window")
	broadcastAddr := flag.String("broadcast", "", "if set, serve certificate.pem over plain TCP at this address instead of generating")
	retrieveAddr := flag.String("retrieve", "", "if set, fetch certificate.pem from this address instead of generating")
	flag.Parse()

	path := *dir
	if path == "" {
		var err error
		path, err = credentials.DefaultKeysDir()
		if err != nil {
			log.Fatalf("resolve default credentials dir: %+v", err)
		}
	}

	switch {
	case *broadcastAddr != "":
		logger, _ := zap.NewDevelopment()
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		fmt.Printf("serving certificate.pem from %s on %s to the first client that connects, ctrl-C to abort\n", path, *broadcastAddr)
		if err := credentials.BroadcastCertificate(ctx, *broadcastAddr, path, logger); err != nil {
			log.Fatalf("broadcast certificate: %+v", err)
		}
	case *retrieveAddr != "":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := credentials.RetrieveCertificate(ctx, *retrieveAddr, path); err != nil {
			log.Fatalf("retrieve certificate: %+v", err)
		}
		fmt.Printf("wrote certificate.pem to %s\n", path)
	default:
		err := credentials.Generate(path, credentials.Params{
			CommonName:       *commonName,
			ValidityDuration: *validity,
		})
		if err != nil {
			log.Fatalf("generate credentials: %+v", err)
		}
		fmt.Printf("generated key.pem and certificate.pem in %s\n", path)
	}
}
