// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flymesh/relaycast/credentials"
	"github.com/flymesh/relaycast/relay"

	"go.uber.org/zap"
)

// fileConfig is the shape of an optional -config TOML file. File values
// take precedence; a flag's value (or its default) only fills a field the
// file leaves empty.
type fileConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	MetricsAddr string `toml:"metrics_addr"`
	Password    string `toml:"password"`
	CredsDir    string `toml:"credentials_dir"`
	PlainTCP    bool   `toml:"plain_tcp"`
	CommonName  string `toml:"common_name"`
}

func main() {
	listenAddr := flag.String("listen-addr", ":8443", "relay TCP listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "prometheus /metrics listen address, empty to disable")
	password := flag.String("password", "", "shared password required of connecting peers")
	credsDir := flag.String("credentials-dir", "", "directory holding certificate.pem/key.pem, defaults to the platform cache dir")
	plainTCP := flag.Bool("plain-tcp", false, "disable TLS (testing only)")
	commonName := flag.String("common-name", "relaycast", "common name / SAN entry for a freshly generated certificate")
	configPath := flag.String("config", "", "optional TOML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(versioninfo.Short())
		return
	}

	var fc fileConfig
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &fc); err != nil {
			log.Fatalf("parse config file: %+v", err)
		}
	}
	mergeFlagDefaults(&fc, *listenAddr, *metricsAddr, *password, *credsDir, *plainTCP, *commonName)

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %+v", err)
	}
	defer logger.Sync()

	dir := fc.CredsDir
	if dir == "" {
		dir, err = credentials.DefaultKeysDir()
		if err != nil {
			logger.Fatal("resolve default credentials dir", zap.Error(err))
		}
	}

	cfg := relay.Config{
		ListenAddr: fc.ListenAddr,
		Password:   fc.Password,
		Policy:     relay.OpenPolicy(),
		Logger:     logger,
		Metrics:    relay.NewMetrics(prometheus.DefaultRegisterer),
	}

	if fc.PlainTCP {
		cfg.Security = relay.SecurityTCP
	} else {
		cfg.Security = relay.SecurityTLS
		cert, err := credentials.LoadOrGenerate(dir, credentials.Params{CommonName: fc.CommonName})
		if err != nil {
			logger.Fatal("load or generate tls credentials", zap.Error(err))
		}
		cfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	r, err := relay.New(cfg)
	if err != nil {
		logger.Fatal("construct relay", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := r.Start(ctx); err != nil {
		logger.Fatal("start relay", zap.Error(err))
	}
	logger.Info("relay started", zap.String("addr", r.Addr().String()))

	if fc.MetricsAddr != "" {
		go serveMetrics(fc.MetricsAddr, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	r.Stop()
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func mergeFlagDefaults(fc *fileConfig, listenAddr, metricsAddr, password, credsDir string, plainTCP bool, commonName string) {
	if fc.ListenAddr == "" {
		fc.ListenAddr = listenAddr
	}
	if fc.MetricsAddr == "" {
		fc.MetricsAddr = metricsAddr
	}
	if fc.Password == "" {
		fc.Password = password
	}
	if fc.CredsDir == "" {
		fc.CredsDir = credsDir
	}
	if !fc.PlainTCP {
		fc.PlainTCP = plainTCP
	}
	if fc.CommonName == "" {
		fc.CommonName = commonName
	}
}
