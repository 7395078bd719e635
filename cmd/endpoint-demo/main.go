// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/carlmjohnson/versioninfo"

	"github.com/flymesh/relaycast/endpoint"

	"go.uber.org/zap"
)

// fileConfig is the shape of an optional -config TOML file.
type fileConfig struct {
	ServerAddr string   `toml:"server_addr"`
	Password   string   `toml:"password"`
	Groups     []string `toml:"groups"`
	Hostname   string   `toml:"hostname"`
	PlainTCP   bool     `toml:"plain_tcp"`
}

// main runs a minimal REPL exercising Produce/Broadcast/Notify and
// printing everything received, for manual exploration of a running
// Relay.
func main() {
	serverAddr := flag.String("server-addr", "localhost:8443", "relay address")
	password := flag.String("password", "", "shared password")
	groups := flag.String("groups", "", "comma-separated group names to join")
	hostname := flag.String("hostname", "relaycast", "TLS server name for certificate verification")
	plainTCP := flag.Bool("plain-tcp", false, "disable TLS (testing only)")
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
	if fc.ServerAddr == "" {
		fc.ServerAddr = *serverAddr
	}
	if fc.Password == "" {
		fc.Password = *password
	}
	if len(fc.Groups) == 0 && *groups != "" {
		fc.Groups = strings.Split(*groups, ",")
	}
	if fc.Hostname == "" {
		fc.Hostname = *hostname
	}
	if !fc.PlainTCP {
		fc.PlainTCP = *plainTCP
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %+v", err)
	}
	defer logger.Sync()

	cfg := endpoint.Config{
		ServerAddr: fc.ServerAddr,
		Password:   fc.Password,
		Groups:     fc.Groups,
		Hostname:   fc.Hostname,
		Logger:     logger,
	}
	if fc.PlainTCP {
		cfg.Security = endpoint.SecurityTCP
	} else {
		cfg.Security = endpoint.SecurityTLS
		cfg.TLSConfig = &tls.Config{InsecureSkipVerify: true} // demo only: trust-on-first-use
	}

	ep := endpoint.New(cfg)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ep.Start(ctx)
	defer ep.Stop()

	go printReceived(ctx, ep)

	fmt.Println("commands: produce <group> <text> | broadcast <group> <text> | notify <group> | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if !handleLine(ep, scanner.Text()) {
			break
		}
	}
}

func handleLine(ep *endpoint.Endpoint, line string) bool {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(fields) == 0 || fields[0] == "" {
		return true
	}
	switch fields[0] {
	case "quit":
		return false
	case "produce":
		if len(fields) < 3 {
			fmt.Println("usage: produce <group> <text>")
			return true
		}
		if err := ep.Produce([]byte(fields[2]), fields[1]); err != nil {
			fmt.Println("error:", err)
		}
	case "broadcast":
		if len(fields) < 3 {
			fmt.Println("usage: broadcast <group> <text>")
			return true
		}
		if err := ep.Broadcast([]byte(fields[2]), fields[1]); err != nil {
			fmt.Println("error:", err)
		}
	case "notify":
		if len(fields) < 2 {
			fmt.Println("usage: notify <group>")
			return true
		}
		if err := ep.Notify(fields[1]); err != nil {
			fmt.Println("error:", err)
		}
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return true
}

func printReceived(ctx context.Context, ep *endpoint.Endpoint) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for _, payload := range ep.ReceiveAll(true) {
			fmt.Printf("received: %s\n", payload)
		}
	}
}
