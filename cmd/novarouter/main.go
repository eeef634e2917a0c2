// Copyright 2024 The nova-remote Authors
// This file is part of the nova-remote rpc library.
//
// The nova-remote rpc library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.
//
// The nova-remote rpc library is distributed in the hope that it will be
// useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.

// Command novarouter accepts worker connections, runs the router side of
// the handshake on each, and serves whatever methods the process has
// registered.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/nova-remote/rpc/internal/bootstrap"
	"github.com/nova-remote/rpc/internal/novaconfig"
	"github.com/nova-remote/rpc/internal/rlog"
	"github.com/nova-remote/rpc/novarpc"
	"github.com/nova-remote/rpc/transportdial"
)

func main() {
	app := &cli.App{
		Name:  "novarouter",
		Usage: "accept nova-rpc worker connections and dispatch requests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to router TOML configuration",
				Required: true,
			},
			&cli.Float64Flag{
				Name:  "accept-rate",
				Usage: "max new connections accepted per second (0 disables the limiter)",
				Value: 0,
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(clix *cli.Context) error {
	cfg, err := novaconfig.Load(clix.String("config"))
	if err != nil {
		return err
	}
	logger := bootstrap.Logger(cfg)
	rlog.SetDefault(logger)

	offer, err := bootstrap.CapabilityOffer(cfg.Capabilities)
	if err != nil {
		return err
	}
	var limiter *rate.Limiter
	if r := clix.Float64("accept-rate"); r > 0 {
		limiter = rate.NewLimiter(rate.Limit(r), 1)
	}

	routerCfg := novarpc.RouterConfig{
		Offer:                offer,
		CompressionThreshold: bootstrap.CompressionThreshold(cfg.Capabilities),
		ExpectedToken:        cfg.BearerToken,
	}
	if limiter != nil {
		routerCfg.Admit = limiter.Allow
	}

	registry := novarpc.NewRegistry()
	registerBuiltinMethods(registry)

	listener, err := transportdial.Listen(cfg.Transport)
	if err != nil {
		return fmt.Errorf("novarouter: %w", err)
	}
	defer listener.Close()
	logger.Info("novarouter listening", "network", cfg.Transport.Network, "address", cfg.Transport.Address)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	keepalive := bootstrap.Keepalive(cfg)
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("novarouter: accept: %w", err)
			}
		}
		go serveWorker(ctx, conn, routerCfg, registry, keepalive, logger)
	}
}

func serveWorker(ctx context.Context, conn net.Conn, routerCfg novarpc.RouterConfig, registry *novarpc.Registry, keepalive time.Duration, logger *rlog.Logger) {
	defer conn.Close()
	framer := novarpc.NewFramer(conn)
	negotiated, err := novarpc.RunRouterHandshake(framer, routerCfg)
	if err != nil {
		var rejected *novarpc.RejectedError
		if errors.As(err, &rejected) && rejected.Reject.Error.Code == novarpc.ErrResourceExhausted {
			logger.Warn("novarouter: rejecting connection, router at capacity", "remote", conn.RemoteAddr())
			return
		}
		logger.Warn("novarouter: handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	logger.Info("novarouter: worker connected", "remote", conn.RemoteAddr(), "compression", negotiated.Compression)

	connCfg := novarpc.ConnectionConfig{Logger: logger, KeepaliveInterval: keepalive}
	rpcConn := novarpc.NewConnection(framer, novarpc.RoleRouter, *negotiated, registry, connCfg)
	logger.Info("novarouter: connection established", "conn_id", rpcConn.ID(), "remote", conn.RemoteAddr())
	if err := rpcConn.Serve(ctx); err != nil {
		logger.Debug("novarouter: connection ended", "conn_id", rpcConn.ID(), "remote", conn.RemoteAddr(), "err", err)
	}
}

func registerBuiltinMethods(registry *novarpc.Registry) {
	registry.Register("nova.ping", func(_ context.Context, payload []byte) ([]byte, *novarpc.RpcError) {
		return payload, nil
	})
}
