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

// Command novaworker dials a router, runs the worker side of the
// handshake, and serves whatever methods the process has registered
// while also being able to issue its own calls back to the router.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nova-remote/rpc/internal/bootstrap"
	"github.com/nova-remote/rpc/internal/novaconfig"
	"github.com/nova-remote/rpc/internal/rlog"
	"github.com/nova-remote/rpc/novarpc"
	"github.com/nova-remote/rpc/transportdial"
)

func main() {
	app := &cli.App{
		Name:  "novaworker",
		Usage: "connect to a nova-rpc router and serve registered methods",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to worker TOML configuration",
				Required: true,
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

	registry := novarpc.NewRegistry()
	registerBuiltinMethods(registry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, err := transportdial.Dial(ctx, cfg.Transport)
	if err != nil {
		return fmt.Errorf("novaworker: dial: %w", err)
	}
	defer conn.Close()

	framer := novarpc.NewFramer(conn)
	var authToken *string
	if cfg.BearerToken != "" {
		authToken = &cfg.BearerToken
	}
	handshake, err := novarpc.RunWorkerHandshake(framer, offer, authToken)
	if err != nil {
		return fmt.Errorf("novaworker: handshake: %w", err)
	}
	logger.Info("novaworker connected", "version", handshake.ChosenVersion, "compression", handshake.Negotiated.Compression)

	connCfg := novarpc.ConnectionConfig{Logger: logger, KeepaliveInterval: bootstrap.Keepalive(cfg)}
	rpcConn := novarpc.NewConnection(framer, novarpc.RoleWorker, handshake.Negotiated, registry, connCfg)
	logger.Info("novaworker: connection established", "conn_id", rpcConn.ID())

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- rpcConn.Serve(ctx) }()

	select {
	case <-ctx.Done():
		closeCtx, closeCancel := context.WithTimeout(context.Background(), gracefulCloseTimeout)
		defer closeCancel()
		return rpcConn.Close(closeCtx)
	case err := <-serveErrCh:
		return err
	}
}

const gracefulCloseTimeout = 5 * time.Second

func registerBuiltinMethods(registry *novarpc.Registry) {
	registry.Register("nova.ping", func(_ context.Context, payload []byte) ([]byte, *novarpc.RpcError) {
		return payload, nil
	})
}
