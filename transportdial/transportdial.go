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

// Package transportdial resolves a novaconfig.TransportConfig into a
// live net.Conn or net.Listener. It understands the substrates spec.md's
// "External Interfaces" section names: plain TCP, TLS-wrapped TCP, Unix
// domain sockets, and — on Windows only — named pipes (spec.md calls out
// that the protocol itself is substrate-agnostic so long as the
// substrate is a reliable, ordered byte stream). The "namedpipe" network
// is only ever satisfied on a windows build; dialNamedPipe/listenNamedPipe
// are implemented per-platform in transportdial_windows.go and
// transportdial_other.go.
package transportdial

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/nova-remote/rpc/internal/novaconfig"
)

// Dial connects to cfg's address over cfg's substrate.
func Dial(ctx context.Context, cfg novaconfig.TransportConfig) (net.Conn, error) {
	dialer := &net.Dialer{}
	switch cfg.Network {
	case "", "tcp":
		return dialer.DialContext(ctx, "tcp", cfg.Address)
	case "unix":
		return dialer.DialContext(ctx, "unix", cfg.Address)
	case "tcp+tls":
		tlsCfg, err := clientTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
		if err != nil {
			return nil, err
		}
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	case "namedpipe":
		return dialNamedPipe(ctx, cfg.Address)
	default:
		return nil, fmt.Errorf("transportdial: unknown network %q", cfg.Network)
	}
}

// Listen starts accepting connections on cfg's address over cfg's
// substrate.
func Listen(cfg novaconfig.TransportConfig) (net.Listener, error) {
	switch cfg.Network {
	case "", "tcp":
		return net.Listen("tcp", cfg.Address)
	case "unix":
		// A stale socket file from an unclean previous exit must not block
		// a fresh bind.
		if _, err := os.Stat(cfg.Address); err == nil {
			_ = os.Remove(cfg.Address)
		}
		return net.Listen("unix", cfg.Address)
	case "tcp+tls":
		tlsCfg, err := serverTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		inner, err := net.Listen("tcp", cfg.Address)
		if err != nil {
			return nil, err
		}
		return tls.NewListener(inner, tlsCfg), nil
	case "namedpipe":
		return listenNamedPipe(cfg.Address)
	default:
		return nil, fmt.Errorf("transportdial: unknown network %q", cfg.Network)
	}
}

func clientTLSConfig(cfg novaconfig.TransportConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSCAFile != "" {
		pool, err := loadCAPool(cfg.TLSCAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("transportdial: loading client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func serverTLSConfig(cfg novaconfig.TransportConfig) (*tls.Config, error) {
	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		return nil, fmt.Errorf("transportdial: tcp+tls listener requires tls_cert_file and tls_key_file")
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("transportdial: loading server cert: %w", err)
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	if cfg.TLSCAFile != "" {
		pool, err := loadCAPool(cfg.TLSCAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transportdial: reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("transportdial: no certificates found in %s", path)
	}
	return pool, nil
}
