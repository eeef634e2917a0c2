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

// Package bootstrap holds the small amount of wiring shared by
// cmd/novarouter and cmd/novaworker: turning a loaded novaconfig.Config
// into the pieces novarpc needs, and setting up the process-wide logger.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nova-remote/rpc/internal/novaconfig"
	"github.com/nova-remote/rpc/internal/rlog"
	"github.com/nova-remote/rpc/novarpc"
)

// CapabilityOffer converts the TOML-friendly CapabilitiesConfig into the
// CapabilityOffer novarpc's handshake expects, falling back to
// novarpc.DefaultOffer for any zero-valued numeric field.
func CapabilityOffer(cfg novaconfig.CapabilitiesConfig) (novarpc.CapabilityOffer, error) {
	offer := novarpc.DefaultOffer()
	if cfg.MaxFrameLenBytes != 0 {
		offer.MaxFrameLen = cfg.MaxFrameLenBytes
	}
	if cfg.MaxPacketLenBytes != 0 {
		offer.MaxPacketLen = cfg.MaxPacketLenBytes
	}
	if cfg.MaxInflightReassembly != 0 {
		offer.MaxInflightReassembly = cfg.MaxInflightReassembly
	}
	offer.Cancel = cfg.CancelSupported

	if len(cfg.Compression) > 0 {
		algs := make([]novarpc.CompressionAlgorithm, 0, len(cfg.Compression))
		for _, name := range cfg.Compression {
			alg, err := parseCompressionName(name)
			if err != nil {
				return offer, err
			}
			algs = append(algs, alg)
		}
		offer.Compression = algs
	}
	return offer, nil
}

func parseCompressionName(name string) (novarpc.CompressionAlgorithm, error) {
	switch name {
	case "zstd":
		return novarpc.CompressionZstd, nil
	case "none":
		return novarpc.CompressionNone, nil
	default:
		return 0, fmt.Errorf("bootstrap: unknown compression algorithm %q", name)
	}
}

// CompressionThreshold returns cfg's threshold, or novarpc's suggested
// default when unset.
func CompressionThreshold(cfg novaconfig.CapabilitiesConfig) uint32 {
	if cfg.CompressionThreshold != 0 {
		return cfg.CompressionThreshold
	}
	return novarpc.DefaultCompressionThreshold
}

// Keepalive returns cfg's keepalive interval, which defaults to 0
// (disabled) when the config omits it — spec.md leaves the Ping/Pong
// loop as an optional feature, and this module's default posture is off.
func Keepalive(cfg *novaconfig.Config) time.Duration {
	return cfg.KeepaliveInterval.Duration
}

// Logger builds the process logger described by cfg: a colorized
// terminal handler when LogFile is unset, a rotating JSON file handler
// otherwise.
func Logger(cfg *novaconfig.Config) *rlog.Logger {
	level := parseLevel(cfg.LogLevel)
	if cfg.LogFile == "" {
		return rlog.New(rlog.NewTerminalHandler(os.Stderr, level))
	}
	return rlog.New(rlog.NewFileHandler(rlog.FileHandlerConfig{
		Path:  cfg.LogFile,
		Level: level,
	}))
}

func parseLevel(name string) slog.Level {
	switch name {
	case "trace":
		return rlog.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "crit":
		return rlog.LevelCrit
	default:
		return slog.LevelInfo
	}
}
