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

// Package novaconfig loads router/worker process configuration from a
// TOML file, with NOVARPC_* environment variables able to override a
// fixed set of fields (see applyEnvOverrides) for container deployments
// that inject secrets (bearer tokens) and per-instance overrides (listen
// addresses) without a baked-in file.
package novaconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TransportConfig describes one endpoint of a connection: how to reach
// (or listen on) it, and over which substrate.
type TransportConfig struct {
	Network string // "tcp", "unix", or "tcp+tls"
	Address string

	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
	TLSCAFile   string `toml:"tls_ca_file"`
}

// CapabilitiesConfig mirrors novarpc.CapabilityOffer/threshold, expressed
// in config-file-friendly units.
type CapabilitiesConfig struct {
	MaxFrameLenBytes      uint32   `toml:"max_frame_len_bytes"`
	MaxPacketLenBytes     uint32   `toml:"max_packet_len_bytes"`
	MaxInflightReassembly uint16   `toml:"max_inflight_reassembly"`
	Compression           []string `toml:"compression"`
	CompressionThreshold  uint32   `toml:"compression_threshold_bytes"`
	CancelSupported       bool     `toml:"cancel_supported"`
}

// Config is the top-level document loaded from a router or worker's TOML
// file.
type Config struct {
	Transport    TransportConfig    `toml:"transport"`
	Capabilities CapabilitiesConfig `toml:"capabilities"`

	// BearerToken authenticates the handshake when non-empty. BearerTokenFile,
	// when set, is read at load time and takes precedence over BearerToken so
	// the token itself never has to live in the TOML file.
	BearerToken     string `toml:"bearer_token"`
	BearerTokenFile string `toml:"bearer_token_file"`

	KeepaliveInterval durationConfig `toml:"keepalive_interval"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
}

// durationConfig accepts TOML string durations ("30s") via
// encoding.TextUnmarshaler, which BurntSushi/toml honors.
type durationConfig struct {
	time.Duration
}

func (d *durationConfig) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("novaconfig: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads path, decodes it as TOML, then applies any NOVARPC_-prefixed
// environment variable overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("novaconfig: decoding %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if cfg.BearerTokenFile != "" {
		token, err := os.ReadFile(cfg.BearerTokenFile)
		if err != nil {
			return nil, fmt.Errorf("novaconfig: reading bearer_token_file: %w", err)
		}
		cfg.BearerToken = strings.TrimSpace(string(token))
	}
	return &cfg, nil
}

// envOverride applies NOVARPC_<FIELD>=value onto *dst if the variable is
// set, letting deployment tooling win over a checked-in config file.
func envOverride(name string, dst *string) {
	if v, ok := os.LookupEnv("NOVARPC_" + name); ok {
		*dst = v
	}
}

func envOverrideUint32(name string, dst *uint32) {
	if v, ok := os.LookupEnv("NOVARPC_" + name); ok {
		if parsed, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(parsed)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	envOverride("TRANSPORT_NETWORK", &cfg.Transport.Network)
	envOverride("TRANSPORT_ADDRESS", &cfg.Transport.Address)
	envOverride("BEARER_TOKEN", &cfg.BearerToken)
	envOverride("BEARER_TOKEN_FILE", &cfg.BearerTokenFile)
	envOverride("LOG_LEVEL", &cfg.LogLevel)
	envOverride("LOG_FILE", &cfg.LogFile)
	envOverrideUint32("MAX_FRAME_LEN_BYTES", &cfg.Capabilities.MaxFrameLenBytes)
	envOverrideUint32("MAX_PACKET_LEN_BYTES", &cfg.Capabilities.MaxPacketLenBytes)
	envOverrideUint32("COMPRESSION_THRESHOLD_BYTES", &cfg.Capabilities.CompressionThreshold)
}
