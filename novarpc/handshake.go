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

package novarpc

import (
	"crypto/subtle"
)

// RouterConfig holds the policy a router applies to every inbound
// handshake (spec.md §4.3). ExpectedToken, when non-empty, must match the
// worker's AuthToken via constant-time comparison; an empty ExpectedToken
// means authentication is disabled and the hello's token is ignored.
type RouterConfig struct {
	Offer                CapabilityOffer
	CompressionThreshold uint32
	ExpectedToken        string

	// Admit, when non-nil, gates the connection before any negotiation
	// work happens: a false return rejects with ResourceExhausted
	// (retryable) and skips the rest of validation entirely (spec.md
	// §4.3, router overload). A nil Admit always allows the connection.
	Admit func() bool
}

// WorkerHandshakeResult is returned to a worker once the handshake
// engine reaches a terminal state.
type WorkerHandshakeResult struct {
	ChosenVersion uint32
	Negotiated    NegotiatedCapabilities
}

// BuildWorkerHello constructs the hello frame a worker sends first.
func BuildWorkerHello(offer CapabilityOffer, authToken *string) WorkerHello {
	return WorkerHello{
		Protocol:          Protocol,
		SupportedVersions: append([]uint32(nil), SupportedVersions...),
		Capabilities:      offer,
		AuthToken:         authToken,
	}
}

// HandleWorkerHello runs the router's side of the handshake state machine
// (spec.md §4.3 table, row "Router: AwaitingHello"). It returns either a
// RouterWelcome to send back, or a RouterReject to send back followed by
// closing the connection — never both, and the caller must close after
// sending a Reject.
func HandleWorkerHello(cfg RouterConfig, hello WorkerHello) (*RouterWelcome, *RouterReject) {
	if cfg.Admit != nil && !cfg.Admit() {
		return nil, &RouterReject{
			Error: RpcError{Code: ErrResourceExhausted, Message: "router is at capacity", Retryable: true},
		}
	}
	if hello.Protocol != Protocol || len(hello.SupportedVersions) == 0 {
		return nil, &RouterReject{
			Error:                   *NewRpcError(ErrBadHandshake, "malformed hello: wrong protocol or empty version list"),
			RouterSupportedVersions: SupportedVersions,
		}
	}
	if !validOffer(hello.Capabilities) {
		return nil, &RouterReject{
			Error:                   *NewRpcError(ErrBadHandshake, "malformed hello: invalid capability offer"),
			RouterSupportedVersions: SupportedVersions,
		}
	}

	chosen, ok := highestCommonVersion(SupportedVersions, hello.SupportedVersions)
	if !ok {
		return nil, &RouterReject{
			Error:                   *NewRpcError(ErrUnsupportedVersion, "no overlapping protocol version"),
			RouterSupportedVersions: SupportedVersions,
		}
	}

	if cfg.ExpectedToken != "" {
		if hello.AuthToken == nil || !constantTimeEqual(*hello.AuthToken, cfg.ExpectedToken) {
			return nil, &RouterReject{
				Error: RpcError{Code: ErrUnauthenticated, Message: "bearer token missing or incorrect", Retryable: false},
			}
		}
	}

	negotiated := negotiateCapabilities(cfg, hello.Capabilities)
	return &RouterWelcome{ChosenVersion: chosen, Negotiated: negotiated}, nil
}

func validOffer(o CapabilityOffer) bool {
	if o.MaxFrameLen == 0 || o.MaxPacketLen == 0 || o.MaxInflightReassembly == 0 {
		return false
	}
	for _, alg := range o.Compression {
		if !validCompressionAlgorithm(alg) {
			return false
		}
	}
	return true
}

func highestCommonVersion(routerVersions, workerVersions []uint32) (uint32, bool) {
	workerSet := make(map[uint32]bool, len(workerVersions))
	for _, v := range workerVersions {
		workerSet[v] = true
	}
	var best uint32
	found := false
	for _, v := range routerVersions {
		if workerSet[v] && (!found || v > best) {
			best = v
			found = true
		}
	}
	return best, found
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

// negotiateCapabilities implements spec.md §4.3 step 4.
func negotiateCapabilities(cfg RouterConfig, workerOffer CapabilityOffer) NegotiatedCapabilities {
	n := NegotiatedCapabilities{
		MaxFrameLen:           min32(cfg.Offer.MaxFrameLen, workerOffer.MaxFrameLen),
		MaxPacketLen:          min32(cfg.Offer.MaxPacketLen, workerOffer.MaxPacketLen),
		MaxInflightReassembly: min16(cfg.Offer.MaxInflightReassembly, workerOffer.MaxInflightReassembly),
		Cancel:                cfg.Offer.Cancel && workerOffer.Cancel,
		CompressionThreshold:  cfg.CompressionThreshold,
	}
	n.Compression = chooseCompression(cfg.Offer.Compression, workerOffer.Compression)
	if n.CompressionThreshold == 0 {
		n.CompressionThreshold = DefaultCompressionThreshold
	}
	return n
}

// chooseCompression picks the router's most-preferred algorithm that also
// appears in the worker's offer, in the order the router lists it.
func chooseCompression(routerPref, workerOffer []CompressionAlgorithm) CompressionAlgorithm {
	workerSet := make(map[CompressionAlgorithm]bool, len(workerOffer))
	for _, a := range workerOffer {
		workerSet[a] = true
	}
	for _, a := range routerPref {
		if workerSet[a] {
			return a
		}
	}
	return CompressionNone
}

// constantTimeEqual compares two tokens without leaking timing
// information about where they first differ (spec.md §4.3/§6).
// subtle.ConstantTimeCompare returns 0 (not a panic) for differing
// lengths, so no length short-circuit is needed here.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
