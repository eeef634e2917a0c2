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

// Package novarpc implements the Nova Remote RPC v3 transport: framing,
// handshake, multiplexed request/response, chunked reassembly, optional
// compression, cancellation and a structured error model over any
// reliable byte stream.
package novarpc

import "fmt"

// Protocol is the handshake's protocol identifier. It is fixed for this
// implementation; spec.md's version intersection machinery is kept
// general so a future revision could widen SupportedVersions.
const Protocol = "nova-rpc"

// SupportedVersions is the set of protocol versions this implementation
// understands, highest first is not required — intersection is computed
// by set membership and the highest common value wins.
var SupportedVersions = []uint32{3}

// CompressionAlgorithm identifies a negotiated compression scheme.
type CompressionAlgorithm uint8

const (
	CompressionNone CompressionAlgorithm = iota
	CompressionZstd
)

func (c CompressionAlgorithm) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("CompressionAlgorithm(%d)", uint8(c))
	}
}

func validCompressionAlgorithm(c CompressionAlgorithm) bool {
	return c == CompressionNone || c == CompressionZstd
}

// ErrorCode is the transport's structured error taxonomy (spec.md §6/§7).
type ErrorCode uint8

const (
	ErrCancelled ErrorCode = iota
	ErrInvalidArgument
	ErrNotFound
	ErrResourceExhausted
	ErrUnimplemented
	ErrInternal
	ErrUnavailable
	ErrUnauthenticated
	ErrPermissionDenied
	ErrUnsupportedVersion
	ErrBadHandshake
	ErrProtocolViolation
)

var errorCodeNames = [...]string{
	"CANCELLED", "INVALID_ARGUMENT", "NOT_FOUND", "RESOURCE_EXHAUSTED",
	"UNIMPLEMENTED", "INTERNAL", "UNAVAILABLE", "UNAUTHENTICATED",
	"PERMISSION_DENIED", "UNSUPPORTED_VERSION", "BAD_HANDSHAKE",
	"PROTOCOL_VIOLATION",
}

func (c ErrorCode) String() string {
	if int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", uint8(c))
}

func validErrorCode(c ErrorCode) bool {
	return int(c) < len(errorCodeNames)
}

// RpcError is the application/wire error carried in Response.Err and in
// RouterReject/GoAway frames.
type RpcError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Details   []byte // optional; nil means absent
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewRpcError is a small constructor for the common non-retryable case.
func NewRpcError(code ErrorCode, message string) *RpcError {
	return &RpcError{Code: code, Message: message}
}

// CapabilityOffer is what each peer proposes during handshake (spec.md §3/§6).
type CapabilityOffer struct {
	MaxFrameLen           uint32
	MaxPacketLen          uint32
	MaxInflightReassembly uint16
	Compression           []CompressionAlgorithm
	Cancel                bool
}

// NegotiatedCapabilities is the immutable, post-handshake settlement both
// peers hold (spec.md §3).
type NegotiatedCapabilities struct {
	MaxFrameLen           uint32
	MaxPacketLen          uint32
	MaxInflightReassembly uint16
	Compression           CompressionAlgorithm
	CompressionThreshold  uint32
	Cancel                bool
}

// DefaultOffer returns the suggested defaults from spec.md §4.3.
func DefaultOffer() CapabilityOffer {
	return CapabilityOffer{
		MaxFrameLen:           256 * 1024,
		MaxPacketLen:          64 * 1024 * 1024,
		MaxInflightReassembly: 32,
		Compression:           []CompressionAlgorithm{CompressionZstd, CompressionNone},
		Cancel:                true,
	}
}

// DefaultCompressionThreshold is the suggested per spec.md §4.3.
const DefaultCompressionThreshold = 4 * 1024

// PreHandshakeMaxFrameLen bounds any frame received before the handshake
// completes (spec.md §4.1).
const PreHandshakeMaxFrameLen = 64 * 1024

// PacketMeta travels with both Packet and PacketChunk frames (spec.md §6).
type PacketMeta struct {
	RequestID       uint64
	Compression     CompressionAlgorithm
	UncompressedLen uint32 // only meaningful when Compression != CompressionNone
}

func (a PacketMeta) sameEnvelope(b PacketMeta) bool {
	return a.RequestID == b.RequestID &&
		a.Compression == b.Compression &&
		a.UncompressedLen == b.UncompressedLen
}

// RpcPacket is the application envelope carried inside Packet/PacketChunk
// payloads (spec.md §3/§6). Exactly one of the two constructors below is
// used at a time; Result carries either Ok bytes or an Err.
type RpcPacket struct {
	RequestID uint64
	// IsRequest distinguishes Request from Response; Method/Payload are
	// meaningful only when true, Result only when false.
	IsRequest bool
	Method    string
	Payload   []byte

	ResultOK  []byte    // non-nil only on a successful Response
	ResultErr *RpcError // non-nil only on a failed Response
}

// NewRequestPacket builds a Request-shaped RpcPacket.
func NewRequestPacket(id uint64, method string, payload []byte) RpcPacket {
	return RpcPacket{RequestID: id, IsRequest: true, Method: method, Payload: payload}
}

// NewOKResponsePacket builds a successful Response-shaped RpcPacket.
func NewOKResponsePacket(id uint64, payload []byte) RpcPacket {
	return RpcPacket{RequestID: id, IsRequest: false, ResultOK: payload}
}

// NewErrResponsePacket builds a failed Response-shaped RpcPacket.
func NewErrResponsePacket(id uint64, rpcErr *RpcError) RpcPacket {
	return RpcPacket{RequestID: id, IsRequest: false, ResultErr: rpcErr}
}

func (p RpcPacket) IsOK() bool { return !p.IsRequest && p.ResultErr == nil }
