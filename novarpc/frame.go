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

// frameTag identifies which variant of the top-level frame sum a payload
// decodes to (spec.md §6). Values are part of the wire format and must
// never be reassigned.
type frameTag uint8

const (
	tagWorkerHello frameTag = iota
	tagRouterWelcome
	tagRouterReject
	tagPacket
	tagPacketChunk
	tagCancel
	tagGoAway
	tagPing
	tagPong
)

func validFrameTag(t frameTag) bool {
	return t <= tagPong
}

// WorkerHello is sent by the worker to start the handshake.
type WorkerHello struct {
	Protocol           string
	SupportedVersions  []uint32
	Capabilities       CapabilityOffer
	AuthToken          *string
}

// RouterWelcome is the router's terminal, successful handshake reply.
type RouterWelcome struct {
	ChosenVersion uint32
	Negotiated    NegotiatedCapabilities
}

// RouterReject is the router's terminal, unsuccessful handshake reply.
type RouterReject struct {
	Error                  RpcError
	RouterSupportedVersions []uint32
}

// Packet is the degenerate, unchunked carrier for one RpcPacket.
type Packet struct {
	Meta  PacketMeta
	Bytes []byte
}

// PacketChunk is one contiguous slice of a chunked packet.
type PacketChunk struct {
	Meta      PacketMeta
	TotalLen  uint32
	Offset    uint32
	Bytes     []byte
}

// Cancel asks the responder to abandon a live request id.
type Cancel struct {
	RequestID uint64
}

// GoAway announces that the sender intends to stop originating new work
// and close the connection.
type GoAway struct {
	Error RpcError
}

// Ping is an optional keepalive probe.
type Ping struct {
	Nonce uint64
}

// Pong answers a Ping with the same nonce.
type Pong struct {
	Nonce uint64
}

// Frame is the decoded form of one wire frame: exactly one field is
// non-nil, matching the tag that was decoded.
type Frame struct {
	WorkerHello   *WorkerHello
	RouterWelcome *RouterWelcome
	RouterReject  *RouterReject
	Packet        *Packet
	PacketChunk   *PacketChunk
	Cancel        *Cancel
	GoAway        *GoAway
	Ping          *Ping
	Pong          *Pong
}

func (f Frame) tag() (frameTag, error) {
	switch {
	case f.WorkerHello != nil:
		return tagWorkerHello, nil
	case f.RouterWelcome != nil:
		return tagRouterWelcome, nil
	case f.RouterReject != nil:
		return tagRouterReject, nil
	case f.Packet != nil:
		return tagPacket, nil
	case f.PacketChunk != nil:
		return tagPacketChunk, nil
	case f.Cancel != nil:
		return tagCancel, nil
	case f.GoAway != nil:
		return tagGoAway, nil
	case f.Ping != nil:
		return tagPing, nil
	case f.Pong != nil:
		return tagPong, nil
	default:
		return 0, errEmptyFrame
	}
}

// IsHandshakeFrame reports whether f is one of the three handshake-phase
// variants (spec.md §4.3's state table keys off this distinction).
func (f Frame) IsHandshakeFrame() bool {
	return f.WorkerHello != nil || f.RouterWelcome != nil || f.RouterReject != nil
}
