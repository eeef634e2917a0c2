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
	"errors"
	"fmt"

	"github.com/nova-remote/rpc/novarpc/internal/wirefmt"
)

var errEmptyFrame = errors.New("novarpc: frame has no variant set")

// EncodeFrame serializes f using the deterministic, fixed-width
// little-endian encoding spec.md §4.2 mandates. Encoding is symmetric:
// DecodeFrame(EncodeFrame(f)) reproduces f exactly.
func EncodeFrame(f Frame) ([]byte, error) {
	tag, err := f.tag()
	if err != nil {
		return nil, err
	}
	w := wirefmt.NewWriter(64)
	w.PutUint8(uint8(tag))
	switch tag {
	case tagWorkerHello:
		encodeWorkerHello(w, f.WorkerHello)
	case tagRouterWelcome:
		encodeRouterWelcome(w, f.RouterWelcome)
	case tagRouterReject:
		encodeRouterReject(w, f.RouterReject)
	case tagPacket:
		encodePacket(w, f.Packet)
	case tagPacketChunk:
		encodePacketChunk(w, f.PacketChunk)
	case tagCancel:
		w.PutUint64(f.Cancel.RequestID)
	case tagGoAway:
		encodeRpcError(w, f.GoAway.Error)
	case tagPing:
		w.PutUint64(f.Ping.Nonce)
	case tagPong:
		w.PutUint64(f.Pong.Nonce)
	}
	return w.Bytes(), nil
}

// DecodeFrame parses the payload of one wire frame. Any malformed input —
// including an unknown tag, an unknown nested enum value, or trailing
// bytes after a valid value — is reported as an error; callers in the
// connection/handshake layers must treat all of these as ProtocolViolation
// (or, pre-handshake, as grounds for a silent close/BadHandshake).
func DecodeFrame(payload []byte) (Frame, error) {
	r := wirefmt.NewReader(payload)
	tagByte, err := r.Uint8()
	if err != nil {
		return Frame{}, err
	}
	tag := frameTag(tagByte)
	if !validFrameTag(tag) {
		return Frame{}, fmt.Errorf("novarpc: unknown frame tag %d", tagByte)
	}
	var f Frame
	switch tag {
	case tagWorkerHello:
		f.WorkerHello, err = decodeWorkerHello(r)
	case tagRouterWelcome:
		f.RouterWelcome, err = decodeRouterWelcome(r)
	case tagRouterReject:
		f.RouterReject, err = decodeRouterReject(r)
	case tagPacket:
		f.Packet, err = decodePacket(r)
	case tagPacketChunk:
		f.PacketChunk, err = decodePacketChunk(r)
	case tagCancel:
		var id uint64
		id, err = r.Uint64()
		f.Cancel = &Cancel{RequestID: id}
	case tagGoAway:
		var e RpcError
		e, err = decodeRpcError(r)
		f.GoAway = &GoAway{Error: e}
	case tagPing:
		var n uint64
		n, err = r.Uint64()
		f.Ping = &Ping{Nonce: n}
	case tagPong:
		var n uint64
		n, err = r.Uint64()
		f.Pong = &Pong{Nonce: n}
	}
	if err != nil {
		return Frame{}, err
	}
	if !r.Done() {
		return Frame{}, fmt.Errorf("novarpc: %d trailing bytes after frame tag %d", r.Remaining(), tag)
	}
	return f, nil
}

func encodeCapabilityOffer(w *wirefmt.Writer, c CapabilityOffer) {
	w.PutUint32(c.MaxFrameLen)
	w.PutUint32(c.MaxPacketLen)
	w.PutUint16(c.MaxInflightReassembly)
	w.PutUint16(uint16(len(c.Compression)))
	for _, alg := range c.Compression {
		w.PutUint8(uint8(alg))
	}
	w.PutBool(c.Cancel)
}

func decodeCapabilityOffer(r *wirefmt.Reader) (CapabilityOffer, error) {
	var c CapabilityOffer
	var err error
	if c.MaxFrameLen, err = r.Uint32(); err != nil {
		return c, err
	}
	if c.MaxPacketLen, err = r.Uint32(); err != nil {
		return c, err
	}
	if c.MaxInflightReassembly, err = r.Uint16(); err != nil {
		return c, err
	}
	n, err := r.Uint16()
	if err != nil {
		return c, err
	}
	c.Compression = make([]CompressionAlgorithm, n)
	for i := range c.Compression {
		b, err := r.Uint8()
		if err != nil {
			return c, err
		}
		alg := CompressionAlgorithm(b)
		if !validCompressionAlgorithm(alg) {
			return c, fmt.Errorf("novarpc: unknown compression algorithm %d", b)
		}
		c.Compression[i] = alg
	}
	if c.Cancel, err = r.Bool(); err != nil {
		return c, err
	}
	return c, nil
}

func encodeNegotiatedCapabilities(w *wirefmt.Writer, n NegotiatedCapabilities) {
	w.PutUint32(n.MaxFrameLen)
	w.PutUint32(n.MaxPacketLen)
	w.PutUint16(n.MaxInflightReassembly)
	w.PutUint8(uint8(n.Compression))
	w.PutUint32(n.CompressionThreshold)
	w.PutBool(n.Cancel)
}

func decodeNegotiatedCapabilities(r *wirefmt.Reader) (NegotiatedCapabilities, error) {
	var n NegotiatedCapabilities
	var err error
	if n.MaxFrameLen, err = r.Uint32(); err != nil {
		return n, err
	}
	if n.MaxPacketLen, err = r.Uint32(); err != nil {
		return n, err
	}
	if n.MaxInflightReassembly, err = r.Uint16(); err != nil {
		return n, err
	}
	b, err := r.Uint8()
	if err != nil {
		return n, err
	}
	alg := CompressionAlgorithm(b)
	if !validCompressionAlgorithm(alg) {
		return n, fmt.Errorf("novarpc: unknown compression algorithm %d", b)
	}
	n.Compression = alg
	if n.CompressionThreshold, err = r.Uint32(); err != nil {
		return n, err
	}
	if n.Cancel, err = r.Bool(); err != nil {
		return n, err
	}
	return n, nil
}

func encodeRpcError(w *wirefmt.Writer, e RpcError) {
	w.PutUint8(uint8(e.Code))
	w.PutString(e.Message)
	w.PutBool(e.Retryable)
	w.PutOptionalBytes(e.Details, e.Details != nil)
}

func decodeRpcError(r *wirefmt.Reader) (RpcError, error) {
	var e RpcError
	b, err := r.Uint8()
	if err != nil {
		return e, err
	}
	code := ErrorCode(b)
	if !validErrorCode(code) {
		return e, fmt.Errorf("novarpc: unknown error code %d", b)
	}
	e.Code = code
	if e.Message, err = r.String(); err != nil {
		return e, err
	}
	if e.Retryable, err = r.Bool(); err != nil {
		return e, err
	}
	details, present, err := r.OptionalBytes()
	if err != nil {
		return e, err
	}
	if present {
		e.Details = details
	}
	return e, nil
}

func encodeWorkerHello(w *wirefmt.Writer, h *WorkerHello) {
	w.PutString(h.Protocol)
	w.PutUint16(uint16(len(h.SupportedVersions)))
	for _, v := range h.SupportedVersions {
		w.PutUint32(v)
	}
	encodeCapabilityOffer(w, h.Capabilities)
	w.PutOptionalString(h.AuthToken)
}

func decodeWorkerHello(r *wirefmt.Reader) (*WorkerHello, error) {
	h := &WorkerHello{}
	var err error
	if h.Protocol, err = r.String(); err != nil {
		return nil, err
	}
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	h.SupportedVersions = make([]uint32, n)
	for i := range h.SupportedVersions {
		if h.SupportedVersions[i], err = r.Uint32(); err != nil {
			return nil, err
		}
	}
	if h.Capabilities, err = decodeCapabilityOffer(r); err != nil {
		return nil, err
	}
	if h.AuthToken, err = r.OptionalString(); err != nil {
		return nil, err
	}
	return h, nil
}

func encodeRouterWelcome(w *wirefmt.Writer, m *RouterWelcome) {
	w.PutUint32(m.ChosenVersion)
	encodeNegotiatedCapabilities(w, m.Negotiated)
}

func decodeRouterWelcome(r *wirefmt.Reader) (*RouterWelcome, error) {
	m := &RouterWelcome{}
	var err error
	if m.ChosenVersion, err = r.Uint32(); err != nil {
		return nil, err
	}
	if m.Negotiated, err = decodeNegotiatedCapabilities(r); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeRouterReject(w *wirefmt.Writer, m *RouterReject) {
	encodeRpcError(w, m.Error)
	w.PutUint16(uint16(len(m.RouterSupportedVersions)))
	for _, v := range m.RouterSupportedVersions {
		w.PutUint32(v)
	}
}

func decodeRouterReject(r *wirefmt.Reader) (*RouterReject, error) {
	m := &RouterReject{}
	var err error
	if m.Error, err = decodeRpcError(r); err != nil {
		return nil, err
	}
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	m.RouterSupportedVersions = make([]uint32, n)
	for i := range m.RouterSupportedVersions {
		if m.RouterSupportedVersions[i], err = r.Uint32(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func encodePacketMeta(w *wirefmt.Writer, m PacketMeta) {
	w.PutUint64(m.RequestID)
	w.PutUint8(uint8(m.Compression))
	w.PutUint32(m.UncompressedLen)
}

func decodePacketMeta(r *wirefmt.Reader) (PacketMeta, error) {
	var m PacketMeta
	var err error
	if m.RequestID, err = r.Uint64(); err != nil {
		return m, err
	}
	b, err := r.Uint8()
	if err != nil {
		return m, err
	}
	alg := CompressionAlgorithm(b)
	if !validCompressionAlgorithm(alg) {
		return m, fmt.Errorf("novarpc: unknown compression algorithm %d", b)
	}
	m.Compression = alg
	if m.UncompressedLen, err = r.Uint32(); err != nil {
		return m, err
	}
	return m, nil
}

func encodePacket(w *wirefmt.Writer, p *Packet) {
	encodePacketMeta(w, p.Meta)
	w.PutBytes(p.Bytes)
}

func decodePacket(r *wirefmt.Reader) (*Packet, error) {
	p := &Packet{}
	var err error
	if p.Meta, err = decodePacketMeta(r); err != nil {
		return nil, err
	}
	if p.Bytes, err = r.Bytes(); err != nil {
		return nil, err
	}
	return p, nil
}

func encodePacketChunk(w *wirefmt.Writer, c *PacketChunk) {
	encodePacketMeta(w, c.Meta)
	w.PutUint32(c.TotalLen)
	w.PutUint32(c.Offset)
	w.PutBytes(c.Bytes)
}

func decodePacketChunk(r *wirefmt.Reader) (*PacketChunk, error) {
	c := &PacketChunk{}
	var err error
	if c.Meta, err = decodePacketMeta(r); err != nil {
		return nil, err
	}
	if c.TotalLen, err = r.Uint32(); err != nil {
		return nil, err
	}
	if c.Offset, err = r.Uint32(); err != nil {
		return nil, err
	}
	if c.Bytes, err = r.Bytes(); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeRpcPacket serializes the application envelope. This is the byte
// stream that becomes a Packet's or a chunked sequence's payload, after
// optional compression (see compression.go).
func EncodeRpcPacket(p RpcPacket) []byte {
	w := wirefmt.NewWriter(32 + len(p.Payload) + len(p.ResultOK))
	w.PutUint64(p.RequestID)
	w.PutBool(p.IsRequest)
	if p.IsRequest {
		w.PutString(p.Method)
		w.PutBytes(p.Payload)
	} else {
		isOK := p.ResultErr == nil
		w.PutBool(isOK)
		if isOK {
			w.PutBytes(p.ResultOK)
		} else {
			encodeRpcError(w, *p.ResultErr)
		}
	}
	return w.Bytes()
}

// DecodeRpcPacket is the inverse of EncodeRpcPacket.
func DecodeRpcPacket(buf []byte) (RpcPacket, error) {
	r := wirefmt.NewReader(buf)
	var p RpcPacket
	var err error
	if p.RequestID, err = r.Uint64(); err != nil {
		return p, err
	}
	if p.IsRequest, err = r.Bool(); err != nil {
		return p, err
	}
	if p.IsRequest {
		if p.Method, err = r.String(); err != nil {
			return p, err
		}
		if p.Payload, err = r.Bytes(); err != nil {
			return p, err
		}
	} else {
		isOK, err := r.Bool()
		if err != nil {
			return p, err
		}
		if isOK {
			if p.ResultOK, err = r.Bytes(); err != nil {
				return p, err
			}
		} else {
			e, err := decodeRpcError(r)
			if err != nil {
				return p, err
			}
			p.ResultErr = &e
		}
	}
	if !r.Done() {
		return p, fmt.Errorf("novarpc: %d trailing bytes after RpcPacket", r.Remaining())
	}
	return p, nil
}
