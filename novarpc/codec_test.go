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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	token := "s3cr3t"
	cases := []Frame{
		{WorkerHello: &WorkerHello{
			Protocol:          Protocol,
			SupportedVersions: []uint32{3},
			Capabilities:      DefaultOffer(),
			AuthToken:         &token,
		}},
		{RouterWelcome: &RouterWelcome{
			ChosenVersion: 3,
			Negotiated: NegotiatedCapabilities{
				MaxFrameLen: 1024, MaxPacketLen: 4096, MaxInflightReassembly: 8,
				Compression: CompressionZstd, CompressionThreshold: 128, Cancel: true,
			},
		}},
		{RouterReject: &RouterReject{
			Error:                   *NewRpcError(ErrBadHandshake, "nope"),
			RouterSupportedVersions: []uint32{3},
		}},
		{Packet: &Packet{Meta: PacketMeta{RequestID: 7, Compression: CompressionNone}, Bytes: []byte("payload")}},
		{PacketChunk: &PacketChunk{Meta: PacketMeta{RequestID: 9}, TotalLen: 10, Offset: 5, Bytes: []byte("12345")}},
		{Cancel: &Cancel{RequestID: 42}},
		{GoAway: &GoAway{Error: *NewRpcError(ErrUnavailable, "bye")}},
		{Ping: &Ping{Nonce: 1}},
		{Pong: &Pong{Nonce: 1}},
	}
	for _, f := range cases {
		encoded, err := EncodeFrame(f)
		require.NoError(t, err)
		decoded, err := DecodeFrame(encoded)
		require.NoError(t, err)
		require.Equal(t, f, decoded)
	}
}

func TestDecodeFrameRejectsUnknownTag(t *testing.T) {
	_, err := DecodeFrame([]byte{0xFF})
	require.Error(t, err)
}

func TestDecodeFrameRejectsTrailingBytes(t *testing.T) {
	encoded, err := EncodeFrame(Frame{Ping: &Ping{Nonce: 1}})
	require.NoError(t, err)
	_, err = DecodeFrame(append(encoded, 0x00))
	require.Error(t, err)
}

func TestEncodeFrameRejectsEmptyFrame(t *testing.T) {
	_, err := EncodeFrame(Frame{})
	require.ErrorIs(t, err, errEmptyFrame)
}

func TestRpcPacketRoundTrip(t *testing.T) {
	req := NewRequestPacket(5, "nova.ping", []byte("hi"))
	encoded := EncodeRpcPacket(req)
	decoded, err := DecodeRpcPacket(encoded)
	require.NoError(t, err)
	require.Equal(t, req, decoded)

	ok := NewOKResponsePacket(5, []byte("hi back"))
	encoded = EncodeRpcPacket(ok)
	decoded, err = DecodeRpcPacket(encoded)
	require.NoError(t, err)
	require.Equal(t, ok, decoded)
	require.True(t, decoded.IsOK())

	errResp := NewErrResponsePacket(5, NewRpcError(ErrInternal, "boom"))
	encoded = EncodeRpcPacket(errResp)
	decoded, err = DecodeRpcPacket(encoded)
	require.NoError(t, err)
	require.Equal(t, errResp, decoded)
	require.False(t, decoded.IsOK())
}
