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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressionBelowThresholdStaysUncompressed(t *testing.T) {
	c := &codecPool{}
	negotiated := NegotiatedCapabilities{Compression: CompressionZstd, CompressionThreshold: 1024, MaxPacketLen: 1 << 20}
	body, alg, uncompLen, err := c.maybeCompress(negotiated, bytes.Repeat([]byte("a"), 10))
	require.NoError(t, err)
	require.Equal(t, CompressionNone, alg)
	require.Equal(t, uint32(0), uncompLen)
	require.Len(t, body, 10)
}

func TestCompressionRoundTripAboveThreshold(t *testing.T) {
	c := &codecPool{}
	negotiated := NegotiatedCapabilities{Compression: CompressionZstd, CompressionThreshold: 16, MaxPacketLen: 1 << 20}
	original := bytes.Repeat([]byte("nova-remote-rpc "), 200)

	compressed, alg, uncompLen, err := c.maybeCompress(negotiated, original)
	require.NoError(t, err)
	require.Equal(t, CompressionZstd, alg)
	require.Equal(t, uint32(len(original)), uncompLen)
	require.Less(t, len(compressed), len(original))

	meta := PacketMeta{Compression: alg, UncompressedLen: uncompLen}
	out, err := c.decompress(negotiated, meta, compressed)
	require.NoError(t, err)
	require.Equal(t, original, out)
}

func TestDecompressionRejectsDeclaredLenOverMaxPacketLen(t *testing.T) {
	c := &codecPool{}
	negotiated := NegotiatedCapabilities{Compression: CompressionZstd, MaxPacketLen: 100}
	meta := PacketMeta{Compression: CompressionZstd, UncompressedLen: 1_000_000}
	_, err := c.decompress(negotiated, meta, []byte("irrelevant"))
	require.Error(t, err)
	require.True(t, IsProtocolViolation(err))
}

func TestDecompressionRejectsSizeMismatch(t *testing.T) {
	c := &codecPool{}
	negotiated := NegotiatedCapabilities{Compression: CompressionZstd, MaxPacketLen: 1 << 20}
	original := bytes.Repeat([]byte("x"), 500)
	compressed, _, uncompLen, err := c.maybeCompress(
		NegotiatedCapabilities{Compression: CompressionZstd, CompressionThreshold: 1, MaxPacketLen: 1 << 20}, original)
	require.NoError(t, err)

	meta := PacketMeta{Compression: CompressionZstd, UncompressedLen: uncompLen + 1}
	_, err = c.decompress(negotiated, meta, compressed)
	require.Error(t, err)
	require.True(t, IsProtocolViolation(err))
}

func TestDecompressionRejectsCompressedPacketWhenNegotiatedNone(t *testing.T) {
	c := &codecPool{}
	negotiated := NegotiatedCapabilities{Compression: CompressionNone, MaxPacketLen: 1 << 20}
	meta := PacketMeta{Compression: CompressionZstd, UncompressedLen: 10}
	_, err := c.decompress(negotiated, meta, []byte("irrelevant"))
	require.Error(t, err)
	require.True(t, IsProtocolViolation(err))
}

func TestDecompressionPassesThroughUncompressed(t *testing.T) {
	c := &codecPool{}
	negotiated := NegotiatedCapabilities{MaxPacketLen: 1 << 20}
	meta := PacketMeta{Compression: CompressionNone}
	out, err := c.decompress(negotiated, meta, []byte("plain"))
	require.NoError(t, err)
	require.Equal(t, []byte("plain"), out)
}
