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
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// codecPool holds the zstd encoder/decoder pair a connection uses for its
// entire lifetime. Both the encoder and the decoder are safe for
// concurrent use by multiple goroutines per the klauspost/compress docs,
// so one pair is shared between the send and receive loops.
type codecPool struct {
	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

func (c *codecPool) encoder() (*zstd.Encoder, error) {
	c.encOnce.Do(func() {
		c.enc, c.encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return c.enc, c.encErr
}

func (c *codecPool) decoder(maxPacketLen uint32) (*zstd.Decoder, error) {
	c.decOnce.Do(func() {
		c.dec, c.decErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxPacketLen)))
	})
	return c.dec, c.decErr
}

func (c *codecPool) close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}

// maybeCompress applies the send-side policy from spec.md §4.6: compress
// with the negotiated algorithm only when doing so is enabled and the
// encoded packet is at least CompressionThreshold bytes; otherwise send
// uncompressed. It returns the bytes to put on the wire plus the
// PacketMeta fields describing them.
func (c *codecPool) maybeCompress(negotiated NegotiatedCapabilities, encoded []byte) ([]byte, CompressionAlgorithm, uint32, error) {
	if negotiated.Compression == CompressionNone || uint32(len(encoded)) < negotiated.CompressionThreshold {
		return encoded, CompressionNone, 0, nil
	}
	switch negotiated.Compression {
	case CompressionZstd:
		enc, err := c.encoder()
		if err != nil {
			return nil, CompressionNone, 0, err
		}
		compressed := enc.EncodeAll(encoded, make([]byte, 0, len(encoded)))
		return compressed, CompressionZstd, uint32(len(encoded)), nil
	default:
		return nil, CompressionNone, 0, fmt.Errorf("novarpc: unsupported compression algorithm %s", negotiated.Compression)
	}
}

// decompress applies the receive-side policy from spec.md §4.6: the
// declared UncompressedLen is checked against MaxPacketLen before any
// decompression work happens (the decompression-bomb defense), the
// decoder's output is capped at MaxPacketLen (zstd.WithDecoderMaxMemory),
// and the actual decompressed size is verified against the declared size
// so a short-declared length can't be used to smuggle extra bytes past a
// downstream size check. The output buffer is not capped at
// UncompressedLen itself: a stream that decodes to more than the declared
// size, but no more than MaxPacketLen, is decoded in full before it is
// rejected.
func (c *codecPool) decompress(negotiated NegotiatedCapabilities, meta PacketMeta, body []byte) ([]byte, error) {
	if meta.Compression == CompressionNone {
		return body, nil
	}
	if negotiated.Compression == CompressionNone {
		return nil, newProtocolViolationErr("packet marked compressed (%s) but negotiated compression is none", meta.Compression)
	}
	if meta.UncompressedLen > negotiated.MaxPacketLen {
		return nil, newProtocolViolationErr("declared uncompressed_len %d exceeds max_packet_len %d", meta.UncompressedLen, negotiated.MaxPacketLen)
	}
	switch meta.Compression {
	case CompressionZstd:
		dec, err := c.decoder(negotiated.MaxPacketLen)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, meta.UncompressedLen)
		out, err = dec.DecodeAll(body, out)
		if err != nil {
			return nil, newProtocolViolationErr("zstd decode failed: %v", err)
		}
		if uint32(len(out)) != meta.UncompressedLen {
			return nil, newProtocolViolationErr("decompressed size %d != declared uncompressed_len %d", len(out), meta.UncompressedLen)
		}
		return out, nil
	default:
		return nil, newProtocolViolationErr("unknown compression algorithm %d", meta.Compression)
	}
}
