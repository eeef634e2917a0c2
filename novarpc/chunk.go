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

// chunkHeaderOverhead is a conservative upper bound on everything in a
// PacketChunk frame besides its Bytes field: the tag byte, PacketMeta's
// three fields, TotalLen, Offset, and the length prefix on Bytes itself
// (spec.md §4.5: "chunk size is chosen so the resulting frame fits within
// max_frame_len"). Rounding up here costs a little payload headroom in
// exchange for never needing to special-case an off-by-a-few-bytes
// overflow.
const chunkHeaderOverhead = 48

// maxSinglePacketPayload returns the largest application-envelope
// encoding that still fits in one Packet frame under maxFrameLen.
func maxSinglePacketPayload(maxFrameLen uint32) uint32 {
	const packetHeaderOverhead = 32 // tag + PacketMeta + Bytes length prefix
	if maxFrameLen <= packetHeaderOverhead {
		return 0
	}
	return maxFrameLen - packetHeaderOverhead
}

// maxChunkPayload returns the largest Bytes slice a single PacketChunk
// frame can carry under maxFrameLen.
func maxChunkPayload(maxFrameLen uint32) uint32 {
	if maxFrameLen <= chunkHeaderOverhead {
		return 0
	}
	return maxFrameLen - chunkHeaderOverhead
}

// splitChunks divides body into a sequence of PacketChunk frames sized to
// fit under maxFrameLen. body has already been compressed (or not), and
// meta describes the whole packet; TotalLen is len(body).
func splitChunks(meta PacketMeta, body []byte, maxFrameLen uint32) []PacketChunk {
	limit := maxChunkPayload(maxFrameLen)
	if limit == 0 {
		limit = 1
	}
	total := uint32(len(body))
	chunks := make([]PacketChunk, 0, (len(body)/int(limit))+1)
	var offset uint32
	for offset < total || (total == 0 && offset == 0) {
		end := offset + limit
		if end > total {
			end = total
		}
		chunks = append(chunks, PacketChunk{
			Meta:     meta,
			TotalLen: total,
			Offset:   offset,
			Bytes:    body[offset:end],
		})
		if end == total {
			break
		}
		offset = end
	}
	return chunks
}
