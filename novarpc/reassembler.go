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

// reassemblyEntry tracks one in-progress packet (spec.md §3 "Reassembly
// table", §4.5).
type reassemblyEntry struct {
	meta   PacketMeta
	total  uint32
	buffer []byte
}

// reassembler is owned exclusively by the connection's receive loop; it
// is never accessed from another goroutine, matching spec.md §5's
// "pending-call table and reassembly table are each owned by a single
// logical task" rule.
type reassembler struct {
	negotiated NegotiatedCapabilities
	entries    map[uint64]*reassemblyEntry
}

func newReassembler(negotiated NegotiatedCapabilities) *reassembler {
	return &reassembler{
		negotiated: negotiated,
		entries:    make(map[uint64]*reassemblyEntry),
	}
}

// feed applies one inbound PacketChunk. It returns the fully reassembled
// packet bytes and true when the chunk completes a packet, or an error
// that closes the connection: a ProtocolViolation (spec.md §4.5), or a
// *resourceExhaustedError when the inflight cap is reached, which the
// caller answers with GoAway{ResourceExhausted} before closing.
func (ra *reassembler) feed(chunk PacketChunk) ([]byte, bool, error) {
	entry, exists := ra.entries[chunk.Meta.RequestID]
	if !exists {
		if chunk.Offset != 0 {
			return nil, false, newProtocolViolationErr("first chunk for request %d has nonzero offset %d", chunk.Meta.RequestID, chunk.Offset)
		}
		if chunk.TotalLen > ra.negotiated.MaxPacketLen {
			return nil, false, newProtocolViolationErr("request %d total_len %d exceeds max_packet_len %d", chunk.Meta.RequestID, chunk.TotalLen, ra.negotiated.MaxPacketLen)
		}
		if chunk.Meta.Compression != CompressionNone && chunk.Meta.UncompressedLen > ra.negotiated.MaxPacketLen {
			return nil, false, newProtocolViolationErr("request %d uncompressed_len %d exceeds max_packet_len %d", chunk.Meta.RequestID, chunk.Meta.UncompressedLen, ra.negotiated.MaxPacketLen)
		}
		if uint16(len(ra.entries)) >= ra.negotiated.MaxInflightReassembly {
			return nil, false, &resourceExhaustedError{reason: "max_inflight_reassembly reached"}
		}
		entry = &reassemblyEntry{
			meta:   chunk.Meta,
			total:  chunk.TotalLen,
			buffer: make([]byte, 0, chunk.TotalLen),
		}
		ra.entries[chunk.Meta.RequestID] = entry
	} else {
		if !entry.meta.sameEnvelope(chunk.Meta) || entry.total != chunk.TotalLen {
			delete(ra.entries, chunk.Meta.RequestID)
			return nil, false, newProtocolViolationErr("request %d chunk envelope changed mid-stream", chunk.Meta.RequestID)
		}
		if chunk.Offset != uint32(len(entry.buffer)) {
			delete(ra.entries, chunk.Meta.RequestID)
			return nil, false, newProtocolViolationErr("request %d chunk offset %d != expected %d", chunk.Meta.RequestID, chunk.Offset, len(entry.buffer))
		}
	}

	if uint64(chunk.Offset)+uint64(len(chunk.Bytes)) > uint64(entry.total) {
		delete(ra.entries, chunk.Meta.RequestID)
		return nil, false, newProtocolViolationErr("request %d chunk overruns total_len %d", chunk.Meta.RequestID, entry.total)
	}

	entry.buffer = append(entry.buffer, chunk.Bytes...)
	if uint32(len(entry.buffer)) < entry.total {
		return nil, false, nil
	}

	delete(ra.entries, chunk.Meta.RequestID)
	return entry.buffer, true, nil
}

// inflight reports the number of in-progress reassemblies, for tests and
// diagnostics.
func (ra *reassembler) inflight() int { return len(ra.entries) }

// resourceExhaustedError is the reassembler-cap violation; the connection
// controller maps it to GoAway{ResourceExhausted} + close (spec.md §4.5,
// §8, §4.3's allocator-refusal wording generalized to the data plane).
type resourceExhaustedError struct {
	reason string
}

func (e *resourceExhaustedError) Error() string {
	return "novarpc: resource exhausted: " + e.reason
}
