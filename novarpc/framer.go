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
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// lengthPrefixSize is the width of the frame length prefix (spec.md §6:
// "u32_le length | length bytes payload").
const lengthPrefixSize = 4

// Framer reads and writes length-prefixed frames on a single underlying
// stream, enforcing the pre- and post-handshake length guards from
// spec.md §4.1. A Framer owns no other state: the codec above it and the
// bound switch below it are the only things that change over its
// lifetime.
//
// Mirrors the frameRW shape from the rlpx lineage: one struct owns both
// read and write sides of a single net.Conn-like stream, and writes are
// serialized so a partial write never interleaves with another.
type Framer struct {
	rw io.ReadWriter

	writeMu sync.Mutex

	// maxLen is updated exactly once, from PreHandshakeMaxFrameLen to the
	// negotiated value, when the handshake completes.
	maxLen uint32
}

// NewFramer returns a Framer bounded by the pre-handshake frame length
// limit. Call RaiseBound once the handshake settles on
// NegotiatedCapabilities.MaxFrameLen.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{rw: rw, maxLen: PreHandshakeMaxFrameLen}
}

// RaiseBound installs the post-handshake frame length bound. It must be
// called exactly once, right after a successful handshake.
func (f *Framer) RaiseBound(maxFrameLen uint32) {
	f.maxLen = maxFrameLen
}

// ErrFrameTooLarge is returned by ReadFrame when a peer's length prefix
// exceeds the bound currently in effect.
type ErrFrameTooLarge struct {
	Length, Bound uint32
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("novarpc: frame length %d exceeds bound %d", e.Length, e.Bound)
}

// ReadFrame reads one length-prefixed payload. An oversized length is
// reported via ErrFrameTooLarge without consuming the payload bytes — the
// caller must close the connection rather than attempt to resynchronize,
// since the stream position after an oversized frame is not trustworthy.
func (f *Framer) ReadFrame() ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(f.rw, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > f.maxLen {
		return nil, &ErrFrameTooLarge{Length: length, Bound: f.maxLen}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed payload: the length prefix and
// the payload are combined into a single buffer and written in one
// Write call under writeMu, so frames from concurrent writers never
// interleave. A failed or short write is returned as an error; whatever
// part of the frame was already written stays on the stream.
func (f *Framer) WriteFrame(payload []byte) error {
	if uint32(len(payload)) > f.maxLen {
		return &ErrFrameTooLarge{Length: uint32(len(payload)), Bound: f.maxLen}
	}
	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	n, err := f.rw.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("novarpc: short write: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}
