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

// Package wirefmt implements the fixed-width, little-endian integer
// encoding the Nova RPC wire format is built on. Unlike RLP or protobuf,
// every integer occupies its declared width on the wire; there is no
// varint path, so encoding a value is always reproduced exactly by
// decoding it back.
package wirefmt

import (
	"encoding/binary"
	"fmt"
)

// ErrShortBuffer is returned when a Reader runs out of bytes mid-field.
type ErrShortBuffer struct {
	Want, Have int
}

func (e *ErrShortBuffer) Error() string {
	return fmt.Sprintf("wirefmt: short buffer: want %d bytes, have %d", e.Want, e.Have)
}

// Writer appends fixed-width fields to an in-memory buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with buf pre-allocated to size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) PutUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) PutBool(v bool) {
	if v {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
}

func (w *Writer) PutUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutBytes writes a uint32-length-prefixed byte slice.
func (w *Writer) PutBytes(b []byte) {
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// PutString writes a uint32-length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) {
	w.PutBytes([]byte(s))
}

// PutOptionalString writes a presence byte followed by the string if present.
func (w *Writer) PutOptionalString(s *string) {
	w.PutBool(s != nil)
	if s != nil {
		w.PutString(*s)
	}
}

// PutOptionalBytes writes a presence byte followed by the bytes if present.
func (w *Writer) PutOptionalBytes(b []byte, present bool) {
	w.PutBool(present)
	if present {
		w.PutBytes(b)
	}
}

// Reader consumes fixed-width fields from a byte slice, tracking position.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return &ErrShortBuffer{Want: n, Have: r.Remaining()}
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, fmt.Errorf("wirefmt: invalid bool byte %d", v)
	}
	return v == 1, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// maxFieldLen bounds any single length-prefixed field read from the wire,
// independent of frame-level bounds, as a defence against a peer claiming
// an absurd length before the receiver has validated it against the
// negotiated packet/frame caps.
const maxFieldLen = 1 << 30

func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("wirefmt: field length %d exceeds sanity bound", n)
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) OptionalString() (*string, error) {
	present, err := r.Bool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	s, err := r.String()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Reader) OptionalBytes() ([]byte, bool, error) {
	present, err := r.Bool()
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}
	b, err := r.Bytes()
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Done reports whether every byte in buf has been consumed. Trailing
// garbage after a decoded value is itself a decode failure: it usually
// means a length field lied.
func (r *Reader) Done() bool { return r.Remaining() == 0 }
