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

package wirefmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripPrimitives(t *testing.T) {
	w := NewWriter(64)
	w.PutUint8(0xAB)
	w.PutBool(true)
	w.PutUint16(0x1234)
	w.PutUint32(0xDEADBEEF)
	w.PutUint64(0x0123456789ABCDEF)
	w.PutBytes([]byte("hello"))
	w.PutString("nova")
	name := "present"
	w.PutOptionalString(&name)
	w.PutOptionalString(nil)

	r := NewReader(w.Bytes())
	u8, err := r.Uint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), u8)

	b, err := r.Bool()
	require.NoError(t, err)
	require.True(t, b)

	u16, err := r.Uint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), u16)

	u32, err := r.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	u64, err := r.Uint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0123456789ABCDEF), u64)

	bytes, err := r.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), bytes)

	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "nova", s)

	opt1, err := r.OptionalString()
	require.NoError(t, err)
	require.NotNil(t, opt1)
	require.Equal(t, "present", *opt1)

	opt2, err := r.OptionalString()
	require.NoError(t, err)
	require.Nil(t, opt2)

	require.True(t, r.Done())
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})
	_, err := r.Uint32()
	require.Error(t, err)
	var shortErr *ErrShortBuffer
	require.ErrorAs(t, err, &shortErr)
}

func TestBoolRejectsNonCanonicalByte(t *testing.T) {
	r := NewReader([]byte{0x05})
	_, err := r.Bool()
	require.Error(t, err)
}

func TestBytesRejectsAbsurdLength(t *testing.T) {
	w := NewWriter(4)
	w.PutUint32(1 << 31)
	r := NewReader(w.Bytes())
	_, err := r.Bytes()
	require.Error(t, err)
}

func TestDoneDetectsTrailingGarbage(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03})
	_, err := r.Uint8()
	require.NoError(t, err)
	require.False(t, r.Done())
}
