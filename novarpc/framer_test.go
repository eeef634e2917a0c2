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

func TestFramerRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	f := NewFramer(buf)
	require.NoError(t, f.WriteFrame([]byte("hello")))
	require.NoError(t, f.WriteFrame([]byte{}))
	require.NoError(t, f.WriteFrame([]byte("world")))

	got, err := f.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	got, err = f.ReadFrame()
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = f.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("world"), got)
}

func TestFramerRejectsOversizedWrite(t *testing.T) {
	buf := new(bytes.Buffer)
	f := NewFramer(buf)
	f.RaiseBound(4)
	err := f.WriteFrame([]byte("toolong"))
	var tooLarge *ErrFrameTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestFramerRejectsOversizedRead(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFramer(buf)
	writer.RaiseBound(1 << 20)
	require.NoError(t, writer.WriteFrame(make([]byte, 100)))

	reader := NewFramer(buf)
	reader.RaiseBound(10)
	_, err := reader.ReadFrame()
	var tooLarge *ErrFrameTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestFramerPreHandshakeBoundAppliesUntilRaised(t *testing.T) {
	buf := new(bytes.Buffer)
	f := NewFramer(buf)
	require.Equal(t, uint32(PreHandshakeMaxFrameLen), f.maxLen)
	f.RaiseBound(99)
	require.Equal(t, uint32(99), f.maxLen)
}
