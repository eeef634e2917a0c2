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
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testPair struct {
	router *Connection
	worker *Connection
}

func newTestPair(t *testing.T, negotiated NegotiatedCapabilities, routerRegistry, workerRegistry *Registry) (*testPair, func()) {
	t.Helper()
	routerNetConn, workerNetConn := net.Pipe()

	router := NewConnection(NewFramer(routerNetConn), RoleRouter, negotiated, routerRegistry, ConnectionConfig{})
	worker := NewConnection(NewFramer(workerNetConn), RoleWorker, negotiated, workerRegistry, ConnectionConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = router.Serve(ctx) }()
	go func() { _ = worker.Serve(ctx) }()

	return &testPair{router: router, worker: worker}, func() {
		cancel()
		routerNetConn.Close()
		workerNetConn.Close()
	}
}

func smallNegotiated() NegotiatedCapabilities {
	return NegotiatedCapabilities{
		MaxFrameLen: 256, MaxPacketLen: 1 << 20, MaxInflightReassembly: 8,
		Compression: CompressionZstd, CompressionThreshold: 64, Cancel: true,
	}
}

func TestConnectionCallResponseRoundTrip(t *testing.T) {
	workerRegistry := NewRegistry()
	workerRegistry.Register("nova.echo", func(_ context.Context, payload []byte) ([]byte, *RpcError) {
		return payload, nil
	})
	pair, cleanup := newTestPair(t, smallNegotiated(), NewRegistry(), workerRegistry)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := pair.router.Call(ctx, "nova.echo", []byte("hello nova"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello nova"), out)
}

func TestConnectionCallLargePayloadIsChunkedAndReassembled(t *testing.T) {
	workerRegistry := NewRegistry()
	workerRegistry.Register("nova.echo", func(_ context.Context, payload []byte) ([]byte, *RpcError) {
		return payload, nil
	})
	// Compression off: with zstd this repetitive payload would shrink to
	// a single Packet frame and never exercise chunking.
	negotiated := smallNegotiated()
	negotiated.Compression = CompressionNone
	pair, cleanup := newTestPair(t, negotiated, NewRegistry(), workerRegistry)
	defer cleanup()

	large := bytes.Repeat([]byte("abcdefghij"), 1000) // 10000 bytes, far above the 256-byte frame bound
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := pair.router.Call(ctx, "nova.echo", large)
	require.NoError(t, err)
	require.Equal(t, large, out)
}

func TestConnectionCallUnimplementedMethod(t *testing.T) {
	pair, cleanup := newTestPair(t, smallNegotiated(), NewRegistry(), NewRegistry())
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := pair.router.Call(ctx, "nova.nonexistent", nil)
	require.Error(t, err)
	var rpcErr *RpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, ErrUnimplemented, rpcErr.Code)
}

func TestConnectionCallApplicationError(t *testing.T) {
	workerRegistry := NewRegistry()
	workerRegistry.Register("nova.fail", func(_ context.Context, _ []byte) ([]byte, *RpcError) {
		return nil, NewRpcError(ErrInvalidArgument, "bad input")
	})
	pair, cleanup := newTestPair(t, smallNegotiated(), NewRegistry(), workerRegistry)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := pair.router.Call(ctx, "nova.fail", nil)
	require.Error(t, err)
	var rpcErr *RpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, ErrInvalidArgument, rpcErr.Code)
}

func TestConnectionCallCancellationPropagates(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerSawCancel := make(chan struct{})
	workerRegistry := NewRegistry()
	workerRegistry.Register("nova.slow", func(ctx context.Context, _ []byte) ([]byte, *RpcError) {
		close(handlerStarted)
		<-ctx.Done()
		close(handlerSawCancel)
		return nil, NewRpcError(ErrCancelled, "cancelled")
	})
	pair, cleanup := newTestPair(t, smallNegotiated(), NewRegistry(), workerRegistry)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := pair.router.Call(ctx, "nova.slow", nil)
		done <- err
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Call never returned after ctx cancellation")
	}

	select {
	case <-handlerSawCancel:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never observed the Cancel frame")
	}
}

func TestConnectionCallDiscardsUnknownResponseID(t *testing.T) {
	// A response with no pending caller must not crash or be delivered
	// anywhere; drive this through sendPacket directly since Call always
	// registers its own id first.
	pair, cleanup := newTestPair(t, smallNegotiated(), NewRegistry(), NewRegistry())
	defer cleanup()

	err := pair.worker.sendPacket(NewOKResponsePacket(998, []byte("nobody asked")))
	require.NoError(t, err)
	// Give the receive loop a moment to process; if it were to panic the
	// goroutine failure would surface via the race detector / deferred
	// recover in the test binary.
	time.Sleep(50 * time.Millisecond)
}
