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
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeNegotiatesMinimums(t *testing.T) {
	workerOffer := CapabilityOffer{
		MaxFrameLen: 1000, MaxPacketLen: 2000, MaxInflightReassembly: 4,
		Compression: []CompressionAlgorithm{CompressionZstd, CompressionNone}, Cancel: true,
	}
	routerOffer := CapabilityOffer{
		MaxFrameLen: 500, MaxPacketLen: 5000, MaxInflightReassembly: 16,
		Compression: []CompressionAlgorithm{CompressionNone}, Cancel: false,
	}
	cfg := RouterConfig{Offer: routerOffer, CompressionThreshold: 256}
	welcome, reject := HandleWorkerHello(cfg, WorkerHello{Protocol: Protocol, SupportedVersions: []uint32{3}, Capabilities: workerOffer})
	require.Nil(t, reject)
	require.Equal(t, uint32(500), welcome.Negotiated.MaxFrameLen)
	require.Equal(t, uint32(2000), welcome.Negotiated.MaxPacketLen)
	require.Equal(t, uint16(4), welcome.Negotiated.MaxInflightReassembly)
	require.False(t, welcome.Negotiated.Cancel)
	require.Equal(t, CompressionNone, welcome.Negotiated.Compression)
	require.Equal(t, uint32(256), welcome.Negotiated.CompressionThreshold)
}

func TestHandshakeRejectsVersionMismatch(t *testing.T) {
	cfg := RouterConfig{Offer: DefaultOffer()}
	_, reject := HandleWorkerHello(cfg, WorkerHello{
		Protocol: Protocol, SupportedVersions: []uint32{99}, Capabilities: DefaultOffer(),
	})
	require.NotNil(t, reject)
	require.Equal(t, ErrUnsupportedVersion, reject.Error.Code)
}

func TestHandshakeRejectsBadProtocolString(t *testing.T) {
	cfg := RouterConfig{Offer: DefaultOffer()}
	_, reject := HandleWorkerHello(cfg, WorkerHello{
		Protocol: "other-rpc", SupportedVersions: []uint32{3}, Capabilities: DefaultOffer(),
	})
	require.NotNil(t, reject)
	require.Equal(t, ErrBadHandshake, reject.Error.Code)
}

func TestHandshakeAuthTokenRequired(t *testing.T) {
	cfg := RouterConfig{Offer: DefaultOffer(), ExpectedToken: "correct-horse"}
	_, reject := HandleWorkerHello(cfg, WorkerHello{
		Protocol: Protocol, SupportedVersions: []uint32{3}, Capabilities: DefaultOffer(),
	})
	require.NotNil(t, reject)
	require.Equal(t, ErrUnauthenticated, reject.Error.Code)
}

func TestHandshakeAuthTokenWrongValueRejected(t *testing.T) {
	cfg := RouterConfig{Offer: DefaultOffer(), ExpectedToken: "correct-horse"}
	wrong := "wrong-token"
	_, reject := HandleWorkerHello(cfg, WorkerHello{
		Protocol: Protocol, SupportedVersions: []uint32{3}, Capabilities: DefaultOffer(), AuthToken: &wrong,
	})
	require.NotNil(t, reject)
	require.Equal(t, ErrUnauthenticated, reject.Error.Code)
}

func TestHandshakeAuthTokenCorrectAccepted(t *testing.T) {
	cfg := RouterConfig{Offer: DefaultOffer(), ExpectedToken: "correct-horse"}
	right := "correct-horse"
	welcome, reject := HandleWorkerHello(cfg, WorkerHello{
		Protocol: Protocol, SupportedVersions: []uint32{3}, Capabilities: DefaultOffer(), AuthToken: &right,
	})
	require.Nil(t, reject)
	require.NotNil(t, welcome)
}

func TestHandshakeRejectsWhenAdmitDenies(t *testing.T) {
	cfg := RouterConfig{Offer: DefaultOffer(), Admit: func() bool { return false }}
	welcome, reject := HandleWorkerHello(cfg, WorkerHello{
		Protocol: Protocol, SupportedVersions: []uint32{3}, Capabilities: DefaultOffer(),
	})
	require.Nil(t, welcome)
	require.NotNil(t, reject)
	require.Equal(t, ErrResourceExhausted, reject.Error.Code)
	require.True(t, reject.Error.Retryable)
}

func TestHandshakeOverNetPipe(t *testing.T) {
	workerConn, routerConn := net.Pipe()
	defer workerConn.Close()
	defer routerConn.Close()

	routerCfg := RouterConfig{Offer: DefaultOffer(), CompressionThreshold: DefaultCompressionThreshold}

	var wg sync.WaitGroup
	wg.Add(2)

	var workerResult *WorkerHandshakeResult
	var workerErr error
	go func() {
		defer wg.Done()
		workerResult, workerErr = RunWorkerHandshake(NewFramer(workerConn), DefaultOffer(), nil)
	}()

	var routerNegotiated *NegotiatedCapabilities
	var routerErr error
	go func() {
		defer wg.Done()
		routerNegotiated, routerErr = RunRouterHandshake(NewFramer(routerConn), routerCfg)
	}()

	wg.Wait()
	require.NoError(t, workerErr)
	require.NoError(t, routerErr)
	require.Equal(t, workerResult.Negotiated, *routerNegotiated)
	require.Equal(t, uint32(3), workerResult.ChosenVersion)
}

func TestHandshakeOverNetPipeRejection(t *testing.T) {
	workerConn, routerConn := net.Pipe()
	defer workerConn.Close()
	defer routerConn.Close()

	routerCfg := RouterConfig{Offer: DefaultOffer(), ExpectedToken: "secret"}

	var wg sync.WaitGroup
	wg.Add(2)

	var workerErr error
	go func() {
		defer wg.Done()
		_, workerErr = RunWorkerHandshake(NewFramer(workerConn), DefaultOffer(), nil)
	}()

	var routerErr error
	go func() {
		defer wg.Done()
		_, routerErr = RunRouterHandshake(NewFramer(routerConn), routerCfg)
	}()

	wg.Wait()
	require.Error(t, routerErr)
	var rejected *RejectedError
	require.ErrorAs(t, workerErr, &rejected)
	require.Equal(t, ErrUnauthenticated, rejected.Reject.Error.Code)
}
