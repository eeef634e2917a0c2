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

import "fmt"

// RejectedError wraps a RouterReject surfaced to a worker's caller
// (spec.md §7, layer 3: handshake failures are connection-fatal and
// surface before the connection closes).
type RejectedError struct {
	Reject RouterReject
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("novarpc: handshake rejected: %s", e.Reject.Error.Error())
}

// RunWorkerHandshake drives the worker side of the one-shot handshake
// over framer: send WorkerHello, then wait for exactly one terminal reply
// (spec.md §4.3, "Worker: AwaitingWelcome" row). Any other frame received
// in this state, or a decode failure, is a protocol violation and the
// caller must close the connection without replying further.
func RunWorkerHandshake(framer *Framer, offer CapabilityOffer, authToken *string) (*WorkerHandshakeResult, error) {
	hello := BuildWorkerHello(offer, authToken)
	payload, err := EncodeFrame(Frame{WorkerHello: &hello})
	if err != nil {
		return nil, err
	}
	if err := framer.WriteFrame(payload); err != nil {
		return nil, err
	}

	raw, err := framer.ReadFrame()
	if err != nil {
		return nil, err
	}
	frame, err := DecodeFrame(raw)
	if err != nil {
		return nil, fmt.Errorf("novarpc: %w: %v", errProtocolViolation, err)
	}
	switch {
	case frame.RouterWelcome != nil:
		framer.RaiseBound(frame.RouterWelcome.Negotiated.MaxFrameLen)
		return &WorkerHandshakeResult{
			ChosenVersion: frame.RouterWelcome.ChosenVersion,
			Negotiated:    frame.RouterWelcome.Negotiated,
		}, nil
	case frame.RouterReject != nil:
		return nil, &RejectedError{Reject: *frame.RouterReject}
	default:
		return nil, fmt.Errorf("novarpc: %w: unexpected frame during handshake", errProtocolViolation)
	}
}

// RunRouterHandshake drives the router side: wait for WorkerHello,
// validate/negotiate, and send back a terminal reply. On rejection it
// returns the RejectedError after having already written the Reject
// frame; the caller must still close the connection.
func RunRouterHandshake(framer *Framer, cfg RouterConfig) (*NegotiatedCapabilities, error) {
	raw, err := framer.ReadFrame()
	if err != nil {
		return nil, err
	}
	frame, err := DecodeFrame(raw)
	if err != nil {
		reject := RouterReject{
			Error:                   *NewRpcError(ErrBadHandshake, "could not decode hello"),
			RouterSupportedVersions: SupportedVersions,
		}
		_ = sendReject(framer, reject)
		return nil, &RejectedError{Reject: reject}
	}
	if frame.WorkerHello == nil {
		reject := RouterReject{
			Error:                   *NewRpcError(ErrBadHandshake, "expected WorkerHello"),
			RouterSupportedVersions: SupportedVersions,
		}
		_ = sendReject(framer, reject)
		return nil, &RejectedError{Reject: reject}
	}

	welcome, reject := HandleWorkerHello(cfg, *frame.WorkerHello)
	if reject != nil {
		_ = sendReject(framer, *reject)
		return nil, &RejectedError{Reject: *reject}
	}

	payload, err := EncodeFrame(Frame{RouterWelcome: welcome})
	if err != nil {
		return nil, err
	}
	if err := framer.WriteFrame(payload); err != nil {
		return nil, err
	}
	framer.RaiseBound(welcome.Negotiated.MaxFrameLen)
	negotiated := welcome.Negotiated
	return &negotiated, nil
}

func sendReject(framer *Framer, reject RouterReject) error {
	payload, err := EncodeFrame(Frame{RouterReject: &reject})
	if err != nil {
		return err
	}
	return framer.WriteFrame(payload)
}
