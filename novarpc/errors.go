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
	"errors"
	"fmt"
)

// errProtocolViolation is wrapped into every error that must be treated
// as spec.md's ProtocolViolation: bounds overruns, parity violations,
// reassembly invariant breaks, decompression overruns, and decode
// failures once the connection is past handshake.
var errProtocolViolation = errors.New("protocol violation")

// IsProtocolViolation reports whether err (or something it wraps) is one
// of the violations that must close the connection per spec.md §4.2/§8.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, errProtocolViolation)
}

// ErrClientClosed is returned to callers of Connection.Call when the
// connection tears down while the call is waiting, and is the teardown
// cause CloseNow records.
var ErrClientClosed = errors.New("novarpc: connection closed")

// ConnectionError explains why a connection ended: the RpcError that was
// the proximate cause, whether it was detected locally or announced by
// the peer via GoAway, and whether this side sent/received a GoAway
// before closing (spec.md §4.8, §7 layer 3).
type ConnectionError struct {
	Err           RpcError
	LocallyCaused bool
	GoAwaySent    bool
	GoAwayRecv    bool
}

func (e *ConnectionError) Error() string {
	origin := "remote"
	if e.LocallyCaused {
		origin = "local"
	}
	return fmt.Sprintf("novarpc: connection closed (%s): %s", origin, e.Err.Error())
}

// newProtocolViolationErr builds the error for a locally-detected
// protocol violation, with a %w-wrapped sentinel so IsProtocolViolation
// still matches after this travels through fmt.Errorf-based wrapping
// elsewhere.
func newProtocolViolationErr(format string, args ...any) error {
	return fmt.Errorf("novarpc: %w: "+format, append([]any{errProtocolViolation}, args...)...)
}
