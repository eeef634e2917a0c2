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

//go:build windows

package transportdial

import (
	"context"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

const namedPipeDialTimeout = 5 * time.Second

// dialNamedPipe connects to a Windows named pipe at address, honoring
// ctx's deadline the same way DialContext does for the other
// substrates.
func dialNamedPipe(ctx context.Context, address string) (net.Conn, error) {
	timeout := namedPipeDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			timeout = remaining
		}
	}
	return winio.DialPipe(address, &timeout)
}

// listenNamedPipe creates a Windows named pipe listener at address.
func listenNamedPipe(address string) (net.Listener, error) {
	return winio.ListenPipe(address, &winio.PipeConfig{})
}
