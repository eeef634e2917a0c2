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

//go:build !windows

package transportdial

import (
	"context"
	"fmt"
	"net"
)

// dialNamedPipe and listenNamedPipe only exist on Windows; Unix
// platforms use the "unix" domain-socket substrate instead.
func dialNamedPipe(_ context.Context, address string) (net.Conn, error) {
	return nil, fmt.Errorf("transportdial: named pipes are not supported on this platform (address %q)", address)
}

func listenNamedPipe(address string) (net.Listener, error) {
	return nil, fmt.Errorf("transportdial: named pipes are not supported on this platform (address %q)", address)
}
