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
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// HandlerFunc answers one inbound Request. A non-nil RpcError becomes the
// Response's Err; otherwise the returned bytes become the Response's Ok
// payload (spec.md §4.4/§7 layer 1: application errors never close the
// connection).
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, *RpcError)

// Registry maps method names to handlers. The same Registry may be
// shared by every Connection a router or worker process serves.
//
// Keeps its set of registered method names in a mapset.Set alongside the
// dispatch map, the way rpc/server.go keeps service names, so membership
// checks don't need to walk the map.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	names    mapset.Set[string]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		names:    mapset.NewSet[string](),
	}
}

// Register installs handler for method. It panics on a duplicate
// registration, the same as server.RegisterName does for programmer
// errors that should never reach production.
func (r *Registry) Register(method string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names.Contains(method) {
		panic("novarpc: duplicate method registration: " + method)
	}
	r.handlers[method] = handler
	r.names.Add(method)
}

// Lookup returns the handler for method, if any.
func (r *Registry) Lookup(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// Methods returns the currently registered method names.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names.ToSlice()
}
