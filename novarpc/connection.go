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
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nova-remote/rpc/internal/rlog"
)

// ConnectionConfig carries the knobs a Connection needs beyond the
// negotiated capabilities themselves.
type ConnectionConfig struct {
	// KeepaliveInterval, when nonzero, starts a Ping sender alongside the
	// receive loop (spec.md §4.7, an explicitly optional feature — Open
	// Question resolved to "off by default" in the module's own docs).
	KeepaliveInterval time.Duration

	// Logger receives structured connection lifecycle events. A nil
	// Logger falls back to rlog.Default().
	Logger *rlog.Logger
}

// Connection is the per-peer controller sitting above a handshaken
// Framer: it owns the pending-call table, the reassembly table, the
// compression codec pair, and the send/receive plumbing that ties them
// together (spec.md §3/§4.4 through §4.8).
//
// One struct per connection, a dedicated receive loop supervised
// alongside auxiliary loops (in p2p.Peer, protocol run loops; here, the
// optional keepalive sender) through a single errgroup, and a
// pending-call table serviced from that same receive loop.
type Connection struct {
	framer     *Framer
	negotiated NegotiatedCapabilities
	registry   *Registry
	logger     *rlog.Logger

	// id is a process-local correlation id, never placed on the wire —
	// it exists purely to let one connection's log lines be grepped out
	// of a router or worker handling many connections at once.
	id string

	ids        *idAllocator
	idMu       sync.Mutex
	calls      *callTable
	reassembly *reassembler
	codec      *codecPool

	keepaliveInterval time.Duration
	pingCounter       uint64

	inboundMu      sync.Mutex
	inboundCancels map[uint64]context.CancelFunc

	closeOnce  sync.Once
	done       chan struct{}
	closeErr   error
	goAwaySent bool
	goAwayRecv bool
	stateMu    sync.Mutex
}

// NewConnection wraps a post-handshake Framer. role, negotiated and
// registry come from the handshake result and the process's own method
// table; registry may be nil for a pure client that never answers
// inbound requests.
func NewConnection(framer *Framer, role Role, negotiated NegotiatedCapabilities, registry *Registry, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = rlog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	connID := uuid.NewString()
	return &Connection{
		framer:            framer,
		negotiated:        negotiated,
		registry:          registry,
		logger:            logger.With("conn_id", connID),
		id:                connID,
		ids:               newIDAllocator(role),
		calls:             newCallTable(),
		reassembly:        newReassembler(negotiated),
		codec:             &codecPool{},
		keepaliveInterval: cfg.KeepaliveInterval,
		inboundCancels:    make(map[uint64]context.CancelFunc),
		done:              make(chan struct{}),
	}
}

// Serve runs the connection's receive loop, and its keepalive sender if
// configured, until the connection ends. It returns the terminating
// error: io.EOF-wrapping errors from a clean peer disconnect, a
// *ConnectionError for a GoAway exchange, or a protocol violation.
func (c *Connection) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.receiveLoop(gctx) })
	if c.keepaliveInterval > 0 {
		g.Go(func() error { return c.pingLoop(gctx) })
	}
	err := g.Wait()
	c.teardown(err)
	return err
}

func (c *Connection) teardown(cause error) {
	rpcErr := RpcError{Code: ErrUnavailable, Message: "connection closed", Retryable: true}
	var connErr *ConnectionError
	if errors.As(cause, &connErr) {
		rpcErr = connErr.Err
	}
	c.calls.abortAll(&rpcErr)
	c.closeOnce.Do(func() {
		c.closeErr = cause
		close(c.done)
		if closer, ok := c.framer.rw.(io.Closer); ok {
			_ = closer.Close()
		}
	})
}

func (c *Connection) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		raw, err := c.framer.ReadFrame()
		if err != nil {
			return err
		}
		frame, err := DecodeFrame(raw)
		if err != nil {
			c.abortWithViolation(err)
			return newProtocolViolationErr("decode failed: %v", err)
		}
		if terminal, err := c.handleFrame(ctx, frame); terminal {
			return err
		}
	}
}

// handleFrame processes one decoded frame. terminal is true when the
// connection must end; err is the reason (possibly nil for a clean
// peer-initiated GoAway with no error payload... GoAway always carries
// an RpcError in this protocol, so err is never nil on the terminal
// path).
func (c *Connection) handleFrame(ctx context.Context, frame Frame) (terminal bool, err error) {
	switch {
	case frame.Packet != nil:
		if perr := c.handlePacketBytes(ctx, frame.Packet.Meta, frame.Packet.Bytes); perr != nil {
			c.abortWithViolation(perr)
			return true, perr
		}
		return false, nil

	case frame.PacketChunk != nil:
		body, complete, rerr := c.reassembly.feed(*frame.PacketChunk)
		if rerr != nil {
			var exhausted *resourceExhaustedError
			if errors.As(rerr, &exhausted) {
				c.sendGoAway(RpcError{Code: ErrResourceExhausted, Message: rerr.Error(), Retryable: true})
			} else {
				c.abortWithViolation(rerr)
			}
			return true, rerr
		}
		if !complete {
			return false, nil
		}
		if perr := c.handlePacketBytes(ctx, frame.PacketChunk.Meta, body); perr != nil {
			c.abortWithViolation(perr)
			return true, perr
		}
		return false, nil

	case frame.Cancel != nil:
		c.inboundMu.Lock()
		cancel, ok := c.inboundCancels[frame.Cancel.RequestID]
		c.inboundMu.Unlock()
		if ok {
			cancel()
		}
		return false, nil

	case frame.GoAway != nil:
		c.stateMu.Lock()
		c.goAwayRecv = true
		c.stateMu.Unlock()
		return true, &ConnectionError{Err: frame.GoAway.Error, LocallyCaused: false, GoAwayRecv: true}

	case frame.Ping != nil:
		_ = c.writeFrame(Frame{Pong: &Pong{Nonce: frame.Ping.Nonce}})
		return false, nil

	case frame.Pong != nil:
		return false, nil

	default:
		perr := newProtocolViolationErr("unexpected handshake frame on live connection")
		c.abortWithViolation(perr)
		return true, perr
	}
}

func (c *Connection) handlePacketBytes(ctx context.Context, meta PacketMeta, raw []byte) error {
	body, err := c.codec.decompress(c.negotiated, meta, raw)
	if err != nil {
		return err
	}
	pkt, err := DecodeRpcPacket(body)
	if err != nil {
		return newProtocolViolationErr("malformed application packet: %v", err)
	}
	if pkt.IsRequest {
		if !c.ids.peerOwnsID(pkt.RequestID) {
			return newProtocolViolationErr("request id %d has wrong parity", pkt.RequestID)
		}
		go c.serveRequest(ctx, pkt)
		return nil
	}
	// Responses for unknown or mismatched ids are silently discarded
	// (spec.md §4.4): a response the local side never asked for does not
	// indicate a hostile peer, just a raced cancellation.
	c.calls.deliver(pkt.RequestID, pkt.ResultOK, pkt.ResultErr)
	return nil
}

func (c *Connection) serveRequest(parent context.Context, pkt RpcPacket) {
	ctx, cancel := context.WithCancel(parent)
	c.inboundMu.Lock()
	c.inboundCancels[pkt.RequestID] = cancel
	c.inboundMu.Unlock()
	defer func() {
		c.inboundMu.Lock()
		delete(c.inboundCancels, pkt.RequestID)
		c.inboundMu.Unlock()
		cancel()
	}()

	handler, ok := c.registry.Lookup(pkt.Method)
	if !ok {
		c.logger.Warn("novarpc: unimplemented method", "method", pkt.Method, "request_id", pkt.RequestID)
		_ = c.sendPacket(NewErrResponsePacket(pkt.RequestID, NewRpcError(ErrUnimplemented, "unknown method: "+pkt.Method)))
		return
	}

	result, rpcErr := handler(ctx, pkt.Payload)
	if rpcErr != nil {
		_ = c.sendPacket(NewErrResponsePacket(pkt.RequestID, rpcErr))
		return
	}
	_ = c.sendPacket(NewOKResponsePacket(pkt.RequestID, result))
}

// Call issues one outbound request and blocks for its response, ctx's
// cancellation, or connection teardown — whichever comes first (spec.md
// §4.4, the same requestOp.wait(ctx) client pattern). On ctx's
// cancellation it sends a best-effort Cancel frame (when cancellation was
// negotiated) and returns ctx.Err(); the pending slot stays in the table
// until the terminal response arrives or the connection tears down.
func (c *Connection) Call(ctx context.Context, method string, payload []byte) ([]byte, error) {
	id := c.nextID()
	pc, ok := c.calls.register(id)
	if !ok {
		return nil, errors.New("novarpc: request id space exhausted")
	}
	if err := c.sendPacket(NewRequestPacket(id, method, payload)); err != nil {
		c.calls.abandon(id)
		return nil, err
	}

	select {
	case res := <-pc.resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.payload, nil
	case <-ctx.Done():
		if c.negotiated.Cancel {
			_ = c.writeFrame(Frame{Cancel: &Cancel{RequestID: id}})
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

func (c *Connection) nextID() uint64 {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.ids.allocate()
}

func (c *Connection) sendPacket(pkt RpcPacket) error {
	encoded := EncodeRpcPacket(pkt)
	body, alg, uncompressedLen, err := c.codec.maybeCompress(c.negotiated, encoded)
	if err != nil {
		return err
	}
	meta := PacketMeta{RequestID: pkt.RequestID, Compression: alg, UncompressedLen: uncompressedLen}

	if uint32(len(body)) <= maxSinglePacketPayload(c.negotiated.MaxFrameLen) {
		return c.writeFrame(Frame{Packet: &Packet{Meta: meta, Bytes: body}})
	}
	for _, chunk := range splitChunks(meta, body, c.negotiated.MaxFrameLen) {
		chunk := chunk
		if err := c.writeFrame(Frame{PacketChunk: &chunk}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) writeFrame(f Frame) error {
	payload, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return c.framer.WriteFrame(payload)
}

func (c *Connection) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			nonce := atomic.AddUint64(&c.pingCounter, 1)
			if err := c.writeFrame(Frame{Ping: &Ping{Nonce: nonce}}); err != nil {
				return err
			}
		}
	}
}

func (c *Connection) sendGoAway(rpcErr RpcError) {
	c.stateMu.Lock()
	alreadySent := c.goAwaySent
	c.goAwaySent = true
	c.stateMu.Unlock()
	if alreadySent {
		return
	}
	_ = c.writeFrame(Frame{GoAway: &GoAway{Error: rpcErr}})
}

func (c *Connection) abortWithViolation(cause error) {
	c.sendGoAway(RpcError{Code: ErrProtocolViolation, Message: cause.Error(), Retryable: false})
}

// Close performs a graceful shutdown (spec.md §4.8): it announces intent
// to stop via GoAway, then waits for in-flight calls this side
// originated to finish (or for ctx to expire) before closing the
// underlying stream.
func (c *Connection) Close(ctx context.Context) error {
	c.sendGoAway(RpcError{Code: ErrUnavailable, Message: "shutting down", Retryable: true})
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for c.calls.len() > 0 {
		select {
		case <-ctx.Done():
			return c.CloseNow()
		case <-ticker.C:
		}
	}
	return c.CloseNow()
}

// Abort closes the connection immediately after a best-effort GoAway
// carrying rpcErr, for connection-fatal conditions the local side
// detected (spec.md §7 layer 3).
func (c *Connection) Abort(rpcErr RpcError) error {
	c.sendGoAway(rpcErr)
	return c.CloseNow()
}

// CloseNow tears the connection down without announcing anything,
// aborting every pending call with Unavailable.
func (c *Connection) CloseNow() error {
	c.teardown(ErrClientClosed)
	return nil
}

// Done is closed once the connection has fully torn down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the reason Serve returned, valid only after Done is closed.
func (c *Connection) Err() error { return c.closeErr }

// ID returns the connection's process-local correlation id, the same
// value attached to every log line this connection emits.
func (c *Connection) ID() string { return c.id }
