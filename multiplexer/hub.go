// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package multiplexer

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/httpmuxd/httpmuxd/callbackbus"
	"github.com/httpmuxd/httpmuxd/common"
	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/http1engine"
	"github.com/httpmuxd/httpmuxd/http2session"
	"github.com/httpmuxd/httpmuxd/internal/deferred"
	"github.com/httpmuxd/httpmuxd/muxtypes"
	"github.com/httpmuxd/httpmuxd/transport"
	"github.com/httpmuxd/httpmuxd/ws2engine"
	"github.com/httpmuxd/httpmuxd/wsframer"
)

// ws1Session holds the RFC 6455 framer state for a connection upgraded over
// HTTP/1.1, fed directly from the transport's raw byte stream via a synthetic
// net.Conn bridge (the same idiom ws2engine uses for HTTP/2 DATA frames).
type ws1Session struct {
	pw     *io.PipeWriter
	framer *wsframer.Framer

	mu         sync.Mutex
	lastPongAt time.Time
}

// ws1Conn adapts Hub.core.Send and a pipe-fed read side into a net.Conn so
// wsframer.NewServer can drive a classic HTTP/1 upgrade without knowing the
// bytes didn't come from a real socket handed to it directly.
type ws1Conn struct {
	pr   *io.PipeReader
	send func([]byte) error
}

func (c *ws1Conn) Read(p []byte) (int, error) { return c.pr.Read(p) }
func (c *ws1Conn) Write(p []byte) (int, error) {
	if err := c.send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
func (c *ws1Conn) Close() error                       { return c.pr.Close() }
func (c *ws1Conn) LocalAddr() net.Addr                { return ws1Addr{} }
func (c *ws1Conn) RemoteAddr() net.Addr               { return ws1Addr{} }
func (c *ws1Conn) SetDeadline(t time.Time) error      { return nil }
func (c *ws1Conn) SetReadDeadline(t time.Time) error  { return nil }
func (c *ws1Conn) SetWriteDeadline(t time.Time) error { return nil }

type ws1Addr struct{}

func (ws1Addr) Network() string { return "h1ws" }
func (ws1Addr) String() string  { return "h1ws" }

// sendWriter adapts a transport.Adapter into the io.Writer http2session.New
// wants for emitting framed bytes back onto the wire.
type sendWriter struct {
	core transport.Adapter
	bid  muxtypes.ConnectionId
}

func (w sendWriter) Write(p []byte) (int, error) {
	if !w.core.Send(p, w.bid) {
		return 0, errors.Errorf("multiplexer: send failed bid=%d", w.bid)
	}
	return len(p), nil
}

// Hub is Multiplexer (C7): the per-connection state machine that dispatches
// transport bytes by (proto, agent), owns HTTP/2 sessions, HTTP/1 and
// WS-over-H2 engines, and the deferred-erase queue (§4.6).
type Hub struct {
	cfg  Config
	core transport.Adapter
	bus  *callbackbus.Bus

	h1  *http1engine.Engine
	ws2 *ws2engine.Engine

	mu       sync.Mutex
	sessions map[muxtypes.ConnectionId]*http2session.Session
	options  map[muxtypes.ConnectionId]*ConnectionOptions
	streams  map[streamKey]*Stream
	ws1      map[muxtypes.ConnectionId]*ws1Session
	upgraded map[streamKey]bool

	disconnected *deferred.Queue

	connectionsTotal  uint64
	requestsHandled   uint64
	websocketUpgrades uint64
	authRejections    uint64
}

// New creates a Hub bound to core for outbound sends and bus for the
// controller's registered callbacks.
func New(cfg Config, core transport.Adapter, bus *callbackbus.Bus) *Hub {
	h := &Hub{
		cfg:          cfg,
		core:         core,
		bus:          bus,
		sessions:     make(map[muxtypes.ConnectionId]*http2session.Session),
		options:      make(map[muxtypes.ConnectionId]*ConnectionOptions),
		streams:      make(map[streamKey]*Stream),
		ws1:          make(map[muxtypes.ConnectionId]*ws1Session),
		upgraded:     make(map[streamKey]bool),
		disconnected: deferred.New(common.DeferredEraseWindow),
	}

	h.h1 = http1engine.New(http1engine.Config{
		Alive:       cfg.Alive,
		MaxRequests: cfg.MaxRequests,
		ChunkSize:   cfg.ChunkSize,
		Compressors: cfg.Compressors,
		Identity:    cfg.Identity,
		AuthType:    cfg.AuthType,
		Hash:        cfg.Hash,
		Realm:       cfg.Realm,
		Opaque:      cfg.Opaque,
		Encryption:  cfg.Encryption,
		IdentID:     cfg.IdentID,
		IdentName:   cfg.IdentName,
		IdentVer:    cfg.IdentVer,
	}, http1SinkAdapter{h})

	h.ws2 = ws2engine.New(ws2SinkAdapter{h})

	return h
}

// TransportSink returns the transport.EventSink the controller attaches, via
// NetAdapter.SetSink, to each listener bound to this Hub.
func (h *Hub) TransportSink() transport.EventSink { return transportSinkAdapter{h} }

// wsConfig builds the wsframer.Config shared by classic and H2 WebSocket
// upgrades from the service configuration.
func (h *Hub) wsConfig() wsframer.Config {
	return wsframer.Config{
		FrameSize:         h.cfg.MaxFrameSize,
		TakeoverServer:    h.cfg.TakeoverServer,
		TakeoverClient:    h.cfg.TakeoverClient,
		PermessageDeflate: h.cfg.PermessageDeflate,
		PingInterval:      h.cfg.PingInterval,
		PongWait:          h.cfg.PongWait,
	}
}

func (h *Hub) optionsFor(bid muxtypes.ConnectionId) *ConnectionOptions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.options[bid]
}

func (h *Hub) sessionFor(bid muxtypes.ConnectionId) (*http2session.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[bid]
	return s, ok
}

func (h *Hub) streamFor(bid muxtypes.ConnectionId, sid muxtypes.StreamId) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[streamKey{sid: sid, bid: bid}]
}

func (h *Hub) onErrorCallback(bid muxtypes.ConnectionId, err *errkind.Error) {
	callbackbus.Invoke(h.bus, callbackbus.Error, nil, bid, func(fn ErrorFunc) {
		fn(bid, err)
	})
}
