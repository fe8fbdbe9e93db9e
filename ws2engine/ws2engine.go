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

// Package ws2engine implements Ws2Engine (C6): the WebSocket-over-HTTP/2
// adapter (RFC 8441). It bridges one upgraded HTTP/2 stream's DATA frames
// into a WebSocket data channel by feeding them through the same framer
// wsframer uses for classic HTTP/1 upgrades, over an in-memory net.Conn
// bridge instead of a real socket.
package ws2engine

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/muxtypes"
	"github.com/httpmuxd/httpmuxd/wsframer"
)

// Sink receives the signals a Ws2Engine connection produces.
type Sink interface {
	Message(bid muxtypes.ConnectionId, opcode int, payload []byte)
	Closed(bid muxtypes.ConnectionId, code int, reason string)
	Error(bid muxtypes.ConnectionId, err *errkind.Error)
}

// bridgeConn adapts a byte-oriented HTTP/2 DATA channel to a net.Conn so
// gorilla/websocket's server-side framer (via wsframer.Framer) can drive it
// without knowing it isn't a real socket.
type bridgeConn struct {
	pr   *io.PipeReader
	pw   *io.PipeWriter
	send func([]byte) error
}

func newBridgeConn(send func([]byte) error) (*bridgeConn, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return &bridgeConn{pr: pr, send: send}, pw
}

func (c *bridgeConn) Read(p []byte) (int, error) { return c.pr.Read(p) }

func (c *bridgeConn) Write(p []byte) (int, error) {
	if err := c.send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *bridgeConn) Close() error                       { return c.pr.Close() }
func (c *bridgeConn) LocalAddr() net.Addr                { return wsAddr{} }
func (c *bridgeConn) RemoteAddr() net.Addr               { return wsAddr{} }
func (c *bridgeConn) SetDeadline(t time.Time) error      { return nil }
func (c *bridgeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *bridgeConn) SetWriteDeadline(t time.Time) error { return nil }

type wsAddr struct{}

func (wsAddr) Network() string { return "h2ws" }
func (wsAddr) String() string  { return "h2ws" }

type session struct {
	sid    muxtypes.StreamId
	pw     *io.PipeWriter
	framer *wsframer.Framer
	cfg    wsframer.Config

	mu         sync.Mutex
	lastPongAt time.Time
}

// Engine is Ws2Engine.
type Engine struct {
	sink Sink

	mu    sync.Mutex
	conns map[muxtypes.ConnectionId]*session
}

// New creates an Engine reporting to sink.
func New(sink Sink) *Engine {
	return &Engine{sink: sink, conns: make(map[muxtypes.ConnectionId]*session)}
}

// Open bridges bid's upgraded stream sid into a WS data channel. send is
// called with each outbound WS frame's raw bytes, which the caller must
// forward as an HTTP/2 DATA frame.
func (e *Engine) Open(bid muxtypes.ConnectionId, sid muxtypes.StreamId, send func([]byte) error, cfg wsframer.Config) {
	conn, pw := newBridgeConn(send)
	framer := wsframer.NewServer(bid, conn, cfg)

	s := &session{sid: sid, pw: pw, framer: framer, cfg: cfg, lastPongAt: time.Now()}
	framer.SetPongHandler(func(string) error {
		s.mu.Lock()
		s.lastPongAt = time.Now()
		s.mu.Unlock()
		return nil
	})

	e.mu.Lock()
	e.conns[bid] = s
	e.mu.Unlock()

	go e.readLoop(bid, s)
}

func (e *Engine) readLoop(bid muxtypes.ConnectionId, s *session) {
	for {
		opcode, payload, err := s.framer.ReadMessage()
		if err != nil {
			e.sink.Closed(bid, 1006, "read failed")
			return
		}
		e.sink.Message(bid, opcode, payload)
	}
}

// Feed delivers bytes from an HTTP/2 DATA frame on bid's upgraded stream
// into the WS frame decoder.
func (e *Engine) Feed(bid muxtypes.ConnectionId, data []byte) error {
	e.mu.Lock()
	s, ok := e.conns[bid]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := s.pw.Write(data)
	return err
}

// WriteMessage sends one WS message on bid's upgraded stream.
func (e *Engine) WriteMessage(bid muxtypes.ConnectionId, opcode int, payload []byte) error {
	e.mu.Lock()
	s, ok := e.conns[bid]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return s.framer.WriteMessage(opcode, payload)
}

// SendError writes a CLOSE frame carrying a code derived from the failure
// before the caller tears the stream down, matching the original
// implementation's dedicated sendError helper (see SPEC_FULL §C.2) rather
// than silently closing.
func (e *Engine) SendError(bid muxtypes.ConnectionId, code int, reason string) error {
	e.mu.Lock()
	s, ok := e.conns[bid]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return s.framer.WriteClose(code, reason)
}

// Pinging drives the half-interval PING policy and PONG-wait enforcement for
// every open WS-over-H2 connection.
func (e *Engine) Pinging(now time.Time) {
	e.mu.Lock()
	sessions := make([]struct {
		bid muxtypes.ConnectionId
		s   *session
	}, 0, len(e.conns))
	for bid, s := range e.conns {
		sessions = append(sessions, struct {
			bid muxtypes.ConnectionId
			s   *session
		}{bid, s})
	}
	e.mu.Unlock()

	for _, entry := range sessions {
		s := entry.s
		if s.cfg.PingInterval <= 0 {
			continue
		}
		s.mu.Lock()
		lastPong := s.lastPongAt
		s.mu.Unlock()

		if now.Sub(lastPong) > s.cfg.PongWait {
			_ = e.SendError(entry.bid, 1011, "ping timeout")
			e.sink.Closed(entry.bid, 1011, "ping timeout")
			continue
		}
		if now.Sub(s.framer.LastSendAt()) > s.cfg.PingInterval/2 {
			_ = s.framer.WriteControl(wsframer.OpPing, nil, now.Add(time.Second))
		}
	}
}

// Erase drops bid's bridge state, closing the underlying pipe.
func (e *Engine) Erase(bid muxtypes.ConnectionId) {
	e.mu.Lock()
	s, ok := e.conns[bid]
	delete(e.conns, bid)
	e.mu.Unlock()
	if ok {
		_ = s.pw.Close()
		_ = s.framer.Close()
	}
}
