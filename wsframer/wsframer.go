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

// Package wsframer implements WsFramer (C4): the RFC 6455 frame assembler
// and emitter used by the Multiplexer on a classic WebSocket-over-HTTP/1
// upgrade and by Ws2Engine. It wraps gorilla/websocket for masking,
// fragmentation and control-frame handling; Config.PermessageDeflate turns on
// gorilla's write compression at the default level, and the context-takeover
// flags in Config are carried but not read.
package wsframer

import (
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// Opcode mirrors RFC 6455 §11.8.
type Opcode = int

const (
	OpContinuation = websocket.ContinuationMessage
	OpText         = websocket.TextMessage
	OpBinary       = websocket.BinaryMessage
	OpClose        = websocket.CloseMessage
	OpPing         = websocket.PingMessage
	OpPong         = websocket.PongMessage
)

// Config carries the per-connection negotiated WebSocket options.
type Config struct {
	FrameSize             int64
	TakeoverServer        bool
	TakeoverClient        bool
	PermessageDeflate     bool
	PingInterval          time.Duration
	PongWait              time.Duration
}

// Framer wraps a *websocket.Conn established over an already-upgraded
// net.Conn, applying the configured frame size as its buffer sizes.
type Framer struct {
	bid  muxtypes.ConnectionId
	conn *websocket.Conn
	cfg  Config

	lastSendAt time.Time
}

// NewServer wraps an already-upgraded connection (the HTTP/1 upgrade
// handshake has already been completed by the Multiplexer, which wrote the
// 101 response itself) as a server-side Framer.
func NewServer(bid muxtypes.ConnectionId, raw net.Conn, cfg Config) *Framer {
	conn := websocket.NewConn(raw, true, int(cfg.FrameSize), int(cfg.FrameSize))
	if cfg.PermessageDeflate {
		conn.EnableWriteCompression(true)
		conn.SetCompressionLevel(websocket.DefaultCompressionLevel)
	}
	return &Framer{bid: bid, conn: conn, cfg: cfg, lastSendAt: time.Now()}
}

// ReadMessage blocks for the next complete (possibly reassembled) message.
func (f *Framer) ReadMessage() (opcode Opcode, payload []byte, err error) {
	return f.conn.ReadMessage()
}

// WriteMessage sends one complete message, applying the configured frame
// size as gorilla's internal fragmentation threshold.
func (f *Framer) WriteMessage(opcode Opcode, payload []byte) error {
	f.lastSendAt = time.Now()
	return f.conn.WriteMessage(opcode, payload)
}

// WriteControl sends a control frame (CLOSE/PING/PONG) with a deadline.
func (f *Framer) WriteControl(opcode Opcode, payload []byte, deadline time.Time) error {
	f.lastSendAt = time.Now()
	return f.conn.WriteControl(opcode, payload, deadline)
}

// WriteClose sends a CLOSE frame carrying a two-byte code and UTF-8 reason,
// per §4.4.
func (f *Framer) WriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return f.WriteControl(OpClose, msg, time.Now().Add(time.Second))
}

// LastSendAt reports when the last frame (data or control) was written,
// used by Ws2Engine and the Multiplexer to drive the ping-at-half-interval policy.
func (f *Framer) LastSendAt() time.Time { return f.lastSendAt }

// SetReadDeadline enforces the configured pong wait window.
func (f *Framer) SetReadDeadline(t time.Time) error { return f.conn.SetReadDeadline(t) }

// SetPongHandler installs the callback invoked when a PONG control frame
// arrives, letting the caller refresh its liveness deadline.
func (f *Framer) SetPongHandler(h func(appData string) error) { f.conn.SetPongHandler(h) }

// Close closes the underlying connection immediately.
func (f *Framer) Close() error { return f.conn.Close() }
