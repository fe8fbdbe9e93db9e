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

// Package multiplexer implements Multiplexer (C7): the connection-level
// state machine and hub that dispatches transport events by (proto, agent),
// owns per-connection options, HTTP/2 sessions and streams, and the
// deferred-erase queue, and drives the ping timer.
package multiplexer

import (
	"time"

	"github.com/httpmuxd/httpmuxd/httpparser"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// Config is ServiceConfig (§3).
type Config struct {
	Alive            bool
	Realm, Opaque    string
	AuthType         muxtypes.AuthType
	Hash             muxtypes.HashAlg
	Encryption       httpparser.EncryptionConfig
	IdentID          string
	IdentName        string
	IdentVer         string
	MaxRequests      uint32
	PingInterval     time.Duration
	PongWait         time.Duration
	ChunkSize        int
	Compressors      []muxtypes.CompressorId
	WebSocketEnabled bool
	Identity         muxtypes.Identity
	TakeoverServer   bool
	TakeoverClient   bool
	PermessageDeflate bool
	MaxFrameSize     int64
}

// ConnectionOptions is the per-bid mutable state (§3).
type ConnectionOptions struct {
	Proto      muxtypes.Protocol
	Agent      muxtypes.Agent
	Close      bool
	Stopped    bool
	Alive      bool
	Requests   uint32
	SendPingAt time.Time
	Crypted    bool
	Compressor muxtypes.CompressorId
}

// Stream is the HTTP/2 per-request parser state (§3), one per (sid, bid).
type Stream struct {
	Http       *httpparser.Parser
	Crypted    bool
	Compressor muxtypes.CompressorId
}

type streamKey struct {
	sid muxtypes.StreamId
	bid muxtypes.ConnectionId
}

// Responder is the mutable application response the "request" callback
// fills in synchronously; prepare serializes it once the callback returns.
type Responder struct {
	StatusCode int
	Headers    *httpparser.HeaderMap
	Body       []byte
}
