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
	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// These are the callback signatures exposed through the Hub's CallbackBus
// (C9), one per callbackbus.Name slot that the controller may bind (§4.8).

// AcceptFunc gates a newly-dialed connection before it is tracked.
type AcceptFunc func(host, ip string, port int, bid muxtypes.ConnectionId) bool

// ActiveFunc reports a connection-level connect/disconnect event.
type ActiveFunc func(bid muxtypes.ConnectionId, kind muxtypes.ActiveKind)

// RawFunc observes every chunk of bytes as it arrives, before any parsing.
type RawFunc func(buf []byte, bid muxtypes.ConnectionId)

// StreamFunc reports a stream-level open/close event (HTTP/2 only; HTTP/1
// connections do not fire it).
type StreamFunc func(sid muxtypes.StreamId, bid muxtypes.ConnectionId, ev muxtypes.StreamEvent)

// HeaderFunc observes one header field as it is parsed.
type HeaderFunc func(sid muxtypes.StreamId, bid muxtypes.ConnectionId, k, v string)

// HeadersFunc fires once the header block for a message is complete.
type HeadersFunc func(sid muxtypes.StreamId, bid muxtypes.ConnectionId)

// RequestFunc is invoked once a full, authenticated, non-upgrade request is
// ready for an application response. The callback fills in resp
// synchronously; an unset StatusCode defaults to 404.
type RequestFunc func(sid muxtypes.StreamId, bid muxtypes.ConnectionId, resp *Responder)

// EntityFunc delivers one chunk of request body as it streams in.
type EntityFunc func(sid muxtypes.StreamId, bid muxtypes.ConnectionId, chunk []byte)

// CompleteFunc fires once a response has been fully written to the wire.
type CompleteFunc func(sid muxtypes.StreamId, bid muxtypes.ConnectionId)

// HandshakeFunc lets the controller veto a WebSocket upgrade beyond the
// token-validity check HttpParser already performs.
type HandshakeFunc func(sid muxtypes.StreamId, bid muxtypes.ConnectionId) bool

// ErrorFunc reports a classified failure for a connection or stream.
type ErrorFunc func(bid muxtypes.ConnectionId, err *errkind.Error)

// EraseFunc fires once a disconnected connection's state has been fully
// reclaimed, after the deferred-erase window elapses.
type EraseFunc func(bid muxtypes.ConnectionId)

// LaunchedFunc fires once a listener has successfully bound its socket.
type LaunchedFunc func(sid muxtypes.SchemeId)

// MessageWebsocketFunc delivers one decoded WebSocket message, carried over
// either RFC 6455 (HTTP/1) or RFC 8441 (HTTP/2).
type MessageWebsocketFunc func(bid muxtypes.ConnectionId, opcode int, payload []byte)

// ErrorWebsocketFunc reports a WebSocket-specific failure.
type ErrorWebsocketFunc func(bid muxtypes.ConnectionId, err *errkind.Error)
