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
	"github.com/httpmuxd/httpmuxd/http2session"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// transportSinkAdapter, http2SinkAdapter, http1SinkAdapter and ws2SinkAdapter
// each implement one component's Sink interface and forward to the Hub. They
// exist purely because three of the four Sink interfaces this Hub implements
// share method names (Chunk: HTTP/2 and HTTP/1; Closed: HTTP/2 and
// WS-over-H2) with conflicting signatures, which a single receiver type
// cannot satisfy at once.

type transportSinkAdapter struct{ h *Hub }

func (a transportSinkAdapter) Accept(host, ip string, port int, bid muxtypes.ConnectionId) bool {
	return a.h.onAccept(host, ip, port, bid)
}
func (a transportSinkAdapter) Connect(bid muxtypes.ConnectionId, sid muxtypes.SchemeId) {
	a.h.onConnect(bid, sid)
}
func (a transportSinkAdapter) Disconnect(bid muxtypes.ConnectionId, sid muxtypes.SchemeId) {
	a.h.onDisconnect(bid, sid)
}
func (a transportSinkAdapter) Read(buf []byte, bid muxtypes.ConnectionId, sid muxtypes.SchemeId) {
	a.h.onRead(buf, bid, sid)
}

type http2SinkAdapter struct{ h *Hub }

func (a http2SinkAdapter) Begin(sid muxtypes.StreamId, bid muxtypes.ConnectionId) {
	a.h.onH2Begin(sid, bid)
}
func (a http2SinkAdapter) Header(sid muxtypes.StreamId, bid muxtypes.ConnectionId, k, v string) {
	a.h.onH2Header(sid, bid, k, v)
}
func (a http2SinkAdapter) Chunk(sid muxtypes.StreamId, bid muxtypes.ConnectionId, b []byte) {
	a.h.onH2Chunk(sid, bid, b)
}
func (a http2SinkAdapter) Frame(sid muxtypes.StreamId, bid muxtypes.ConnectionId, dir muxtypes.Direction, t http2session.FrameType, flags muxtypes.Flag) {
	a.h.onH2Frame(sid, bid, dir, t, flags)
}
func (a http2SinkAdapter) Closed(sid muxtypes.StreamId, bid muxtypes.ConnectionId, code http2session.ErrCode) {
	a.h.onH2Closed(sid, bid, code)
}

type http1SinkAdapter struct{ h *Hub }

func (a http1SinkAdapter) Request(bid muxtypes.ConnectionId)  { a.h.onH1Request(bid) }
func (a http1SinkAdapter) Headers(bid muxtypes.ConnectionId)  { a.h.onH1Headers(bid) }
func (a http1SinkAdapter) Chunk(bid muxtypes.ConnectionId, b []byte) {
	a.h.onH1Chunk(bid, b)
}
func (a http1SinkAdapter) Dispatch(bid muxtypes.ConnectionId) { a.h.onH1Dispatch(bid) }
func (a http1SinkAdapter) UpgradeRequested(bid muxtypes.ConnectionId) bool {
	return a.h.onH1UpgradeRequested(bid)
}
func (a http1SinkAdapter) Error(bid muxtypes.ConnectionId, err *errkind.Error) {
	a.h.onH1Error(bid, err)
}

type ws2SinkAdapter struct{ h *Hub }

func (a ws2SinkAdapter) Message(bid muxtypes.ConnectionId, opcode int, payload []byte) {
	a.h.onWsMessage(bid, opcode, payload)
}
func (a ws2SinkAdapter) Closed(bid muxtypes.ConnectionId, code int, reason string) {
	a.h.onWsClosed(bid, code, reason)
}
func (a ws2SinkAdapter) Error(bid muxtypes.ConnectionId, err *errkind.Error) {
	a.h.onWsError(bid, err)
}
