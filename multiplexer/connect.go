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
	"strings"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/httpmuxd/httpmuxd/callbackbus"
	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/http2session"
	"github.com/httpmuxd/httpmuxd/httpparser"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// onAccept implements the gate half of §4.6.1: a connection may be refused
// before it is ever tracked.
func (h *Hub) onAccept(host, ip string, port int, bid muxtypes.ConnectionId) bool {
	accept := true
	callbackbus.Invoke(h.bus, callbackbus.Accept, nil, bid, func(fn AcceptFunc) {
		accept = fn(host, ip, port, bid)
	})
	return accept
}

// onConnect implements connectEvents (§4.6.1): it allocates the per-bid
// ConnectionOptions and lazily starts the protocol-appropriate engine.
func (h *Hub) onConnect(bid muxtypes.ConnectionId, sid muxtypes.SchemeId) {
	atomic.AddUint64(&h.connectionsTotal, 1)
	proto := h.core.Proto(bid)

	h.mu.Lock()
	h.options[bid] = &ConnectionOptions{
		Proto:      proto,
		Agent:      muxtypes.AgentHTTP,
		Alive:      h.cfg.Alive,
		Compressor: muxtypes.CompressorIdentity,
	}
	if proto == muxtypes.ProtocolHTTP2 {
		h.sessions[bid] = http2session.New(bid, sendWriter{core: h.core, bid: bid}, http2SinkAdapter{h})
	} else {
		h.h1.ConnectEvents(bid)
	}
	h.mu.Unlock()

	callbackbus.Invoke(h.bus, callbackbus.Active, h.onErrorCallback, bid, func(fn ActiveFunc) {
		fn(bid, muxtypes.ActiveConnect)
	})
}

// onDisconnect implements disconnectEvents (§4.6.2): it tears down the live
// engine state and enqueues bid on the deferred-erase window so late
// transport callbacks racing the disconnect still find consistent state.
func (h *Hub) onDisconnect(bid muxtypes.ConnectionId, sid muxtypes.SchemeId) {
	var teardown *multierror.Error

	h.mu.Lock()
	if sess, ok := h.sessions[bid]; ok {
		teardown = multierror.Append(teardown, sess.Close())
		delete(h.sessions, bid)
	}
	if ws, ok := h.ws1[bid]; ok {
		teardown = multierror.Append(teardown, ws.framer.Close())
		delete(h.ws1, bid)
	}
	for k := range h.streams {
		if k.bid == bid {
			delete(h.streams, k)
		}
	}
	for k := range h.upgraded {
		if k.bid == bid {
			delete(h.upgraded, k)
		}
	}
	h.mu.Unlock()

	h.h1.DisconnectEvents(bid)
	h.ws2.Erase(bid)
	h.disconnected.Enqueue(bid)

	if err := teardown.ErrorOrNil(); err != nil {
		h.onErrorCallback(bid, errkind.Wrap(errkind.Transport, err, "connection teardown reported errors"))
	}

	callbackbus.Invoke(h.bus, callbackbus.Active, h.onErrorCallback, bid, func(fn ActiveFunc) {
		fn(bid, muxtypes.ActiveDisconnect)
	})
}

// onRead implements readEvents (§4.6.3): it routes bytes by the connection's
// current (proto, agent) pair.
func (h *Hub) onRead(buf []byte, bid muxtypes.ConnectionId, sid muxtypes.SchemeId) {
	callbackbus.Invoke(h.bus, callbackbus.Raw, h.onErrorCallback, bid, func(fn RawFunc) {
		fn(buf, bid)
	})

	opts := h.optionsFor(bid)
	if opts == nil || opts.Close {
		return
	}

	if opts.Agent == muxtypes.AgentWebSocket && opts.Proto == muxtypes.ProtocolHTTP11 {
		h.mu.Lock()
		ws, ok := h.ws1[bid]
		h.mu.Unlock()
		if ok {
			if _, err := ws.pw.Write(buf); err != nil {
				h.onErrorCallback(bid, errkind.Wrap(errkind.Transport, err, "ws1 bridge write failed"))
			}
		}
		return
	}

	if sess, ok := h.sessionFor(bid); ok {
		if err := sess.Feed(buf); err != nil {
			h.onErrorCallback(bid, errkind.Wrap(errkind.HTTP2Recv, err, "http2 frame feed failed"))
		}
		return
	}

	h.h1.ReadEvents(buf, bid)
	if h.h1.Close(bid) {
		h.Close(bid)
	}
}

// onH2Begin implements the HEADERS-open half of §4.6.5: a new stream starts
// with a fresh Parser built from the shared service configuration.
func (h *Hub) onH2Begin(sid muxtypes.StreamId, bid muxtypes.ConnectionId) {
	p := httpparser.New()
	p.SetID(bid)
	p.SetChunkSize(h.cfg.ChunkSize)
	p.SetCompressors(h.cfg.Compressors)
	p.SetIdentity(h.cfg.Identity)
	p.SetEncryption(h.cfg.Encryption)
	p.SetRealm(h.cfg.Realm)
	p.SetOpaque(h.cfg.Opaque)
	p.SetAuthType(h.cfg.AuthType, h.cfg.Hash)
	p.SetIdent(h.cfg.IdentID, h.cfg.IdentName, h.cfg.IdentVer)

	h.mu.Lock()
	h.streams[streamKey{sid: sid, bid: bid}] = &Stream{Http: p}
	h.mu.Unlock()

	callbackbus.Invoke(h.bus, callbackbus.Stream, h.onErrorCallback, bid, func(fn StreamFunc) {
		fn(sid, bid, muxtypes.StreamOpen)
	})
}

func (h *Hub) onH2Header(sid muxtypes.StreamId, bid muxtypes.ConnectionId, k, v string) {
	st := h.streamFor(bid, sid)
	if st == nil {
		return
	}
	st.Http.Header2(k, v)
	callbackbus.Invoke(h.bus, callbackbus.Header, h.onErrorCallback, bid, func(fn HeaderFunc) {
		fn(sid, bid, k, v)
	})
}

func (h *Hub) onH2Chunk(sid muxtypes.StreamId, bid muxtypes.ConnectionId, b []byte) {
	key := streamKey{sid: sid, bid: bid}
	h.mu.Lock()
	isWS := h.upgraded[key]
	st := h.streams[key]
	h.mu.Unlock()

	if isWS {
		if err := h.ws2.Feed(bid, b); err != nil {
			h.onWsError(bid, errkind.Wrap(errkind.Transport, err, "ws2 bridge feed failed"))
		}
		return
	}
	if st == nil {
		return
	}
	st.Http.AppendBody(b)
	callbackbus.Invoke(h.bus, callbackbus.Entity, h.onErrorCallback, bid, func(fn EntityFunc) {
		fn(sid, bid, b)
	})
}

func (h *Hub) onH2Frame(sid muxtypes.StreamId, bid muxtypes.ConnectionId, dir muxtypes.Direction, t http2session.FrameType, flags muxtypes.Flag) {
	if t != http2session.FrameHeaders && t != http2session.FrameData {
		return
	}
	if !flags.Has(muxtypes.FlagEndStream) {
		return
	}

	key := streamKey{sid: sid, bid: bid}
	h.mu.Lock()
	isWS := h.upgraded[key]
	st := h.streams[key]
	h.mu.Unlock()
	if isWS || st == nil {
		return
	}

	if err := st.Http.Commit(); err != nil {
		h.onErrorCallback(bid, errkind.Wrap(errkind.HTTP2Recv, err, "stream header commit failed"))
		return
	}
	callbackbus.Invoke(h.bus, callbackbus.Headers, h.onErrorCallback, bid, func(fn HeadersFunc) {
		fn(sid, bid)
	})
	h.prepare(sid, bid)
}

func (h *Hub) onH2Closed(sid muxtypes.StreamId, bid muxtypes.ConnectionId, code http2session.ErrCode) {
	key := streamKey{sid: sid, bid: bid}
	h.mu.Lock()
	delete(h.streams, key)
	delete(h.upgraded, key)
	h.mu.Unlock()

	if code != 0 {
		h.onErrorCallback(bid, errkind.Newf(errkind.HTTP2Recv, "stream %d closed with error code %v", sid, code))
	}
	callbackbus.Invoke(h.bus, callbackbus.Stream, h.onErrorCallback, bid, func(fn StreamFunc) {
		fn(sid, bid, muxtypes.StreamClose)
	})
}

// onH1Request is Http1Engine's per-message completion signal (headers + any
// body fully read). The actual response is produced from onH1Dispatch once
// the upgrade decision (made between Request and Dispatch) is known.
func (h *Hub) onH1Request(bid muxtypes.ConnectionId) {}

// onH1Headers fires once the header block (no body yet) is parsed.
func (h *Hub) onH1Headers(bid muxtypes.ConnectionId) {
	callbackbus.Invoke(h.bus, callbackbus.Headers, h.onErrorCallback, bid, func(fn HeadersFunc) {
		fn(muxtypes.StreamIdHTTP1, bid)
	})
}

func (h *Hub) onH1Chunk(bid muxtypes.ConnectionId, b []byte) {
	callbackbus.Invoke(h.bus, callbackbus.Entity, h.onErrorCallback, bid, func(fn EntityFunc) {
		fn(muxtypes.StreamIdHTTP1, bid, b)
	})
}

func (h *Hub) onH1UpgradeRequested(bid muxtypes.ConnectionId) bool {
	p := h.h1.Parser(bid)
	if p == nil {
		return false
	}
	method, _, _ := p.Request()
	upgrade, _ := p.Headers().Get("Upgrade")
	return h.cfg.WebSocketEnabled && method == "GET" && strings.EqualFold(upgrade, "websocket")
}

func (h *Hub) onH1Dispatch(bid muxtypes.ConnectionId) {
	h.prepare(muxtypes.StreamIdHTTP1, bid)
}

func (h *Hub) onH1Error(bid muxtypes.ConnectionId, err *errkind.Error) {
	h.onErrorCallback(bid, err)
	h.Close(bid)
}

func (h *Hub) onWsMessage(bid muxtypes.ConnectionId, opcode int, payload []byte) {
	callbackbus.Invoke(h.bus, callbackbus.MessageWebsocket, nil, bid, func(fn MessageWebsocketFunc) {
		fn(bid, opcode, payload)
	})
}

func (h *Hub) onWsClosed(bid muxtypes.ConnectionId, code int, reason string) {
	h.Close(bid)
}

func (h *Hub) onWsError(bid muxtypes.ConnectionId, err *errkind.Error) {
	callbackbus.Invoke(h.bus, callbackbus.ErrorWebsocket, nil, bid, func(fn ErrorWebsocketFunc) {
		fn(bid, err)
	})
}
