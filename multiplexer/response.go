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
	"strings"
	"sync/atomic"
	"time"

	"github.com/httpmuxd/httpmuxd/callbackbus"
	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/httpparser"
	"github.com/httpmuxd/httpmuxd/muxtypes"
	"github.com/httpmuxd/httpmuxd/wsframer"
)

// parserFor returns the live Parser for (bid, sid), whichever engine owns
// it: the connection-wide one for HTTP/1, the per-stream one for HTTP/2.
func (h *Hub) parserFor(bid muxtypes.ConnectionId, sid muxtypes.StreamId) *httpparser.Parser {
	if sid == muxtypes.StreamIdHTTP1 {
		return h.h1.Parser(bid)
	}
	st := h.streamFor(bid, sid)
	if st == nil {
		return nil
	}
	return st.Http
}

// wantsWebSocketUpgrade reports whether the just-completed request is a
// WebSocket upgrade: a classic RFC 6455 Upgrade header on HTTP/1, or an
// RFC 8441 Extended CONNECT with :protocol=websocket on HTTP/2. This is the
// detection question only — whether the upgrade is actually honored is
// gated separately on h.cfg.WebSocketEnabled.
func (h *Hub) wantsWebSocketUpgrade(sid muxtypes.StreamId, p *httpparser.Parser) bool {
	method, _, _ := p.Request()
	if sid == muxtypes.StreamIdHTTP1 {
		upgrade, _ := p.Headers().Get("Upgrade")
		return method == "GET" && strings.EqualFold(upgrade, "websocket")
	}
	return method == "CONNECT" && strings.EqualFold(p.ExtendedProtocol(), "websocket")
}

// unsupportedProtocolBody is the literal reason text §4.6.6/S4 require for a
// WebSocket upgrade requested against a listener with WebSocket disabled.
const unsupportedProtocolBody = "Requested protocol is not supported by this server"

// prepare implements §4.6.6: it gates the completed request on
// authentication and the WebSocket handshake, then either upgrades the
// connection or hands the request to the application callback.
func (h *Hub) prepare(sid muxtypes.StreamId, bid muxtypes.ConnectionId) {
	p := h.parserFor(bid, sid)
	if p == nil {
		return
	}

	h.mu.Lock()
	if sid == muxtypes.StreamIdHTTP1 {
		if opts := h.options[bid]; opts != nil {
			opts.Crypted, opts.Compressor = p.Crypted(), p.Compression()
		}
	} else if st := h.streams[streamKey{sid: sid, bid: bid}]; st != nil {
		st.Crypted, st.Compressor = p.Crypted(), p.Compression()
	}
	h.mu.Unlock()

	if verdict := p.Auth(bid); verdict == muxtypes.AuthFault {
		atomic.AddUint64(&h.authRejections, 1)
		h.onErrorCallback(bid, errkind.Info(errkind.HTTP1Recv, "authorization failed"))
		h.respondReject(sid, bid, p)
		return
	}

	if h.wantsWebSocketUpgrade(sid, p) {
		if !h.cfg.WebSocketEnabled {
			h.onErrorCallback(bid, errkind.New(errkind.HTTP1Recv, unsupportedProtocolBody))
			resp := &Responder{
				StatusCode: 505,
				Headers:    httpparser.NewHeaderMap(),
				Body:       []byte(unsupportedProtocolBody),
			}
			h.respondStatus(sid, bid, p, 505, resp)
			return
		}

		ok := p.Handshake("request")
		if ok {
			callbackbus.Invoke(h.bus, callbackbus.Handshake, h.onErrorCallback, bid, func(fn HandshakeFunc) {
				ok = fn(sid, bid)
			})
		}
		if !ok {
			h.respondStatus(sid, bid, p, 400, nil)
			return
		}
		h.websocket(sid, bid, p)
		return
	}

	atomic.AddUint64(&h.requestsHandled, 1)
	resp := &Responder{StatusCode: 404, Headers: httpparser.NewHeaderMap()}
	callbackbus.Invoke(h.bus, callbackbus.Request, h.onErrorCallback, bid, func(fn RequestFunc) {
		fn(sid, bid, resp)
	})
	h.respondStatus(sid, bid, p, resp.StatusCode, resp)
}

// respondStatus serializes and sends a normal application response.
func (h *Hub) respondStatus(sid muxtypes.StreamId, bid muxtypes.ConnectionId, p *httpparser.Parser, status int, resp *Responder) {
	var headers *httpparser.HeaderMap
	var body []byte
	if resp != nil {
		headers = resp.Headers
		body = resp.Body
	}

	if sid == muxtypes.StreamIdHTTP1 {
		if h.h1.Close(bid) {
			if headers == nil {
				headers = httpparser.NewHeaderMap()
			}
			headers.Set("Connection", "close")
		}
		h.core.Send(p.Process(status, headers, body), bid)
		h.finishHTTP1(bid)
		return
	}

	sess, ok := h.sessionFor(bid)
	if !ok {
		return
	}
	fields := p.Process2(status, headers)
	endStream := len(body) == 0
	var flag muxtypes.Flag
	if endStream {
		flag = muxtypes.FlagEndStream
	}
	_ = sess.SendHeaders(sid, fields, flag)
	if !endStream {
		_ = sess.SendData(sid, body, muxtypes.FlagEndStream)
	}
	h.finishComplete(sid, bid)
}

// respondReject serializes the FAULT path: an authentication challenge.
func (h *Hub) respondReject(sid muxtypes.StreamId, bid muxtypes.ConnectionId, p *httpparser.Parser) {
	status := 401
	if h.cfg.Identity == muxtypes.IdentityProxy {
		status = 407
	}

	if sid == muxtypes.StreamIdHTTP1 {
		headers := httpparser.NewHeaderMap()
		for _, f := range p.Reject2(status) {
			if f.Name == ":status" {
				continue
			}
			headers.Set(f.Name, f.Value)
		}
		h.core.Send(p.Process(status, headers, nil), bid)
		h.finishHTTP1(bid)
		return
	}

	sess, ok := h.sessionFor(bid)
	if !ok {
		return
	}
	_ = sess.SendHeaders(sid, p.Reject2(status), muxtypes.FlagEndStream)
	h.finishComplete(sid, bid)
}

func (h *Hub) finishHTTP1(bid muxtypes.ConnectionId) {
	h.finishComplete(muxtypes.StreamIdHTTP1, bid)
	if h.h1.Close(bid) {
		h.Close(bid)
		return
	}
	h.h1.FinishResponse(bid)
}

func (h *Hub) finishComplete(sid muxtypes.StreamId, bid muxtypes.ConnectionId) {
	callbackbus.Invoke(h.bus, callbackbus.Complete, h.onErrorCallback, bid, func(fn CompleteFunc) {
		fn(sid, bid)
	})
}

// websocket implements §4.6.7: it switches the connection (HTTP/1) or the
// single stream (HTTP/2, RFC 8441) over to WebSocket framing.
func (h *Hub) websocket(sid muxtypes.StreamId, bid muxtypes.ConnectionId, p *httpparser.Parser) {
	if sid == muxtypes.StreamIdHTTP1 {
		h.websocket1(bid, p)
		return
	}
	h.websocket2(sid, bid, p)
}

func (h *Hub) websocket1(bid muxtypes.ConnectionId, p *httpparser.Parser) {
	atomic.AddUint64(&h.websocketUpgrades, 1)
	key, _ := p.Headers().Get("Sec-WebSocket-Key")

	headers := httpparser.NewHeaderMap()
	headers.Set("Upgrade", "websocket")
	headers.Set("Connection", "Upgrade")
	headers.Set("Sec-WebSocket-Accept", httpparser.AcceptKey(key))

	h.core.Send(p.Process(101, headers, nil), bid)

	pr, pw := io.Pipe()
	conn := &ws1Conn{pr: pr, send: func(b []byte) error {
		if !h.core.Send(b, bid) {
			return errkind.New(errkind.Transport, "ws1 send failed")
		}
		return nil
	}}

	framer := wsframer.NewServer(bid, conn, h.wsConfig())
	sess := &ws1Session{pw: pw, framer: framer}
	framer.SetPongHandler(func(string) error {
		sess.mu.Lock()
		sess.lastPongAt = time.Now()
		sess.mu.Unlock()
		return nil
	})
	sess.lastPongAt = time.Now()

	h.mu.Lock()
	h.ws1[bid] = sess
	opts := h.options[bid]
	if opts != nil {
		opts.Agent = muxtypes.AgentWebSocket
	}
	h.mu.Unlock()

	go h.readWS1(bid, sess)
}

func (h *Hub) readWS1(bid muxtypes.ConnectionId, s *ws1Session) {
	for {
		opcode, payload, err := s.framer.ReadMessage()
		if err != nil {
			h.onWsClosed(bid, 1006, "read failed")
			return
		}
		h.onWsMessage(bid, opcode, payload)
	}
}

func (h *Hub) websocket2(sid muxtypes.StreamId, bid muxtypes.ConnectionId, p *httpparser.Parser) {
	sess, ok := h.sessionFor(bid)
	if !ok {
		return
	}
	atomic.AddUint64(&h.websocketUpgrades, 1)
	_ = sess.SendHeaders(sid, p.Process2(200, nil), muxtypes.FlagNone)

	h.mu.Lock()
	h.upgraded[streamKey{sid: sid, bid: bid}] = true
	opts := h.options[bid]
	if opts != nil {
		opts.Agent = muxtypes.AgentWebSocket
	}
	h.mu.Unlock()

	h.ws2.Open(bid, sid, func(b []byte) error {
		return sess.SendData(sid, b, muxtypes.FlagNone)
	}, h.wsConfig())
}
