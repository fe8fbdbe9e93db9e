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
	"crypto/x509"
	"time"

	"github.com/httpmuxd/httpmuxd/callbackbus"
	"github.com/httpmuxd/httpmuxd/muxtypes"
	"github.com/httpmuxd/httpmuxd/wsframer"
)

// Pinging implements §4.6.8: it drives the half-interval PING policy for
// every open classic (RFC 6455) WebSocket connection. WS-over-H2 connections
// are driven by ws2engine.Engine.Pinging, which this method calls first since
// that engine owns its own connection map.
func (h *Hub) Pinging(now time.Time) {
	h.ws2.Pinging(now)

	h.mu.Lock()
	entries := make([]struct {
		bid muxtypes.ConnectionId
		s   *ws1Session
	}, 0, len(h.ws1))
	for bid, s := range h.ws1 {
		entries = append(entries, struct {
			bid muxtypes.ConnectionId
			s   *ws1Session
		}{bid, s})
	}
	h.mu.Unlock()

	for _, e := range entries {
		cfg := h.wsConfig()
		if cfg.PingInterval <= 0 {
			continue
		}
		e.s.mu.Lock()
		lastPong := e.s.lastPongAt
		e.s.mu.Unlock()

		if now.Sub(lastPong) > cfg.PongWait {
			_ = e.s.framer.WriteClose(1011, "ping timeout")
			h.onWsClosed(e.bid, 1011, "ping timeout")
			continue
		}
		if now.Sub(e.s.framer.LastSendAt()) > cfg.PingInterval/2 {
			_ = e.s.framer.WriteControl(wsframer.OpPing, nil, now.Add(time.Second))
		}
	}
}

// Erase implements §4.6.9: it reclaims state for connections whose deferred-
// erase window (common.DeferredEraseWindow) has elapsed since disconnect,
// then notifies the "erase" callback.
func (h *Hub) Erase(now time.Time) {
	for _, bid := range h.disconnected.Expired(now) {
		h.mu.Lock()
		delete(h.options, bid)
		delete(h.sessions, bid)
		delete(h.ws1, bid)
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

		h.ws2.Erase(bid)
		h.disconnected.Remove(bid)

		callbackbus.Invoke(h.bus, callbackbus.Erase, nil, bid, func(fn EraseFunc) {
			fn(bid)
		})
	}
}

// Close implements §4.6.10: an immediate, hard close of bid, latching Close
// on its options so any in-flight onRead/step calls stop making progress.
func (h *Hub) Close(bid muxtypes.ConnectionId) {
	h.mu.Lock()
	if opts, ok := h.options[bid]; ok {
		opts.Close = true
	}
	h.mu.Unlock()
	h.core.Close(bid)
}

// Shutdown is the additive graceful-close operation from SPEC_FULL §C.1: an
// HTTP/2 connection gets GOAWAY(NO_ERROR) so in-flight streams can finish;
// an HTTP/1 connection has its options marked non-keep-alive and Close, so
// bytes read from it afterwards are ignored; its transport is not closed here.
func (h *Hub) Shutdown(bid muxtypes.ConnectionId) {
	h.mu.Lock()
	opts, ok := h.options[bid]
	sess, hasSession := h.sessions[bid]
	h.mu.Unlock()
	if !ok {
		return
	}

	if hasSession {
		_ = sess.Shutdown(0)
		return
	}
	opts.Alive = false
	opts.Close = true
}

// PeerCertificate exposes the additive mTLS accessor from §C.5 through the
// Hub so application callbacks don't need their own transport.Adapter handle.
func (h *Hub) PeerCertificate(bid muxtypes.ConnectionId) *x509.Certificate {
	return h.core.PeerCertificate(bid)
}

// NotifyLaunched fires the "launched" callback once a listener has bound its
// socket; the controller calls this after transport.NetAdapter.Listen
// succeeds for sid.
func (h *Hub) NotifyLaunched(sid muxtypes.SchemeId) {
	callbackbus.Invoke(h.bus, callbackbus.Launched, nil, 0, func(fn LaunchedFunc) {
		fn(sid)
	})
}
