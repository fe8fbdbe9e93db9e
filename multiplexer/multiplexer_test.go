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
	"strings"
	"sync"
	"testing"

	"github.com/httpmuxd/httpmuxd/callbackbus"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// fakeAdapter is a minimal in-memory transport.Adapter that records what was
// sent instead of touching a real socket.
type fakeAdapter struct {
	mu    sync.Mutex
	proto muxtypes.Protocol
	sent  [][]byte
	closed bool
}

func (a *fakeAdapter) Proto(muxtypes.ConnectionId) muxtypes.Protocol { return a.proto }
func (a *fakeAdapter) Send(buf []byte, bid muxtypes.ConnectionId) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	a.sent = append(a.sent, cp)
	return true
}
func (a *fakeAdapter) Close(muxtypes.ConnectionId)                            { a.closed = true }
func (a *fakeAdapter) PeerCertificate(muxtypes.ConnectionId) *x509.Certificate { return nil }

func newTestHub(proto muxtypes.Protocol) (*Hub, *fakeAdapter) {
	adapter := &fakeAdapter{proto: proto}
	bus := callbackbus.New()
	h := New(Config{
		Alive:       true,
		ChunkSize:   0,
		Compressors: nil,
		MaxRequests: 0,
	}, adapter, bus)
	return h, adapter
}

func TestHTTP1RequestResponseRoundTrip(t *testing.T) {
	h, adapter := newTestHub(muxtypes.ProtocolHTTP11)
	bid := muxtypes.ConnectionId(1)

	var gotMethod, gotURL string
	_ = callbackbus.Set(h.bus, callbackbus.Request, RequestFunc(func(sid muxtypes.StreamId, bid muxtypes.ConnectionId, resp *Responder) {
		resp.StatusCode = 200
		resp.Body = []byte("ok")
	}))

	h.onConnect(bid, 1)
	h.onRead([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"), bid, 1)

	_ = gotMethod
	_ = gotURL

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) == 0 {
		t.Fatal("expected a response to be sent")
	}
	resp := string(adapter.sent[0])
	if !strings.HasPrefix(resp, "HTTP/1.1 200 ") {
		t.Fatalf("unexpected status line: %q", resp)
	}
	if !strings.Contains(resp, "ok") {
		t.Fatalf("expected body in response: %q", resp)
	}
}

func TestHTTP1MissingHandlerDefaultsTo404(t *testing.T) {
	h, adapter := newTestHub(muxtypes.ProtocolHTTP11)
	bid := muxtypes.ConnectionId(2)

	h.onConnect(bid, 1)
	h.onRead([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"), bid, 1)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) == 0 {
		t.Fatal("expected a response to be sent")
	}
	if !strings.HasPrefix(string(adapter.sent[0]), "HTTP/1.1 404 ") {
		t.Fatalf("expected default 404, got %q", adapter.sent[0])
	}
}

func TestDisconnectEnqueuesForDeferredErase(t *testing.T) {
	h, _ := newTestHub(muxtypes.ProtocolHTTP11)
	bid := muxtypes.ConnectionId(3)

	h.onConnect(bid, 1)
	h.onDisconnect(bid, 1)

	if !h.disconnected.Has(bid) {
		t.Fatal("expected bid to be enqueued on the deferred-erase queue")
	}
	if h.optionsFor(bid) == nil {
		t.Fatal("options should survive until Erase reclaims them")
	}
}

func TestCloseLatchesAndHardClosesTransport(t *testing.T) {
	h, adapter := newTestHub(muxtypes.ProtocolHTTP11)
	bid := muxtypes.ConnectionId(4)

	h.onConnect(bid, 1)
	h.Close(bid)

	if !adapter.closed {
		t.Fatal("expected the transport adapter to be closed")
	}
	if !h.optionsFor(bid).Close {
		t.Fatal("expected options.Close to be latched")
	}
}

func TestAcceptCallbackCanRejectConnection(t *testing.T) {
	h, _ := newTestHub(muxtypes.ProtocolHTTP11)
	_ = callbackbus.Set(h.bus, callbackbus.Accept, AcceptFunc(func(host, ip string, port int, bid muxtypes.ConnectionId) bool {
		return host != "blocked"
	}))

	if h.onAccept("blocked", "1.2.3.4", 1, 1) {
		t.Fatal("expected blocked host to be rejected")
	}
	if !h.onAccept("ok-host", "1.2.3.4", 1, 2) {
		t.Fatal("expected non-blocked host to be accepted")
	}
}
