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

package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/httpmuxd/httpmuxd/muxtypes"
)

type fakeSink struct {
	mu        sync.Mutex
	connected []muxtypes.ConnectionId
	read      [][]byte
	disc      chan muxtypes.ConnectionId
}

func newFakeSink() *fakeSink {
	return &fakeSink{disc: make(chan muxtypes.ConnectionId, 8)}
}

func (s *fakeSink) Accept(host, ip string, port int, bid muxtypes.ConnectionId) bool { return true }

func (s *fakeSink) Connect(bid muxtypes.ConnectionId, sid muxtypes.SchemeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, bid)
}

func (s *fakeSink) Disconnect(bid muxtypes.ConnectionId, sid muxtypes.SchemeId) {
	s.disc <- bid
}

func (s *fakeSink) Read(buf []byte, bid muxtypes.ConnectionId, sid muxtypes.SchemeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, append([]byte(nil), buf...))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestListenAcceptsAndDelivers(t *testing.T) {
	sink := newFakeSink()
	a := New(1, sink)
	addr := freeAddr(t)

	if err := a.Listen(Options{Address: addr}); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		sink.mu.Lock()
		got := len(sink.read) > 0
		sink.mu.Unlock()
		if got {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Read event")
		case <-time.After(time.Millisecond):
		}
	}

	sink.mu.Lock()
	if len(sink.connected) != 1 {
		t.Fatalf("expected one Connect event, got %d", len(sink.connected))
	}
	if string(sink.read[0]) != "hello" {
		t.Fatalf("unexpected payload: %q", sink.read[0])
	}
	bid := sink.connected[0]
	sink.mu.Unlock()

	if proto := a.Proto(bid); proto != muxtypes.ProtocolHTTP11 {
		t.Fatalf("expected HTTP11 for a plaintext connection, got %v", proto)
	}
	if ok := a.Send([]byte("world"), bid); !ok {
		t.Fatal("expected Send to succeed for a live connection")
	}
}

func TestAcceptRejectedClosesImmediately(t *testing.T) {
	sink := newFakeSink()
	a := New(1, sink)
	a.sink = rejectingSink{sink}
	addr := freeAddr(t)

	if err := a.Listen(Options{Address: addr}); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected the rejected connection to be closed by the server")
	}
}

type rejectingSink struct{ *fakeSink }

func (rejectingSink) Accept(host, ip string, port int, bid muxtypes.ConnectionId) bool {
	return false
}

func TestCloseDisconnectsConnection(t *testing.T) {
	sink := newFakeSink()
	a := New(1, sink)
	addr := freeAddr(t)

	if err := a.Listen(Options{Address: addr}); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var bid muxtypes.ConnectionId
	select {
	case bid = <-sinkConnectedBid(sink):
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connect")
	}

	a.Close(bid)

	select {
	case got := <-sink.disc:
		if got != bid {
			t.Fatalf("disconnect for wrong bid: got %d want %d", got, bid)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Disconnect event")
	}
}

// sinkConnectedBid polls sink for its first recorded Connect and returns it
// on a channel, since Connect fires from the accept goroutine.
func sinkConnectedBid(sink *fakeSink) <-chan muxtypes.ConnectionId {
	out := make(chan muxtypes.ConnectionId, 1)
	go func() {
		for {
			sink.mu.Lock()
			if len(sink.connected) > 0 {
				bid := sink.connected[0]
				sink.mu.Unlock()
				out <- bid
				return
			}
			sink.mu.Unlock()
			time.Sleep(time.Millisecond)
		}
	}()
	return out
}
