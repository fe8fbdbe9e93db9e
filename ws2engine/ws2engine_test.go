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

package ws2engine

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/muxtypes"
	"github.com/httpmuxd/httpmuxd/wsframer"
)

type fakeSink struct {
	mu       sync.Mutex
	messages chan []byte
	closed   []int
	errs     []*errkind.Error
}

func newFakeSink() *fakeSink {
	return &fakeSink{messages: make(chan []byte, 4)}
}

func (s *fakeSink) Message(bid muxtypes.ConnectionId, opcode int, payload []byte) {
	s.messages <- append([]byte(nil), payload...)
}

func (s *fakeSink) Closed(bid muxtypes.ConnectionId, code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, code)
}

func (s *fakeSink) Error(bid muxtypes.ConnectionId, err *errkind.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func TestOpenAndWriteMessageSendsFrameToSender(t *testing.T) {
	sink := newFakeSink()
	e := New(sink)

	var mu sync.Mutex
	var captured [][]byte
	send := func(b []byte) error {
		mu.Lock()
		captured = append(captured, append([]byte(nil), b...))
		mu.Unlock()
		return nil
	}
	e.Open(1, 3, send, wsframer.Config{FrameSize: 4096})
	defer e.Erase(1)

	if err := e.WriteMessage(1, wsframer.OpText, []byte("hi")); err != nil {
		t.Fatalf("write message: %v", err)
	}

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		mu.Lock()
		frames := captured
		mu.Unlock()
		for _, b := range frames {
			if _, err := c1.Write(b); err != nil {
				return
			}
		}
	}()

	client := websocket.NewConn(c2, false, 0, 0)
	client.SetReadDeadline(time.Now().Add(time.Second))
	opcode, payload, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("decode sent frame: %v", err)
	}
	if opcode != wsframer.OpText {
		t.Fatalf("expected text opcode, got %d", opcode)
	}
	if string(payload) != "hi" {
		t.Fatalf("unexpected payload: %q", payload)
	}
}

func TestFeedDeliversDecodedMessageToSink(t *testing.T) {
	sink := newFakeSink()
	e := New(sink)

	send := func([]byte) error { return nil }
	e.Open(2, 5, send, wsframer.Config{FrameSize: 4096})
	defer e.Erase(2)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	client := websocket.NewConn(c1, false, 0, 0)
	go func() { _ = client.WriteMessage(websocket.TextMessage, []byte("yo")) }()

	buf := make([]byte, 512)
	n, err := c2.Read(buf)
	if err != nil {
		t.Fatalf("read masked client frame: %v", err)
	}
	if err := e.Feed(2, buf[:n]); err != nil {
		t.Fatalf("feed: %v", err)
	}

	select {
	case payload := <-sink.messages:
		if string(payload) != "yo" {
			t.Fatalf("unexpected payload: %q", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded message")
	}
}

func TestEraseClosesSessionState(t *testing.T) {
	sink := newFakeSink()
	e := New(sink)
	send := func([]byte) error { return nil }
	e.Open(3, 7, send, wsframer.Config{FrameSize: 4096})

	e.Erase(3)

	if err := e.WriteMessage(3, wsframer.OpText, []byte("x")); err != nil {
		t.Fatalf("write after erase should be a no-op, got error: %v", err)
	}
}
