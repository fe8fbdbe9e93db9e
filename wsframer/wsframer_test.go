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

package wsframer

import (
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pipePair wraps net.Pipe as the "already-upgraded" connection NewServer
// expects, with a raw gorilla client on the other end standing in for the
// browser/peer.
func pipePair() (server net.Conn, client *websocket.Conn) {
	a, b := net.Pipe()
	client = websocket.NewConn(b, false, 0, 0)
	return a, client
}

func TestWriteMessageRoundTrips(t *testing.T) {
	raw, client := pipePair()
	f := NewServer(1, raw, Config{FrameSize: 4096})
	defer f.Close()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := f.WriteMessage(OpText, []byte("hello")); err != nil {
			t.Errorf("write message: %v", err)
		}
	}()

	client.SetReadDeadline(time.Now().Add(time.Second))
	opcode, payload, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if opcode != OpText {
		t.Fatalf("expected text opcode, got %d", opcode)
	}
	if string(payload) != "hello" {
		t.Fatalf("unexpected payload: %q", payload)
	}
	<-done
}

func TestReadMessageReceivesClientFrame(t *testing.T) {
	raw, client := pipePair()
	f := NewServer(1, raw, Config{FrameSize: 4096})
	defer f.Close()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := client.WriteMessage(websocket.BinaryMessage, []byte("payload")); err != nil {
			t.Errorf("client write: %v", err)
		}
	}()

	opcode, payload, err := f.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if opcode != OpBinary {
		t.Fatalf("expected binary opcode, got %d", opcode)
	}
	if string(payload) != "payload" {
		t.Fatalf("unexpected payload: %q", payload)
	}
	<-done
}

func TestWriteCloseSendsFormattedCloseFrame(t *testing.T) {
	raw, client := pipePair()
	f := NewServer(1, raw, Config{FrameSize: 4096})
	defer f.Close()

	var gotCode int
	client.SetCloseHandler(func(code int, text string) error {
		gotCode = code
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := f.WriteClose(websocket.CloseNormalClosure, "bye"); err != nil {
			t.Errorf("write close: %v", err)
		}
	}()

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := client.ReadMessage()
	if err == nil {
		t.Fatal("expected ReadMessage to report the close")
	}
	if gotCode != websocket.CloseNormalClosure {
		t.Fatalf("expected close code %d, got %d", websocket.CloseNormalClosure, gotCode)
	}
	<-done
}

func TestLastSendAtAdvancesOnWrite(t *testing.T) {
	raw, client := pipePair()
	f := NewServer(1, raw, Config{FrameSize: 4096})
	defer f.Close()
	defer client.Close()

	before := f.LastSendAt()
	time.Sleep(time.Millisecond)

	go func() { _ = f.WriteMessage(OpText, []byte("x")) }()
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := client.ReadMessage(); err != nil {
		t.Fatalf("client read: %v", err)
	}

	if !f.LastSendAt().After(before) {
		t.Fatal("expected LastSendAt to advance after WriteMessage")
	}
}
