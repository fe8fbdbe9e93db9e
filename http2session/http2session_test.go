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

package http2session

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/httpmuxd/httpmuxd/muxtypes"
)

type recordingSink struct {
	mu      sync.Mutex
	begun   []muxtypes.StreamId
	headers []string
	chunks  [][]byte
	frames  []FrameType
	closed  chan ErrCode
}

func newRecordingSink() *recordingSink {
	return &recordingSink{closed: make(chan ErrCode, 1)}
}

func (s *recordingSink) Begin(sid muxtypes.StreamId, bid muxtypes.ConnectionId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun = append(s.begun, sid)
}

func (s *recordingSink) Header(sid muxtypes.StreamId, bid muxtypes.ConnectionId, k, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = append(s.headers, k+"="+v)
}

func (s *recordingSink) Chunk(sid muxtypes.StreamId, bid muxtypes.ConnectionId, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), b...)
	s.chunks = append(s.chunks, cp)
}

func (s *recordingSink) Frame(sid muxtypes.StreamId, bid muxtypes.ConnectionId, dir muxtypes.Direction, t FrameType, flags muxtypes.Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, t)
}

func (s *recordingSink) Closed(sid muxtypes.StreamId, bid muxtypes.ConnectionId, code ErrCode) {
	select {
	case s.closed <- code:
	default:
	}
}

// TestSessionDecodesHeadersAndData drives a Session with a real client-side
// http2.Framer writing into the pipe Feed reads from, and asserts the
// decoded HEADERS+DATA signals reach the Sink.
func TestSessionDecodesHeadersAndData(t *testing.T) {
	var out bytes.Buffer
	sink := newRecordingSink()
	sess := New(1, &out, sink)
	defer sess.Close()

	if err := sess.Feed([]byte(http2.ClientPreface)); err != nil {
		t.Fatalf("feed preface: %v", err)
	}

	var hdrBuf bytes.Buffer
	enc := hpack.NewEncoder(&hdrBuf)
	_ = enc.WriteField(hpack.HeaderField{Name: ":method", Value: "GET"})
	_ = enc.WriteField(hpack.HeaderField{Name: ":path", Value: "/"})

	var wire bytes.Buffer
	clientFramer := http2.NewFramer(&wire, nil)
	if err := clientFramer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: hdrBuf.Bytes(),
		EndHeaders:    true,
		EndStream:     false,
	}); err != nil {
		t.Fatalf("write headers: %v", err)
	}
	if err := clientFramer.WriteData(1, true, []byte("hello")); err != nil {
		t.Fatalf("write data: %v", err)
	}

	if err := sess.Feed(wire.Bytes()); err != nil {
		t.Fatalf("feed frames: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		sink.mu.Lock()
		gotData := len(sink.chunks) > 0
		sink.mu.Unlock()
		if gotData {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for decoded DATA frame")
		case <-time.After(time.Millisecond):
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.begun) != 1 || sink.begun[0] != 1 {
		t.Fatalf("expected one Begin(1), got %v", sink.begun)
	}
	if len(sink.chunks) != 1 || string(sink.chunks[0]) != "hello" {
		t.Fatalf("unexpected chunks: %v", sink.chunks)
	}
}

// TestSendHeadersAndDataWritesFrames exercises the outbound path and checks
// the bytes written through w decode back into the expected frames.
func TestSendHeadersAndDataWritesFrames(t *testing.T) {
	var out bytes.Buffer
	sink := newRecordingSink()
	sess := New(2, &out, sink)
	defer sess.Close()

	if err := sess.SendHeaders(1, nil, muxtypes.FlagNone); err != nil {
		t.Fatalf("send headers: %v", err)
	}
	if err := sess.SendData(1, []byte("ok"), muxtypes.FlagEndStream); err != nil {
		t.Fatalf("send data: %v", err)
	}

	serverFramer := http2.NewFramer(nil, bytes.NewReader(out.Bytes()))
	f1, err := serverFramer.ReadFrame()
	if err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if _, ok := f1.(*http2.HeadersFrame); !ok {
		t.Fatalf("expected HEADERS frame, got %T", f1)
	}

	f2, err := serverFramer.ReadFrame()
	if err != nil {
		t.Fatalf("read second frame: %v", err)
	}
	df, ok := f2.(*http2.DataFrame)
	if !ok {
		t.Fatalf("expected DATA frame, got %T", f2)
	}
	if string(df.Data()) != "ok" {
		t.Fatalf("unexpected data payload: %q", df.Data())
	}
	if !df.StreamEnded() {
		t.Fatal("expected END_STREAM on the data frame")
	}
}

func TestShutdownSendsGoAwayNoError(t *testing.T) {
	var out bytes.Buffer
	sink := newRecordingSink()
	sess := New(3, &out, sink)
	defer sess.Close()

	if err := sess.Shutdown(5); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	serverFramer := http2.NewFramer(nil, bytes.NewReader(out.Bytes()))
	f, err := serverFramer.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	ga, ok := f.(*http2.GoAwayFrame)
	if !ok {
		t.Fatalf("expected GOAWAY frame, got %T", f)
	}
	if ga.ErrCode != http2.ErrCodeNo {
		t.Fatalf("expected NO_ERROR, got %v", ga.ErrCode)
	}
	if sess.CurrentState() != StateClosing {
		t.Fatalf("expected StateClosing after Shutdown, got %v", sess.CurrentState())
	}
}

func TestCloseReportsClosedToSinkViaReadLoop(t *testing.T) {
	var out bytes.Buffer
	sink := newRecordingSink()
	sess := New(4, &out, sink)

	if err := sess.Feed([]byte(http2.ClientPreface)); err != nil {
		t.Fatalf("feed preface: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-sink.closed:
	case <-time.After(time.Second):
		t.Fatal("expected Closed to fire after the session's pipe was closed")
	}
}
