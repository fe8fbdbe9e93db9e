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

package http1engine

import (
	"testing"

	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

type fakeSink struct {
	requests   []muxtypes.ConnectionId
	headers    []muxtypes.ConnectionId
	chunks     [][]byte
	dispatched []muxtypes.ConnectionId
	errors     []*errkind.Error
	upgrade    bool
}

func (s *fakeSink) Request(bid muxtypes.ConnectionId) { s.requests = append(s.requests, bid) }
func (s *fakeSink) Headers(bid muxtypes.ConnectionId) { s.headers = append(s.headers, bid) }
func (s *fakeSink) Chunk(bid muxtypes.ConnectionId, b []byte) {
	s.chunks = append(s.chunks, append([]byte(nil), b...))
}
func (s *fakeSink) Dispatch(bid muxtypes.ConnectionId) { s.dispatched = append(s.dispatched, bid) }
func (s *fakeSink) UpgradeRequested(bid muxtypes.ConnectionId) bool { return s.upgrade }
func (s *fakeSink) Error(bid muxtypes.ConnectionId, err *errkind.Error) {
	s.errors = append(s.errors, err)
}

const bid = muxtypes.ConnectionId(1)

func TestReadEventsDispatchesSimpleGet(t *testing.T) {
	sink := &fakeSink{}
	e := New(Config{Alive: true}, sink)
	e.ConnectEvents(bid)

	req := "GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n"
	e.ReadEvents([]byte(req), bid)

	if len(sink.errors) != 0 {
		t.Fatalf("unexpected errors: %v", sink.errors)
	}
	if len(sink.headers) != 1 {
		t.Fatalf("expected one Headers event, got %d", len(sink.headers))
	}
	if len(sink.dispatched) != 1 {
		t.Fatalf("expected one Dispatch event, got %d", len(sink.dispatched))
	}

	p := e.Parser(bid)
	method, url, _ := p.Request()
	if method != "GET" || url != "/hello" {
		t.Fatalf("unexpected request line: %s %s", method, url)
	}
}

func TestReadEventsBuffersContentLengthBody(t *testing.T) {
	sink := &fakeSink{}
	e := New(Config{Alive: true}, sink)
	e.ConnectEvents(bid)

	req := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhel"
	e.ReadEvents([]byte(req), bid)
	if len(sink.dispatched) != 0 {
		t.Fatal("expected dispatch to wait for the full body")
	}

	e.ReadEvents([]byte("lo"), bid)
	if len(sink.dispatched) != 1 {
		t.Fatalf("expected dispatch once the body completed, got %d", len(sink.dispatched))
	}
	if len(sink.chunks) != 2 {
		t.Fatalf("expected two body chunks, got %d", len(sink.chunks))
	}
	if string(sink.chunks[0])+string(sink.chunks[1]) != "hello" {
		t.Fatalf("unexpected reassembled body: %q %q", sink.chunks[0], sink.chunks[1])
	}
}

func TestReadEventsDecodesChunkedBody(t *testing.T) {
	sink := &fakeSink{}
	e := New(Config{Alive: true}, sink)
	e.ConnectEvents(bid)

	req := "POST /chunked HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"
	e.ReadEvents([]byte(req), bid)

	if len(sink.errors) != 0 {
		t.Fatalf("unexpected errors: %v", sink.errors)
	}
	if len(sink.dispatched) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(sink.dispatched))
	}
	if len(sink.chunks) != 1 || string(sink.chunks[0]) != "hello" {
		t.Fatalf("unexpected chunk decode: %v", sink.chunks)
	}
}

func TestPipeliningBeforeDispatchIsRejected(t *testing.T) {
	sink := &fakeSink{}
	e := New(Config{Alive: true}, sink)
	e.ConnectEvents(bid)

	req := "GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n"
	e.ReadEvents([]byte(req), bid)

	if len(sink.errors) != 1 {
		t.Fatalf("expected one protocol error for pipelined input, got %d", len(sink.errors))
	}
	if !e.Close(bid) {
		t.Fatal("expected the connection to latch close after a pipelining violation")
	}
}

func TestFinishResponseResetsForNextRequest(t *testing.T) {
	sink := &fakeSink{}
	e := New(Config{Alive: true}, sink)
	e.ConnectEvents(bid)

	e.ReadEvents([]byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n"), bid)
	if len(sink.dispatched) != 1 {
		t.Fatalf("expected first dispatch, got %d", len(sink.dispatched))
	}

	e.FinishResponse(bid)
	e.ReadEvents([]byte("GET /b HTTP/1.1\r\nHost: x\r\n\r\n"), bid)
	if len(sink.dispatched) != 2 {
		t.Fatalf("expected second dispatch after FinishResponse, got %d", len(sink.dispatched))
	}
	method, url, _ := e.Parser(bid).Request()
	if method != "GET" || url != "/b" {
		t.Fatalf("expected the parser reset to the second request, got %s %s", method, url)
	}
}

func TestMaxRequestsClosesConnection(t *testing.T) {
	sink := &fakeSink{}
	e := New(Config{Alive: false, MaxRequests: 1}, sink)
	e.ConnectEvents(bid)

	e.ReadEvents([]byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n"), bid)
	if !e.Close(bid) {
		t.Fatal("expected MaxRequests: 1 to latch close after one request")
	}
}
