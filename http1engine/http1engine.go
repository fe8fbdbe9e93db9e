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

// Package http1engine implements Http1Engine (C5): the per-connection
// HTTP/1.1 state machine (REQ_LINE -> HEADERS -> [BODY] -> DISPATCH) and the
// host for a WebSocket-over-HTTP/1 upgrade (RFC 6455). Pipelining is
// rejected: a second request line observed before the in-flight one
// completes is a protocol error.
//
// Line scanning reuses the teacher's internal/splitio.Scanner, which avoids
// the extra copy *bufio.Scanner performs per line.
package http1engine

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/httpparser"
	"github.com/httpmuxd/httpmuxd/internal/splitio"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// phase is the per-connection state (§4.5).
type phase uint8

const (
	phaseReqLine phase = iota
	phaseHeaders
	phaseBody
	phaseDispatch
	phaseUpgraded
)

type bodyMode uint8

const (
	bodyNone bodyMode = iota
	bodyLength
	bodyChunked
)

// Sink receives the signals Http1Engine produces while assembling a request,
// mirroring the shape of http2session.Sink so the Multiplexer can treat both
// uniformly where it makes sense.
type Sink interface {
	Request(bid muxtypes.ConnectionId)
	Headers(bid muxtypes.ConnectionId)
	Chunk(bid muxtypes.ConnectionId, b []byte)
	Dispatch(bid muxtypes.ConnectionId)
	UpgradeRequested(bid muxtypes.ConnectionId) bool
	Error(bid muxtypes.ConnectionId, err *errkind.Error)
}

// Config is the immutable per-service configuration Http1Engine needs to
// build each connection's Parser.
type Config struct {
	Alive         bool
	MaxRequests   uint32
	ChunkSize     int
	Compressors   []muxtypes.CompressorId
	Identity      muxtypes.Identity
	AuthType      muxtypes.AuthType
	Hash          muxtypes.HashAlg
	Realm, Opaque string
	Encryption    httpparser.EncryptionConfig
	IdentID       string
	IdentName     string
	IdentVer      string
}

type connState struct {
	parser *httpparser.Parser

	ph    phase
	pend  bytes.Buffer
	body  bodyMode
	chunk chunkState

	contentLength int64
	bodyRead      int64

	alive    bool
	requests uint32
	close    bool
}

type chunkState struct {
	awaitingSize bool
	remaining    int64
}

// Engine is Http1Engine.
type Engine struct {
	cfg  Config
	sink Sink

	conns map[muxtypes.ConnectionId]*connState
}

// New creates an Engine bound to sink.
func New(cfg Config, sink Sink) *Engine {
	return &Engine{cfg: cfg, sink: sink, conns: make(map[muxtypes.ConnectionId]*connState)}
}

// ConnectEvents registers bid, building its Parser with the shared service
// configuration.
func (e *Engine) ConnectEvents(bid muxtypes.ConnectionId) {
	p := httpparser.New()
	p.SetID(bid)
	p.SetChunkSize(e.cfg.ChunkSize)
	p.SetCompressors(e.cfg.Compressors)
	p.SetIdentity(e.cfg.Identity)
	p.SetEncryption(e.cfg.Encryption)
	p.SetRealm(e.cfg.Realm)
	p.SetOpaque(e.cfg.Opaque)
	p.SetAuthType(e.cfg.AuthType, e.cfg.Hash)
	p.SetIdent(e.cfg.IdentID, e.cfg.IdentName, e.cfg.IdentVer)

	e.conns[bid] = &connState{parser: p, alive: e.cfg.Alive}
}

// DisconnectEvents drops bid's state.
func (e *Engine) DisconnectEvents(bid muxtypes.ConnectionId) {
	delete(e.conns, bid)
}

// Parser returns the live Parser for bid, or nil.
func (e *Engine) Parser(bid muxtypes.ConnectionId) *httpparser.Parser {
	st, ok := e.conns[bid]
	if !ok {
		return nil
	}
	return st.parser
}

// Close reports whether bid has latched close (max-requests or an error).
func (e *Engine) Close(bid muxtypes.ConnectionId) bool {
	st, ok := e.conns[bid]
	return ok && st.close
}

// ReadEvents feeds bytes from the transport into bid's state machine,
// advancing it as far as the currently-buffered bytes allow.
func (e *Engine) ReadEvents(buf []byte, bid muxtypes.ConnectionId) {
	st, ok := e.conns[bid]
	if !ok {
		return
	}
	st.pend.Write(buf)

	for e.step(bid, st) {
	}
}

// step processes as much of st.pend as a single phase transition allows; it
// returns true if progress was made and another step should be attempted.
func (e *Engine) step(bid muxtypes.ConnectionId, st *connState) bool {
	switch st.ph {
	case phaseReqLine:
		line, ok := popLine(&st.pend)
		if !ok {
			return false
		}
		if err := st.parser.RequestLine(line); err != nil {
			e.sink.Error(bid, errkind.Wrap(errkind.HTTP1Recv, err, "malformed request line"))
			st.close = true
			return false
		}
		st.ph = phaseHeaders
		return true

	case phaseHeaders:
		line, ok := popLine(&st.pend)
		if !ok {
			return false
		}
		if line == "" {
			return e.finishHeaders(bid, st)
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			e.sink.Error(bid, errkind.New(errkind.HTTP1Recv, "malformed header line"))
			st.close = true
			return false
		}
		st.parser.Header(strings.TrimSpace(k), strings.TrimSpace(v))
		return true

	case phaseBody:
		return e.stepBody(bid, st)

	case phaseDispatch, phaseUpgraded:
		// Pipelining is not supported: a second request line arriving
		// before dispatch completes is a protocol error.
		if st.pend.Len() > 0 && st.ph == phaseDispatch {
			e.sink.Error(bid, errkind.New(errkind.Protocol, "pipelined request before response completed"))
			st.close = true
		}
		return false
	}
	return false
}

func (e *Engine) finishHeaders(bid muxtypes.ConnectionId, st *connState) bool {
	if err := st.parser.Commit(); err != nil {
		e.sink.Error(bid, errkind.Wrap(errkind.HTTP1Recv, err, "header commit failed"))
		st.close = true
		return false
	}
	e.sink.Headers(bid)

	if cl, ok := st.parser.Headers().Get("Content-Length"); ok {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			e.sink.Error(bid, errkind.New(errkind.HTTP1Recv, "invalid Content-Length"))
			st.close = true
			return false
		}
		st.body = bodyLength
		st.contentLength = n
	} else if te, ok := st.parser.Headers().Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		st.body = bodyChunked
		st.chunk.awaitingSize = true
	} else {
		st.body = bodyNone
	}

	if cc, ok := st.parser.Headers().Get("Connection"); ok {
		if strings.EqualFold(strings.TrimSpace(cc), "keep-alive") {
			st.alive = true
		} else if strings.EqualFold(strings.TrimSpace(cc), "close") {
			st.alive = false
			st.close = true
		}
	}

	if st.body == bodyNone {
		return e.dispatch(bid, st)
	}
	st.ph = phaseBody
	return true
}

func (e *Engine) stepBody(bid muxtypes.ConnectionId, st *connState) bool {
	switch st.body {
	case bodyLength:
		need := st.contentLength - st.bodyRead
		avail := int64(st.pend.Len())
		if avail == 0 && need > 0 {
			return false
		}
		take := need
		if avail < take {
			take = avail
		}
		chunk := make([]byte, take)
		_, _ = st.pend.Read(chunk)
		st.parser.AppendBody(chunk)
		e.sink.Chunk(bid, chunk)
		st.bodyRead += take
		if st.bodyRead >= st.contentLength {
			return e.dispatch(bid, st)
		}
		return false

	case bodyChunked:
		return e.stepChunked(bid, st)
	}
	return e.dispatch(bid, st)
}

func (e *Engine) stepChunked(bid muxtypes.ConnectionId, st *connState) bool {
	if st.chunk.awaitingSize {
		line, ok := popLine(&st.pend)
		if !ok {
			return false
		}
		sizeStr, _, _ := strings.Cut(line, ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
		if err != nil || size < 0 {
			e.sink.Error(bid, errkind.New(errkind.HTTP1Recv, "invalid chunk size"))
			st.close = true
			return false
		}
		if size == 0 {
			return e.finishTrailers(bid, st)
		}
		st.chunk.remaining = size
		st.chunk.awaitingSize = false
		return true
	}

	if st.chunk.remaining > 0 {
		avail := int64(st.pend.Len())
		if avail == 0 {
			return false
		}
		take := st.chunk.remaining
		if avail < take {
			take = avail
		}
		chunk := make([]byte, take)
		_, _ = st.pend.Read(chunk)
		st.parser.AppendBody(chunk)
		e.sink.Chunk(bid, chunk)
		st.chunk.remaining -= take
		return true
	}

	// Trailing CRLF after chunk data.
	if _, ok := popLine(&st.pend); !ok {
		return false
	}
	st.chunk.awaitingSize = true
	return true
}

func (e *Engine) finishTrailers(bid muxtypes.ConnectionId, st *connState) bool {
	for {
		line, ok := popLine(&st.pend)
		if !ok {
			return false
		}
		if line == "" {
			return e.dispatch(bid, st)
		}
		k, v, ok := strings.Cut(line, ":")
		if ok {
			st.parser.Trailer(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

// dispatch enforces max-requests and hands off to the Multiplexer.
func (e *Engine) dispatch(bid muxtypes.ConnectionId, st *connState) bool {
	if !e.cfg.Alive && !st.alive {
		st.requests++
		st.close = e.cfg.MaxRequests > 0 && st.requests >= e.cfg.MaxRequests
	} else {
		st.requests = 0
	}

	e.sink.Request(bid)

	if e.sink.UpgradeRequested(bid) {
		st.ph = phaseUpgraded
	} else {
		st.ph = phaseDispatch
	}
	// Pipelining is not supported: bytes of a further request already
	// buffered behind this one are a protocol error once it is dispatched.
	pipelined := st.ph == phaseDispatch && st.pend.Len() > 0
	e.sink.Dispatch(bid)
	if pipelined {
		e.sink.Error(bid, errkind.New(errkind.Protocol, "pipelined request before response completed"))
		st.close = true
	}
	return false
}

// FinishResponse resets the connection back to REQ_LINE for the next
// keep-alive request, or leaves it closed.
func (e *Engine) FinishResponse(bid muxtypes.ConnectionId) {
	st, ok := e.conns[bid]
	if !ok || st.close {
		return
	}
	st.parser.Reset()
	st.body = bodyNone
	st.bodyRead = 0
	st.contentLength = 0
	st.ph = phaseReqLine
}

// popLine extracts one CRLF- or LF-terminated line (without the terminator)
// from buf if a complete line is available, using splitio's scanning idiom.
func popLine(buf *bytes.Buffer) (string, bool) {
	sc := splitio.NewScanner(buf.Bytes())
	if !sc.Scan() {
		return "", false
	}
	line := sc.Bytes()
	if len(line) == 0 || line[len(line)-1] != '\n' {
		return "", false
	}
	trimmed := bytes.TrimRight(line, "\r\n")
	out := make([]byte, len(trimmed))
	copy(out, trimmed)
	buf.Next(len(line))
	return string(out), true
}
