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

// Package transport implements TransportAdapter (C1): the TCP/TLS event
// source the Multiplexer consumes. It owns accept/read/write/close and
// reports the ALPN-negotiated protocol, but knows nothing about HTTP,
// HTTP/2 framing or WebSocket — those live above it.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/httpmuxd/httpmuxd/common"
	"github.com/httpmuxd/httpmuxd/logger"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// EventSink receives transport-level events, serialized per bid. The
// Multiplexer implements this interface.
type EventSink interface {
	// Accept decides whether to admit a newly-dialed connection.
	Accept(host, ip string, port int, bid muxtypes.ConnectionId) bool
	// Connect fires once admission succeeds and the connection is tracked.
	Connect(bid muxtypes.ConnectionId, sid muxtypes.SchemeId)
	// Disconnect fires when the peer or a local error closes the socket.
	Disconnect(bid muxtypes.ConnectionId, sid muxtypes.SchemeId)
	// Read delivers a chunk of bytes read off the wire.
	Read(buf []byte, bid muxtypes.ConnectionId, sid muxtypes.SchemeId)
}

// Adapter is the contract §4.1 describes: queryable protocol, outbound send,
// hard close, and (additive, §C.5) the peer certificate for mTLS-aware auth.
type Adapter interface {
	Proto(bid muxtypes.ConnectionId) muxtypes.Protocol
	Send(buf []byte, bid muxtypes.ConnectionId) bool
	Close(bid muxtypes.ConnectionId)
	PeerCertificate(bid muxtypes.ConnectionId) *x509.Certificate
}

// Options configures a listener.
type Options struct {
	Address    string
	TLS        *tls.Config
	ClientAuth tls.ClientAuthType
}

type connState struct {
	conn    net.Conn
	proto   muxtypes.Protocol
	writeMu sync.Mutex
}

// NetAdapter is the real net/tls-backed TransportAdapter implementation.
type NetAdapter struct {
	sid  muxtypes.SchemeId
	sink EventSink

	ln net.Listener

	mu      sync.RWMutex
	conns   map[muxtypes.ConnectionId]*connState
	bidSeed uint64
}

// New creates a NetAdapter reporting events to sink for listener sid. sink
// may be nil and supplied later via SetSink, since the Multiplexer built on
// top of a NetAdapter typically needs the NetAdapter itself first.
func New(sid muxtypes.SchemeId, sink EventSink) *NetAdapter {
	return &NetAdapter{
		sid:   sid,
		sink:  sink,
		conns: make(map[muxtypes.ConnectionId]*connState),
	}
}

// SetSink attaches the event sink after construction, for callers that must
// build the Multiplexer from the NetAdapter before the NetAdapter can know
// its own sink.
func (a *NetAdapter) SetSink(sink EventSink) { a.sink = sink }

// Listen opens the listening socket (TLS if opts.TLS is non-nil) and starts
// the accept loop in a background goroutine. It returns once the socket is
// bound — open(sid) in §4.1 terms.
func (a *NetAdapter) Listen(opts Options) error {
	var ln net.Listener
	var err error
	if opts.TLS != nil {
		cfg := opts.TLS.Clone()
		if len(cfg.NextProtos) == 0 {
			cfg.NextProtos = []string{"h2", "http/1.1"}
		}
		cfg.ClientAuth = opts.ClientAuth
		ln, err = tls.Listen("tcp", opts.Address, cfg)
	} else {
		ln, err = net.Listen("tcp", opts.Address)
	}
	if err != nil {
		return err
	}
	a.ln = ln
	logger.Infof("transport: listening on %s (tls=%v)", opts.Address, opts.TLS != nil)

	go a.acceptLoop()
	return nil
}

// Stop closes the listening socket; in-flight connections are unaffected.
func (a *NetAdapter) Stop() error {
	if a.ln == nil {
		return nil
	}
	return a.ln.Close()
}

func (a *NetAdapter) acceptLoop() {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return
		}
		go a.handle(conn)
	}
}

func (a *NetAdapter) allocateBid(conn net.Conn) muxtypes.ConnectionId {
	seed := atomic.AddUint64(&a.bidSeed, 1)
	h := xxhash.New()
	h.Write([]byte(conn.RemoteAddr().String()))
	h.Write([]byte{byte(seed), byte(seed >> 8), byte(seed >> 16), byte(seed >> 24)})
	return muxtypes.ConnectionId(h.Sum64())
}

func splitHostPort(addr net.Addr) (host, ip string, port int) {
	h, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), addr.String(), 0
	}
	port, _ = strconv.Atoi(p)
	return h, h, port
}

func protoFromALPN(negotiated string) muxtypes.Protocol {
	if negotiated == "h2" {
		return muxtypes.ProtocolHTTP2
	}
	return muxtypes.ProtocolHTTP11
}

func (a *NetAdapter) handle(conn net.Conn) {
	bid := a.allocateBid(conn)
	host, ip, port := splitHostPort(conn.RemoteAddr())

	if !a.sink.Accept(host, ip, port, bid) {
		_ = conn.Close()
		return
	}

	state := &connState{conn: conn, proto: muxtypes.ProtocolHTTP11}
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			logger.Warnf("transport: tls handshake failed bid=%d: %v", bid, err)
			_ = conn.Close()
			return
		}
		state.proto = protoFromALPN(tlsConn.ConnectionState().NegotiatedProtocol)
	}

	a.mu.Lock()
	a.conns[bid] = state
	a.mu.Unlock()

	a.sink.Connect(bid, a.sid)

	buf := make([]byte, common.ReadWriteBlockSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			a.sink.Read(buf[:n], bid, a.sid)
		}
		if err != nil {
			break
		}
	}

	a.mu.Lock()
	delete(a.conns, bid)
	a.mu.Unlock()
	a.sink.Disconnect(bid, a.sid)
}

// Proto implements Adapter.
func (a *NetAdapter) Proto(bid muxtypes.ConnectionId) muxtypes.Protocol {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.conns[bid]
	if !ok {
		return muxtypes.ProtocolUnknown
	}
	return st.proto
}

// Send implements Adapter.
func (a *NetAdapter) Send(buf []byte, bid muxtypes.ConnectionId) bool {
	a.mu.RLock()
	st, ok := a.conns[bid]
	a.mu.RUnlock()
	if !ok {
		return false
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	_, err := st.conn.Write(buf)
	return err == nil
}

// Close implements Adapter.
func (a *NetAdapter) Close(bid muxtypes.ConnectionId) {
	a.mu.RLock()
	st, ok := a.conns[bid]
	a.mu.RUnlock()
	if !ok {
		return
	}
	_ = st.conn.Close()
}

// PeerCertificate implements the additive mTLS accessor from §C.5.
func (a *NetAdapter) PeerCertificate(bid muxtypes.ConnectionId) *x509.Certificate {
	a.mu.RLock()
	st, ok := a.conns[bid]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	tlsConn, ok := st.conn.(*tls.Conn)
	if !ok {
		return nil
	}
	chains := tlsConn.ConnectionState().PeerCertificates
	if len(chains) == 0 {
		return nil
	}
	return chains[0]
}
