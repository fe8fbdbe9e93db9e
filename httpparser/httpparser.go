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

// Package httpparser implements HttpParser (C2): the per-stream HTTP message
// assembler shared by Http1Engine and the Multiplexer's HTTP/2 streams. One Parser is created per
// HTTP/1 connection or per HTTP/2 stream; it accumulates headers and body,
// evaluates authentication, and serializes the matching response.
//
// Grounded on the request/response assembly idiom of the teacher's
// protocol/phttp decoder: a small state enum, reset()/archive() style
// lifecycle, and header storage that preserves multiset order.
package httpparser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/httpmuxd/httpmuxd/authpolicy"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// Suite selects which part of parser state Clear resets.
type Suite uint8

const (
	SuiteHeader Suite = iota
	SuiteBody
	SuiteTrailers
)

// Ident describes the server identity advertised in generated responses
// (e.g. a Server header), matching ServiceConfig.ident.
type Ident struct {
	ID   string
	Name string
	Ver  string
}

// Parser is HttpParser. It is not safe for concurrent use; Http1Engine (one
// per HTTP/1 connection) and the Multiplexer (one per HTTP/2 stream) own the
// instances and serialize access to them themselves.
type Parser struct {
	bid muxtypes.ConnectionId

	chunkSize  int
	identity   muxtypes.Identity
	compressor muxtypes.CompressorId
	compressors []muxtypes.CompressorId
	ident      Ident
	encryption EncryptionConfig
	crypted    bool

	authType muxtypes.AuthType
	authHash muxtypes.HashAlg
	realm    string
	opaque   string
	policy   *authpolicy.Policy

	authCallback    authpolicy.CheckPassword
	extractCallback authpolicy.ExtractPassword

	method, url, version string
	protocol             string
	headers              *HeaderMap
	trailers             *HeaderMap
	body                 bytes.Buffer
	pendingPayload       bytes.Buffer

	wbitServer, wbitClient int
	takeoverServer, takeoverClient bool
}

// New creates an empty Parser.
func New() *Parser {
	return &Parser{
		headers:  NewHeaderMap(),
		trailers: NewHeaderMap(),
	}
}

// Reset restores the parser to its post-construction state, ready for the
// next message on a connection that keeps the same Parser instance (HTTP/1
// keep-alive re-use).
func (p *Parser) Reset() {
	p.method, p.url, p.version, p.protocol = "", "", "", ""
	p.headers.Clear()
	p.trailers.Clear()
	p.body.Reset()
	p.pendingPayload.Reset()
	p.crypted = false
	p.compressor = muxtypes.CompressorIdentity
}

// Clear resets only the named suite, used when a stream must drop body or
// trailers without losing already-validated headers (e.g. after an error
// mid-body but before a retry of just the entity).
func (p *Parser) Clear(suite Suite) {
	switch suite {
	case SuiteHeader:
		p.headers.Clear()
	case SuiteBody:
		p.body.Reset()
		p.pendingPayload.Reset()
	case SuiteTrailers:
		p.trailers.Clear()
	}
}

func (p *Parser) SetID(bid muxtypes.ConnectionId) { p.bid = bid }
func (p *Parser) ID() muxtypes.ConnectionId       { return p.bid }

func (p *Parser) SetChunkSize(n int) { p.chunkSize = n }
func (p *Parser) ChunkSize() int     { return p.chunkSize }

func (p *Parser) SetIdentity(id muxtypes.Identity) { p.identity = id }
func (p *Parser) Identity() muxtypes.Identity      { return p.identity }

func (p *Parser) SetCompressors(list []muxtypes.CompressorId) { p.compressors = list }

func (p *Parser) SetIdent(id, name, ver string) { p.ident = Ident{ID: id, Name: name, Ver: ver} }

func (p *Parser) SetEncryption(cfg EncryptionConfig) { p.encryption = cfg }

// SetAuthType configures the authentication strategy and immediately rebuilds
// the underlying authpolicy.Policy from the realm/opaque/identity already set.
func (p *Parser) SetAuthType(t muxtypes.AuthType, hash muxtypes.HashAlg) {
	p.authType = t
	p.authHash = hash
	p.rebuildPolicy()
}

func (p *Parser) SetRealm(s string) {
	p.realm = s
	p.rebuildPolicy()
}

func (p *Parser) SetOpaque(s string) {
	p.opaque = s
	p.rebuildPolicy()
}

func (p *Parser) rebuildPolicy() {
	if p.authType == muxtypes.AuthNone {
		p.policy = nil
		return
	}
	p.policy = authpolicy.New(authpolicy.Config{
		Type:     p.authType,
		Hash:     p.authHash,
		Realm:    p.realm,
		Opaque:   p.opaque,
		Identity: p.identity,
	})
}

func (p *Parser) SetAuthCallback(fn authpolicy.CheckPassword)         { p.authCallback = fn }
func (p *Parser) SetExtractPassCallback(fn authpolicy.ExtractPassword) { p.extractCallback = fn }

// RequestLine parses an HTTP/1 request line ("METHOD URL VERSION").
func (p *Parser) RequestLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return errors.Errorf("httpparser: malformed request line %q", line)
	}
	p.method, p.url, p.version = fields[0], fields[1], fields[2]
	return nil
}

// Header records one HTTP/1 header field.
func (p *Parser) Header(k, v string) {
	p.headers.Set(k, v)
}

// Header2 records one HTTP/2 header or pseudo-header field. Pseudo-headers
// (":method", ":path", ":authority", ":scheme") populate the request line
// equivalents instead of the generic header map.
func (p *Parser) Header2(k, v string) {
	switch k {
	case ":method":
		p.method = v
	case ":path":
		p.url = v
		p.version = "HTTP/2"
	case ":authority":
		p.headers.Set("Host", v)
	case ":protocol":
		// RFC 8441 Extended CONNECT: ":protocol" names the upgraded protocol
		// ("websocket") carried on a :method=CONNECT request.
		p.protocol = v
	case ":scheme":
		// carried for completeness; not surfaced through Request()
	default:
		p.headers.Set(k, v)
	}
}

// Commit finalizes the header block: negotiates the content compressor from
// Accept-Encoding against the configured compressor list.
func (p *Parser) Commit() error {
	if p.method == "" {
		return errors.New("httpparser: commit without a request line")
	}
	if ae, ok := p.headers.Get("Accept-Encoding"); ok {
		tokens := strings.Split(ae, ",")
		for i := range tokens {
			tokens[i] = strings.TrimSpace(tokens[i])
		}
		p.compressor = negotiateCompressor(tokens, p.compressors)
	}
	p.crypted = p.encryption.Enabled
	return nil
}

// Request returns the parsed request line.
func (p *Parser) Request() (method, url, version string) {
	return p.method, p.url, p.version
}

// ExtendedProtocol returns the RFC 8441 ":protocol" pseudo-header value for
// an HTTP/2 Extended CONNECT request, or "" if none was sent.
func (p *Parser) ExtendedProtocol() string { return p.protocol }

// Headers returns the cumulative header multimap, including any fields
// contributed by CONTINUATION frames (the caller is expected to have kept
// calling Header2 across frames before Commit). Per the original
// implementation this is never a partial view.
func (p *Parser) Headers() *HeaderMap { return p.headers }

// Body returns the accumulated request/response body.
func (p *Parser) Body() []byte { return p.body.Bytes() }

// AppendBody appends raw bytes to the body, decrypting/decompressing lazily
// is the caller's responsibility (Multiplexer.prepare copies crypted/
// compressor state before this is read back).
func (p *Parser) AppendBody(b []byte) { p.body.Write(b) }

// Payload returns up to chunkSize bytes of outbound body not yet emitted,
// consuming them from the pending buffer. An empty slice means nothing left.
func (p *Parser) Payload() []byte {
	if p.chunkSize <= 0 {
		b := p.pendingPayload.Bytes()
		p.pendingPayload.Reset()
		return b
	}
	buf := make([]byte, p.chunkSize)
	n, _ := p.pendingPayload.Read(buf)
	return buf[:n]
}

// QueuePayload stages bytes to be drained via Payload.
func (p *Parser) QueuePayload(b []byte) { p.pendingPayload.Write(b) }

func (p *Parser) TrailerCount() int { return p.trailers.Len() }

func (p *Parser) Trailer(k, v string) { p.trailers.Set(k, v) }

func (p *Parser) Trailers2() []HeaderField { return p.trailers.Fields() }

// Crypted reports whether the current message is AEAD-encrypted.
func (p *Parser) Crypted() bool { return p.crypted }

// Compression returns the negotiated compressor for this message.
func (p *Parser) Compression() muxtypes.CompressorId { return p.compressor }

// Wbit returns the negotiated permessage-deflate window bits for the given
// handshake side (isClient false=server, true=client), as recorded by
// SetWbit.
func (p *Parser) Wbit(isClient bool) int {
	if isClient {
		return p.wbitClient
	}
	return p.wbitServer
}

// SetWbit records negotiated window bits for one side of the handshake.
func (p *Parser) SetWbit(isClient bool, bits int) {
	if isClient {
		p.wbitClient = bits
	} else {
		p.wbitServer = bits
	}
}

// Takeover reports whether context takeover is enabled for the given side.
func (p *Parser) Takeover(isClient bool) bool {
	if isClient {
		return p.takeoverClient
	}
	return p.takeoverServer
}

// SetTakeover toggles context takeover for the given side.
func (p *Parser) SetTakeover(isClient, enabled bool) {
	if isClient {
		p.takeoverClient = enabled
	} else {
		p.takeoverServer = enabled
	}
}

// Handshake reports whether all RFC 6455 WebSocket handshake tokens present
// in the request headers verify (Sec-WebSocket-Key, -Version).
func (p *Parser) Handshake(phase string) bool {
	key, _ := p.headers.Get("Sec-WebSocket-Key")
	version, _ := p.headers.Get("Sec-WebSocket-Version")
	return HandshakeTokensValid(key, version)
}

// Auth evaluates the configured authentication policy against the current
// request headers, returning AuthGood when no policy is configured.
func (p *Parser) Auth(bid muxtypes.ConnectionId) muxtypes.AuthVerdict {
	if p.policy == nil || !p.policy.Enabled() {
		return muxtypes.AuthGood
	}

	headerName := "Authorization"
	if p.identity == muxtypes.IdentityProxy {
		headerName = "Proxy-Authorization"
	}
	authz, ok := p.headers.Get(headerName)
	if !ok {
		return muxtypes.AuthFault
	}

	switch p.authType {
	case muxtypes.AuthBasic:
		return p.policy.VerifyBasic(bid, authz, p.authCallback)
	case muxtypes.AuthDigest:
		return p.policy.VerifyDigest(bid, authz, p.method, p.extractCallback)
	default:
		return muxtypes.AuthGood
	}
}

// Message returns the default reason phrase for a status code.
func (p *Parser) Message(code int) string { return ReasonPhrase(code) }

// serverHeader renders the configured Ident as a Server header value, or ""
// if no ident was set.
func (p *Parser) serverHeader() string {
	if p.ident.Name == "" {
		return ""
	}
	if p.ident.Ver == "" {
		return p.ident.Name
	}
	return p.ident.Name + "/" + p.ident.Ver
}

// Process serializes an HTTP/1.1 status line + headers + body into wire
// bytes, used by the Multiplexer to emit an HTTP/1 response.
func (p *Parser) Process(statusCode int, headers *HeaderMap, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", statusCode, p.Message(statusCode))
	hasServer := false
	if headers != nil {
		headers.Range(func(k string, values []string) {
			if strings.EqualFold(k, "Server") {
				hasServer = true
			}
			for _, v := range values {
				fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
			}
		})
	}
	if !hasServer {
		if server := p.serverHeader(); server != "" {
			fmt.Fprintf(&buf, "Server: %s\r\n", server)
		}
	}
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)
	return buf.Bytes()
}

// Process2 builds the HPACK-ready pseudo-header + header list for an HTTP/2
// response with the given status code.
func (p *Parser) Process2(statusCode int, extra *HeaderMap) []HeaderField {
	fields := []HeaderField{{Name: ":status", Value: strconv.Itoa(statusCode)}}
	hasServer := false
	if extra != nil {
		for _, f := range extra.Fields() {
			if strings.EqualFold(f.Name, "server") {
				hasServer = true
			}
		}
		fields = append(fields, extra.Fields()...)
	}
	if !hasServer {
		if server := p.serverHeader(); server != "" {
			fields = append(fields, HeaderField{Name: "server", Value: server})
		}
	}
	return fields
}

// Reject2 synthesizes the minimal header set for an authentication/handshake
// rejection response (§4.6.6 FAULT path): :status plus WWW-/Proxy-Authenticate
// when a challenge is active.
func (p *Parser) Reject2(statusCode int) []HeaderField {
	fields := []HeaderField{{Name: ":status", Value: strconv.Itoa(statusCode)}}
	if p.policy != nil {
		fields = append(fields, HeaderField{
			Name:  strings.ToLower(p.policy.ChallengeHeaderName()),
			Value: p.policy.Challenge(),
		})
	}
	return fields
}
