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

package controller

import (
	"time"

	"github.com/httpmuxd/httpmuxd/common"
	"github.com/httpmuxd/httpmuxd/httpparser"
	"github.com/httpmuxd/httpmuxd/multiplexer"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// TLSConfig 描述监听器的证书与双向认证设置
type TLSConfig struct {
	Enabled    bool   `config:"enabled"`
	CertFile   string `config:"certFile"`
	KeyFile    string `config:"keyFile"`
	ClientCA   string `config:"clientCA"`
	RequireMTLS bool  `config:"requireMTLS"`
}

// AuthConfig 描述 HttpParser 使用的认证策略
type AuthConfig struct {
	// Type 为 "none" "basic" 或 "digest"
	Type   string `config:"type"`
	Hash   string `config:"hash"`
	Realm  string `config:"realm"`
	Opaque string `config:"opaque"`
	// Proxy 为 true 时质询使用 407/Proxy-Authenticate 而非 401/WWW-Authenticate
	Proxy bool `config:"proxy"`
}

// EncryptionConfig 描述请求/响应体的 AEAD 加解密设置
type EncryptionConfig struct {
	Enabled bool   `config:"enabled"`
	Pass    string `config:"pass"`
	Salt    string `config:"salt"`
}

// WebSocketConfig 描述 RFC 6455/RFC 8441 升级的协商参数
type WebSocketConfig struct {
	Enabled           bool          `config:"enabled"`
	MaxFrameSize      int64         `config:"maxFrameSize"`
	TakeoverServer    bool          `config:"takeoverServer"`
	TakeoverClient    bool          `config:"takeoverClient"`
	PermessageDeflate bool          `config:"permessageDeflate"`
	PingInterval      time.Duration `config:"pingInterval"`
	PongWait          time.Duration `config:"pongWait"`
}

// IdentConfig 是响应中展示的服务端标识 (Server 头等价物)
type IdentConfig struct {
	ID   string `config:"id"`
	Name string `config:"name"`
	Ver  string `config:"ver"`
}

// Config 是 ServiceConfig (§3): 一个监听器的完整运行时配置
type Config struct {
	Address string    `config:"address"`
	TLS     TLSConfig `config:"tls"`

	Alive       bool `config:"alive"`
	MaxRequests uint32 `config:"maxRequests"`
	ChunkSize   int  `config:"chunkSize"`
	Compressors []string `config:"compressors"`

	Auth       AuthConfig       `config:"auth"`
	Encryption EncryptionConfig `config:"encryption"`
	WebSocket  WebSocketConfig  `config:"websocket"`
	Ident      IdentConfig      `config:"ident"`

	// Extra 承载尚未提升为一等配置字段的扩展选项
	Extra common.Options `config:"extra"`
}

func (c Config) webSocketPingInterval() time.Duration {
	if c.WebSocket.PingInterval <= 0 {
		return 30 * time.Second
	}
	return c.WebSocket.PingInterval
}

func (c Config) webSocketPongWait() time.Duration {
	if c.WebSocket.PongWait <= 0 {
		return 2 * c.webSocketPingInterval()
	}
	return c.WebSocket.PongWait
}

func (c Config) webSocketFrameSize() int64 {
	if c.WebSocket.MaxFrameSize <= 0 {
		return 1 << 20
	}
	return c.WebSocket.MaxFrameSize
}

func (c AuthConfig) authType() muxtypes.AuthType {
	switch c.Type {
	case "basic":
		return muxtypes.AuthBasic
	case "digest":
		return muxtypes.AuthDigest
	default:
		return muxtypes.AuthNone
	}
}

func (c AuthConfig) hashAlg() muxtypes.HashAlg {
	switch c.Hash {
	case "sha1":
		return muxtypes.HashSHA1
	case "sha256":
		return muxtypes.HashSHA256
	case "sha512":
		return muxtypes.HashSHA512
	default:
		return muxtypes.HashMD5
	}
}

func (c IdentConfig) identity() muxtypes.Identity {
	switch c.Name {
	case "websocket":
		return muxtypes.IdentityWS
	case "proxy":
		return muxtypes.IdentityProxy
	default:
		return muxtypes.IdentityHTTP
	}
}

func compressorIds(tokens []string) []muxtypes.CompressorId {
	ids := make([]muxtypes.CompressorId, 0, len(tokens))
	for _, t := range tokens {
		if id, ok := httpparser.CompressorIdFromEncoding(t); ok && id != muxtypes.CompressorIdentity {
			ids = append(ids, id)
		}
	}
	return ids
}

// multiplexerConfig translates the listener's ServiceConfig into the
// multiplexer.Config the Hub is built from.
func (c Config) multiplexerConfig() multiplexer.Config {
	identity := c.Ident.identity()
	if c.Auth.Proxy {
		identity = muxtypes.IdentityProxy
	}
	return multiplexer.Config{
		Alive:             c.Alive,
		Realm:             c.Auth.Realm,
		Opaque:            c.Auth.Opaque,
		AuthType:          c.Auth.authType(),
		Hash:              c.Auth.hashAlg(),
		Encryption:        httpparser.EncryptionConfig(c.Encryption),
		IdentID:           c.Ident.ID,
		IdentName:         c.Ident.Name,
		IdentVer:          c.Ident.Ver,
		MaxRequests:       c.MaxRequests,
		PingInterval:      c.webSocketPingInterval(),
		PongWait:          c.webSocketPongWait(),
		ChunkSize:         c.ChunkSize,
		Compressors:       compressorIds(c.Compressors),
		WebSocketEnabled:  c.WebSocket.Enabled,
		Identity:          identity,
		TakeoverServer:    c.WebSocket.TakeoverServer,
		TakeoverClient:    c.WebSocket.TakeoverClient,
		PermessageDeflate: c.WebSocket.PermessageDeflate,
		MaxFrameSize:      c.webSocketFrameSize(),
	}
}
