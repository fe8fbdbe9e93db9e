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

// Package muxtypes 定义在 transport、httpparser、http2session、wsframer
// 以及 multiplexer 之间共享的连接级别类型 不持有任何状态
package muxtypes

// ConnectionId 是由 TransportAdapter 分配的不透明连接句柄 在连接存续期间保持稳定
type ConnectionId uint64

// SchemeId 标识接受该连接的监听器
type SchemeId uint16

// StreamId 对 HTTP/1 恒为 StreamIdHTTP1 对 HTTP/2 等于帧中的流标识符
//
// 客户端发起的流为奇数 服务端 PUSH 的流为偶数
type StreamId int32

// StreamIdHTTP1 是 HTTP/1 连接上使用的合成流 id
const StreamIdHTTP1 StreamId = -1

// Protocol 是 ALPN 协商后确定的应用层协议 连接建立后不可变
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolHTTP11
	ProtocolHTTP2
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP11:
		return "HTTP/1.1"
	case ProtocolHTTP2:
		return "HTTP/2"
	default:
		return "unknown"
	}
}

// Agent 是连接当前承载的应用层角色
type Agent uint8

const (
	AgentHTTP Agent = iota
	AgentWebSocket
)

func (a Agent) String() string {
	if a == AgentWebSocket {
		return "WEBSOCKET"
	}
	return "HTTP"
}

// Identity 表示服务端对外展示的角色 影响认证质询使用的状态码
type Identity uint8

const (
	IdentityHTTP Identity = iota
	IdentityWS
	IdentityProxy
)

// CompressorId 标识一种载荷压缩算法
type CompressorId uint8

const (
	CompressorIdentity CompressorId = iota
	CompressorGzip
	CompressorDeflate
	CompressorBrotli
)

func (c CompressorId) String() string {
	switch c {
	case CompressorGzip:
		return "gzip"
	case CompressorDeflate:
		return "deflate"
	case CompressorBrotli:
		return "br"
	default:
		return "identity"
	}
}

// HashAlg 是 Digest 认证支持的散列算法
type HashAlg uint8

const (
	HashMD5 HashAlg = iota
	HashSHA1
	HashSHA256
	HashSHA512
)

// AuthType 是 HttpParser 评估的认证策略
type AuthType uint8

const (
	AuthNone AuthType = iota
	AuthBasic
	AuthDigest
)

// AuthVerdict 是一次认证评估的结果
type AuthVerdict uint8

const (
	AuthGood AuthVerdict = iota
	AuthFault
)

// Flag 是帧发射/投递的标志位 NONE/END_STREAM/END_HEADERS 的无位域子集
type Flag uint8

const (
	FlagNone       Flag = 0
	FlagEndStream  Flag = 1 << 0
	FlagEndHeaders Flag = 1 << 1
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Direction 标记帧信号相对于 Multiplexer 的方向
type Direction uint8

const (
	DirectionRecv Direction = iota
	DirectionSend
)

// ActiveKind 区分 "active" 回调携带的连接级事件
type ActiveKind uint8

const (
	ActiveConnect ActiveKind = iota
	ActiveDisconnect
)

// StreamEvent 区分 "stream" 回调携带的流级事件
type StreamEvent uint8

const (
	StreamOpen StreamEvent = iota
	StreamClose
)
