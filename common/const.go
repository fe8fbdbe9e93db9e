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

package common

import "time"

const (
	// App 应用程序名称
	App = "httpmuxd"

	// Version 应用程序版本
	Version = "v0.0.1"

	// ReadWriteBlockSize 默认的读写缓冲块长度
	//
	// TCP Segments 的最大长度为 64K (65535 bytes)
	// 但如果对于每条连接都创建这么一大块空间会造成过多的开销
	// 所以设置一个折中的 buffer size 对超出部分进行切割
	ReadWriteBlockSize = 4096

	// DeferredEraseWindow 连接 disconnect 到 erase 之间的最小等待时长
	//
	// 在此窗口内连接状态仍可读 但不再被调度 用于避免与晚到的 transport
	// 回调发生竞争
	DeferredEraseWindow = 3000 * time.Millisecond

	// DefaultMaxConcurrentStreams 单个 HTTP/2 会话默认允许的并发流数量
	//
	// 参见 RFC 7540 §6.5.2 的推荐值
	DefaultMaxConcurrentStreams = 100

	// DefaultNonceLifetime Digest 认证 nonce 的默认有效期
	DefaultNonceLifetime = 30 * time.Second
)
