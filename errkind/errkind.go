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

// Package errkind 为 "error" 回调提供带类型的错误分类 取代字符串匹配
package errkind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Severity 是错误的严重程度
type Severity uint8

const (
	// Info 表示非致命事件 例如认证失败之类的正常业务响应
	Info Severity = iota
	// Critical 表示需要终止连接或流的错误
	Critical
)

func (s Severity) String() string {
	if s == Critical {
		return "CRITICAL"
	}
	return "INFO"
}

// Kind 对应 spec §7 中列举的错误分类
type Kind uint8

const (
	HTTP1Send Kind = iota
	HTTP1Recv
	HTTP2Send
	HTTP2Recv
	Protocol
	HPACK
	FlowControl
	Handshake
	Authorization
	Compression
	Encryption
	Transport
)

func (k Kind) String() string {
	switch k {
	case HTTP1Send:
		return "HTTP1_SEND"
	case HTTP1Recv:
		return "HTTP1_RECV"
	case HTTP2Send:
		return "HTTP2_SEND"
	case HTTP2Recv:
		return "HTTP2_RECV"
	case Protocol:
		return "PROTOCOL"
	case HPACK:
		return "HPACK"
	case FlowControl:
		return "FLOW_CONTROL"
	case Handshake:
		return "HANDSHAKE"
	case Authorization:
		return "AUTHORIZATION"
	case Compression:
		return "COMPRESSION"
	case Encryption:
		return "ENCRYPTION"
	case Transport:
		return "TRANSPORT"
	default:
		return "UNKNOWN"
	}
}

// Error 把 spec 的 (severity, kind, message) 三元组附加在一个包装过的 error 上
//
// Cause 保留原始错误链 以便上层使用 errors.Is/As 继续追踪
type Error struct {
	Severity Severity
	Kind     Kind
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s:%s] %v", e.Severity, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New 用给定 kind 包装 message 生成一个 Critical Error
func New(kind Kind, message string) *Error {
	return &Error{Severity: Critical, Kind: kind, Cause: errors.New(message)}
}

// Newf 是 New 的格式化版本
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Severity: Critical, Kind: kind, Cause: errors.Errorf(format, args...)}
}

// Wrap 把已有 error 提升为带 kind 的 Error 若 err 为 nil 返回 nil
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Severity: Critical, Kind: kind, Cause: errors.Wrap(err, message)}
}

// Info 构造一个 Info 级别的 Error 用于非致命的业务性通知 (如认证失败)
func Info(kind Kind, message string) *Error {
	return &Error{Severity: Info, Kind: kind, Cause: errors.New(message)}
}
