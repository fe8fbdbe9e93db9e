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

// Package callbackbus 实现一个按名字分槽的回调注册表
//
// 每个槽位最多持有一个声明了固定签名的回调 Bus 可以挂载若干子 Bus
// 当某个非 "active" 的槽位被赋值时 赋值会自动向下扇出给所有子 Bus
// 这与 Http1Engine、Ws2Engine 各自持有独立回调表的需求对应
package callbackbus

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/internal/rescue"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// Name 是一个已知事件槽位的名字
type Name string

const (
	Raw              Name = "raw"
	Active           Name = "active"
	Stream           Name = "stream"
	End              Name = "end"
	Error            Name = "error"
	Entity           Name = "entity"
	Chunks           Name = "chunks"
	Chunking         Name = "chunking"
	Header           Name = "header"
	Headers          Name = "headers"
	Request          Name = "request"
	Handshake        Name = "handshake"
	Complete         Name = "complete"
	Accept           Name = "accept"
	Erase            Name = "erase"
	Launched         Name = "launched"
	CheckPassword    Name = "checkPassword"
	ExtractPassword  Name = "extractPassword"
	ErrorWebsocket   Name = "errorWebsocket"
	MessageWebsocket Name = "messageWebsocket"
)

var knownNames = map[Name]bool{
	Raw: true, Active: true, Stream: true, End: true, Error: true,
	Entity: true, Chunks: true, Chunking: true, Header: true, Headers: true,
	Request: true, Handshake: true, Complete: true, Accept: true, Erase: true,
	Launched: true, CheckPassword: true, ExtractPassword: true,
	ErrorWebsocket: true, MessageWebsocket: true,
}

// Bus 是一个可以挂载子 Bus 的回调槽位表
type Bus struct {
	mu     sync.RWMutex
	slots  map[Name]any
	subs   []*Bus
	closed atomic.Bool
}

// New 创建一个空的 Bus
func New() *Bus {
	return &Bus{slots: make(map[Name]any)}
}

// Attach 把 sub 注册为 b 的子 Bus 此后对 b 的非 active 赋值都会扇出给 sub
//
// CallbackBus §4.8: setter 策略要求非 "active" 的赋值向子引擎的 bus 传播
func (b *Bus) Attach(sub *Bus) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Close 标记该 Bus 不再接受新的回调赋值 已注册的回调仍可被 Invoke 调用
func (b *Bus) Close() {
	b.closed.Store(true)
}

// Set 给 name 槽位赋值 name 必须属于已知事件集合否则返回配置错误
//
// 对 "active" 以外的事件 赋值会递归扇出给所有子 Bus
func Set[T any](b *Bus, name Name, fn T) error {
	if !knownNames[name] {
		return errors.Errorf("callbackbus: unknown event name %q", name)
	}
	if b.closed.Load() {
		return errors.Errorf("callbackbus: bus is closed")
	}

	b.mu.Lock()
	b.slots[name] = fn
	subs := append([]*Bus(nil), b.subs...)
	b.mu.Unlock()

	if name != Active {
		for _, sub := range subs {
			_ = Set(sub, name, fn)
		}
	}
	return nil
}

// Get 读取 name 槽位当前的回调 第二个返回值指示槽位是否存在且类型匹配
func Get[T any](b *Bus, name Name) (T, bool) {
	b.mu.RLock()
	v, ok := b.slots[name]
	b.mu.RUnlock()

	var zero T
	if !ok {
		return zero, false
	}
	fn, ok := v.(T)
	if !ok {
		return zero, false
	}
	return fn, true
}

// Invoke 在 name 槽位存在回调时调用 call 并吞掉回调内部的 panic
//
// 按 spec §7 的要求 应用回调的异常不得穿越边界 这里捕获后转交
// rescue.PanicHandlers (日志 + 指标) 并经由 errFallback 上报给 "error" 槽位
func Invoke[T any](b *Bus, name Name, errFallback func(bid muxtypes.ConnectionId, err *errkind.Error), bid muxtypes.ConnectionId, call func(T)) {
	fn, ok := Get[T](b, name)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			for _, h := range rescue.PanicHandlers {
				h(r)
			}
			if errFallback != nil {
				errFallback(bid, errkind.Newf(errkind.Protocol, "callback %q panicked: %v", name, r))
			}
		}
	}()
	call(fn)
}
