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

// Package deferred 实现 Multiplexer 的 DisconnectQueue
//
// 连接在 disconnect 之后仍需保留一段时间 (见 common.DeferredEraseWindow)
// 以便晚到的 transport 回调安全完成 此包只负责记录时间戳与到期判断
// 真正的资源回收由 Multiplexer.erase 驱动
package deferred

import (
	"sync"
	"time"

	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// Queue 记录 bid 到其 disconnect 时间戳的映射
type Queue struct {
	mu      sync.Mutex
	set     map[muxtypes.ConnectionId]time.Time
	window  time.Duration
}

// New 创建一个使用给定到期窗口的 Queue
func New(window time.Duration) *Queue {
	return &Queue{
		set:    make(map[muxtypes.ConnectionId]time.Time),
		window: window,
	}
}

// Enqueue 记录 bid 在当前时刻断开连接
func (q *Queue) Enqueue(bid muxtypes.ConnectionId) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.set[bid] = time.Now()
}

// Has 返回 bid 是否仍在队列中 (即已 disconnect 但尚未 erase)
func (q *Queue) Has(bid muxtypes.ConnectionId) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.set[bid]
	return ok
}

// Remove 从队列中移除 bid 通常在 erase 完成后调用
func (q *Queue) Remove(bid muxtypes.ConnectionId) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.set, bid)
}

// Count 返回当前队列中的连接数
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.set)
}

// Expired 返回所有断开时间距今已超过 window 的 bid 不修改队列内容
func (q *Queue) Expired(now time.Time) []muxtypes.ConnectionId {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []muxtypes.ConnectionId
	for bid, at := range q.set {
		if now.Sub(at) >= q.window {
			expired = append(expired, bid)
		}
	}
	return expired
}

// ExpiredAt 判断单个 bid 是否已到期 bid 不在队列中时返回 false
func (q *Queue) ExpiredAt(bid muxtypes.ConnectionId, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	at, ok := q.set[bid]
	if !ok {
		return false
	}
	return now.Sub(at) >= q.window
}
