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

package httpparser

import "strings"

// HeaderField 是一个名值对 用于 HPACK 编码或 trailer 枚举等需要保序的场景
type HeaderField struct {
	Name  string
	Value string
}

// HeaderMap 是一个保留同名键插入顺序的多重映射
//
// 符合 §8 可测性要求 #9: 经由 Set 写入、再经由 Values 读出的同名键
// 顺序必须保持一致 跨键之间的顺序不做保证
type HeaderMap struct {
	order []string
	vals  map[string][]string
}

// NewHeaderMap 创建一个空的 HeaderMap
func NewHeaderMap() *HeaderMap {
	return &HeaderMap{vals: make(map[string][]string)}
}

func canon(k string) string { return strings.ToLower(k) }

// Set 追加一个键值对 不会覆盖同名键的既有值
func (h *HeaderMap) Set(k, v string) {
	key := canon(k)
	if _, ok := h.vals[key]; !ok {
		h.order = append(h.order, key)
	}
	h.vals[key] = append(h.vals[key], v)
}

// Get 返回某个键的第一个值
func (h *HeaderMap) Get(k string) (string, bool) {
	vs, ok := h.vals[canon(k)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values 返回某个键的全部值 按插入顺序排列
func (h *HeaderMap) Values(k string) []string {
	return h.vals[canon(k)]
}

// Exist 判断某个键是否存在
func (h *HeaderMap) Exist(k string) bool {
	_, ok := h.vals[canon(k)]
	return ok
}

// Len 返回已记录的不同键的数量
func (h *HeaderMap) Len() int { return len(h.order) }

// Range 按键首次出现的顺序遍历 每个键的全部值
func (h *HeaderMap) Range(fn func(k string, values []string)) {
	for _, k := range h.order {
		fn(k, h.vals[k])
	}
}

// Fields 把多重映射展开为保序的 (k,v) 列表 供 HPACK 编码使用
func (h *HeaderMap) Fields() []HeaderField {
	var out []HeaderField
	for _, k := range h.order {
		for _, v := range h.vals[k] {
			out = append(out, HeaderField{Name: k, Value: v})
		}
	}
	return out
}

// Clear 清空全部内容
func (h *HeaderMap) Clear() {
	h.order = h.order[:0]
	h.vals = make(map[string][]string)
}
