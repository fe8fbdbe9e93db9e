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

// Package authpolicy 实现 HttpParser 依赖的 Basic/Digest 认证判定 (C8)
package authpolicy

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/httpmuxd/httpmuxd/common"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// Config 是构造 Policy 所需的静态策略
type Config struct {
	Type          muxtypes.AuthType
	Hash          muxtypes.HashAlg
	Realm         string
	Opaque        string
	Identity      muxtypes.Identity
	NonceLifetime time.Duration
}

// CheckPassword 校验 Basic 凭据 返回 true 表示通过
type CheckPassword func(bid muxtypes.ConnectionId, user, pass string) bool

// ExtractPassword 为 Digest 校验取回某用户的明文密码 ok=false 表示用户不存在
type ExtractPassword func(bid muxtypes.ConnectionId, user string) (pass string, ok bool)

// Policy 是一个可复用的认证判定器 对每条连接都可共享同一个实例
type Policy struct {
	cfg Config

	mu     sync.Mutex
	nonces map[string]time.Time
}

// New 按 cfg 构造 Policy 未设置 NonceLifetime 时使用 common.DefaultNonceLifetime
func New(cfg Config) *Policy {
	if cfg.NonceLifetime <= 0 {
		cfg.NonceLifetime = common.DefaultNonceLifetime
	}
	return &Policy{cfg: cfg, nonces: make(map[string]time.Time)}
}

// Enabled 返回该策略是否要求认证
func (p *Policy) Enabled() bool { return p.cfg.Type != muxtypes.AuthNone }

// FaultStatusCode 返回认证失败时应使用的状态码 PROXY 身份用 407 否则 401
func (p *Policy) FaultStatusCode() int {
	if p.cfg.Identity == muxtypes.IdentityProxy {
		return 407
	}
	return 401
}

// ChallengeHeaderName 返回质询所使用的响应头名字
func (p *Policy) ChallengeHeaderName() string {
	if p.cfg.Identity == muxtypes.IdentityProxy {
		return "Proxy-Authenticate"
	}
	return "WWW-Authenticate"
}

// newNonce 生成一个新的 server nonce 并记录签发时间
func (p *Policy) newNonce() string {
	nonce := uuid.NewString()
	p.mu.Lock()
	p.nonces[nonce] = time.Now()
	p.mu.Unlock()
	return nonce
}

func (p *Policy) nonceFresh(nonce string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	issued, ok := p.nonces[nonce]
	if !ok {
		return false
	}
	if time.Since(issued) > p.cfg.NonceLifetime {
		delete(p.nonces, nonce)
		return false
	}
	return true
}

func (p *Policy) algorithmName() string {
	switch p.cfg.Hash {
	case muxtypes.HashSHA1:
		return "SHA-1"
	case muxtypes.HashSHA256:
		return "SHA-256"
	case muxtypes.HashSHA512:
		return "SHA-512"
	default:
		return "MD5"
	}
}

func (p *Policy) newHash() hash.Hash {
	switch p.cfg.Hash {
	case muxtypes.HashSHA1:
		return sha1.New()
	case muxtypes.HashSHA256:
		return sha256.New()
	case muxtypes.HashSHA512:
		return sha512.New()
	default:
		return md5.New()
	}
}

func (p *Policy) digest(parts ...string) string {
	h := p.newHash()
	h.Write([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(h.Sum(nil))
}

// Challenge 构造 BASIC 或 DIGEST 的质询值 (不含头名字)
func (p *Policy) Challenge() string {
	if p.cfg.Type == muxtypes.AuthBasic {
		return fmt.Sprintf(`Basic realm="%s"`, p.cfg.Realm)
	}
	return fmt.Sprintf(`Digest realm="%s", qop="auth", nonce="%s", opaque="%s", algorithm=%s`,
		p.cfg.Realm, p.newNonce(), p.cfg.Opaque, p.algorithmName())
}

// VerifyBasic 解析 "Authorization: Basic <b64>" 并交给 check 判定
func (p *Policy) VerifyBasic(bid muxtypes.ConnectionId, authorization string, check CheckPassword) muxtypes.AuthVerdict {
	const prefix = "Basic "
	if !strings.HasPrefix(authorization, prefix) {
		return muxtypes.AuthFault
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authorization, prefix))
	if err != nil {
		return muxtypes.AuthFault
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return muxtypes.AuthFault
	}
	if check == nil || !check(bid, user, pass) {
		return muxtypes.AuthFault
	}
	return muxtypes.AuthGood
}

// digestParams 解析 Authorization: Digest ... 头中的 key=value 对
func digestParams(authorization string) map[string]string {
	const prefix = "Digest "
	if !strings.HasPrefix(authorization, prefix) {
		return nil
	}
	body := strings.TrimPrefix(authorization, prefix)
	out := make(map[string]string)
	for _, field := range strings.Split(body, ",") {
		field = strings.TrimSpace(field)
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return out
}

// VerifyDigest 校验 RFC 7616 的 Digest 响应
func (p *Policy) VerifyDigest(bid muxtypes.ConnectionId, authorization, method string, extract ExtractPassword) muxtypes.AuthVerdict {
	params := digestParams(authorization)
	if params == nil {
		return muxtypes.AuthFault
	}

	user, nonce, uri, resp := params["username"], params["nonce"], params["uri"], params["response"]
	if user == "" || nonce == "" || uri == "" || resp == "" {
		return muxtypes.AuthFault
	}
	if !p.nonceFresh(nonce) {
		return muxtypes.AuthFault
	}
	if extract == nil {
		return muxtypes.AuthFault
	}
	pass, ok := extract(bid, user)
	if !ok {
		return muxtypes.AuthFault
	}

	ha1 := p.digest(user, p.cfg.Realm, pass)
	ha2 := p.digest(method, uri)

	qop := params["qop"]
	var expect string
	if qop != "" {
		nc, cnonce := params["nc"], params["cnonce"]
		if nc == "" || cnonce == "" {
			return muxtypes.AuthFault
		}
		if _, err := strconv.ParseUint(nc, 16, 32); err != nil {
			return muxtypes.AuthFault
		}
		expect = p.digest(ha1, nonce, nc, cnonce, qop, ha2)
	} else {
		expect = p.digest(ha1, nonce, ha2)
	}

	if subtleEqual(expect, resp) {
		return muxtypes.AuthGood
	}
	return muxtypes.AuthFault
}

// subtleEqual 比较两个十六进制摘要 长度固定且来自哈希输出 常规比较已足够
func subtleEqual(a, b string) bool {
	return len(a) == len(b) && a == b
}
