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

package authpolicy_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/httpmuxd/httpmuxd/authpolicy"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

func TestVerifyBasic(t *testing.T) {
	p := authpolicy.New(authpolicy.Config{Type: muxtypes.AuthBasic, Realm: "test"})

	cred := base64.StdEncoding.EncodeToString([]byte("user:pass"))
	verdict := p.VerifyBasic(1, "Basic "+cred, func(bid muxtypes.ConnectionId, user, pass string) bool {
		return user == "user" && pass == "pass"
	})
	assert.Equal(t, muxtypes.AuthGood, verdict)

	verdict = p.VerifyBasic(1, "Basic "+cred, func(bid muxtypes.ConnectionId, user, pass string) bool {
		return false
	})
	assert.Equal(t, muxtypes.AuthFault, verdict)
}

func TestFaultStatusCodeByIdentity(t *testing.T) {
	httpPolicy := authpolicy.New(authpolicy.Config{Type: muxtypes.AuthBasic, Identity: muxtypes.IdentityHTTP})
	assert.Equal(t, 401, httpPolicy.FaultStatusCode())

	proxyPolicy := authpolicy.New(authpolicy.Config{Type: muxtypes.AuthBasic, Identity: muxtypes.IdentityProxy})
	assert.Equal(t, 407, proxyPolicy.FaultStatusCode())
	assert.Equal(t, "Proxy-Authenticate", proxyPolicy.ChallengeHeaderName())
}
