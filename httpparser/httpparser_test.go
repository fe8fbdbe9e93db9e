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

package httpparser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpmuxd/httpmuxd/httpparser"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

func TestHeaderMapPreservesOrderWithinKey(t *testing.T) {
	h := httpparser.NewHeaderMap()
	h.Set("X-Trace", "a")
	h.Set("X-Trace", "b")
	assert.Equal(t, []string{"a", "b"}, h.Values("X-Trace"))
}

func TestRequestLineAndCommit(t *testing.T) {
	p := httpparser.New()
	require.NoError(t, p.RequestLine("GET /index HTTP/1.1"))
	p.Header("Host", "example.com")
	p.Header("Accept-Encoding", "gzip, br")
	p.SetCompressors([]muxtypes.CompressorId{muxtypes.CompressorBrotli, muxtypes.CompressorGzip})
	require.NoError(t, p.Commit())

	method, url, version := p.Request()
	assert.Equal(t, "GET", method)
	assert.Equal(t, "/index", url)
	assert.Equal(t, "HTTP/1.1", version)
	assert.Equal(t, muxtypes.CompressorBrotli, p.Compression())
}

func TestAuthGoodWhenNoPolicyConfigured(t *testing.T) {
	p := httpparser.New()
	require.NoError(t, p.RequestLine("GET / HTTP/1.1"))
	assert.Equal(t, muxtypes.AuthGood, p.Auth(1))
}

func TestMessageReasonPhrase(t *testing.T) {
	assert.Equal(t, "Not Found", httpparser.ReasonPhrase(404))
	assert.Equal(t, "HTTP Version Not Supported", httpparser.ReasonPhrase(505))
	assert.Equal(t, "Unknown Status", httpparser.ReasonPhrase(999))
}

func TestCompressRoundTrip(t *testing.T) {
	for _, id := range []muxtypes.CompressorId{muxtypes.CompressorGzip, muxtypes.CompressorDeflate, muxtypes.CompressorBrotli} {
		encoded, err := httpparser.Compress(id, []byte("hello world"))
		require.NoError(t, err)
		decoded, err := httpparser.Decompress(id, encoded)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(decoded))
	}
}

func TestEncryptionRoundTrip(t *testing.T) {
	cfg := httpparser.EncryptionConfig{Enabled: true, Pass: "s3cr3t", Salt: "nacl"}
	sealed, err := httpparser.EncryptPayload(cfg, []byte("payload"))
	require.NoError(t, err)
	opened, err := httpparser.DecryptPayload(cfg, sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(opened))
}
