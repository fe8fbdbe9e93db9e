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

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/pkg/errors"

	"github.com/httpmuxd/httpmuxd/muxtypes"
)

// CompressorIdFromEncoding maps a Content-Encoding / Accept-Encoding token to
// a muxtypes.CompressorId, ok=false for unsupported tokens.
func CompressorIdFromEncoding(token string) (muxtypes.CompressorId, bool) {
	switch token {
	case "", "identity":
		return muxtypes.CompressorIdentity, true
	case "gzip":
		return muxtypes.CompressorGzip, true
	case "deflate":
		return muxtypes.CompressorDeflate, true
	case "br":
		return muxtypes.CompressorBrotli, true
	default:
		return 0, false
	}
}

// Decompress inverts Compress for the given compressor.
func Decompress(id muxtypes.CompressorId, payload []byte) ([]byte, error) {
	switch id {
	case muxtypes.CompressorIdentity:
		return payload, nil
	case muxtypes.CompressorGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(err, "gzip reader")
		}
		defer r.Close()
		return io.ReadAll(r)
	case muxtypes.CompressorDeflate:
		r := flate.NewReader(bytes.NewReader(payload))
		defer r.Close()
		return io.ReadAll(r)
	case muxtypes.CompressorBrotli:
		r := brotli.NewReader(bytes.NewReader(payload))
		return io.ReadAll(r)
	default:
		return nil, errors.Errorf("httpparser: unknown compressor id %d", id)
	}
}

// Compress encodes payload with the given compressor.
func Compress(id muxtypes.CompressorId, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch id {
	case muxtypes.CompressorIdentity:
		return payload, nil
	case muxtypes.CompressorGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, errors.Wrap(err, "gzip writer")
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case muxtypes.CompressorDeflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			return nil, errors.Wrap(err, "flate writer")
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case muxtypes.CompressorBrotli:
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, errors.Wrap(err, "brotli writer")
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("httpparser: unknown compressor id %d", id)
	}
	return buf.Bytes(), nil
}

// negotiateCompressor picks the first compressor in preferred that also
// appears in accepted, falling back to identity.
func negotiateCompressor(accepted []string, preferred []muxtypes.CompressorId) muxtypes.CompressorId {
	acceptSet := make(map[string]bool, len(accepted))
	for _, tok := range accepted {
		acceptSet[tok] = true
	}
	for _, id := range preferred {
		if id == muxtypes.CompressorIdentity {
			continue
		}
		if acceptSet[id.String()] {
			return id
		}
	}
	return muxtypes.CompressorIdentity
}
