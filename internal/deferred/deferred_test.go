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

package deferred_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/httpmuxd/httpmuxd/internal/deferred"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

func TestExpiredRespectsWindow(t *testing.T) {
	q := deferred.New(3000 * time.Millisecond)
	q.Enqueue(1)
	start := time.Now()

	assert.Empty(t, q.Expired(start))
	assert.False(t, q.ExpiredAt(1, start.Add(2999*time.Millisecond)))
	assert.True(t, q.ExpiredAt(1, start.Add(3000*time.Millisecond)))
	assert.Contains(t, q.Expired(start.Add(3*time.Second)), muxtypes.ConnectionId(1))
}

func TestRemoveAndCount(t *testing.T) {
	q := deferred.New(time.Second)
	q.Enqueue(1)
	q.Enqueue(2)
	assert.Equal(t, 2, q.Count())

	q.Remove(1)
	assert.Equal(t, 1, q.Count())
	assert.False(t, q.Has(1))
	assert.True(t, q.Has(2))
}
