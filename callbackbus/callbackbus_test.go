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

package callbackbus_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpmuxd/httpmuxd/callbackbus"
	"github.com/httpmuxd/httpmuxd/errkind"
	"github.com/httpmuxd/httpmuxd/muxtypes"
)

func TestSetRejectsUnknownName(t *testing.T) {
	bus := callbackbus.New()
	err := callbackbus.Set(bus, callbackbus.Name("bogus"), func() {})
	require.Error(t, err)
}

func TestSetFansOutToSubBuses(t *testing.T) {
	hub := callbackbus.New()
	sub := callbackbus.New()
	hub.Attach(sub)

	called := 0
	require.NoError(t, callbackbus.Set(hub, callbackbus.Header, func(sid muxtypes.StreamId, bid muxtypes.ConnectionId, k, v string) {
		called++
	}))

	fn, ok := callbackbus.Get[func(muxtypes.StreamId, muxtypes.ConnectionId, string, string)](sub, callbackbus.Header)
	require.True(t, ok)
	fn(1, 1, "k", "v")
	assert.Equal(t, 1, called)
}

func TestActiveDoesNotFanOut(t *testing.T) {
	hub := callbackbus.New()
	sub := callbackbus.New()
	hub.Attach(sub)

	require.NoError(t, callbackbus.Set(hub, callbackbus.Active, func(bid muxtypes.ConnectionId, kind muxtypes.ActiveKind) {}))
	_, ok := callbackbus.Get[func(muxtypes.ConnectionId, muxtypes.ActiveKind)](sub, callbackbus.Active)
	assert.False(t, ok)
}

func TestInvokeRecoversPanicAndReportsError(t *testing.T) {
	bus := callbackbus.New()
	var reported int32

	require.NoError(t, callbackbus.Set(bus, callbackbus.Complete, func(bid muxtypes.ConnectionId) {
		panic("boom")
	}))

	callbackbus.Invoke[func(muxtypes.ConnectionId)](bus, callbackbus.Complete, func(bid muxtypes.ConnectionId, err *errkind.Error) {
		atomic.AddInt32(&reported, 1)
	}, 42, func(fn func(muxtypes.ConnectionId)) {
		fn(42)
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&reported))
}

func TestSetOnClosedBusFails(t *testing.T) {
	bus := callbackbus.New()
	bus.Close()
	err := callbackbus.Set(bus, callbackbus.Erase, func(bid muxtypes.ConnectionId) {})
	require.Error(t, err)
}
