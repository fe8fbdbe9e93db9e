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

package multiplexer

import "sync/atomic"

// Stats is a point-in-time snapshot of Hub activity, polled by the embedding
// application's metrics route rather than pushed through the callback bus,
// since callback slots are single-owner and reserved for application logic.
type Stats struct {
	ActiveConnections int
	ActiveStreams     int
	EraseQueueDepth   int
	ConnectionsTotal  uint64
	RequestsHandled   uint64
	WebsocketUpgrades uint64
	AuthRejections    uint64
}

// Stats reports the current counters and the live connection/stream counts.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	active := len(h.options)
	streams := len(h.streams)
	h.mu.Unlock()

	return Stats{
		ActiveConnections: active,
		ActiveStreams:     streams,
		EraseQueueDepth:   h.disconnected.Count(),
		ConnectionsTotal:  atomic.LoadUint64(&h.connectionsTotal),
		RequestsHandled:   atomic.LoadUint64(&h.requestsHandled),
		WebsocketUpgrades: atomic.LoadUint64(&h.websocketUpgrades),
		AuthRejections:    atomic.LoadUint64(&h.authRejections),
	}
}
