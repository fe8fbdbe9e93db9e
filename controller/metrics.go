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

package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/httpmuxd/httpmuxd/common"
)

var (
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "uptime",
			Help:      "Uptime in seconds",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "git_hash", "build_time"},
	)

	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "connections_active",
			Help:      "Active transport connections",
		},
	)

	connectionsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "connections_total",
			Help:      "Transport connections accepted since start",
		},
	)

	requestsHandled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "requests_handled_total",
			Help:      "HTTP requests dispatched to the registered handler since start",
		},
	)

	websocketUpgrades = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "websocket_upgrades_total",
			Help:      "WebSocket upgrades completed since start, RFC 6455 and RFC 8441 combined",
		},
	)

	authRejections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "auth_rejections_total",
			Help:      "Requests rejected by the authentication policy since start",
		},
	)

	streamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "streams_active",
			Help:      "Open HTTP/2 streams across all connections",
		},
	)

	eraseQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "erase_queue_depth",
			Help:      "Disconnected connections still waiting out the deferred-erase window",
		},
	)
)
