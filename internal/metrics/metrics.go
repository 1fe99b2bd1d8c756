// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metrics holds the Prometheus collectors shared across the
// runner, worker, control-plane, and VNC gateway services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxySuccessTotal counts successful forwards per (worker, operation).
	ProxySuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camofleet_proxy_success_total",
			Help: "Total number of successful proxied requests",
		},
		[]string{"worker", "operation"},
	)

	// ProxyErrorTotal counts failed forwards per (worker, operation).
	ProxyErrorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camofleet_proxy_error_total",
			Help: "Total number of failed proxied requests",
		},
		[]string{"worker", "operation"},
	)

	// ProxyRequestDuration tracks forwarded request latency.
	ProxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camofleet_proxy_request_duration_seconds",
			Help:    "Duration of proxied requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker", "operation"},
	)

	// ActiveWebsockets tracks live bridged WebSocket connections per worker.
	ActiveWebsockets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camofleet_active_websockets",
			Help: "Number of currently bridged WebSocket connections",
		},
		[]string{"worker"},
	)

	// SessionsTotal counts session lifecycle transitions on the runner.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camofleet_sessions_total",
			Help: "Total number of sessions by terminal outcome",
		},
		[]string{"outcome"}, // created, deleted, expired, launch_failed
	)

	// SessionsActive is the current size of the runner's session table.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camofleet_sessions_active",
			Help: "Number of sessions currently in the runner's table",
		},
	)

	// ResourcePoolFree tracks free slots per pool dimension.
	ResourcePoolFree = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camofleet_resource_pool_free",
			Help: "Free entries remaining in the runner resource pool",
		},
		[]string{"dimension"}, // display, rfb_port, ws_port
	)

	// PrewarmReady tracks ready entries in the prewarm pool.
	PrewarmReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camofleet_prewarm_ready",
			Help: "Ready entries currently held by the prewarm pool",
		},
		[]string{"kind"}, // headless, vnc
	)

	// GatewaySessionsActive tracks live VNC gateway proxy sessions.
	GatewaySessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camofleet_vnc_gateway_sessions_active",
			Help: "Number of currently proxied VNC gateway sessions",
		},
	)

	// GatewaySessionsTotal counts gateway sessions by how they ended.
	GatewaySessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camofleet_vnc_gateway_sessions_total",
			Help: "Total VNC gateway sessions by close reason",
		},
		[]string{"reason"}, // normal, idle_timeout, upstream_closed, shutting_down, session_limit
	)
)
