/*
Package metrics defines and registers Coldstore's Prometheus metrics.

All metrics register at package init against the default registry and are
exposed by the origin's GET /metrics endpoint via promhttp. Fleet gauges
(mirrors and catalog entries by status), counters for pairing, heartbeats,
sync cycles and per-action sync outcomes, a sync duration histogram, and
download counters for the mirror agent's public endpoint.

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncDuration)
*/
package metrics
