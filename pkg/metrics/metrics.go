package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	MirrorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coldstore_mirrors_total",
			Help: "Total number of mirrors by status",
		},
		[]string{"status"},
	)

	CatalogEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coldstore_catalog_entries_total",
			Help: "Total number of catalog entries by approval state",
		},
		[]string{"status"},
	)

	PairingCodesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldstore_pairing_codes_issued_total",
			Help: "Total number of pairing codes issued",
		},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldstore_heartbeats_total",
			Help: "Total number of heartbeats received",
		},
	)

	// Sync metrics
	SyncCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldstore_sync_cycles_total",
			Help: "Total number of orchestration passes",
		},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldstore_sync_duration_seconds",
			Help:    "Duration of one per-mirror sync in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldstore_sync_actions_total",
			Help: "Total sync-log actions by kind",
		},
		[]string{"action"},
	)

	// Download metrics (mirror side)
	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldstore_downloads_total",
			Help: "Total download requests by outcome",
		},
		[]string{"outcome"},
	)

	DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldstore_download_bytes_total",
			Help: "Total bytes streamed to downloaders",
		},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldstore_active_downloads",
			Help: "Number of download streams currently open",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MirrorsTotal)
	prometheus.MustRegister(CatalogEntriesTotal)
	prometheus.MustRegister(PairingCodesIssued)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(SyncCyclesTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(SyncActionsTotal)
	prometheus.MustRegister(DownloadsTotal)
	prometheus.MustRegister(DownloadBytesTotal)
	prometheus.MustRegister(ActiveDownloads)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on a histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
